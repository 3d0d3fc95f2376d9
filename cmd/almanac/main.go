// Command almanac runs the daily send-decision engine, either once for a
// given date or as a daemon on a cron schedule.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/almanacmail/almanac/internal/calendar"
	"github.com/almanacmail/almanac/internal/config"
	"github.com/almanacmail/almanac/internal/delivery"
	"github.com/almanacmail/almanac/internal/lockfile"
	"github.com/almanacmail/almanac/internal/models"
	"github.com/almanacmail/almanac/internal/recovery"
	"github.com/almanacmail/almanac/internal/scheduler"
	"github.com/almanacmail/almanac/internal/store"
	"github.com/almanacmail/almanac/internal/util"
)

// DefaultDBFileName is the SQLite database filename used when no DSN is set.
const DefaultDBFileName = "almanac.db"

// Flags holds command line flag values. Flags override environment values.
type Flags struct {
	date        *string
	dryRun      *bool
	subscribers *string
	calendar    *string
	dbDSN       *string
	stateDir    *string
	daemon      *bool
	schedule    *string
	concurrency *int
}

func main() {
	initializeLogger()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(2)
	}

	flags := parseCommandLineFlags(cfg)
	applyFlagOverrides(cfg, flags)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}

	runDate, err := resolveRunDate(*flags.date)
	if err != nil {
		slog.Error("Invalid -date value", "date", *flags.date, "error", err)
		os.Exit(2)
	}

	cal, err := calendar.Load(cfg.CalendarPath)
	if err != nil {
		slog.Error("Failed to load content calendar", "path", cfg.CalendarPath, "error", err)
		os.Exit(2)
	}

	st, lock, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	if lock != nil {
		defer lock.Release()
	}

	gateway, err := buildGateway(cfg)
	if err != nil {
		slog.Error("Failed to build delivery gateway", "provider", cfg.DeliveryProvider, "error", err)
		os.Exit(2)
	}
	dispatcher := delivery.NewDispatcher(gateway,
		delivery.WithRatePerSecond(cfg.DispatchRatePerSecond),
		delivery.WithMaxRetries(cfg.DispatchMaxRetries),
		delivery.WithAttemptTimeout(cfg.DispatchTimeout),
	)
	engine := scheduler.NewEngine(st, dispatcher, cal, scheduler.WithConcurrency(cfg.Concurrency))
	sweeper := recovery.NewSweeper(st)

	opts := scheduler.RunOptions{
		DryRun:        cfg.DryRun,
		SubscriberIDs: splitSubscriberList(*flags.subscribers),
	}

	if *flags.daemon {
		if err := runDaemon(engine, sweeper, cfg.DailySchedule, opts); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
		return
	}

	failed, err := runOnce(engine, sweeper, runDate, opts)
	if err != nil {
		slog.Error("Run failed", "error", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// initializeLogger sets up structured logging on stdout.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("ALMANAC_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func parseCommandLineFlags(cfg *config.Config) Flags {
	flags := Flags{
		date:        flag.String("date", "", "run date in YYYY-MM-DD form (default: today, UTC)"),
		dryRun:      flag.Bool("dry-run", cfg.DryRun, "decide without claiming or dispatching"),
		subscribers: flag.String("subscriber", "", "comma-separated subscriber IDs to limit the run"),
		calendar:    flag.String("calendar", "", "path to the content calendar YAML"),
		dbDSN:       flag.String("db-dsn", "", "database DSN (PostgreSQL URL or SQLite file path)"),
		stateDir:    flag.String("state-dir", "", "state directory for the default SQLite database"),
		daemon:      flag.Bool("daemon", false, "keep running and fire on the cron schedule"),
		schedule:    flag.String("schedule", "", "cron expression for daemon mode"),
		concurrency: flag.Int("concurrency", 0, "number of subscribers decided in parallel"),
	}
	flag.Parse()
	return flags
}

func applyFlagOverrides(cfg *config.Config, flags Flags) {
	cfg.DryRun = *flags.dryRun
	if *flags.calendar != "" {
		cfg.CalendarPath = *flags.calendar
	}
	if *flags.dbDSN != "" {
		cfg.DatabaseDSN = *flags.dbDSN
	}
	if *flags.stateDir != "" {
		cfg.StateDir = *flags.stateDir
	}
	if *flags.schedule != "" {
		cfg.DailySchedule = *flags.schedule
	}
	if *flags.concurrency > 0 {
		cfg.Concurrency = *flags.concurrency
	}
}

func resolveRunDate(s string) (time.Time, error) {
	if s == "" {
		return models.CivilDate(time.Now().UTC()), nil
	}
	return time.ParseInLocation(models.DateLayout, s, time.UTC)
}

func splitSubscriberList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// openStore builds the configured backend. SQLite deployments also take an
// exclusive lock on the database directory; PostgreSQL serializes through
// the ledger's unique claims and needs no local lock.
func openStore(cfg *config.Config) (store.Store, *lockfile.Lock, error) {
	dsn := cfg.DatabaseDSN
	if dsn == "" {
		dsn = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL set, using SQLite in state dir", "path", dsn)
	}
	if store.DetectDSNType(dsn) == "postgres" {
		st, err := store.NewPostgresStore(store.WithPostgresDSN(dsn))
		return st, nil, err
	}
	lock, err := lockfile.Acquire(filepath.Dir(dsn))
	if err != nil {
		return nil, nil, err
	}
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	if err != nil {
		lock.Release()
		return nil, nil, err
	}
	return st, lock, nil
}

func buildGateway(cfg *config.Config) (delivery.Gateway, error) {
	switch cfg.DeliveryProvider {
	case "twilio":
		return delivery.NewTwilioGateway(
			delivery.WithTwilioAccountSID(cfg.TwilioAccountSID),
			delivery.WithTwilioAuthToken(cfg.TwilioAuthToken),
			delivery.WithTwilioFrom(cfg.TwilioFrom),
		)
	case "mock":
		return delivery.NewMockGateway(), nil
	default:
		return delivery.NewSMTPGateway(
			delivery.WithSMTPHost(cfg.SMTPHost),
			delivery.WithSMTPPort(cfg.SMTPPort),
			delivery.WithSMTPCredentials(cfg.SMTPUsername, cfg.SMTPPassword),
			delivery.WithSMTPFrom(cfg.SMTPFrom),
		)
	}
}

// runOnce sweeps abandoned claims, runs one date, and reports how many
// decisions failed.
func runOnce(engine *scheduler.Engine, sweeper *recovery.Sweeper, date time.Time, opts scheduler.RunOptions) (int, error) {
	if !opts.DryRun {
		if swept, err := sweeper.Sweep(time.Now()); err != nil {
			slog.Warn("stale claim sweep failed", "error", err)
		} else if swept > 0 {
			slog.Info("stale claims swept", "count", swept)
		}
	}
	decisions, err := engine.Run(context.Background(), date, opts)
	if err != nil {
		return 0, err
	}
	return summarize(decisions), nil
}

// runDaemon fires the engine on the configured cron schedule until a
// termination signal arrives. Each firing decides for the current UTC date.
func runDaemon(engine *scheduler.Engine, sweeper *recovery.Sweeper, schedule string, opts scheduler.RunOptions) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	_, err := c.AddFunc(schedule, func() {
		date := models.CivilDate(time.Now().UTC())
		if _, runErr := runOnce(engine, sweeper, date, opts); runErr != nil {
			slog.Error("Scheduled run failed", "date", date.Format(models.DateLayout), "error", runErr)
		}
	})
	if err != nil {
		return err
	}

	c.Start()
	slog.Info("Daemon started", "schedule", schedule)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("Shutting down, waiting for running jobs")
	<-c.Stop().Done()
	return nil
}

// summarize logs every decision and returns the failed count.
func summarize(decisions []models.Decision) int {
	counts := make(map[models.DecisionOutcome]int)
	for _, d := range decisions {
		counts[d.Outcome]++
		slog.Info("decision",
			"subscriber", d.SubscriberID,
			"outcome", d.Outcome,
			"type", d.EmailType,
			"content_ref", d.ContentRef,
			"reason", d.Reason)
	}
	slog.Info("run summary",
		"total", len(decisions),
		"sent", counts[models.OutcomeSent],
		"failed", counts[models.OutcomeFailed],
		"skipped", counts[models.OutcomeSkipped],
		"would_send", counts[models.OutcomeWouldSend])
	return counts[models.OutcomeFailed]
}
