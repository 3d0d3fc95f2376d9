// Package store provides storage backends for Almanac.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/almanacmail/almanac/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) ListActive() ([]models.Subscriber, error) {
	rows, err := s.db.Query(
		`SELECT `+subscriberColumns+` FROM subscribers WHERE lifecycle_state = $1 ORDER BY id`,
		models.StateActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers failed: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active iteration failed: %w", err)
	}
	slog.Debug("PostgresStore.ListActive", "count", len(subs))
	return subs, nil
}

func (s *PostgresStore) GetSubscriber(id string) (*models.Subscriber, error) {
	row := s.db.QueryRow(`SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id)
	sub, err := scanSubscriberRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get subscriber %s: %w", id, models.ErrSubscriberNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber %s failed: %w", id, err)
	}
	return &sub, nil
}

func (s *PostgresStore) SaveSubscriber(sub models.Subscriber) error {
	now := time.Now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	requested, err := marshalRequestedContent(sub.RequestedContent)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO subscribers
		 (id, email, lifecycle_state, verified_at, last_rhythm_sent_at, last_invitation_sent_at,
		  delivered, opens, replies_ever, clicks, requested_content, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		   email = EXCLUDED.email,
		   lifecycle_state = EXCLUDED.lifecycle_state,
		   verified_at = EXCLUDED.verified_at,
		   last_rhythm_sent_at = EXCLUDED.last_rhythm_sent_at,
		   last_invitation_sent_at = EXCLUDED.last_invitation_sent_at,
		   delivered = EXCLUDED.delivered,
		   opens = EXCLUDED.opens,
		   replies_ever = EXCLUDED.replies_ever,
		   clicks = EXCLUDED.clicks,
		   requested_content = EXCLUDED.requested_content,
		   updated_at = EXCLUDED.updated_at`,
		sub.ID, sub.Email, sub.LifecycleState, sub.VerifiedAt, sub.LastRhythmSentAt, sub.LastInvitationSentAt,
		sub.Delivered, sub.Opens, sub.RepliesEver, sub.Clicks, nilIfEmpty(requested), sub.CreatedAt, now,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveSubscriber failed", "error", err, "id", sub.ID)
		return fmt.Errorf("save subscriber %s failed: %w", sub.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateLifecycleState(id string, state models.LifecycleState, verifiedAt *time.Time) error {
	var result sql.Result
	var err error
	if verifiedAt != nil {
		result, err = s.db.Exec(
			`UPDATE subscribers SET lifecycle_state = $1, verified_at = $2, updated_at = $3 WHERE id = $4`,
			state, verifiedAt, time.Now(), id,
		)
	} else {
		result, err = s.db.Exec(
			`UPDATE subscribers SET lifecycle_state = $1, updated_at = $2 WHERE id = $3`,
			state, time.Now(), id,
		)
	}
	if err != nil {
		return fmt.Errorf("update lifecycle state for %s failed: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("update lifecycle state for %s: %w", id, models.ErrSubscriberNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateCadenceMarks(id string, lastRhythm time.Time, lastInvitation *time.Time) error {
	var result sql.Result
	var err error
	if lastInvitation != nil {
		result, err = s.db.Exec(
			`UPDATE subscribers SET last_rhythm_sent_at = $1, last_invitation_sent_at = $2, updated_at = $3 WHERE id = $4`,
			lastRhythm, lastInvitation, time.Now(), id,
		)
	} else {
		result, err = s.db.Exec(
			`UPDATE subscribers SET last_rhythm_sent_at = $1, updated_at = $2 WHERE id = $3`,
			lastRhythm, time.Now(), id,
		)
	}
	if err != nil {
		return fmt.Errorf("update cadence marks for %s failed: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("update cadence marks for %s: %w", id, models.ErrSubscriberNotFound)
	}
	return nil
}

func (s *PostgresStore) ClaimSend(rec models.SendRecord) (bool, error) {
	now := time.Now()
	result, err := s.db.Exec(
		`INSERT INTO send_records
		 (id, subscriber_id, email_type, content_ref, decided_for, status, idempotency_key, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		rec.ID, rec.SubscriberID, rec.EmailType, nilIfEmpty(rec.ContentRef),
		rec.DecidedFor.Format(models.DateLayout), models.SendStatusPending, rec.IdempotencyKey, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("claim send failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim send rows affected failed: %w", err)
	}
	if n == 0 {
		slog.Debug("PostgresStore.ClaimSend: claim conflict", "key", rec.IdempotencyKey)
		return false, nil
	}
	slog.Debug("PostgresStore.ClaimSend: claimed", "id", rec.ID, "subscriber", rec.SubscriberID, "type", rec.EmailType)
	return true, nil
}

func (s *PostgresStore) MarkSent(id string, sentAt time.Time) error {
	result, err := s.db.Exec(
		`UPDATE send_records SET status = $1, sent_at = $2, attempts = attempts + 1, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		models.SendStatusSent, sentAt, time.Now(), id, models.SendStatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark sent %s failed: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("mark sent %s: %w", id, models.ErrRecordNotFound)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(id string, lastError string) error {
	result, err := s.db.Exec(
		`UPDATE send_records SET status = $1, last_error = $2, attempts = attempts + 1, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		models.SendStatusFailed, lastError, time.Now(), id, models.SendStatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark failed %s failed: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("mark failed %s: %w", id, models.ErrRecordNotFound)
	}
	return nil
}

func (s *PostgresStore) GetRecordByKey(key string) (*models.SendRecord, error) {
	row := s.db.QueryRow(`SELECT `+sendRecordColumns+` FROM send_records WHERE idempotency_key = $1`, key)
	rec, err := scanSendRecordRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get record by key: %w", models.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record by key failed: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) SentRhythmBetween(subscriberID string, from, to time.Time) ([]models.SendRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+sendRecordColumns+` FROM send_records
		 WHERE subscriber_id = $1 AND status = $2
		   AND email_type IN ($3, $4, $5)
		   AND decided_for >= $6 AND decided_for <= $7
		 ORDER BY decided_for ASC`,
		subscriberID, models.SendStatusSent,
		models.EmailTypeCorrespondence, models.EmailTypeRitual, models.EmailTypeInvitation,
		from.Format(models.DateLayout), to.Format(models.DateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("sent rhythm between failed: %w", err)
	}
	defer rows.Close()
	return collectSendRecords(rows)
}

func (s *PostgresStore) InvitationSentInMonth(subscriberID string, year int, month time.Month) (bool, error) {
	prefix := fmt.Sprintf("%04d-%02d-", year, month)
	var id string
	err := s.db.QueryRow(
		`SELECT id FROM send_records
		 WHERE subscriber_id = $1 AND email_type = $2 AND status = $3 AND decided_for LIKE $4
		 LIMIT 1`,
		subscriberID, models.EmailTypeInvitation, models.SendStatusSent, prefix+"%",
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("invitation sent in month failed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ConsumedInvitationRefs(subscriberID string) (map[string]bool, error) {
	rows, err := s.db.Query(
		`SELECT content_ref FROM send_records
		 WHERE subscriber_id = $1 AND email_type = $2 AND status = $3 AND content_ref IS NOT NULL`,
		subscriberID, models.EmailTypeInvitation, models.SendStatusSent,
	)
	if err != nil {
		return nil, fmt.Errorf("consumed invitation refs failed: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]bool)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan invitation ref failed: %w", err)
		}
		refs[ref] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("invitation refs iteration failed: %w", err)
	}
	return refs, nil
}

func (s *PostgresStore) HasSentTransactional(subscriberID string, emailType models.EmailType) (bool, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT id FROM send_records
		 WHERE subscriber_id = $1 AND email_type = $2 AND status = $3 LIMIT 1`,
		subscriberID, emailType, models.SendStatusSent,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has sent transactional failed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ListRecords(subscriberID string) ([]models.SendRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+sendRecordColumns+` FROM send_records WHERE subscriber_id = $1 ORDER BY created_at ASC`,
		subscriberID,
	)
	if err != nil {
		return nil, fmt.Errorf("list records failed: %w", err)
	}
	defer rows.Close()
	return collectSendRecords(rows)
}

func (s *PostgresStore) ListPendingOlderThan(cutoff time.Time) ([]models.SendRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+sendRecordColumns+` FROM send_records
		 WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC`,
		models.SendStatusPending, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending older than failed: %w", err)
	}
	defer rows.Close()
	return collectSendRecords(rows)
}

func (s *PostgresStore) RotationPosition() (int, error) {
	var pos int
	if err := s.db.QueryRow(`SELECT position FROM rotation_state WHERE id = 1`).Scan(&pos); err != nil {
		return 0, fmt.Errorf("rotation position failed: %w", err)
	}
	return pos, nil
}

func (s *PostgresStore) AdvanceRotation(forDate time.Time) error {
	day := forDate.Format(models.DateLayout)
	_, err := s.db.Exec(
		`UPDATE rotation_state SET position = position + 1, advanced_on = $1, updated_at = $2
		 WHERE id = 1 AND (advanced_on IS NULL OR advanced_on <> $3)`,
		day, time.Now(), day,
	)
	if err != nil {
		return fmt.Errorf("advance rotation failed: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
