// Package store provides storage backends for Almanac.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/almanacmail/almanac/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ListActive() ([]models.Subscriber, error) {
	rows, err := s.db.Query(
		`SELECT `+subscriberColumns+` FROM subscribers WHERE lifecycle_state = ? ORDER BY id`,
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
	slog.Debug("SQLiteStore.ListActive", "count", len(subs))
	return subs, nil
}

func (s *SQLiteStore) GetSubscriber(id string) (*models.Subscriber, error) {
	row := s.db.QueryRow(`SELECT `+subscriberColumns+` FROM subscribers WHERE id = ?`, id)
	sub, err := scanSubscriberRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get subscriber %s: %w", id, models.ErrSubscriberNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber %s failed: %w", id, err)
	}
	return &sub, nil
}

func (s *SQLiteStore) SaveSubscriber(sub models.Subscriber) error {
	now := time.Now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	requested, err := marshalRequestedContent(sub.RequestedContent)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO subscribers
		 (id, email, lifecycle_state, verified_at, last_rhythm_sent_at, last_invitation_sent_at,
		  delivered, opens, replies_ever, clicks, requested_content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Email, sub.LifecycleState, sub.VerifiedAt, sub.LastRhythmSentAt, sub.LastInvitationSentAt,
		sub.Delivered, sub.Opens, sub.RepliesEver, sub.Clicks, nilIfEmpty(requested), sub.CreatedAt, now,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveSubscriber failed", "error", err, "id", sub.ID)
		return fmt.Errorf("save subscriber %s failed: %w", sub.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateLifecycleState(id string, state models.LifecycleState, verifiedAt *time.Time) error {
	var result sql.Result
	var err error
	if verifiedAt != nil {
		result, err = s.db.Exec(
			`UPDATE subscribers SET lifecycle_state = ?, verified_at = ?, updated_at = ? WHERE id = ?`,
			state, verifiedAt, time.Now(), id,
		)
	} else {
		result, err = s.db.Exec(
			`UPDATE subscribers SET lifecycle_state = ?, updated_at = ? WHERE id = ?`,
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

func (s *SQLiteStore) UpdateCadenceMarks(id string, lastRhythm time.Time, lastInvitation *time.Time) error {
	var result sql.Result
	var err error
	if lastInvitation != nil {
		result, err = s.db.Exec(
			`UPDATE subscribers SET last_rhythm_sent_at = ?, last_invitation_sent_at = ?, updated_at = ? WHERE id = ?`,
			lastRhythm, lastInvitation, time.Now(), id,
		)
	} else {
		result, err = s.db.Exec(
			`UPDATE subscribers SET last_rhythm_sent_at = ?, updated_at = ? WHERE id = ?`,
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

func (s *SQLiteStore) ClaimSend(rec models.SendRecord) (bool, error) {
	now := time.Now()
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO send_records
		 (id, subscriber_id, email_type, content_ref, decided_for, status, idempotency_key, attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
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
		slog.Debug("SQLiteStore.ClaimSend: claim conflict", "key", rec.IdempotencyKey)
		return false, nil
	}
	slog.Debug("SQLiteStore.ClaimSend: claimed", "id", rec.ID, "subscriber", rec.SubscriberID, "type", rec.EmailType)
	return true, nil
}

func (s *SQLiteStore) MarkSent(id string, sentAt time.Time) error {
	result, err := s.db.Exec(
		`UPDATE send_records SET status = ?, sent_at = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
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

func (s *SQLiteStore) MarkFailed(id string, lastError string) error {
	result, err := s.db.Exec(
		`UPDATE send_records SET status = ?, last_error = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
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

func (s *SQLiteStore) GetRecordByKey(key string) (*models.SendRecord, error) {
	row := s.db.QueryRow(`SELECT `+sendRecordColumns+` FROM send_records WHERE idempotency_key = ?`, key)
	rec, err := scanSendRecordRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get record by key: %w", models.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record by key failed: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) SentRhythmBetween(subscriberID string, from, to time.Time) ([]models.SendRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+sendRecordColumns+` FROM send_records
		 WHERE subscriber_id = ? AND status = ?
		   AND email_type IN (?, ?, ?)
		   AND decided_for >= ? AND decided_for <= ?
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

func (s *SQLiteStore) InvitationSentInMonth(subscriberID string, year int, month time.Month) (bool, error) {
	prefix := fmt.Sprintf("%04d-%02d-", year, month)
	var id string
	err := s.db.QueryRow(
		`SELECT id FROM send_records
		 WHERE subscriber_id = ? AND email_type = ? AND status = ? AND decided_for LIKE ?
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

func (s *SQLiteStore) ConsumedInvitationRefs(subscriberID string) (map[string]bool, error) {
	rows, err := s.db.Query(
		`SELECT content_ref FROM send_records
		 WHERE subscriber_id = ? AND email_type = ? AND status = ? AND content_ref IS NOT NULL`,
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

func (s *SQLiteStore) HasSentTransactional(subscriberID string, emailType models.EmailType) (bool, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT id FROM send_records
		 WHERE subscriber_id = ? AND email_type = ? AND status = ? LIMIT 1`,
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

func (s *SQLiteStore) ListRecords(subscriberID string) ([]models.SendRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+sendRecordColumns+` FROM send_records WHERE subscriber_id = ? ORDER BY created_at ASC`,
		subscriberID,
	)
	if err != nil {
		return nil, fmt.Errorf("list records failed: %w", err)
	}
	defer rows.Close()
	return collectSendRecords(rows)
}

func (s *SQLiteStore) ListPendingOlderThan(cutoff time.Time) ([]models.SendRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+sendRecordColumns+` FROM send_records
		 WHERE status = ? AND created_at < ? ORDER BY created_at ASC`,
		models.SendStatusPending, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending older than failed: %w", err)
	}
	defer rows.Close()
	return collectSendRecords(rows)
}

func (s *SQLiteStore) RotationPosition() (int, error) {
	var pos int
	if err := s.db.QueryRow(`SELECT position FROM rotation_state WHERE id = 1`).Scan(&pos); err != nil {
		return 0, fmt.Errorf("rotation position failed: %w", err)
	}
	return pos, nil
}

func (s *SQLiteStore) AdvanceRotation(forDate time.Time) error {
	day := forDate.Format(models.DateLayout)
	_, err := s.db.Exec(
		`UPDATE rotation_state SET position = position + 1, advanced_on = ?, updated_at = ?
		 WHERE id = 1 AND (advanced_on IS NULL OR advanced_on <> ?)`,
		day, time.Now(), day,
	)
	if err != nil {
		return fmt.Errorf("advance rotation failed: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
