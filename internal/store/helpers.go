package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/almanacmail/almanac/internal/models"
)

// Column lists shared by query sites and scan helpers; order matters.
const (
	subscriberColumns = `id, email, lifecycle_state, verified_at, last_rhythm_sent_at, last_invitation_sent_at,
		delivered, opens, replies_ever, clicks, requested_content, created_at, updated_at`
	sendRecordColumns = `id, subscriber_id, email_type, content_ref, decided_for, status, idempotency_key,
		attempts, last_error, sent_at, created_at, updated_at`
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalRequestedContent serializes the opaque content ref set for storage.
func marshalRequestedContent(refs []string) (string, error) {
	if len(refs) == 0 {
		return "", nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("marshal requested content failed: %w", err)
	}
	return string(data), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscriberFields(row rowScanner) (models.Subscriber, error) {
	var sub models.Subscriber
	var verifiedAt, lastRhythm, lastInvitation sql.NullTime
	var requested sql.NullString
	err := row.Scan(
		&sub.ID, &sub.Email, &sub.LifecycleState, &verifiedAt, &lastRhythm, &lastInvitation,
		&sub.Delivered, &sub.Opens, &sub.RepliesEver, &sub.Clicks, &requested,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return sub, err
	}
	if verifiedAt.Valid {
		sub.VerifiedAt = &verifiedAt.Time
	}
	if lastRhythm.Valid {
		sub.LastRhythmSentAt = &lastRhythm.Time
	}
	if lastInvitation.Valid {
		sub.LastInvitationSentAt = &lastInvitation.Time
	}
	if requested.Valid && requested.String != "" {
		if err := json.Unmarshal([]byte(requested.String), &sub.RequestedContent); err != nil {
			return sub, fmt.Errorf("unmarshal requested content failed: %w", err)
		}
	}
	return sub, nil
}

// scanSubscriber scans a Subscriber from sql.Rows.
func scanSubscriber(rows *sql.Rows) (models.Subscriber, error) {
	sub, err := scanSubscriberFields(rows)
	if err != nil {
		return sub, fmt.Errorf("scan subscriber failed: %w", err)
	}
	return sub, nil
}

// scanSubscriberRow scans a Subscriber from a single sql.Row.
func scanSubscriberRow(row *sql.Row) (models.Subscriber, error) {
	return scanSubscriberFields(row)
}

func scanSendRecordFields(row rowScanner) (models.SendRecord, error) {
	var rec models.SendRecord
	var contentRef, lastError sql.NullString
	var decidedFor string
	var sentAt sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.SubscriberID, &rec.EmailType, &contentRef, &decidedFor, &rec.Status,
		&rec.IdempotencyKey, &rec.Attempts, &lastError, &sentAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.ContentRef = contentRef.String
	rec.LastError = lastError.String
	if sentAt.Valid {
		rec.SentAt = &sentAt.Time
	}
	day, err := time.ParseInLocation(models.DateLayout, decidedFor, time.UTC)
	if err != nil {
		return rec, fmt.Errorf("parse decided_for %q failed: %w", decidedFor, err)
	}
	rec.DecidedFor = day
	return rec, nil
}

// scanSendRecord scans a SendRecord from sql.Rows.
func scanSendRecord(rows *sql.Rows) (models.SendRecord, error) {
	rec, err := scanSendRecordFields(rows)
	if err != nil {
		return rec, fmt.Errorf("scan send record failed: %w", err)
	}
	return rec, nil
}

// scanSendRecordRow scans a SendRecord from a single sql.Row.
func scanSendRecordRow(row *sql.Row) (models.SendRecord, error) {
	return scanSendRecordFields(row)
}

// collectSendRecords drains rows into a slice.
func collectSendRecords(rows *sql.Rows) ([]models.SendRecord, error) {
	var out []models.SendRecord
	for rows.Next() {
		rec, err := scanSendRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("send record iteration failed: %w", err)
	}
	return out, nil
}
