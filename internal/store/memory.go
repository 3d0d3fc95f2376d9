package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/almanacmail/almanac/internal/models"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps everything in process memory behind a mutex. It is the
// default when no DSN is configured and the substrate for tests. State does
// not survive restarts, so production deployments should use SQLite or
// Postgres.
type InMemoryStore struct {
	mu                 sync.Mutex
	subscribers        map[string]models.Subscriber
	records            map[string]models.SendRecord // by record ID
	claims             map[string]string            // idempotency key -> record ID
	rotationPos        int
	rotationAdvancedOn string // civil date of the last advance
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		subscribers: make(map[string]models.Subscriber),
		records:     make(map[string]models.SendRecord),
		claims:      make(map[string]string),
	}
}

func (s *InMemoryStore) ListActive() ([]models.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var subs []models.Subscriber
	for _, sub := range s.subscribers {
		if sub.LifecycleState == models.StateActive {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

func (s *InMemoryStore) GetSubscriber(id string) (*models.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[id]
	if !ok {
		return nil, fmt.Errorf("get subscriber %s: %w", id, models.ErrSubscriberNotFound)
	}
	return &sub, nil
}

func (s *InMemoryStore) SaveSubscriber(sub models.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.UpdatedAt = time.Now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = sub.UpdatedAt
	}
	s.subscribers[sub.ID] = sub
	return nil
}

func (s *InMemoryStore) UpdateLifecycleState(id string, state models.LifecycleState, verifiedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[id]
	if !ok {
		return fmt.Errorf("update lifecycle state for %s: %w", id, models.ErrSubscriberNotFound)
	}
	sub.LifecycleState = state
	if verifiedAt != nil {
		sub.VerifiedAt = verifiedAt
	}
	sub.UpdatedAt = time.Now()
	s.subscribers[id] = sub
	return nil
}

func (s *InMemoryStore) UpdateCadenceMarks(id string, lastRhythm time.Time, lastInvitation *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[id]
	if !ok {
		return fmt.Errorf("update cadence marks for %s: %w", id, models.ErrSubscriberNotFound)
	}
	sub.LastRhythmSentAt = &lastRhythm
	if lastInvitation != nil {
		sub.LastInvitationSentAt = lastInvitation
	}
	sub.UpdatedAt = time.Now()
	s.subscribers[id] = sub
	return nil
}

func (s *InMemoryStore) ClaimSend(rec models.SendRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.claims[rec.IdempotencyKey]; taken {
		return false, nil
	}
	now := time.Now()
	rec.Status = models.SendStatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.claims[rec.IdempotencyKey] = rec.ID
	s.records[rec.ID] = rec
	return true, nil
}

func (s *InMemoryStore) MarkSent(id string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != models.SendStatusPending {
		return fmt.Errorf("mark sent %s: %w", id, models.ErrRecordNotFound)
	}
	rec.Status = models.SendStatusSent
	rec.SentAt = &sentAt
	rec.Attempts++
	rec.UpdatedAt = time.Now()
	s.records[id] = rec
	return nil
}

func (s *InMemoryStore) MarkFailed(id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != models.SendStatusPending {
		return fmt.Errorf("mark failed %s: %w", id, models.ErrRecordNotFound)
	}
	rec.Status = models.SendStatusFailed
	rec.LastError = lastError
	rec.Attempts++
	rec.UpdatedAt = time.Now()
	s.records[id] = rec
	return nil
}

func (s *InMemoryStore) GetRecordByKey(key string) (*models.SendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.claims[key]
	if !ok {
		return nil, fmt.Errorf("get record by key: %w", models.ErrRecordNotFound)
	}
	rec := s.records[id]
	return &rec, nil
}

func (s *InMemoryStore) SentRhythmBetween(subscriberID string, from, to time.Time) ([]models.SendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fromDay := models.CivilDate(from)
	toDay := models.CivilDate(to)
	var out []models.SendRecord
	for _, rec := range s.records {
		if rec.SubscriberID != subscriberID || rec.Status != models.SendStatusSent || !rec.EmailType.IsRhythm() {
			continue
		}
		day := models.CivilDate(rec.DecidedFor)
		if day.Before(fromDay) || day.After(toDay) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedFor.Before(out[j].DecidedFor) })
	return out, nil
}

func (s *InMemoryStore) InvitationSentInMonth(subscriberID string, year int, month time.Month) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.SubscriberID == subscriberID &&
			rec.EmailType == models.EmailTypeInvitation &&
			rec.Status == models.SendStatusSent &&
			rec.DecidedFor.Year() == year && rec.DecidedFor.Month() == month {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ConsumedInvitationRefs(subscriberID string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make(map[string]bool)
	for _, rec := range s.records {
		if rec.SubscriberID == subscriberID &&
			rec.EmailType == models.EmailTypeInvitation &&
			rec.Status == models.SendStatusSent &&
			rec.ContentRef != "" {
			refs[rec.ContentRef] = true
		}
	}
	return refs, nil
}

func (s *InMemoryStore) HasSentTransactional(subscriberID string, emailType models.EmailType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.SubscriberID == subscriberID && rec.EmailType == emailType && rec.Status == models.SendStatusSent {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ListRecords(subscriberID string) ([]models.SendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SendRecord
	for _, rec := range s.records {
		if rec.SubscriberID == subscriberID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListPendingOlderThan(cutoff time.Time) ([]models.SendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SendRecord
	for _, rec := range s.records {
		if rec.Status == models.SendStatusPending && rec.CreatedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) RotationPosition() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotationPos, nil
}

func (s *InMemoryStore) AdvanceRotation(forDate time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := forDate.Format(models.DateLayout)
	if s.rotationAdvancedOn == day {
		return nil
	}
	s.rotationPos++
	s.rotationAdvancedOn = day
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
