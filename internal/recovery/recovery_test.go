package recovery

import (
	"testing"
	"time"

	"github.com/almanacmail/almanac/internal/models"
	"github.com/almanacmail/almanac/internal/store"
)

func claim(t *testing.T, st *store.InMemoryStore, id, subscriberID string, decidedFor time.Time) {
	t.Helper()
	rec := models.SendRecord{
		ID:             id,
		SubscriberID:   subscriberID,
		EmailType:      models.EmailTypeCorrespondence,
		ContentRef:     "letter-01",
		DecidedFor:     decidedFor,
		IdempotencyKey: models.RhythmIdempotencyKey(subscriberID, decidedFor),
	}
	claimed, err := st.ClaimSend(rec)
	if err != nil || !claimed {
		t.Fatalf("ClaimSend(%s) = %v, %v", id, claimed, err)
	}
}

func TestSweepSettlesStalePendingClaims(t *testing.T) {
	st := store.NewInMemoryStore()
	defer st.Close()

	day := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	claim(t, st, "snd_old", "s_1", day)

	// Sweep with a future clock so the claim looks abandoned.
	sw := NewSweeper(st, WithStaleAfter(10*time.Minute))
	swept, err := sw.Sweep(time.Now().Add(11 * time.Minute))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}

	rec, err := st.GetRecordByKey(models.RhythmIdempotencyKey("s_1", day))
	if err != nil {
		t.Fatalf("GetRecordByKey: %v", err)
	}
	if rec.Status != models.SendStatusFailed {
		t.Errorf("status = %v, want failed", rec.Status)
	}
	if rec.LastError == "" {
		t.Error("swept record should carry a reason")
	}
}

func TestSweepLeavesFreshClaimsAlone(t *testing.T) {
	st := store.NewInMemoryStore()
	defer st.Close()

	day := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	claim(t, st, "snd_live", "s_1", day)

	sw := NewSweeper(st)
	swept, err := sw.Sweep(time.Now())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if swept != 0 {
		t.Errorf("swept = %d, want 0", swept)
	}

	rec, err := st.GetRecordByKey(models.RhythmIdempotencyKey("s_1", day))
	if err != nil {
		t.Fatalf("GetRecordByKey: %v", err)
	}
	if rec.Status != models.SendStatusPending {
		t.Errorf("status = %v, want pending", rec.Status)
	}
}

func TestSweepIgnoresConcludedRecords(t *testing.T) {
	st := store.NewInMemoryStore()
	defer st.Close()

	day := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	claim(t, st, "snd_done", "s_1", day)
	if err := st.MarkSent("snd_done", time.Now()); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	sw := NewSweeper(st, WithStaleAfter(time.Nanosecond))
	swept, err := sw.Sweep(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if swept != 0 {
		t.Errorf("swept = %d, want 0", swept)
	}
}
