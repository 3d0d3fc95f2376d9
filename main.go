package main

import (
	"context"
	"log"
	"time"

	"github.com/almanacmail/almanac/internal/calendar"
	"github.com/almanacmail/almanac/internal/delivery"
	"github.com/almanacmail/almanac/internal/models"
	"github.com/almanacmail/almanac/internal/scheduler"
	"github.com/almanacmail/almanac/internal/store"
)

var demoCalendar = []byte(`
months:
  1:  {theme: beginnings, eligible_types: [correspondence, invitation]}
  2:  {theme: hearth, eligible_types: [correspondence]}
  12: {theme: stillness, eligible_types: [correspondence, ritual]}
ritual_windows:
  - name: solstice
    anchor_date: 2025-12-21T00:00:00Z
    window_days: 3
correspondence_rotation: [letter-01, letter-02, letter-03]
invitation_pool:
  replier: [gathering-01]
`)

// Minimal demonstration: an in-memory store, a mock gateway and a dry run
// for today. The real entrypoint is cmd/almanac.
func main() {
	cal, err := calendar.Parse(demoCalendar)
	if err != nil {
		log.Fatalf("parse demo calendar: %v", err)
	}

	st := store.NewInMemoryStore()
	defer st.Close()

	verified := time.Now().UTC().AddDate(0, 0, -14)
	if err := st.SaveSubscriber(models.Subscriber{
		ID:             "s_demo",
		Email:          "demo@example.org",
		LifecycleState: models.StateActive,
		VerifiedAt:     &verified,
		Delivered:      12,
		Opens:          10,
	}); err != nil {
		log.Fatalf("seed subscriber: %v", err)
	}

	dispatcher := delivery.NewDispatcher(delivery.NewMockGateway())
	engine := scheduler.NewEngine(st, dispatcher, cal)

	decisions, err := engine.Run(context.Background(), time.Now().UTC(), scheduler.RunOptions{DryRun: true})
	if err != nil {
		log.Fatalf("run: %v", err)
	}
	for _, d := range decisions {
		log.Printf("subscriber=%s outcome=%s type=%s content=%s reason=%s",
			d.SubscriberID, d.Outcome, d.EmailType, d.ContentRef, d.Reason)
	}
}
