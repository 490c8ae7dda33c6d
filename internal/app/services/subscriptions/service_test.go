package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/hexonomy/gridshare/internal/app/domain/facility"
	"github.com/hexonomy/gridshare/internal/app/domain/subscription"
	"github.com/hexonomy/gridshare/internal/app/storage/memory"
	apperrors "github.com/hexonomy/gridshare/internal/errors"
	"github.com/hexonomy/gridshare/internal/hexmap"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	svc := New(store, store, hexmap.NewGrid(20), nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	return &fixture{svc: svc, store: store, now: now}
}

func (f *fixture) addFacility(t *testing.T, typ facility.Type, level int, teamID string, q, r int) facility.Facility {
	t.Helper()
	created, err := f.store.CreateFacility(context.Background(), facility.Facility{
		Type:   typ,
		Level:  level,
		TeamID: teamID,
		Tile:   hexmap.TileCoord{Q: q, R: r},
	})
	if err != nil {
		t.Fatalf("create facility: %v", err)
	}
	return created
}

func TestSubscribeWithinCoverage(t *testing.T) {
	f := newFixture(t)
	// Level 3 station covers radius 5.
	station := f.addFacility(t, facility.TypeBaseStation, 3, "team-b", 0, 0)
	consumer := f.addFacility(t, facility.TypeMall, 1, "team-a", 5, 0)

	sub, err := f.svc.Subscribe(context.Background(), "team-a", consumer.ID, station.ID, 100)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.Status != subscription.StatusPending {
		t.Fatalf("status = %s, want pending", sub.Status)
	}
	if sub.Type != subscription.TypeBaseStation {
		t.Fatalf("type = %s, want base_station", sub.Type)
	}
	if sub.Distance != 5 {
		t.Fatalf("distance = %d, want 5", sub.Distance)
	}
}

func TestSubscribeOutsideCoverage(t *testing.T) {
	f := newFixture(t)
	// Level 3 station covers radius 5; distance 6 is out.
	station := f.addFacility(t, facility.TypeFireStation, 3, "team-b", 0, 0)
	consumer := f.addFacility(t, facility.TypeMall, 1, "team-a", 6, 0)

	_, err := f.svc.Subscribe(context.Background(), "team-a", consumer.ID, station.ID, 100)
	if !apperrors.IsKind(err, apperrors.KindUnreachable) {
		t.Fatalf("expected unreachable, got %v", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	f := newFixture(t)
	station := f.addFacility(t, facility.TypeBaseStation, 1, "team-b", 0, 0)
	ownStation := f.addFacility(t, facility.TypeFireStation, 1, "team-a", 1, 0)
	consumer := f.addFacility(t, facility.TypeMall, 1, "team-a", 1, 1)
	plant := f.addFacility(t, facility.TypeWaterPlant, 1, "team-b", 0, 1)

	ctx := context.Background()

	if _, err := f.svc.Subscribe(ctx, "team-a", consumer.ID, station.ID, -1); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("negative fee: expected validation, got %v", err)
	}
	if _, err := f.svc.Subscribe(ctx, "team-c", consumer.ID, station.ID, 1); !apperrors.IsKind(err, apperrors.KindUnauthorized) {
		t.Fatalf("not owner: expected unauthorized, got %v", err)
	}
	if _, err := f.svc.Subscribe(ctx, "team-b", station.ID, ownStation.ID, 1); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("station as consumer: expected validation, got %v", err)
	}
	if _, err := f.svc.Subscribe(ctx, "team-a", consumer.ID, plant.ID, 1); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("plant as station: expected validation, got %v", err)
	}
	if _, err := f.svc.Subscribe(ctx, "team-a", consumer.ID, ownStation.ID, 1); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("own station: expected validation, got %v", err)
	}
}

func TestSubscribeSingleLivePerServiceType(t *testing.T) {
	f := newFixture(t)
	base1 := f.addFacility(t, facility.TypeBaseStation, 1, "team-b", 0, 0)
	base2 := f.addFacility(t, facility.TypeBaseStation, 1, "team-c", 1, 0)
	fire := f.addFacility(t, facility.TypeFireStation, 1, "team-b", 0, 1)
	consumer := f.addFacility(t, facility.TypeMall, 1, "team-a", 1, 1)

	ctx := context.Background()
	if _, err := f.svc.Subscribe(ctx, "team-a", consumer.ID, base1.ID, 1); err != nil {
		t.Fatalf("first base subscription: %v", err)
	}
	if _, err := f.svc.Subscribe(ctx, "team-a", consumer.ID, base2.ID, 1); !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("second base subscription: expected conflict, got %v", err)
	}
	// Fire coverage is a separate track.
	if _, err := f.svc.Subscribe(ctx, "team-a", consumer.ID, fire.ID, 1); err != nil {
		t.Fatalf("fire subscription: %v", err)
	}
}

func TestAcceptStartsBillingClock(t *testing.T) {
	f := newFixture(t)
	station := f.addFacility(t, facility.TypeBaseStation, 1, "team-b", 0, 0)
	consumer := f.addFacility(t, facility.TypeMall, 1, "team-a", 1, 0)

	ctx := context.Background()
	sub, err := f.svc.Subscribe(ctx, "team-a", consumer.ID, station.ID, 100)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if _, err := f.svc.Accept(ctx, "team-a", sub.ID, 120); !apperrors.IsKind(err, apperrors.KindUnauthorized) {
		t.Fatalf("consumer accept: expected unauthorized, got %v", err)
	}

	accepted, err := f.svc.Accept(ctx, "team-b", sub.ID, 120)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if accepted.Status != subscription.StatusActive {
		t.Fatalf("status = %s, want active", accepted.Status)
	}
	if accepted.AnnualFee != 120 {
		t.Fatalf("annual fee = %v, want 120", accepted.AnnualFee)
	}
	want := f.now.Add(365 * 24 * time.Hour)
	if !accepted.NextBillingAt.Equal(want) {
		t.Fatalf("next billing = %v, want %v", accepted.NextBillingAt, want)
	}
}

func TestCancelSides(t *testing.T) {
	f := newFixture(t)
	station := f.addFacility(t, facility.TypeBaseStation, 1, "team-b", 0, 0)
	consumer := f.addFacility(t, facility.TypeMall, 1, "team-a", 1, 0)

	ctx := context.Background()

	// Provider declining a pending subscription records a rejection.
	sub, err := f.svc.Subscribe(ctx, "team-a", consumer.ID, station.ID, 100)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	closed, err := f.svc.Cancel(ctx, "team-b", sub.ID, "coverage full")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if closed.Status != subscription.StatusRejected {
		t.Fatalf("provider close of pending = %s, want rejected", closed.Status)
	}

	// Consumer withdrawing a pending subscription records a cancellation.
	sub, err = f.svc.Subscribe(ctx, "team-a", consumer.ID, station.ID, 100)
	if err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}
	closed, err = f.svc.Cancel(ctx, "team-a", sub.ID, "changed plans")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if closed.Status != subscription.StatusCancelled {
		t.Fatalf("consumer close of pending = %s, want cancelled", closed.Status)
	}

	// Either party may cancel an active subscription.
	sub, err = f.svc.Subscribe(ctx, "team-a", consumer.ID, station.ID, 100)
	if err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}
	if _, err := f.svc.Accept(ctx, "team-b", sub.ID, 100); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	closed, err = f.svc.Cancel(ctx, "team-b", sub.ID, "decommissioning")
	if err != nil {
		t.Fatalf("Cancel active: %v", err)
	}
	if closed.Status != subscription.StatusCancelled {
		t.Fatalf("cancel active = %s, want cancelled", closed.Status)
	}
	if !closed.NextBillingAt.IsZero() {
		t.Fatalf("cancel must clear the billing clock, got %v", closed.NextBillingAt)
	}

	// Terminal states stay terminal.
	if _, err := f.svc.Cancel(ctx, "team-a", sub.ID, ""); !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("cancel after cancel: expected conflict, got %v", err)
	}
}

func TestSuspendResume(t *testing.T) {
	f := newFixture(t)
	station := f.addFacility(t, facility.TypeBaseStation, 1, "team-b", 0, 0)
	consumer := f.addFacility(t, facility.TypeMall, 1, "team-a", 1, 0)

	ctx := context.Background()
	sub, err := f.svc.Subscribe(ctx, "team-a", consumer.ID, station.ID, 100)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Only active subscriptions can be suspended.
	if _, err := f.svc.Suspend(ctx, "team-b", sub.ID, "maintenance"); !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("suspend pending: expected conflict, got %v", err)
	}

	if _, err := f.svc.Accept(ctx, "team-b", sub.ID, 100); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	suspended, err := f.svc.Suspend(ctx, "team-b", sub.ID, "maintenance")
	if err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if suspended.Status != subscription.StatusSuspended {
		t.Fatalf("status = %s, want suspended", suspended.Status)
	}

	if _, err := f.svc.Resume(ctx, "team-a", sub.ID); !apperrors.IsKind(err, apperrors.KindUnauthorized) {
		t.Fatalf("consumer resume: expected unauthorized, got %v", err)
	}

	resumed, err := f.svc.Resume(ctx, "team-b", sub.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != subscription.StatusActive {
		t.Fatalf("status = %s, want active", resumed.Status)
	}
}

func TestRollDueBilling(t *testing.T) {
	f := newFixture(t)
	station := f.addFacility(t, facility.TypeBaseStation, 1, "team-b", 0, 0)
	consumer := f.addFacility(t, facility.TypeMall, 1, "team-a", 1, 0)

	ctx := context.Background()
	sub, err := f.svc.Subscribe(ctx, "team-a", consumer.ID, station.ID, 100)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub, err = f.svc.Accept(ctx, "team-b", sub.ID, 100)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	// Nothing is due yet.
	rolled, err := f.svc.RollDueBilling(ctx)
	if err != nil {
		t.Fatalf("RollDueBilling: %v", err)
	}
	if rolled != 0 {
		t.Fatalf("rolled = %d, want 0", rolled)
	}

	// Jump past the billing date.
	f.svc.now = func() time.Time { return f.now.Add(366 * 24 * time.Hour) }
	rolled, err = f.svc.RollDueBilling(ctx)
	if err != nil {
		t.Fatalf("RollDueBilling: %v", err)
	}
	if rolled != 1 {
		t.Fatalf("rolled = %d, want 1", rolled)
	}

	updated, err := f.store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	want := sub.NextBillingAt.Add(365 * 24 * time.Hour)
	if !updated.NextBillingAt.Equal(want) {
		t.Fatalf("next billing = %v, want %v", updated.NextBillingAt, want)
	}
}

func TestBillingSkipsSuspended(t *testing.T) {
	f := newFixture(t)
	station := f.addFacility(t, facility.TypeBaseStation, 1, "team-b", 0, 0)
	consumer := f.addFacility(t, facility.TypeMall, 1, "team-a", 1, 0)

	ctx := context.Background()
	sub, err := f.svc.Subscribe(ctx, "team-a", consumer.ID, station.ID, 100)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := f.svc.Accept(ctx, "team-b", sub.ID, 100); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, err := f.svc.Suspend(ctx, "team-b", sub.ID, "outage"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}

	f.svc.now = func() time.Time { return f.now.Add(366 * 24 * time.Hour) }
	rolled, err := f.svc.RollDueBilling(ctx)
	if err != nil {
		t.Fatalf("RollDueBilling: %v", err)
	}
	if rolled != 0 {
		t.Fatalf("suspended subscription must not bill, rolled = %d", rolled)
	}
}
