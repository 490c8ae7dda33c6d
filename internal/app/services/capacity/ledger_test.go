package capacity

import (
	"context"
	"testing"

	"github.com/hexonomy/gridshare/internal/app/domain/connection"
	"github.com/hexonomy/gridshare/internal/app/domain/facility"
	"github.com/hexonomy/gridshare/internal/app/storage/memory"
	apperrors "github.com/hexonomy/gridshare/internal/errors"
	"github.com/hexonomy/gridshare/internal/hexmap"
)

func newTestLedger(t *testing.T) (*Ledger, *memory.Store, facility.Facility) {
	t.Helper()
	store := memory.New()

	provider, err := store.CreateFacility(context.Background(), facility.Facility{
		Type:   facility.TypeWaterPlant,
		Level:  1,
		TeamID: "team-a",
		Tile:   hexmap.TileCoord{Q: 0, R: 0},
	})
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	return NewLedger(store, store, nil), store, provider
}

func TestCapacityOfFreshProvider(t *testing.T) {
	ledger, _, provider := newTestLedger(t)

	view, err := ledger.CapacityOf(context.Background(), provider.ID)
	if err != nil {
		t.Fatalf("CapacityOf: %v", err)
	}
	if view.TotalOperationPoints != 5 {
		t.Fatalf("total = %d, want 5 for level 1", view.TotalOperationPoints)
	}
	if view.UsedOperationPoints != 0 || view.ReservedOperationPoints != 0 {
		t.Fatalf("fresh provider should have nothing used or reserved: %+v", view)
	}
	if view.AvailableOperationPoints != 5 {
		t.Fatalf("available = %d, want 5", view.AvailableOperationPoints)
	}
}

func TestCapacityOfNonProvider(t *testing.T) {
	ledger, store, _ := newTestLedger(t)

	consumer, err := store.CreateFacility(context.Background(), facility.Facility{
		Type: facility.TypeFarm, Level: 1, TeamID: "team-b",
	})
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}

	if _, err := ledger.CapacityOf(context.Background(), consumer.ID); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReserveAndCommit(t *testing.T) {
	ledger, _, provider := newTestLedger(t)
	ctx := context.Background()

	unlock := ledger.LockProvider(provider.ID)
	defer unlock()

	resID, err := ledger.Reserve(ctx, provider.ID, 3)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	view, err := ledger.CapacityOf(ctx, provider.ID)
	if err != nil {
		t.Fatalf("CapacityOf: %v", err)
	}
	if view.ReservedOperationPoints != 3 || view.AvailableOperationPoints != 2 {
		t.Fatalf("after reserve: %+v", view)
	}

	ledger.Commit(resID)

	view, err = ledger.CapacityOf(ctx, provider.ID)
	if err != nil {
		t.Fatalf("CapacityOf: %v", err)
	}
	if view.ReservedOperationPoints != 0 {
		t.Fatalf("commit should drop the reservation: %+v", view)
	}
}

func TestReserveInsufficientCapacity(t *testing.T) {
	ledger, _, provider := newTestLedger(t)
	ctx := context.Background()

	unlock := ledger.LockProvider(provider.ID)
	defer unlock()

	if _, err := ledger.Reserve(ctx, provider.ID, 3); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	// 2 of 5 remain.
	if _, err := ledger.Reserve(ctx, provider.ID, 3); !apperrors.IsKind(err, apperrors.KindInsufficientCapacity) {
		t.Fatalf("expected insufficient capacity, got %v", err)
	}
	if _, err := ledger.Reserve(ctx, provider.ID, 2); err != nil {
		t.Fatalf("exact fit reserve: %v", err)
	}
}

func TestReleaseReturnsPoints(t *testing.T) {
	ledger, _, provider := newTestLedger(t)
	ctx := context.Background()

	unlock := ledger.LockProvider(provider.ID)
	defer unlock()

	resID, err := ledger.Reserve(ctx, provider.ID, 5)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	ledger.Release(resID)
	ledger.Release(resID) // idempotent

	view, err := ledger.CapacityOf(ctx, provider.ID)
	if err != nil {
		t.Fatalf("CapacityOf: %v", err)
	}
	if view.AvailableOperationPoints != 5 {
		t.Fatalf("release should restore full availability: %+v", view)
	}
}

func TestUsedPointsDerivedFromActiveConnections(t *testing.T) {
	ledger, store, provider := newTestLedger(t)
	ctx := context.Background()

	if _, err := store.CreateConnection(ctx, connection.Connection{
		Type:               connection.TypeWater,
		ConsumerFacilityID: "c1",
		ProviderFacilityID: provider.ID,
		OperationPoints:    4,
		Status:             connection.StatusActive,
	}); err != nil {
		t.Fatalf("create connection: %v", err)
	}

	view, err := ledger.CapacityOf(ctx, provider.ID)
	if err != nil {
		t.Fatalf("CapacityOf: %v", err)
	}
	if view.UsedOperationPoints != 4 || view.AvailableOperationPoints != 1 {
		t.Fatalf("derived view wrong: %+v", view)
	}
}

func TestReserveRejectsNonPositivePoints(t *testing.T) {
	ledger, _, provider := newTestLedger(t)

	if _, err := ledger.Reserve(context.Background(), provider.ID, 0); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
