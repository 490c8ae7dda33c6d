package connections

import (
	"context"
	"testing"

	"github.com/hexonomy/gridshare/internal/app/domain/connection"
	"github.com/hexonomy/gridshare/internal/app/domain/facility"
	"github.com/hexonomy/gridshare/internal/app/services/capacity"
	"github.com/hexonomy/gridshare/internal/app/storage/memory"
	apperrors "github.com/hexonomy/gridshare/internal/errors"
	"github.com/hexonomy/gridshare/internal/hexmap"
)

type fixture struct {
	svc    *Service
	store  *memory.Store
	ledger *capacity.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	ledger := capacity.NewLedger(store, store, nil)
	oracle := hexmap.NewGrid(10)
	return &fixture{
		svc:    New(store, store, ledger, oracle, nil),
		store:  store,
		ledger: ledger,
	}
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

func TestRequestHappyPath(t *testing.T) {
	f := newFixture(t)
	consumer := f.addFacility(t, facility.TypeFactory, 1, "team-a", 0, 0)
	provider := f.addFacility(t, facility.TypeWaterPlant, 1, "team-b", 2, 0)

	req, err := f.svc.Request(context.Background(), "team-a", consumer.ID, provider.ID, connection.TypeWater, 1.5)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.Status != connection.RequestPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}
	if req.Distance != 2 {
		t.Fatalf("distance = %d, want 2", req.Distance)
	}
	if req.OperationPoints != 3 {
		t.Fatalf("operation points = %d, want distance+1 = 3", req.OperationPoints)
	}
	if req.ProviderTeamID != "team-b" {
		t.Fatalf("provider team = %s, want team-b", req.ProviderTeamID)
	}
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)
	consumer := f.addFacility(t, facility.TypeFactory, 1, "team-a", 0, 0)
	waterPlant := f.addFacility(t, facility.TypeWaterPlant, 1, "team-b", 2, 0)
	ownPlant := f.addFacility(t, facility.TypePowerPlant, 1, "team-a", 1, 0)
	station := f.addFacility(t, facility.TypeBaseStation, 1, "team-b", 1, 1)

	ctx := context.Background()

	cases := []struct {
		name     string
		team     string
		consumer string
		provider string
		typ      connection.Type
		price    float64
		kind     apperrors.Kind
	}{
		{"unknown type", "team-a", consumer.ID, waterPlant.ID, "gas", 1, apperrors.KindValidation},
		{"negative price", "team-a", consumer.ID, waterPlant.ID, connection.TypeWater, -1, apperrors.KindValidation},
		{"not owner", "team-c", consumer.ID, waterPlant.ID, connection.TypeWater, 1, apperrors.KindUnauthorized},
		{"provider type mismatch", "team-a", consumer.ID, waterPlant.ID, connection.TypePower, 1, apperrors.KindValidation},
		{"station is not a utility", "team-a", consumer.ID, station.ID, connection.TypeWater, 1, apperrors.KindValidation},
		{"same team", "team-a", consumer.ID, ownPlant.ID, connection.TypePower, 1, apperrors.KindValidation},
		{"consumer not found", "team-a", "missing", waterPlant.ID, connection.TypeWater, 1, apperrors.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Request(ctx, tc.team, tc.consumer, tc.provider, tc.typ, tc.price)
			if !apperrors.IsKind(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
		})
	}
}

func TestRequestUnreachable(t *testing.T) {
	f := newFixture(t)
	consumer := f.addFacility(t, facility.TypeFactory, 1, "team-a", 0, 0)
	// Off the radius-10 map.
	provider := f.addFacility(t, facility.TypeWaterPlant, 1, "team-b", 11, 0)

	_, err := f.svc.Request(context.Background(), "team-a", consumer.ID, provider.ID, connection.TypeWater, 1)
	if !apperrors.IsKind(err, apperrors.KindUnreachable) {
		t.Fatalf("expected unreachable, got %v", err)
	}
}

func TestRequestSinglePending(t *testing.T) {
	f := newFixture(t)
	consumer := f.addFacility(t, facility.TypeFactory, 1, "team-a", 0, 0)
	p1 := f.addFacility(t, facility.TypeWaterPlant, 1, "team-b", 2, 0)
	p2 := f.addFacility(t, facility.TypeWaterPlant, 1, "team-c", 0, 2)

	ctx := context.Background()
	if _, err := f.svc.Request(ctx, "team-a", consumer.ID, p1.ID, connection.TypeWater, 1); err != nil {
		t.Fatalf("first request: %v", err)
	}
	// A second pending water request, even to a different provider, conflicts.
	if _, err := f.svc.Request(ctx, "team-a", consumer.ID, p2.ID, connection.TypeWater, 1); !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// A power request is an independent track.
	power := f.addFacility(t, facility.TypePowerPlant, 1, "team-b", 1, 1)
	if _, err := f.svc.Request(ctx, "team-a", consumer.ID, power.ID, connection.TypePower, 1); err != nil {
		t.Fatalf("power request: %v", err)
	}
}

func TestAcceptCreatesActiveConnection(t *testing.T) {
	f := newFixture(t)
	consumer := f.addFacility(t, facility.TypeFactory, 1, "team-a", 0, 0)
	provider := f.addFacility(t, facility.TypeWaterPlant, 1, "team-b", 2, 0)

	ctx := context.Background()
	req, err := f.svc.Request(ctx, "team-a", consumer.ID, provider.ID, connection.TypeWater, 1)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	conn, err := f.svc.Accept(ctx, "team-b", req.ID, 2.5)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if conn.Status != connection.StatusActive {
		t.Fatalf("connection status = %s, want active", conn.Status)
	}
	if conn.UnitPrice != 2.5 {
		t.Fatalf("unit price = %v, want 2.5", conn.UnitPrice)
	}
	if conn.OperationPoints != req.OperationPoints {
		t.Fatalf("points not carried over: %d != %d", conn.OperationPoints, req.OperationPoints)
	}

	updated, err := f.store.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if updated.Status != connection.RequestAccepted {
		t.Fatalf("request status = %s, want accepted", updated.Status)
	}

	view, err := f.ledger.CapacityOf(ctx, provider.ID)
	if err != nil {
		t.Fatalf("CapacityOf: %v", err)
	}
	if view.UsedOperationPoints != 3 || view.ReservedOperationPoints != 0 {
		t.Fatalf("capacity after accept: %+v", view)
	}
}

func TestAcceptAuthorizationAndState(t *testing.T) {
	f := newFixture(t)
	consumer := f.addFacility(t, facility.TypeFactory, 1, "team-a", 0, 0)
	provider := f.addFacility(t, facility.TypeWaterPlant, 1, "team-b", 2, 0)

	ctx := context.Background()
	req, err := f.svc.Request(ctx, "team-a", consumer.ID, provider.ID, connection.TypeWater, 1)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	if _, err := f.svc.Accept(ctx, "team-a", req.ID, 1); !apperrors.IsKind(err, apperrors.KindUnauthorized) {
		t.Fatalf("consumer accepting: expected unauthorized, got %v", err)
	}
	if _, err := f.svc.Accept(ctx, "team-b", req.ID, 1); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, err := f.svc.Accept(ctx, "team-b", req.ID, 1); !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("double accept: expected conflict, got %v", err)
	}
}

func TestAcceptInsufficientCapacityLeavesRequestPending(t *testing.T) {
	f := newFixture(t)
	// Level 1 water plant: 5 points total.
	provider := f.addFacility(t, facility.TypeWaterPlant, 1, "team-b", 0, 0)
	near := f.addFacility(t, facility.TypeFactory, 1, "team-a", 2, 0)  // cost 3
	far := f.addFacility(t, facility.TypeFarm, 1, "team-c", 3, 0)      // cost 4

	ctx := context.Background()
	nearReq, err := f.svc.Request(ctx, "team-a", near.ID, provider.ID, connection.TypeWater, 1)
	if err != nil {
		t.Fatalf("near request: %v", err)
	}
	farReq, err := f.svc.Request(ctx, "team-c", far.ID, provider.ID, connection.TypeWater, 1)
	if err != nil {
		t.Fatalf("far request: %v", err)
	}

	if _, err := f.svc.Accept(ctx, "team-b", nearReq.ID, 1); err != nil {
		t.Fatalf("accept near: %v", err)
	}

	// 2 of 5 points remain, the far request needs 4.
	if _, err := f.svc.Accept(ctx, "team-b", farReq.ID, 1); !apperrors.IsKind(err, apperrors.KindInsufficientCapacity) {
		t.Fatalf("expected insufficient capacity, got %v", err)
	}

	still, err := f.store.GetRequest(ctx, farReq.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if still.Status != connection.RequestPending {
		t.Fatalf("failed accept must leave the request pending, got %s", still.Status)
	}
}

func TestRejectAndCancelSides(t *testing.T) {
	f := newFixture(t)
	consumer := f.addFacility(t, facility.TypeFactory, 1, "team-a", 0, 0)
	provider := f.addFacility(t, facility.TypeWaterPlant, 1, "team-b", 2, 0)

	ctx := context.Background()
	req, err := f.svc.Request(ctx, "team-a", consumer.ID, provider.ID, connection.TypeWater, 1)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	// Only the provider rejects; only the consumer cancels.
	if _, err := f.svc.Reject(ctx, "team-a", req.ID, "no"); !apperrors.IsKind(err, apperrors.KindUnauthorized) {
		t.Fatalf("consumer reject: expected unauthorized, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, "team-b", req.ID, "no"); !apperrors.IsKind(err, apperrors.KindUnauthorized) {
		t.Fatalf("provider cancel: expected unauthorized, got %v", err)
	}

	rejected, err := f.svc.Reject(ctx, "team-b", req.ID, "at capacity soon")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != connection.RequestRejected || rejected.Reason != "at capacity soon" {
		t.Fatalf("unexpected rejected request: %+v", rejected)
	}

	// Terminal states stay terminal.
	if _, err := f.svc.Cancel(ctx, "team-a", req.ID, ""); !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("cancel after reject: expected conflict, got %v", err)
	}

	// After the terminal state the consumer may request again.
	if _, err := f.svc.Request(ctx, "team-a", consumer.ID, provider.ID, connection.TypeWater, 1); err != nil {
		t.Fatalf("re-request after reject: %v", err)
	}
}

func TestDisconnectFreesCapacity(t *testing.T) {
	f := newFixture(t)
	provider := f.addFacility(t, facility.TypeWaterPlant, 1, "team-b", 0, 0)
	near := f.addFacility(t, facility.TypeFactory, 1, "team-a", 2, 0) // cost 3
	far := f.addFacility(t, facility.TypeFarm, 1, "team-c", 3, 0)     // cost 4

	ctx := context.Background()
	nearReq, err := f.svc.Request(ctx, "team-a", near.ID, provider.ID, connection.TypeWater, 1)
	if err != nil {
		t.Fatalf("near request: %v", err)
	}
	conn, err := f.svc.Accept(ctx, "team-b", nearReq.ID, 1)
	if err != nil {
		t.Fatalf("accept near: %v", err)
	}

	farReq, err := f.svc.Request(ctx, "team-c", far.ID, provider.ID, connection.TypeWater, 1)
	if err != nil {
		t.Fatalf("far request: %v", err)
	}
	if _, err := f.svc.Accept(ctx, "team-b", farReq.ID, 1); !apperrors.IsKind(err, apperrors.KindInsufficientCapacity) {
		t.Fatalf("expected insufficient capacity before disconnect, got %v", err)
	}

	// The consumer side tears the near connection down, freeing 3 points.
	disconnected, err := f.svc.Disconnect(ctx, "team-a", conn.ID, "switching supplier")
	if err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if disconnected.Status != connection.StatusDisconnected {
		t.Fatalf("status = %s, want disconnected", disconnected.Status)
	}

	if _, err := f.svc.Accept(ctx, "team-b", farReq.ID, 1); err != nil {
		t.Fatalf("accept after disconnect: %v", err)
	}

	// Disconnecting twice conflicts.
	if _, err := f.svc.Disconnect(ctx, "team-a", conn.ID, ""); !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("double disconnect: expected conflict, got %v", err)
	}
}

func TestActiveConnectionBlocksNewRequest(t *testing.T) {
	f := newFixture(t)
	consumer := f.addFacility(t, facility.TypeFactory, 1, "team-a", 0, 0)
	p1 := f.addFacility(t, facility.TypeWaterPlant, 1, "team-b", 2, 0)
	p2 := f.addFacility(t, facility.TypeWaterPlant, 1, "team-c", 0, 2)

	ctx := context.Background()
	req, err := f.svc.Request(ctx, "team-a", consumer.ID, p1.ID, connection.TypeWater, 1)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	conn, err := f.svc.Accept(ctx, "team-b", req.ID, 1)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if _, err := f.svc.Request(ctx, "team-a", consumer.ID, p2.ID, connection.TypeWater, 1); !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("expected conflict while connected, got %v", err)
	}

	if _, err := f.svc.Disconnect(ctx, "team-a", conn.ID, ""); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if _, err := f.svc.Request(ctx, "team-a", consumer.ID, p2.ID, connection.TypeWater, 1); err != nil {
		t.Fatalf("request after disconnect: %v", err)
	}
}

func TestListViewsCarryCounterparties(t *testing.T) {
	f := newFixture(t)
	consumer := f.addFacility(t, facility.TypeFactory, 1, "team-a", 0, 0)
	provider := f.addFacility(t, facility.TypeWaterPlant, 1, "team-b", 2, 0)

	ctx := context.Background()
	if _, err := f.svc.Request(ctx, "team-a", consumer.ID, provider.ID, connection.TypeWater, 1); err != nil {
		t.Fatalf("Request: %v", err)
	}

	views, err := f.svc.ProviderRequests(ctx, provider.ID)
	if err != nil {
		t.Fatalf("ProviderRequests: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("len(views) = %d, want 1", len(views))
	}
	if views[0].Consumer.ID != consumer.ID || views[0].Provider.ID != provider.ID {
		t.Fatalf("counterparties not denormalized: %+v", views[0])
	}
}
