// Package capacity implements the operation-point ledger for provider
// facilities.
//
// Capacity is never stored: used points are derived from active connections
// so the ledger cannot drift from the registry. What the ledger adds is the
// reservation protocol that makes accepts safe under concurrency:
//
//  1. Accept reserves points under the provider's lock.
//  2. The registry persists the active connection.
//  3. The reservation is committed (the connection now carries the points)
//     or released if persistence failed.
package capacity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hexonomy/gridshare/internal/app/domain/facility"
	"github.com/hexonomy/gridshare/internal/app/storage"
	apperrors "github.com/hexonomy/gridshare/internal/errors"
	"github.com/hexonomy/gridshare/pkg/logger"
)

// Ledger tracks operation-point usage per provider facility.
type Ledger struct {
	facilities  storage.FacilityStore
	connections storage.ConnectionStore
	log         *logger.Logger

	mu           sync.Mutex
	providers    map[string]*sync.Mutex
	reservations map[string]*reservation
	reserved     map[string]int // provider facility id -> in-flight points
}

type reservation struct {
	ID                 string
	ProviderFacilityID string
	Points             int
	CreatedAt          time.Time
}

// NewLedger constructs a capacity ledger over the given stores.
func NewLedger(facilities storage.FacilityStore, connections storage.ConnectionStore, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.NewDefault("capacity")
	}
	return &Ledger{
		facilities:   facilities,
		connections:  connections,
		log:          log,
		providers:    make(map[string]*sync.Mutex),
		reservations: make(map[string]*reservation),
		reserved:     make(map[string]int),
	}
}

// LockProvider acquires the mutual-exclusion scope for one provider facility
// and returns the unlock function. Accept and disconnect paths both funnel
// through this so capacity checks and transitions serialize per provider.
func (l *Ledger) LockProvider(providerFacilityID string) func() {
	l.mu.Lock()
	m, ok := l.providers[providerFacilityID]
	if !ok {
		m = &sync.Mutex{}
		l.providers[providerFacilityID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// CapacityOf derives the current operation-point view for a provider.
func (l *Ledger) CapacityOf(ctx context.Context, providerFacilityID string) (facility.ProviderCapacity, error) {
	prov, err := l.facilities.GetFacility(ctx, providerFacilityID)
	if err != nil {
		return facility.ProviderCapacity{}, err
	}
	if _, ok := prov.Type.Supplies(); !ok {
		return facility.ProviderCapacity{}, apperrors.Validation("facility %s (%s) does not provide a utility", prov.ID, prov.Type)
	}
	return l.capacity(ctx, prov)
}

func (l *Ledger) capacity(ctx context.Context, prov facility.Facility) (facility.ProviderCapacity, error) {
	active, err := l.connections.ListActiveProviderConnections(ctx, prov.ID)
	if err != nil {
		return facility.ProviderCapacity{}, err
	}

	used := 0
	for _, conn := range active {
		used += conn.OperationPoints
	}

	l.mu.Lock()
	reserved := l.reserved[prov.ID]
	l.mu.Unlock()

	total := facility.TotalOperationPoints(prov.Level)
	available := total - used - reserved
	if available < 0 {
		available = 0
	}

	return facility.ProviderCapacity{
		FacilityID:               prov.ID,
		TotalOperationPoints:     total,
		UsedOperationPoints:      used,
		ReservedOperationPoints:  reserved,
		AvailableOperationPoints: available,
		MaxAdditionalConnections: available, // each connection costs at least one point
	}, nil
}

// Reserve sets aside points for a pending accept. The caller must hold the
// provider lock. Fails with insufficient capacity when used + reserved +
// points would exceed the provider's total.
func (l *Ledger) Reserve(ctx context.Context, providerFacilityID string, points int) (string, error) {
	if points <= 0 {
		return "", apperrors.Validation("reservation must cover at least one operation point")
	}

	prov, err := l.facilities.GetFacility(ctx, providerFacilityID)
	if err != nil {
		return "", err
	}
	view, err := l.capacity(ctx, prov)
	if err != nil {
		return "", err
	}
	if points > view.AvailableOperationPoints {
		return "", apperrors.InsufficientCapacity(
			"provider %s has %d of %d operation points available, %d needed",
			providerFacilityID, view.AvailableOperationPoints, view.TotalOperationPoints, points)
	}

	res := &reservation{
		ID:                 uuid.NewString(),
		ProviderFacilityID: providerFacilityID,
		Points:             points,
		CreatedAt:          time.Now().UTC(),
	}

	l.mu.Lock()
	l.reservations[res.ID] = res
	l.reserved[providerFacilityID] += points
	l.mu.Unlock()

	return res.ID, nil
}

// Commit drops a reservation whose connection was persisted; the active
// connection now accounts for the points.
func (l *Ledger) Commit(reservationID string) {
	l.drop(reservationID)
}

// Release returns reserved points after a failed accept. Idempotent.
func (l *Ledger) Release(reservationID string) {
	l.drop(reservationID)
}

func (l *Ledger) drop(reservationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[reservationID]
	if !ok {
		return
	}
	delete(l.reservations, reservationID)

	remaining := l.reserved[res.ProviderFacilityID] - res.Points
	if remaining <= 0 {
		delete(l.reserved, res.ProviderFacilityID)
	} else {
		l.reserved[res.ProviderFacilityID] = remaining
	}
}
