package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hexonomy/gridshare/internal/app/domain/connection"
	"github.com/hexonomy/gridshare/internal/app/domain/facility"
	"github.com/hexonomy/gridshare/internal/app/domain/subscription"
	"github.com/hexonomy/gridshare/internal/app/storage"
	apperrors "github.com/hexonomy/gridshare/internal/errors"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development. Uniqueness invariants are checked under the store mutex, so
// concurrent duplicate creates serialize the same way the postgres partial
// indexes do.
type Store struct {
	mu            sync.RWMutex
	nextID        int64
	facilities    map[string]facility.Facility
	requests      map[string]connection.Request
	connections   map[string]connection.Connection
	subscriptions map[string]subscription.Subscription
}

var _ storage.FacilityStore = (*Store)(nil)
var _ storage.ConnectionStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:        1,
		facilities:    make(map[string]facility.Facility),
		requests:      make(map[string]connection.Request),
		connections:   make(map[string]connection.Connection),
		subscriptions: make(map[string]subscription.Subscription),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// FacilityStore implementation ------------------------------------------------

func (s *Store) CreateFacility(_ context.Context, f facility.Facility) (facility.Facility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = s.nextIDLocked()
	} else if _, exists := s.facilities[f.ID]; exists {
		return facility.Facility{}, apperrors.Conflict("facility %s already exists", f.ID)
	}

	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	s.facilities[f.ID] = f
	return f, nil
}

func (s *Store) UpdateFacility(_ context.Context, f facility.Facility) (facility.Facility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.facilities[f.ID]
	if !ok {
		return facility.Facility{}, apperrors.NotFound("facility", f.ID)
	}

	f.CreatedAt = original.CreatedAt
	f.UpdatedAt = time.Now().UTC()

	s.facilities[f.ID] = f
	return f, nil
}

func (s *Store) GetFacility(_ context.Context, id string) (facility.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.facilities[id]
	if !ok {
		return facility.Facility{}, apperrors.NotFound("facility", id)
	}
	return f, nil
}

func (s *Store) ListFacilities(_ context.Context) ([]facility.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]facility.Facility, 0, len(s.facilities))
	for _, f := range s.facilities {
		result = append(result, f)
	}
	return result, nil
}

func (s *Store) ListTeamFacilities(_ context.Context, teamID string) ([]facility.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]facility.Facility, 0)
	for _, f := range s.facilities {
		if f.TeamID == teamID {
			result = append(result, f)
		}
	}
	return result, nil
}

// ConnectionStore implementation ----------------------------------------------

func (s *Store) CreateRequest(_ context.Context, req connection.Request) (connection.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.requests {
		if existing.ConsumerFacilityID == req.ConsumerFacilityID &&
			existing.Type == req.Type &&
			existing.Status == connection.RequestPending {
			return connection.Request{}, apperrors.Conflict(
				"facility %s already has a pending %s request", req.ConsumerFacilityID, req.Type)
		}
	}

	if req.ID == "" {
		req.ID = s.nextIDLocked()
	} else if _, exists := s.requests[req.ID]; exists {
		return connection.Request{}, apperrors.Conflict("request %s already exists", req.ID)
	}

	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	s.requests[req.ID] = req
	return req, nil
}

func (s *Store) UpdateRequest(_ context.Context, req connection.Request) (connection.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.requests[req.ID]
	if !ok {
		return connection.Request{}, apperrors.NotFound("connection request", req.ID)
	}

	req.CreatedAt = original.CreatedAt
	req.UpdatedAt = time.Now().UTC()

	s.requests[req.ID] = req
	return req, nil
}

func (s *Store) GetRequest(_ context.Context, id string) (connection.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return connection.Request{}, apperrors.NotFound("connection request", id)
	}
	return req, nil
}

func (s *Store) ListConsumerRequests(_ context.Context, facilityID string) ([]connection.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]connection.Request, 0)
	for _, req := range s.requests {
		if req.ConsumerFacilityID == facilityID {
			result = append(result, req)
		}
	}
	return result, nil
}

func (s *Store) ListProviderRequests(_ context.Context, facilityID string) ([]connection.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]connection.Request, 0)
	for _, req := range s.requests {
		if req.ProviderFacilityID == facilityID {
			result = append(result, req)
		}
	}
	return result, nil
}

func (s *Store) CreateConnection(_ context.Context, conn connection.Connection) (connection.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.connections {
		if existing.ConsumerFacilityID == conn.ConsumerFacilityID &&
			existing.Type == conn.Type &&
			existing.Status == connection.StatusActive {
			return connection.Connection{}, apperrors.Conflict(
				"facility %s already has an active %s connection", conn.ConsumerFacilityID, conn.Type)
		}
	}

	if conn.ID == "" {
		conn.ID = s.nextIDLocked()
	} else if _, exists := s.connections[conn.ID]; exists {
		return connection.Connection{}, apperrors.Conflict("connection %s already exists", conn.ID)
	}

	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	s.connections[conn.ID] = conn
	return conn, nil
}

func (s *Store) UpdateConnection(_ context.Context, conn connection.Connection) (connection.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.connections[conn.ID]
	if !ok {
		return connection.Connection{}, apperrors.NotFound("connection", conn.ID)
	}

	conn.CreatedAt = original.CreatedAt
	conn.UpdatedAt = time.Now().UTC()

	s.connections[conn.ID] = conn
	return conn, nil
}

func (s *Store) GetConnection(_ context.Context, id string) (connection.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[id]
	if !ok {
		return connection.Connection{}, apperrors.NotFound("connection", id)
	}
	return conn, nil
}

func (s *Store) ListConsumerConnections(_ context.Context, facilityID string) ([]connection.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]connection.Connection, 0)
	for _, conn := range s.connections {
		if conn.ConsumerFacilityID == facilityID {
			result = append(result, conn)
		}
	}
	return result, nil
}

func (s *Store) ListProviderConnections(_ context.Context, facilityID string) ([]connection.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]connection.Connection, 0)
	for _, conn := range s.connections {
		if conn.ProviderFacilityID == facilityID {
			result = append(result, conn)
		}
	}
	return result, nil
}

func (s *Store) ListActiveProviderConnections(_ context.Context, providerFacilityID string) ([]connection.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]connection.Connection, 0)
	for _, conn := range s.connections {
		if conn.ProviderFacilityID == providerFacilityID && conn.Status == connection.StatusActive {
			result = append(result, conn)
		}
	}
	return result, nil
}

func (s *Store) GetActiveConnection(_ context.Context, consumerFacilityID string, typ connection.Type) (connection.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conn := range s.connections {
		if conn.ConsumerFacilityID == consumerFacilityID && conn.Type == typ && conn.Status == connection.StatusActive {
			return conn, nil
		}
	}
	return connection.Connection{}, apperrors.NotFound("active connection", consumerFacilityID+"/"+string(typ))
}

// SubscriptionStore implementation --------------------------------------------

func (s *Store) CreateSubscription(_ context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subscriptions {
		if existing.ConsumerFacilityID == sub.ConsumerFacilityID &&
			existing.Type == sub.Type &&
			(existing.Status == subscription.StatusPending || existing.Status == subscription.StatusActive ||
				existing.Status == subscription.StatusSuspended) {
			return subscription.Subscription{}, apperrors.Conflict(
				"facility %s already has a %s subscription", sub.ConsumerFacilityID, sub.Type)
		}
	}

	if sub.ID == "" {
		sub.ID = s.nextIDLocked()
	} else if _, exists := s.subscriptions[sub.ID]; exists {
		return subscription.Subscription{}, apperrors.Conflict("subscription %s already exists", sub.ID)
	}

	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	s.subscriptions[sub.ID] = sub
	return sub, nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.subscriptions[sub.ID]
	if !ok {
		return subscription.Subscription{}, apperrors.NotFound("subscription", sub.ID)
	}

	sub.CreatedAt = original.CreatedAt
	sub.UpdatedAt = time.Now().UTC()

	s.subscriptions[sub.ID] = sub
	return sub, nil
}

func (s *Store) GetSubscription(_ context.Context, id string) (subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return subscription.Subscription{}, apperrors.NotFound("subscription", id)
	}
	return sub, nil
}

func (s *Store) ListConsumerSubscriptions(_ context.Context, facilityID string) ([]subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.ConsumerFacilityID == facilityID {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (s *Store) ListProviderSubscriptions(_ context.Context, facilityID string) ([]subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.ProviderFacilityID == facilityID {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (s *Store) ListDueSubscriptions(_ context.Context, due time.Time) ([]subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.Status == subscription.StatusActive && !sub.NextBillingAt.IsZero() && !sub.NextBillingAt.After(due) {
			result = append(result, sub)
		}
	}
	return result, nil
}
