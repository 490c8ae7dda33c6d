// Package connections implements the registry for point-to-point utility
// links between consumer and provider facilities.
package connections

import (
	"context"

	"github.com/hexonomy/gridshare/internal/app/domain/connection"
	"github.com/hexonomy/gridshare/internal/app/domain/facility"
	"github.com/hexonomy/gridshare/internal/app/metrics"
	"github.com/hexonomy/gridshare/internal/app/services/capacity"
	"github.com/hexonomy/gridshare/internal/app/storage"
	apperrors "github.com/hexonomy/gridshare/internal/errors"
	"github.com/hexonomy/gridshare/internal/hexmap"
	"github.com/hexonomy/gridshare/pkg/logger"
)

// Service owns the connection request/connection lifecycle.
type Service struct {
	facilities storage.FacilityStore
	store      storage.ConnectionStore
	ledger     *capacity.Ledger
	oracle     hexmap.Oracle
	log        *logger.Logger
}

// New constructs a connection registry.
func New(facilities storage.FacilityStore, store storage.ConnectionStore, ledger *capacity.Ledger, oracle hexmap.Oracle, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("connections")
	}
	return &Service{
		facilities: facilities,
		store:      store,
		ledger:     ledger,
		oracle:     oracle,
		log:        log,
	}
}

// RequestView is a request with denormalized counterparty summaries.
type RequestView struct {
	connection.Request
	Consumer facility.Summary `json:"consumer"`
	Provider facility.Summary `json:"provider"`
}

// ConnectionView is a connection with denormalized counterparty summaries.
type ConnectionView struct {
	connection.Connection
	Consumer facility.Summary `json:"consumer"`
	Provider facility.Summary `json:"provider"`
}

// Request creates a pending connection request from a consumer facility to a
// provider facility. Distance and operation-point cost are computed once here
// and frozen; later map changes never retroactively invalidate the request or
// the connection made from it. No capacity is reserved until accept.
func (s *Service) Request(ctx context.Context, actingTeamID, consumerFacilityID, providerFacilityID string, typ connection.Type, proposedUnitPrice float64) (connection.Request, error) {
	if !typ.Valid() {
		return connection.Request{}, apperrors.Validation("unknown connection type %q", typ)
	}
	if proposedUnitPrice < 0 {
		return connection.Request{}, apperrors.Validation("proposed unit price cannot be negative")
	}

	consumer, err := s.facilities.GetFacility(ctx, consumerFacilityID)
	if err != nil {
		return connection.Request{}, err
	}
	provider, err := s.facilities.GetFacility(ctx, providerFacilityID)
	if err != nil {
		return connection.Request{}, err
	}

	if consumer.TeamID != actingTeamID {
		return connection.Request{}, apperrors.Unauthorized("team %s does not own facility %s", actingTeamID, consumer.ID)
	}
	if !requiresUtility(consumer.Type, typ) {
		return connection.Request{}, apperrors.Validation("facility type %s does not require %s", consumer.Type, typ)
	}
	if supplied, ok := provider.Type.Supplies(); !ok || supplied != typ {
		return connection.Request{}, apperrors.Validation("facility type %s does not supply %s", provider.Type, typ)
	}
	if consumer.TeamID == provider.TeamID {
		return connection.Request{}, apperrors.Validation("provider facility belongs to the requesting team")
	}
	if !s.oracle.PathExists(consumer.Tile, provider.Tile) {
		return connection.Request{}, apperrors.Unreachable("no valid path between facility %s and facility %s", consumer.ID, provider.ID)
	}

	if _, err := s.store.GetActiveConnection(ctx, consumer.ID, typ); err == nil {
		return connection.Request{}, apperrors.Conflict("facility %s already has an active %s connection", consumer.ID, typ)
	} else if !apperrors.IsKind(err, apperrors.KindNotFound) {
		return connection.Request{}, err
	}

	distance := s.oracle.Distance(consumer.Tile, provider.Tile)

	req := connection.Request{
		Type:               typ,
		ConsumerFacilityID: consumer.ID,
		ProviderFacilityID: provider.ID,
		ConsumerTeamID:     consumer.TeamID,
		ProviderTeamID:     provider.TeamID,
		Distance:           distance,
		OperationPoints:    connection.OperationPointCost(distance),
		ProposedUnitPrice:  proposedUnitPrice,
		Status:             connection.RequestPending,
	}

	// The store enforces the single-pending invariant serialized with
	// concurrent creates.
	req, err = s.store.CreateRequest(ctx, req)
	if err != nil {
		return connection.Request{}, err
	}

	metrics.RecordConnectionRequest(string(typ))
	s.log.WithField("request_id", req.ID).
		WithField("type", typ).
		WithField("consumer_facility_id", consumer.ID).
		WithField("provider_facility_id", provider.ID).
		WithField("operation_points", req.OperationPoints).
		Info("connection requested")
	return req, nil
}

// Accept transitions a pending request to an active connection, reserving
// the provider's operation points. On insufficient capacity the request
// remains pending.
func (s *Service) Accept(ctx context.Context, actingTeamID, requestID string, unitPrice float64) (connection.Connection, error) {
	if unitPrice < 0 {
		return connection.Connection{}, apperrors.Validation("unit price cannot be negative")
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return connection.Connection{}, err
	}
	if req.ProviderTeamID != actingTeamID {
		return connection.Connection{}, apperrors.Unauthorized("team %s does not own the provider facility", actingTeamID)
	}
	if req.Status != connection.RequestPending {
		return connection.Connection{}, apperrors.Conflict("request %s is %s, not pending", req.ID, req.Status)
	}

	unlock := s.ledger.LockProvider(req.ProviderFacilityID)
	defer unlock()

	reservationID, err := s.ledger.Reserve(ctx, req.ProviderFacilityID, req.OperationPoints)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindInsufficientCapacity) {
			metrics.RecordInsufficientCapacity()
			s.log.WithField("request_id", req.ID).
				WithField("provider_facility_id", req.ProviderFacilityID).
				Warn("accept rejected: insufficient operation points")
		}
		return connection.Connection{}, err
	}

	conn := connection.Connection{
		RequestID:          req.ID,
		Type:               req.Type,
		ConsumerFacilityID: req.ConsumerFacilityID,
		ProviderFacilityID: req.ProviderFacilityID,
		ConsumerTeamID:     req.ConsumerTeamID,
		ProviderTeamID:     req.ProviderTeamID,
		Distance:           req.Distance,
		OperationPoints:    req.OperationPoints,
		UnitPrice:          unitPrice,
		Status:             connection.StatusActive,
	}
	conn, err = s.store.CreateConnection(ctx, conn)
	if err != nil {
		s.ledger.Release(reservationID)
		return connection.Connection{}, err
	}
	s.ledger.Commit(reservationID)

	req.Status = connection.RequestAccepted
	if _, err := s.store.UpdateRequest(ctx, req); err != nil {
		// The connection is live; the stale pending request will surface as
		// a conflict on any later accept and can be cancelled by hand.
		s.log.WithError(err).WithField("request_id", req.ID).Warn("mark request accepted failed")
	}

	metrics.RecordConnectionTransition(string(req.Type), "accepted")
	metrics.AddActiveConnections(string(req.Type), 1)
	s.log.WithField("connection_id", conn.ID).
		WithField("request_id", req.ID).
		WithField("unit_price", unitPrice).
		Info("connection accepted")
	return conn, nil
}

// Reject terminally declines a pending request. Provider side only; no
// capacity was reserved, so none is released.
func (s *Service) Reject(ctx context.Context, actingTeamID, requestID, reason string) (connection.Request, error) {
	return s.closeRequest(ctx, actingTeamID, requestID, reason, connection.RequestRejected)
}

// Cancel terminally withdraws a pending request. Consumer side only.
func (s *Service) Cancel(ctx context.Context, actingTeamID, requestID, reason string) (connection.Request, error) {
	return s.closeRequest(ctx, actingTeamID, requestID, reason, connection.RequestCancelled)
}

func (s *Service) closeRequest(ctx context.Context, actingTeamID, requestID, reason string, to connection.RequestStatus) (connection.Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return connection.Request{}, err
	}

	switch to {
	case connection.RequestRejected:
		if req.ProviderTeamID != actingTeamID {
			return connection.Request{}, apperrors.Unauthorized("team %s does not own the provider facility", actingTeamID)
		}
	case connection.RequestCancelled:
		if req.ConsumerTeamID != actingTeamID {
			return connection.Request{}, apperrors.Unauthorized("team %s does not own the consumer facility", actingTeamID)
		}
	}
	if req.Status != connection.RequestPending {
		return connection.Request{}, apperrors.Conflict("request %s is %s, not pending", req.ID, req.Status)
	}

	req.Status = to
	req.Reason = reason
	req, err = s.store.UpdateRequest(ctx, req)
	if err != nil {
		return connection.Request{}, err
	}

	metrics.RecordConnectionTransition(string(req.Type), string(to))
	s.log.WithField("request_id", req.ID).
		WithField("status", to).
		WithField("reason", reason).
		Info("connection request closed")
	return req, nil
}

// Disconnect retires an active connection and frees the provider's points.
// Either side may disconnect.
func (s *Service) Disconnect(ctx context.Context, actingTeamID, connectionID, reason string) (connection.Connection, error) {
	conn, err := s.store.GetConnection(ctx, connectionID)
	if err != nil {
		return connection.Connection{}, err
	}
	if conn.ConsumerTeamID != actingTeamID && conn.ProviderTeamID != actingTeamID {
		return connection.Connection{}, apperrors.Unauthorized("team %s is not a party to connection %s", actingTeamID, conn.ID)
	}
	if conn.Status != connection.StatusActive {
		return connection.Connection{}, apperrors.Conflict("connection %s is already %s", conn.ID, conn.Status)
	}

	unlock := s.ledger.LockProvider(conn.ProviderFacilityID)
	defer unlock()

	conn.Status = connection.StatusDisconnected
	conn.Reason = reason
	conn, err = s.store.UpdateConnection(ctx, conn)
	if err != nil {
		return connection.Connection{}, err
	}

	metrics.RecordConnectionTransition(string(conn.Type), "disconnected")
	metrics.AddActiveConnections(string(conn.Type), -1)
	s.log.WithField("connection_id", conn.ID).
		WithField("reason", reason).
		Info("connection disconnected")
	return conn, nil
}

// ConsumerRequests lists requests originating from a facility.
func (s *Service) ConsumerRequests(ctx context.Context, facilityID string) ([]RequestView, error) {
	reqs, err := s.store.ListConsumerRequests(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	return s.requestViews(ctx, reqs)
}

// ProviderRequests lists requests addressed to a facility.
func (s *Service) ProviderRequests(ctx context.Context, facilityID string) ([]RequestView, error) {
	reqs, err := s.store.ListProviderRequests(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	return s.requestViews(ctx, reqs)
}

// ConsumerConnections lists connections drawing into a facility.
func (s *Service) ConsumerConnections(ctx context.Context, facilityID string) ([]ConnectionView, error) {
	conns, err := s.store.ListConsumerConnections(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	return s.connectionViews(ctx, conns)
}

// ProviderConnections lists connections sourced from a facility.
func (s *Service) ProviderConnections(ctx context.Context, facilityID string) ([]ConnectionView, error) {
	conns, err := s.store.ListProviderConnections(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	return s.connectionViews(ctx, conns)
}

func (s *Service) requestViews(ctx context.Context, reqs []connection.Request) ([]RequestView, error) {
	views := make([]RequestView, 0, len(reqs))
	for _, req := range reqs {
		view := RequestView{Request: req}
		if f, err := s.facilities.GetFacility(ctx, req.ConsumerFacilityID); err == nil {
			view.Consumer = facility.Summarize(f)
		}
		if f, err := s.facilities.GetFacility(ctx, req.ProviderFacilityID); err == nil {
			view.Provider = facility.Summarize(f)
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) connectionViews(ctx context.Context, conns []connection.Connection) ([]ConnectionView, error) {
	views := make([]ConnectionView, 0, len(conns))
	for _, conn := range conns {
		view := ConnectionView{Connection: conn}
		if f, err := s.facilities.GetFacility(ctx, conn.ConsumerFacilityID); err == nil {
			view.Consumer = facility.Summarize(f)
		}
		if f, err := s.facilities.GetFacility(ctx, conn.ProviderFacilityID); err == nil {
			view.Provider = facility.Summarize(f)
		}
		views = append(views, view)
	}
	return views, nil
}

func requiresUtility(t facility.Type, typ connection.Type) bool {
	for _, required := range t.RequiredUtilities() {
		if required == typ {
			return true
		}
	}
	return false
}
