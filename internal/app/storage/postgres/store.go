package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hexonomy/gridshare/internal/app/domain/connection"
	"github.com/hexonomy/gridshare/internal/app/domain/facility"
	"github.com/hexonomy/gridshare/internal/app/domain/subscription"
	"github.com/hexonomy/gridshare/internal/app/storage"
	apperrors "github.com/hexonomy/gridshare/internal/errors"
)

// Store implements the storage interfaces backed by PostgreSQL. The
// single-pending and single-active invariants are enforced by partial unique
// indexes (see internal/platform/migrations); a violation surfaces as a
// conflict error.
type Store struct {
	db *sql.DB
}

var _ storage.FacilityStore = (*Store)(nil)
var _ storage.ConnectionStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const pqUniqueViolation = "23505"

func mapCreateErr(err error, conflictMsg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return apperrors.Conflict("%s", conflictMsg)
	}
	return err
}

// --- FacilityStore ----------------------------------------------------------

func (s *Store) CreateFacility(ctx context.Context, f facility.Facility) (facility.Facility, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grid_facilities (id, type, level, team_id, team_name, tile_q, tile_r, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, f.ID, f.Type, f.Level, f.TeamID, f.TeamName, f.Tile.Q, f.Tile.R, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return facility.Facility{}, mapCreateErr(err, "facility "+f.ID+" already exists")
	}
	return f, nil
}

func (s *Store) UpdateFacility(ctx context.Context, f facility.Facility) (facility.Facility, error) {
	existing, err := s.GetFacility(ctx, f.ID)
	if err != nil {
		return facility.Facility{}, err
	}

	f.CreatedAt = existing.CreatedAt
	f.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE grid_facilities
		SET type = $2, level = $3, team_id = $4, team_name = $5, tile_q = $6, tile_r = $7, updated_at = $8
		WHERE id = $1
	`, f.ID, f.Type, f.Level, f.TeamID, f.TeamName, f.Tile.Q, f.Tile.R, f.UpdatedAt)
	if err != nil {
		return facility.Facility{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return facility.Facility{}, apperrors.NotFound("facility", f.ID)
	}
	return f, nil
}

func (s *Store) GetFacility(ctx context.Context, id string) (facility.Facility, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, level, team_id, team_name, tile_q, tile_r, created_at, updated_at
		FROM grid_facilities
		WHERE id = $1
	`, id)

	f, err := scanFacility(row)
	if errors.Is(err, sql.ErrNoRows) {
		return facility.Facility{}, apperrors.NotFound("facility", id)
	}
	return f, err
}

func (s *Store) ListFacilities(ctx context.Context) ([]facility.Facility, error) {
	return s.queryFacilities(ctx, `
		SELECT id, type, level, team_id, team_name, tile_q, tile_r, created_at, updated_at
		FROM grid_facilities
		ORDER BY created_at
	`)
}

func (s *Store) ListTeamFacilities(ctx context.Context, teamID string) ([]facility.Facility, error) {
	return s.queryFacilities(ctx, `
		SELECT id, type, level, team_id, team_name, tile_q, tile_r, created_at, updated_at
		FROM grid_facilities
		WHERE team_id = $1
		ORDER BY created_at
	`, teamID)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFacility(row rowScanner) (facility.Facility, error) {
	var f facility.Facility
	err := row.Scan(&f.ID, &f.Type, &f.Level, &f.TeamID, &f.TeamName, &f.Tile.Q, &f.Tile.R, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

func (s *Store) queryFacilities(ctx context.Context, query string, args ...interface{}) ([]facility.Facility, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []facility.Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// --- ConnectionStore --------------------------------------------------------

func (s *Store) CreateRequest(ctx context.Context, req connection.Request) (connection.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grid_connection_requests
			(id, type, consumer_facility_id, provider_facility_id, consumer_team_id, provider_team_id,
			 distance, operation_points, proposed_unit_price, status, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, req.ID, req.Type, req.ConsumerFacilityID, req.ProviderFacilityID, req.ConsumerTeamID,
		req.ProviderTeamID, req.Distance, req.OperationPoints, req.ProposedUnitPrice,
		req.Status, req.Reason, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return connection.Request{}, mapCreateErr(err,
			"facility "+req.ConsumerFacilityID+" already has a pending "+string(req.Type)+" request")
	}
	return req, nil
}

func (s *Store) UpdateRequest(ctx context.Context, req connection.Request) (connection.Request, error) {
	req.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE grid_connection_requests
		SET proposed_unit_price = $2, status = $3, reason = $4, updated_at = $5
		WHERE id = $1
	`, req.ID, req.ProposedUnitPrice, req.Status, req.Reason, req.UpdatedAt)
	if err != nil {
		return connection.Request{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return connection.Request{}, apperrors.NotFound("connection request", req.ID)
	}
	return req, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (connection.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, consumer_facility_id, provider_facility_id, consumer_team_id, provider_team_id,
		       distance, operation_points, proposed_unit_price, status, reason, created_at, updated_at
		FROM grid_connection_requests
		WHERE id = $1
	`, id)

	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return connection.Request{}, apperrors.NotFound("connection request", id)
	}
	return req, err
}

func scanRequest(row rowScanner) (connection.Request, error) {
	var req connection.Request
	err := row.Scan(&req.ID, &req.Type, &req.ConsumerFacilityID, &req.ProviderFacilityID,
		&req.ConsumerTeamID, &req.ProviderTeamID, &req.Distance, &req.OperationPoints,
		&req.ProposedUnitPrice, &req.Status, &req.Reason, &req.CreatedAt, &req.UpdatedAt)
	return req, err
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...interface{}) ([]connection.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []connection.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

func (s *Store) ListConsumerRequests(ctx context.Context, facilityID string) ([]connection.Request, error) {
	return s.queryRequests(ctx, `
		SELECT id, type, consumer_facility_id, provider_facility_id, consumer_team_id, provider_team_id,
		       distance, operation_points, proposed_unit_price, status, reason, created_at, updated_at
		FROM grid_connection_requests
		WHERE consumer_facility_id = $1
		ORDER BY created_at
	`, facilityID)
}

func (s *Store) ListProviderRequests(ctx context.Context, facilityID string) ([]connection.Request, error) {
	return s.queryRequests(ctx, `
		SELECT id, type, consumer_facility_id, provider_facility_id, consumer_team_id, provider_team_id,
		       distance, operation_points, proposed_unit_price, status, reason, created_at, updated_at
		FROM grid_connection_requests
		WHERE provider_facility_id = $1
		ORDER BY created_at
	`, facilityID)
}

func (s *Store) CreateConnection(ctx context.Context, conn connection.Connection) (connection.Connection, error) {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grid_connections
			(id, request_id, type, consumer_facility_id, provider_facility_id, consumer_team_id,
			 provider_team_id, distance, operation_points, unit_price, status, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, conn.ID, conn.RequestID, conn.Type, conn.ConsumerFacilityID, conn.ProviderFacilityID,
		conn.ConsumerTeamID, conn.ProviderTeamID, conn.Distance, conn.OperationPoints,
		conn.UnitPrice, conn.Status, conn.Reason, conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		return connection.Connection{}, mapCreateErr(err,
			"facility "+conn.ConsumerFacilityID+" already has an active "+string(conn.Type)+" connection")
	}
	return conn, nil
}

func (s *Store) UpdateConnection(ctx context.Context, conn connection.Connection) (connection.Connection, error) {
	conn.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE grid_connections
		SET status = $2, reason = $3, updated_at = $4
		WHERE id = $1
	`, conn.ID, conn.Status, conn.Reason, conn.UpdatedAt)
	if err != nil {
		return connection.Connection{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return connection.Connection{}, apperrors.NotFound("connection", conn.ID)
	}
	return conn, nil
}

func (s *Store) GetConnection(ctx context.Context, id string) (connection.Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, type, consumer_facility_id, provider_facility_id, consumer_team_id,
		       provider_team_id, distance, operation_points, unit_price, status, reason, created_at, updated_at
		FROM grid_connections
		WHERE id = $1
	`, id)

	conn, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return connection.Connection{}, apperrors.NotFound("connection", id)
	}
	return conn, err
}

func scanConnection(row rowScanner) (connection.Connection, error) {
	var conn connection.Connection
	err := row.Scan(&conn.ID, &conn.RequestID, &conn.Type, &conn.ConsumerFacilityID,
		&conn.ProviderFacilityID, &conn.ConsumerTeamID, &conn.ProviderTeamID, &conn.Distance,
		&conn.OperationPoints, &conn.UnitPrice, &conn.Status, &conn.Reason,
		&conn.CreatedAt, &conn.UpdatedAt)
	return conn, err
}

func (s *Store) queryConnections(ctx context.Context, query string, args ...interface{}) ([]connection.Connection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []connection.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, conn)
	}
	return result, rows.Err()
}

func (s *Store) ListConsumerConnections(ctx context.Context, facilityID string) ([]connection.Connection, error) {
	return s.queryConnections(ctx, `
		SELECT id, request_id, type, consumer_facility_id, provider_facility_id, consumer_team_id,
		       provider_team_id, distance, operation_points, unit_price, status, reason, created_at, updated_at
		FROM grid_connections
		WHERE consumer_facility_id = $1
		ORDER BY created_at
	`, facilityID)
}

func (s *Store) ListProviderConnections(ctx context.Context, facilityID string) ([]connection.Connection, error) {
	return s.queryConnections(ctx, `
		SELECT id, request_id, type, consumer_facility_id, provider_facility_id, consumer_team_id,
		       provider_team_id, distance, operation_points, unit_price, status, reason, created_at, updated_at
		FROM grid_connections
		WHERE provider_facility_id = $1
		ORDER BY created_at
	`, facilityID)
}

func (s *Store) ListActiveProviderConnections(ctx context.Context, providerFacilityID string) ([]connection.Connection, error) {
	return s.queryConnections(ctx, `
		SELECT id, request_id, type, consumer_facility_id, provider_facility_id, consumer_team_id,
		       provider_team_id, distance, operation_points, unit_price, status, reason, created_at, updated_at
		FROM grid_connections
		WHERE provider_facility_id = $1 AND status = 'active'
		ORDER BY created_at
	`, providerFacilityID)
}

func (s *Store) GetActiveConnection(ctx context.Context, consumerFacilityID string, typ connection.Type) (connection.Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, type, consumer_facility_id, provider_facility_id, consumer_team_id,
		       provider_team_id, distance, operation_points, unit_price, status, reason, created_at, updated_at
		FROM grid_connections
		WHERE consumer_facility_id = $1 AND type = $2 AND status = 'active'
	`, consumerFacilityID, typ)

	conn, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return connection.Connection{}, apperrors.NotFound("active connection", consumerFacilityID+"/"+string(typ))
	}
	return conn, err
}

// --- SubscriptionStore ------------------------------------------------------

func (s *Store) CreateSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grid_subscriptions
			(id, type, consumer_facility_id, provider_facility_id, consumer_team_id, provider_team_id,
			 distance, proposed_annual_fee, annual_fee, status, reason, next_billing_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, sub.ID, sub.Type, sub.ConsumerFacilityID, sub.ProviderFacilityID, sub.ConsumerTeamID,
		sub.ProviderTeamID, sub.Distance, sub.ProposedAnnualFee, sub.AnnualFee, sub.Status,
		sub.Reason, nullableTime(sub.NextBillingAt), sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return subscription.Subscription{}, mapCreateErr(err,
			"facility "+sub.ConsumerFacilityID+" already has a "+string(sub.Type)+" subscription")
	}
	return sub, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	sub.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE grid_subscriptions
		SET annual_fee = $2, status = $3, reason = $4, next_billing_at = $5, updated_at = $6
		WHERE id = $1
	`, sub.ID, sub.AnnualFee, sub.Status, sub.Reason, nullableTime(sub.NextBillingAt), sub.UpdatedAt)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return subscription.Subscription{}, apperrors.NotFound("subscription", sub.ID)
	}
	return sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (subscription.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, consumer_facility_id, provider_facility_id, consumer_team_id, provider_team_id,
		       distance, proposed_annual_fee, annual_fee, status, reason, next_billing_at, created_at, updated_at
		FROM grid_subscriptions
		WHERE id = $1
	`, id)

	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.Subscription{}, apperrors.NotFound("subscription", id)
	}
	return sub, err
}

func scanSubscription(row rowScanner) (subscription.Subscription, error) {
	var (
		sub     subscription.Subscription
		billing sql.NullTime
	)
	err := row.Scan(&sub.ID, &sub.Type, &sub.ConsumerFacilityID, &sub.ProviderFacilityID,
		&sub.ConsumerTeamID, &sub.ProviderTeamID, &sub.Distance, &sub.ProposedAnnualFee,
		&sub.AnnualFee, &sub.Status, &sub.Reason, &billing, &sub.CreatedAt, &sub.UpdatedAt)
	if billing.Valid {
		sub.NextBillingAt = billing.Time
	}
	return sub, err
}

func (s *Store) querySubscriptions(ctx context.Context, query string, args ...interface{}) ([]subscription.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (s *Store) ListConsumerSubscriptions(ctx context.Context, facilityID string) ([]subscription.Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT id, type, consumer_facility_id, provider_facility_id, consumer_team_id, provider_team_id,
		       distance, proposed_annual_fee, annual_fee, status, reason, next_billing_at, created_at, updated_at
		FROM grid_subscriptions
		WHERE consumer_facility_id = $1
		ORDER BY created_at
	`, facilityID)
}

func (s *Store) ListProviderSubscriptions(ctx context.Context, facilityID string) ([]subscription.Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT id, type, consumer_facility_id, provider_facility_id, consumer_team_id, provider_team_id,
		       distance, proposed_annual_fee, annual_fee, status, reason, next_billing_at, created_at, updated_at
		FROM grid_subscriptions
		WHERE provider_facility_id = $1
		ORDER BY created_at
	`, facilityID)
}

func (s *Store) ListDueSubscriptions(ctx context.Context, due time.Time) ([]subscription.Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT id, type, consumer_facility_id, provider_facility_id, consumer_team_id, provider_team_id,
		       distance, proposed_annual_fee, annual_fee, status, reason, next_billing_at, created_at, updated_at
		FROM grid_subscriptions
		WHERE status = 'active' AND next_billing_at IS NOT NULL AND next_billing_at <= $1
		ORDER BY next_billing_at
	`, due)
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
