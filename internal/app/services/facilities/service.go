// Package facilities is the directory of buildings known to the sharing
// network. Facility lifecycle is owned by the wider platform; this service
// keeps the synced records consistent and validated.
package facilities

import (
	"context"

	"github.com/hexonomy/gridshare/internal/app/domain/facility"
	"github.com/hexonomy/gridshare/internal/app/storage"
	apperrors "github.com/hexonomy/gridshare/internal/errors"
	"github.com/hexonomy/gridshare/internal/hexmap"
	"github.com/hexonomy/gridshare/pkg/logger"
)

// Service validates and persists facility directory records.
type Service struct {
	store  storage.FacilityStore
	oracle hexmap.Oracle
	log    *logger.Logger
}

// New constructs a facility directory service.
func New(store storage.FacilityStore, oracle hexmap.Oracle, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("facilities")
	}
	return &Service{store: store, oracle: oracle, log: log}
}

// Register records a facility placed on the map.
func (s *Service) Register(ctx context.Context, f facility.Facility) (facility.Facility, error) {
	if !f.Type.Valid() {
		return facility.Facility{}, apperrors.Validation("unknown facility type %q", f.Type)
	}
	if f.TeamID == "" {
		return facility.Facility{}, apperrors.Validation("team id is required")
	}
	if f.Level < 1 {
		f.Level = 1
	}
	if !s.oracle.PathExists(f.Tile, f.Tile) {
		return facility.Facility{}, apperrors.Validation("tile (%d,%d) is off the map", f.Tile.Q, f.Tile.R)
	}

	created, err := s.store.CreateFacility(ctx, f)
	if err != nil {
		return facility.Facility{}, err
	}
	s.log.WithField("facility_id", created.ID).
		WithField("type", created.Type).
		WithField("team_id", created.TeamID).
		Info("facility registered")
	return created, nil
}

// SetLevel records an upgrade. Capacity and coverage radius are derived from
// level, so this is the only mutation the sharing network needs.
func (s *Service) SetLevel(ctx context.Context, actingTeamID, facilityID string, level int) (facility.Facility, error) {
	if level < 1 {
		return facility.Facility{}, apperrors.Validation("level must be at least 1")
	}

	f, err := s.store.GetFacility(ctx, facilityID)
	if err != nil {
		return facility.Facility{}, err
	}
	if f.TeamID != actingTeamID {
		return facility.Facility{}, apperrors.Unauthorized("team %s does not own facility %s", actingTeamID, f.ID)
	}

	f.Level = level
	updated, err := s.store.UpdateFacility(ctx, f)
	if err != nil {
		return facility.Facility{}, err
	}
	s.log.WithField("facility_id", updated.ID).
		WithField("level", level).
		Info("facility level updated")
	return updated, nil
}

// Get returns one facility by id.
func (s *Service) Get(ctx context.Context, facilityID string) (facility.Facility, error) {
	return s.store.GetFacility(ctx, facilityID)
}

// List returns all facilities, or one team's when teamID is non-empty.
func (s *Service) List(ctx context.Context, teamID string) ([]facility.Facility, error) {
	if teamID != "" {
		return s.store.ListTeamFacilities(ctx, teamID)
	}
	return s.store.ListFacilities(ctx)
}
