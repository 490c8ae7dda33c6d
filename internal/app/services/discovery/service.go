// Package discovery answers "who could serve this facility" queries over the
// map.
package discovery

import (
	"context"
	"sort"

	"github.com/hexonomy/gridshare/internal/app/domain/connection"
	"github.com/hexonomy/gridshare/internal/app/domain/facility"
	"github.com/hexonomy/gridshare/internal/app/domain/subscription"
	"github.com/hexonomy/gridshare/internal/app/services/capacity"
	"github.com/hexonomy/gridshare/internal/app/storage"
	apperrors "github.com/hexonomy/gridshare/internal/errors"
	"github.com/hexonomy/gridshare/internal/hexmap"
)

// Service enumerates candidate providers for a consumer facility.
type Service struct {
	facilities storage.FacilityStore
	ledger     *capacity.Ledger
	oracle     hexmap.Oracle
}

// New constructs a discovery service.
func New(facilities storage.FacilityStore, ledger *capacity.Ledger, oracle hexmap.Oracle) *Service {
	return &Service{facilities: facilities, ledger: ledger, oracle: oracle}
}

// UtilityProvider is a candidate utility source annotated with the cost of
// connecting from the querying facility.
type UtilityProvider struct {
	Facility        facility.Summary `json:"facility"`
	UtilityType     connection.Type  `json:"utility_type"`
	Distance        int              `json:"distance"`
	OperationPoints int              `json:"operation_points"`
	Available       int              `json:"available_operation_points"`
	CanServe        bool             `json:"can_serve"`
}

// ServiceProvider is a candidate station annotated with coverage of the
// querying facility's tile.
type ServiceProvider struct {
	Facility       facility.Summary  `json:"facility"`
	ServiceType    subscription.Type `json:"service_type"`
	Distance       int               `json:"distance"`
	CoverageRadius int               `json:"coverage_radius"`
	InRange        bool              `json:"in_range"`
}

// UtilityProviders lists reachable water and power plants of other teams,
// best headroom first. Saturated providers are listed with CanServe false so
// callers can see the whole supply picture, not just viable options.
func (s *Service) UtilityProviders(ctx context.Context, consumerFacilityID string) ([]UtilityProvider, error) {
	consumer, err := s.facilities.GetFacility(ctx, consumerFacilityID)
	if err != nil {
		return nil, err
	}
	if !consumer.Type.IsConsumer() {
		return nil, apperrors.Validation("facility %s (%s) does not consume utilities", consumer.ID, consumer.Type)
	}

	all, err := s.facilities.ListFacilities(ctx)
	if err != nil {
		return nil, err
	}

	providers := make([]UtilityProvider, 0)
	for _, f := range all {
		utility, ok := f.Type.Supplies()
		if !ok || f.TeamID == consumer.TeamID {
			continue
		}
		if !s.oracle.PathExists(consumer.Tile, f.Tile) {
			continue
		}

		view, err := s.ledger.CapacityOf(ctx, f.ID)
		if err != nil {
			return nil, err
		}

		distance := s.oracle.Distance(consumer.Tile, f.Tile)
		cost := connection.OperationPointCost(distance)
		providers = append(providers, UtilityProvider{
			Facility:        facility.Summarize(f),
			UtilityType:     utility,
			Distance:        distance,
			OperationPoints: cost,
			Available:       view.AvailableOperationPoints,
			CanServe:        cost <= view.AvailableOperationPoints,
		})
	}

	sort.SliceStable(providers, func(i, j int) bool {
		if providers[i].Available != providers[j].Available {
			return providers[i].Available > providers[j].Available
		}
		return providers[i].Distance < providers[j].Distance
	})
	return providers, nil
}

// ServiceProviders lists base and fire stations of other teams, nearest
// first, with an in-range flag against each station's coverage radius.
func (s *Service) ServiceProviders(ctx context.Context, consumerFacilityID string) ([]ServiceProvider, error) {
	consumer, err := s.facilities.GetFacility(ctx, consumerFacilityID)
	if err != nil {
		return nil, err
	}
	if !consumer.Type.IsConsumer() {
		return nil, apperrors.Validation("facility %s (%s) does not consume coverage services", consumer.ID, consumer.Type)
	}

	all, err := s.facilities.ListFacilities(ctx)
	if err != nil {
		return nil, err
	}

	stations := make([]ServiceProvider, 0)
	for _, f := range all {
		serviceType, ok := f.Type.ProvidesService()
		if !ok || f.TeamID == consumer.TeamID {
			continue
		}

		distance := s.oracle.Distance(consumer.Tile, f.Tile)
		radius := facility.CoverageRadius(f.Level)
		stations = append(stations, ServiceProvider{
			Facility:       facility.Summarize(f),
			ServiceType:    serviceType,
			Distance:       distance,
			CoverageRadius: radius,
			InRange:        distance <= radius,
		})
	}

	sort.SliceStable(stations, func(i, j int) bool {
		return stations[i].Distance < stations[j].Distance
	})
	return stations, nil
}
