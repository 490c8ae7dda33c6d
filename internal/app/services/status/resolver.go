// Package status derives the operational picture of consumer facilities from
// their active utility connections.
package status

import (
	"context"

	"github.com/hexonomy/gridshare/internal/app/domain/facility"
	"github.com/hexonomy/gridshare/internal/app/storage"
	apperrors "github.com/hexonomy/gridshare/internal/errors"
)

// Resolver computes infrastructure status on demand. It holds no state of
// its own; every call re-derives from the stores.
type Resolver struct {
	facilities  storage.FacilityStore
	connections storage.ConnectionStore
}

// NewResolver constructs a status resolver.
func NewResolver(facilities storage.FacilityStore, connections storage.ConnectionStore) *Resolver {
	return &Resolver{facilities: facilities, connections: connections}
}

// Resolve reports how well a facility is supplied. Facilities with no
// required utilities (providers, stations) are always fully operational.
func (r *Resolver) Resolve(ctx context.Context, facilityID string) (facility.InfrastructureStatus, error) {
	f, err := r.facilities.GetFacility(ctx, facilityID)
	if err != nil {
		return facility.InfrastructureStatus{}, err
	}

	required := f.Type.RequiredUtilities()
	status := facility.InfrastructureStatus{
		FacilityID: f.ID,
		Utilities:  make([]facility.UtilityStatus, 0, len(required)),
	}
	if len(required) == 0 {
		status.OperationalPercentage = 100
		status.OperationalStatus = facility.StatusFull
		return status, nil
	}

	connected := 0
	for _, utility := range required {
		us := facility.UtilityStatus{Type: utility}

		conn, err := r.connections.GetActiveConnection(ctx, f.ID, utility)
		switch {
		case err == nil:
			us.Connected = true
			us.Detail = &conn
			if prov, perr := r.facilities.GetFacility(ctx, conn.ProviderFacilityID); perr == nil {
				us.Provider = &prov
			}
			connected++
		case apperrors.IsKind(err, apperrors.KindNotFound):
			// utility simply not connected
		default:
			return facility.InfrastructureStatus{}, err
		}

		status.Utilities = append(status.Utilities, us)
	}

	status.OperationalPercentage = float64(connected) / float64(len(required)) * 100
	switch connected {
	case len(required):
		status.OperationalStatus = facility.StatusFull
	case 0:
		status.OperationalStatus = facility.StatusNonOperational
	default:
		status.OperationalStatus = facility.StatusPartial
	}
	return status, nil
}
