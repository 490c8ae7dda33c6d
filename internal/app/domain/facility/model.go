// Package facility models the buildings teams place on the hex map and the
// derived capacity/status views computed over them. Facility lifecycle
// (build, upgrade, demolish) is owned externally; records here are synced in
// through the directory service.
package facility

import (
	"time"

	"github.com/hexonomy/gridshare/internal/app/domain/connection"
	"github.com/hexonomy/gridshare/internal/app/domain/subscription"
	"github.com/hexonomy/gridshare/internal/hexmap"
)

// Type is the closed set of facility kinds.
type Type string

const (
	TypeMine      Type = "mine"
	TypeQuarry    Type = "quarry"
	TypeForest    Type = "forest"
	TypeFarm      Type = "farm"
	TypeRanch     Type = "ranch"
	TypeFishery   Type = "fishery"
	TypeFactory   Type = "factory"
	TypeMall      Type = "mall"
	TypeWarehouse Type = "warehouse"

	TypeWaterPlant  Type = "water_plant"
	TypePowerPlant  Type = "power_plant"
	TypeBaseStation Type = "base_station"
	TypeFireStation Type = "fire_station"
)

var consumerTypes = map[Type]bool{
	TypeMine: true, TypeQuarry: true, TypeForest: true, TypeFarm: true,
	TypeRanch: true, TypeFishery: true, TypeFactory: true, TypeMall: true,
	TypeWarehouse: true,
}

// Valid reports whether t is a known facility type.
func (t Type) Valid() bool {
	switch t {
	case TypeMine, TypeQuarry, TypeForest, TypeFarm, TypeRanch, TypeFishery,
		TypeFactory, TypeMall, TypeWarehouse,
		TypeWaterPlant, TypePowerPlant, TypeBaseStation, TypeFireStation:
		return true
	}
	return false
}

// IsConsumer reports whether facilities of this type require utilities.
func (t Type) IsConsumer() bool {
	return consumerTypes[t]
}

// Supplies returns the utility a facility of this type provides, if any.
func (t Type) Supplies() (connection.Type, bool) {
	switch t {
	case TypeWaterPlant:
		return connection.TypeWater, true
	case TypePowerPlant:
		return connection.TypePower, true
	}
	return "", false
}

// ProvidesService returns the coverage service a facility of this type
// provides, if any.
func (t Type) ProvidesService() (subscription.Type, bool) {
	switch t {
	case TypeBaseStation:
		return subscription.TypeBaseStation, true
	case TypeFireStation:
		return subscription.TypeFireStation, true
	}
	return "", false
}

// RequiredUtilities returns the utilities facilities of this type must have
// connected to be fully operational.
func (t Type) RequiredUtilities() []connection.Type {
	if t.IsConsumer() {
		return []connection.Type{connection.TypeWater, connection.TypePower}
	}
	return nil
}

// Facility is a team-owned building at a tile coordinate.
type Facility struct {
	ID        string           `json:"id"`
	Type      Type             `json:"type"`
	Level     int              `json:"level"`
	TeamID    string           `json:"team_id"`
	TeamName  string           `json:"team_name"`
	Tile      hexmap.TileCoord `json:"tile"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Summary is the denormalized facility view embedded in list responses so
// callers can render counterparties without extra lookups.
type Summary struct {
	ID       string           `json:"id"`
	Type     Type             `json:"type"`
	Level    int              `json:"level"`
	TeamID   string           `json:"team_id"`
	TeamName string           `json:"team_name"`
	Tile     hexmap.TileCoord `json:"tile"`
}

// Summarize projects a facility onto its list-view summary.
func Summarize(f Facility) Summary {
	return Summary{
		ID:       f.ID,
		Type:     f.Type,
		Level:    f.Level,
		TeamID:   f.TeamID,
		TeamName: f.TeamName,
		Tile:     f.Tile,
	}
}

// operationPointsPerLevel sets how fast provider capacity grows with level.
const operationPointsPerLevel = 5

// TotalOperationPoints is the shared capacity of a provider at the given
// level. Monotonic in level; recomputed whenever level changes.
func TotalOperationPoints(level int) int {
	if level < 1 {
		level = 1
	}
	return level * operationPointsPerLevel
}

// CoverageRadius is the maximum serving distance of a base/fire station at
// the given level.
func CoverageRadius(level int) int {
	if level < 1 {
		level = 1
	}
	return level + 2
}

// ProviderCapacity is the derived operation-point ledger view for a provider
// facility. Reserved covers in-flight accepts that have not yet been
// persisted, so Available never overcommits under concurrency.
type ProviderCapacity struct {
	FacilityID               string `json:"facility_id"`
	TotalOperationPoints     int    `json:"total_operation_points"`
	UsedOperationPoints      int    `json:"used_operation_points"`
	ReservedOperationPoints  int    `json:"reserved_operation_points"`
	AvailableOperationPoints int    `json:"available_operation_points"`
	MaxAdditionalConnections int    `json:"max_additional_connections"`
}

// OperationalStatus classifies how well a consumer facility is supplied.
type OperationalStatus string

const (
	StatusFull           OperationalStatus = "full"
	StatusPartial        OperationalStatus = "partial"
	StatusNonOperational OperationalStatus = "non_operational"
)

// UtilityStatus describes one required utility of a consumer facility.
type UtilityStatus struct {
	Type      connection.Type        `json:"type"`
	Connected bool                   `json:"connected"`
	Provider  *Facility              `json:"provider,omitempty"`
	Detail    *connection.Connection `json:"connection,omitempty"`
}

// InfrastructureStatus is the derived supply picture of a consumer facility.
type InfrastructureStatus struct {
	FacilityID            string            `json:"facility_id"`
	Utilities             []UtilityStatus   `json:"utilities"`
	OperationalPercentage float64           `json:"operational_percentage"`
	OperationalStatus     OperationalStatus `json:"operational_status"`
}
