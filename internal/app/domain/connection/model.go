package connection

import "time"

// Type identifies a point-to-point utility.
type Type string

const (
	TypeWater Type = "water"
	TypePower Type = "power"
)

// Types lists all utility connection types.
var Types = []Type{TypeWater, TypePower}

// Valid reports whether t is a known utility type.
func (t Type) Valid() bool {
	return t == TypeWater || t == TypePower
}

// RequestStatus is the lifecycle state of a connection request. All states
// except pending are terminal.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

// Status is the lifecycle state of a materialized connection.
type Status string

const (
	StatusActive       Status = "active"
	StatusDisconnected Status = "disconnected"
)

// Request is a consumer's proposal to draw a utility from a provider
// facility. Distance and operation points are frozen at creation; later map
// changes do not retroactively alter a request or its connection.
type Request struct {
	ID                 string        `json:"id"`
	Type               Type          `json:"type"`
	ConsumerFacilityID string        `json:"consumer_facility_id"`
	ProviderFacilityID string        `json:"provider_facility_id"`
	ConsumerTeamID     string        `json:"consumer_team_id"`
	ProviderTeamID     string        `json:"provider_team_id"`
	Distance           int           `json:"distance"`
	OperationPoints    int           `json:"operation_points"`
	ProposedUnitPrice  float64       `json:"proposed_unit_price,omitempty"`
	Status             RequestStatus `json:"status"`
	Reason             string        `json:"reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Connection is an accepted, capacity-backed utility link. It is retired by
// status change on disconnect, never deleted, so history remains auditable.
type Connection struct {
	ID                 string    `json:"id"`
	RequestID          string    `json:"request_id"`
	Type               Type      `json:"type"`
	ConsumerFacilityID string    `json:"consumer_facility_id"`
	ProviderFacilityID string    `json:"provider_facility_id"`
	ConsumerTeamID     string    `json:"consumer_team_id"`
	ProviderTeamID     string    `json:"provider_team_id"`
	Distance           int       `json:"distance"`
	OperationPoints    int       `json:"operation_points"`
	UnitPrice          float64   `json:"unit_price"`
	Status             Status    `json:"status"`
	Reason             string    `json:"reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// OperationPointCost is the capacity price of a link at the given hex
// distance: adjacent tiles cost one point, each further step adds one.
func OperationPointCost(distance int) int {
	return distance + 1
}
