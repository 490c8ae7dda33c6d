package subscription

import "time"

// Type identifies an area-coverage service.
type Type string

const (
	TypeBaseStation Type = "base_station"
	TypeFireStation Type = "fire_station"
)

// Types lists all coverage service types.
var Types = []Type{TypeBaseStation, TypeFireStation}

// Valid reports whether t is a known service type.
func (t Type) Valid() bool {
	return t == TypeBaseStation || t == TypeFireStation
}

// Status is the lifecycle state of a subscription. Suspended is an
// administrative, non-billing state reachable only from active.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusSuspended Status = "suspended"
)

// Subscription links a consumer facility to a base/fire station within the
// station's coverage radius. Coverage is eligibility-checked at subscribe
// time, not capacity-accounted.
type Subscription struct {
	ID                 string    `json:"id"`
	Type               Type      `json:"type"`
	ConsumerFacilityID string    `json:"consumer_facility_id"`
	ProviderFacilityID string    `json:"provider_facility_id"`
	ConsumerTeamID     string    `json:"consumer_team_id"`
	ProviderTeamID     string    `json:"provider_team_id"`
	Distance           int       `json:"distance"`
	ProposedAnnualFee  float64   `json:"proposed_annual_fee,omitempty"`
	AnnualFee          float64   `json:"annual_fee"`
	Status             Status    `json:"status"`
	Reason             string    `json:"reason,omitempty"`
	NextBillingAt      time.Time `json:"next_billing_at,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
