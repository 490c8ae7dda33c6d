package storage

import (
	"context"
	"time"

	"github.com/hexonomy/gridshare/internal/app/domain/connection"
	"github.com/hexonomy/gridshare/internal/app/domain/facility"
	"github.com/hexonomy/gridshare/internal/app/domain/subscription"
)

// FacilityStore persists the synced facility directory.
type FacilityStore interface {
	CreateFacility(ctx context.Context, f facility.Facility) (facility.Facility, error)
	UpdateFacility(ctx context.Context, f facility.Facility) (facility.Facility, error)
	GetFacility(ctx context.Context, id string) (facility.Facility, error)
	ListFacilities(ctx context.Context) ([]facility.Facility, error)
	ListTeamFacilities(ctx context.Context, teamID string) ([]facility.Facility, error)
}

// ConnectionStore persists connection requests and materialized connections.
//
// CreateRequest must reject, serialized with concurrent creates, a second
// pending request for the same (consumer facility, type); CreateConnection
// must do the same for a second active connection. Both return a conflict
// error from the internal errors package in that case.
type ConnectionStore interface {
	CreateRequest(ctx context.Context, req connection.Request) (connection.Request, error)
	UpdateRequest(ctx context.Context, req connection.Request) (connection.Request, error)
	GetRequest(ctx context.Context, id string) (connection.Request, error)
	ListConsumerRequests(ctx context.Context, facilityID string) ([]connection.Request, error)
	ListProviderRequests(ctx context.Context, facilityID string) ([]connection.Request, error)

	CreateConnection(ctx context.Context, conn connection.Connection) (connection.Connection, error)
	UpdateConnection(ctx context.Context, conn connection.Connection) (connection.Connection, error)
	GetConnection(ctx context.Context, id string) (connection.Connection, error)
	ListConsumerConnections(ctx context.Context, facilityID string) ([]connection.Connection, error)
	ListProviderConnections(ctx context.Context, facilityID string) ([]connection.Connection, error)
	ListActiveProviderConnections(ctx context.Context, providerFacilityID string) ([]connection.Connection, error)
	GetActiveConnection(ctx context.Context, consumerFacilityID string, typ connection.Type) (connection.Connection, error)
}

// SubscriptionStore persists coverage service subscriptions.
//
// CreateSubscription must reject a second pending or active subscription for
// the same (consumer facility, service type), serialized with concurrent
// creates.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error)
	GetSubscription(ctx context.Context, id string) (subscription.Subscription, error)
	ListConsumerSubscriptions(ctx context.Context, facilityID string) ([]subscription.Subscription, error)
	ListProviderSubscriptions(ctx context.Context, facilityID string) ([]subscription.Subscription, error)
	ListDueSubscriptions(ctx context.Context, due time.Time) ([]subscription.Subscription, error)
}
