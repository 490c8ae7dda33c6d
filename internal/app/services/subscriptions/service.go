// Package subscriptions implements the registry for area-coverage service
// links to base and fire stations.
package subscriptions

import (
	"context"
	"time"

	"github.com/hexonomy/gridshare/internal/app/domain/facility"
	"github.com/hexonomy/gridshare/internal/app/domain/subscription"
	"github.com/hexonomy/gridshare/internal/app/metrics"
	"github.com/hexonomy/gridshare/internal/app/storage"
	apperrors "github.com/hexonomy/gridshare/internal/errors"
	"github.com/hexonomy/gridshare/internal/hexmap"
	"github.com/hexonomy/gridshare/pkg/logger"
)

// billingPeriod is how far each accept or billing pass pushes the next
// billing date.
const billingPeriod = 365 * 24 * time.Hour

// Service owns the subscription lifecycle. Eligibility is coverage-radius
// based; unlike utility connections there is no capacity accounting.
type Service struct {
	facilities storage.FacilityStore
	store      storage.SubscriptionStore
	oracle     hexmap.Oracle
	log        *logger.Logger

	now func() time.Time
}

// New constructs a subscription registry.
func New(facilities storage.FacilityStore, store storage.SubscriptionStore, oracle hexmap.Oracle, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("subscriptions")
	}
	return &Service{
		facilities: facilities,
		store:      store,
		oracle:     oracle,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// View is a subscription with denormalized counterparty summaries.
type View struct {
	subscription.Subscription
	Consumer facility.Summary `json:"consumer"`
	Provider facility.Summary `json:"provider"`
}

// Subscribe creates a pending subscription from a consumer facility to a
// station. The station must cover the consumer's tile: distance must not
// exceed the station's coverage radius (level + 2).
func (s *Service) Subscribe(ctx context.Context, actingTeamID, consumerFacilityID, providerFacilityID string, proposedAnnualFee float64) (subscription.Subscription, error) {
	if proposedAnnualFee < 0 {
		return subscription.Subscription{}, apperrors.Validation("proposed annual fee cannot be negative")
	}

	consumer, err := s.facilities.GetFacility(ctx, consumerFacilityID)
	if err != nil {
		return subscription.Subscription{}, err
	}
	provider, err := s.facilities.GetFacility(ctx, providerFacilityID)
	if err != nil {
		return subscription.Subscription{}, err
	}

	if consumer.TeamID != actingTeamID {
		return subscription.Subscription{}, apperrors.Unauthorized("team %s does not own facility %s", actingTeamID, consumer.ID)
	}
	if !consumer.Type.IsConsumer() {
		return subscription.Subscription{}, apperrors.Validation("facility type %s cannot subscribe to coverage services", consumer.Type)
	}
	serviceType, ok := provider.Type.ProvidesService()
	if !ok {
		return subscription.Subscription{}, apperrors.Validation("facility type %s does not provide a coverage service", provider.Type)
	}
	if consumer.TeamID == provider.TeamID {
		return subscription.Subscription{}, apperrors.Validation("provider facility belongs to the subscribing team")
	}

	distance := s.oracle.Distance(consumer.Tile, provider.Tile)
	if radius := facility.CoverageRadius(provider.Level); distance > radius {
		return subscription.Subscription{}, apperrors.Unreachable(
			"facility %s is at distance %d, outside coverage radius %d of station %s",
			consumer.ID, distance, radius, provider.ID)
	}

	sub := subscription.Subscription{
		Type:               serviceType,
		ConsumerFacilityID: consumer.ID,
		ProviderFacilityID: provider.ID,
		ConsumerTeamID:     consumer.TeamID,
		ProviderTeamID:     provider.TeamID,
		Distance:           distance,
		ProposedAnnualFee:  proposedAnnualFee,
		Status:             subscription.StatusPending,
	}
	sub, err = s.store.CreateSubscription(ctx, sub)
	if err != nil {
		return subscription.Subscription{}, err
	}

	metrics.RecordSubscriptionTransition(string(sub.Type), "requested")
	s.log.WithField("subscription_id", sub.ID).
		WithField("type", sub.Type).
		WithField("consumer_facility_id", consumer.ID).
		WithField("provider_facility_id", provider.ID).
		Info("subscription requested")
	return sub, nil
}

// Accept activates a pending subscription and starts its billing clock.
func (s *Service) Accept(ctx context.Context, actingTeamID, subscriptionID string, annualFee float64) (subscription.Subscription, error) {
	if annualFee < 0 {
		return subscription.Subscription{}, apperrors.Validation("annual fee cannot be negative")
	}

	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if sub.ProviderTeamID != actingTeamID {
		return subscription.Subscription{}, apperrors.Unauthorized("team %s does not own the provider station", actingTeamID)
	}
	if sub.Status != subscription.StatusPending {
		return subscription.Subscription{}, apperrors.Conflict("subscription %s is %s, not pending", sub.ID, sub.Status)
	}

	sub.Status = subscription.StatusActive
	sub.AnnualFee = annualFee
	sub.NextBillingAt = s.now().Add(billingPeriod)
	sub, err = s.store.UpdateSubscription(ctx, sub)
	if err != nil {
		return subscription.Subscription{}, err
	}

	metrics.RecordSubscriptionTransition(string(sub.Type), "accepted")
	s.log.WithField("subscription_id", sub.ID).
		WithField("annual_fee", annualFee).
		Info("subscription accepted")
	return sub, nil
}

// Cancel closes a pending or active subscription. The same operation serves
// provider-side rejection of a pending subscription and consumer-side
// cancellation; the reason records intent for audit, not for state logic.
func (s *Service) Cancel(ctx context.Context, actingTeamID, subscriptionID, reason string) (subscription.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if sub.ConsumerTeamID != actingTeamID && sub.ProviderTeamID != actingTeamID {
		return subscription.Subscription{}, apperrors.Unauthorized("team %s is not a party to subscription %s", actingTeamID, sub.ID)
	}

	switch sub.Status {
	case subscription.StatusPending:
		sub.Status = subscription.StatusRejected
		if sub.ConsumerTeamID == actingTeamID {
			sub.Status = subscription.StatusCancelled
		}
	case subscription.StatusActive, subscription.StatusSuspended:
		sub.Status = subscription.StatusCancelled
	default:
		return subscription.Subscription{}, apperrors.Conflict("subscription %s is already %s", sub.ID, sub.Status)
	}

	sub.Reason = reason
	sub.NextBillingAt = time.Time{}
	sub, err = s.store.UpdateSubscription(ctx, sub)
	if err != nil {
		return subscription.Subscription{}, err
	}

	metrics.RecordSubscriptionTransition(string(sub.Type), string(sub.Status))
	s.log.WithField("subscription_id", sub.ID).
		WithField("status", sub.Status).
		WithField("reason", reason).
		Info("subscription closed")
	return sub, nil
}

// Suspend administratively pauses an active subscription. Billing skips
// suspended subscriptions until Resume.
func (s *Service) Suspend(ctx context.Context, actingTeamID, subscriptionID, reason string) (subscription.Subscription, error) {
	return s.setSuspended(ctx, actingTeamID, subscriptionID, reason, true)
}

// Resume reactivates a suspended subscription.
func (s *Service) Resume(ctx context.Context, actingTeamID, subscriptionID string) (subscription.Subscription, error) {
	return s.setSuspended(ctx, actingTeamID, subscriptionID, "", false)
}

func (s *Service) setSuspended(ctx context.Context, actingTeamID, subscriptionID, reason string, suspend bool) (subscription.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if sub.ProviderTeamID != actingTeamID {
		return subscription.Subscription{}, apperrors.Unauthorized("team %s does not own the provider station", actingTeamID)
	}

	if suspend {
		if sub.Status != subscription.StatusActive {
			return subscription.Subscription{}, apperrors.Conflict("subscription %s is %s, not active", sub.ID, sub.Status)
		}
		sub.Status = subscription.StatusSuspended
	} else {
		if sub.Status != subscription.StatusSuspended {
			return subscription.Subscription{}, apperrors.Conflict("subscription %s is %s, not suspended", sub.ID, sub.Status)
		}
		sub.Status = subscription.StatusActive
	}

	sub.Reason = reason
	sub, err = s.store.UpdateSubscription(ctx, sub)
	if err != nil {
		return subscription.Subscription{}, err
	}

	metrics.RecordSubscriptionTransition(string(sub.Type), string(sub.Status))
	s.log.WithField("subscription_id", sub.ID).
		WithField("status", sub.Status).
		Info("subscription suspension changed")
	return sub, nil
}

// ConsumerSubscriptions lists subscriptions held by a facility.
func (s *Service) ConsumerSubscriptions(ctx context.Context, facilityID string) ([]View, error) {
	subs, err := s.store.ListConsumerSubscriptions(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, subs)
}

// ProviderSubscriptions lists subscriptions served by a station.
func (s *Service) ProviderSubscriptions(ctx context.Context, facilityID string) ([]View, error) {
	subs, err := s.store.ListProviderSubscriptions(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, subs)
}

// RollDueBilling advances the billing date for active subscriptions whose
// date has passed. Returns the number of subscriptions rolled.
func (s *Service) RollDueBilling(ctx context.Context) (int, error) {
	due, err := s.store.ListDueSubscriptions(ctx, s.now())
	if err != nil {
		return 0, err
	}

	rolled := 0
	for _, sub := range due {
		sub.NextBillingAt = sub.NextBillingAt.Add(billingPeriod)
		if _, err := s.store.UpdateSubscription(ctx, sub); err != nil {
			s.log.WithError(err).WithField("subscription_id", sub.ID).Warn("roll billing date failed")
			continue
		}
		rolled++
	}
	return rolled, nil
}

func (s *Service) views(ctx context.Context, subs []subscription.Subscription) ([]View, error) {
	views := make([]View, 0, len(subs))
	for _, sub := range subs {
		view := View{Subscription: sub}
		if f, err := s.facilities.GetFacility(ctx, sub.ConsumerFacilityID); err == nil {
			view.Consumer = facility.Summarize(f)
		}
		if f, err := s.facilities.GetFacility(ctx, sub.ProviderFacilityID); err == nil {
			view.Provider = facility.Summarize(f)
		}
		views = append(views, view)
	}
	return views, nil
}
