package subscriptions

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/hexonomy/gridshare/internal/app/metrics"
	"github.com/hexonomy/gridshare/pkg/logger"
)

// BillingRunner periodically rolls the billing date of due active
// subscriptions forward. It satisfies the system service contract so the
// lifecycle manager can start and stop it with the rest of the application.
type BillingRunner struct {
	svc      *Service
	schedule string
	log      *logger.Logger
	cron     *cron.Cron
}

// NewBillingRunner builds a runner on the given cron schedule, for example
// "@hourly" or "0 3 * * *".
func NewBillingRunner(svc *Service, schedule string, log *logger.Logger) *BillingRunner {
	if log == nil {
		log = logger.NewDefault("billing")
	}
	if schedule == "" {
		schedule = "@hourly"
	}
	return &BillingRunner{svc: svc, schedule: schedule, log: log}
}

// Name identifies the runner to the lifecycle manager.
func (r *BillingRunner) Name() string { return "subscription-billing" }

// Start schedules the billing pass and launches the cron loop.
func (r *BillingRunner) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.run(context.Background()) }); err != nil {
		return err
	}
	r.cron = c
	c.Start()
	r.log.WithField("schedule", r.schedule).Info("billing runner started")
	return nil
}

// Stop halts the cron loop and waits for an in-flight pass to finish.
func (r *BillingRunner) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	r.log.Info("billing runner stopped")
	return nil
}

func (r *BillingRunner) run(ctx context.Context) {
	rolled, err := r.svc.RollDueBilling(ctx)
	if err != nil {
		r.log.WithError(err).Error("billing pass failed")
		return
	}
	metrics.RecordBillingRun()
	if rolled > 0 {
		r.log.WithField("rolled", rolled).Info("billing pass completed")
	}
}
