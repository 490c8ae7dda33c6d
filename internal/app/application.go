// Package app assembles the sharing network: stores, services, background
// runners and the HTTP handler.
package app

import (
	"context"

	"github.com/gorilla/mux"

	"github.com/hexonomy/gridshare/internal/app/httpapi"
	"github.com/hexonomy/gridshare/internal/app/services/capacity"
	"github.com/hexonomy/gridshare/internal/app/services/connections"
	"github.com/hexonomy/gridshare/internal/app/services/discovery"
	"github.com/hexonomy/gridshare/internal/app/services/facilities"
	"github.com/hexonomy/gridshare/internal/app/services/status"
	"github.com/hexonomy/gridshare/internal/app/services/subscriptions"
	"github.com/hexonomy/gridshare/internal/app/storage"
	"github.com/hexonomy/gridshare/internal/app/storage/memory"
	"github.com/hexonomy/gridshare/internal/app/system"
	"github.com/hexonomy/gridshare/internal/config"
	"github.com/hexonomy/gridshare/internal/hexmap"
	"github.com/hexonomy/gridshare/pkg/logger"
)

// Stores groups the persistence interfaces the application builds on. Nil
// fields default to a shared in-memory store.
type Stores struct {
	Facilities    storage.FacilityStore
	Connections   storage.ConnectionStore
	Subscriptions storage.SubscriptionStore
}

// Application wires the services together and owns their lifecycle.
type Application struct {
	Facilities    *facilities.Service
	Connections   *connections.Service
	Subscriptions *subscriptions.Service
	Discovery     *discovery.Service
	Status        *status.Resolver
	Ledger        *capacity.Ledger

	manager *system.Manager
	log     *logger.Logger
}

// New assembles an application from configuration and stores.
func New(cfg *config.Config, stores Stores, log *logger.Logger) *Application {
	if log == nil {
		log = logger.New(cfg.Logging)
	}

	if stores.Facilities == nil || stores.Connections == nil || stores.Subscriptions == nil {
		mem := memory.New()
		if stores.Facilities == nil {
			stores.Facilities = mem
		}
		if stores.Connections == nil {
			stores.Connections = mem
		}
		if stores.Subscriptions == nil {
			stores.Subscriptions = mem
		}
	}

	oracle := hexmap.NewGrid(cfg.Map.Radius)
	ledger := capacity.NewLedger(stores.Facilities, stores.Connections, log.WithField("component", "capacity"))

	facilitySvc := facilities.New(stores.Facilities, oracle, log.WithField("component", "facilities"))
	connectionSvc := connections.New(stores.Facilities, stores.Connections, ledger, oracle, log.WithField("component", "connections"))
	subscriptionSvc := subscriptions.New(stores.Facilities, stores.Subscriptions, oracle, log.WithField("component", "subscriptions"))
	discoverySvc := discovery.New(stores.Facilities, ledger, oracle)
	statusResolver := status.NewResolver(stores.Facilities, stores.Connections)

	manager := system.NewManager(log.WithField("component", "system"))
	manager.Register(subscriptions.NewBillingRunner(subscriptionSvc, cfg.Billing.Schedule, log.WithField("component", "billing")))

	return &Application{
		Facilities:    facilitySvc,
		Connections:   connectionSvc,
		Subscriptions: subscriptionSvc,
		Discovery:     discoverySvc,
		Status:        statusResolver,
		Ledger:        ledger,
		manager:       manager,
		log:           log,
	}
}

// Router builds the HTTP router with all API routes mounted.
func (a *Application) Router() *mux.Router {
	r := mux.NewRouter()
	handler := httpapi.New(a.Facilities, a.Connections, a.Subscriptions, a.Discovery, a.Status, a.Ledger, a.log.WithField("component", "httpapi"))
	handler.Register(r)
	return r
}

// Start launches the background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts the background services down.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
