// Package httpapi exposes the sharing network over HTTP. Handlers decode
// JSON, resolve the acting team from the request context, call the owning
// service, and render either the result or a typed error envelope.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hexonomy/gridshare/internal/app/domain/connection"
	"github.com/hexonomy/gridshare/internal/app/domain/facility"
	"github.com/hexonomy/gridshare/internal/app/metrics"
	"github.com/hexonomy/gridshare/internal/app/services/capacity"
	"github.com/hexonomy/gridshare/internal/app/services/connections"
	"github.com/hexonomy/gridshare/internal/app/services/discovery"
	"github.com/hexonomy/gridshare/internal/app/services/facilities"
	"github.com/hexonomy/gridshare/internal/app/services/status"
	"github.com/hexonomy/gridshare/internal/app/services/subscriptions"
	apperrors "github.com/hexonomy/gridshare/internal/errors"
	"github.com/hexonomy/gridshare/internal/hexmap"
	"github.com/hexonomy/gridshare/internal/httputil"
	"github.com/hexonomy/gridshare/internal/middleware"
	"github.com/hexonomy/gridshare/pkg/logger"
)

// Handler routes HTTP traffic to the registry services.
type Handler struct {
	facilities    *facilities.Service
	connections   *connections.Service
	subscriptions *subscriptions.Service
	discovery     *discovery.Service
	status        *status.Resolver
	ledger        *capacity.Ledger
	log           *logger.Logger
}

// New constructs the API handler.
func New(
	facilitySvc *facilities.Service,
	connectionSvc *connections.Service,
	subscriptionSvc *subscriptions.Service,
	discoverySvc *discovery.Service,
	statusResolver *status.Resolver,
	ledger *capacity.Ledger,
	log *logger.Logger,
) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Handler{
		facilities:    facilitySvc,
		connections:   connectionSvc,
		subscriptions: subscriptionSvc,
		discovery:     discoverySvc,
		status:        statusResolver,
		ledger:        ledger,
		log:           log,
	}
}

// Register mounts all routes on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/facilities", h.handleRegisterFacility).Methods(http.MethodPost)
	r.HandleFunc("/facilities", h.handleListFacilities).Methods(http.MethodGet)
	r.HandleFunc("/facilities/{id}", h.handleGetFacility).Methods(http.MethodGet)
	r.HandleFunc("/facilities/{id}/level", h.handleSetFacilityLevel).Methods(http.MethodPut)
	r.HandleFunc("/facilities/{id}/status", h.handleFacilityStatus).Methods(http.MethodGet)
	r.HandleFunc("/facilities/{id}/capacity", h.handleFacilityCapacity).Methods(http.MethodGet)
	r.HandleFunc("/facilities/{id}/discovery/connections", h.handleDiscoverUtilities).Methods(http.MethodGet)
	r.HandleFunc("/facilities/{id}/discovery/services", h.handleDiscoverServices).Methods(http.MethodGet)

	r.HandleFunc("/connections/requests", h.handleCreateRequest).Methods(http.MethodPost)
	r.HandleFunc("/connections/requests", h.handleListRequests).Methods(http.MethodGet)
	r.HandleFunc("/connections/requests/{id}/accept", h.handleAcceptRequest).Methods(http.MethodPost)
	r.HandleFunc("/connections/requests/{id}/reject", h.handleRejectRequest).Methods(http.MethodPost)
	r.HandleFunc("/connections/requests/{id}/cancel", h.handleCancelRequest).Methods(http.MethodPost)
	r.HandleFunc("/connections", h.handleListConnections).Methods(http.MethodGet)
	r.HandleFunc("/connections/{id}/disconnect", h.handleDisconnect).Methods(http.MethodPost)

	r.HandleFunc("/subscriptions", h.handleSubscribe).Methods(http.MethodPost)
	r.HandleFunc("/subscriptions", h.handleListSubscriptions).Methods(http.MethodGet)
	r.HandleFunc("/subscriptions/{id}/accept", h.handleAcceptSubscription).Methods(http.MethodPost)
	r.HandleFunc("/subscriptions/{id}/cancel", h.handleCancelSubscription).Methods(http.MethodPost)
	r.HandleFunc("/subscriptions/{id}/suspend", h.handleSuspendSubscription).Methods(http.MethodPost)
	r.HandleFunc("/subscriptions/{id}/resume", h.handleResumeSubscription).Methods(http.MethodPost)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- facilities ----

type registerFacilityRequest struct {
	ID       string           `json:"id"`
	Type     facility.Type    `json:"type"`
	Level    int              `json:"level"`
	TeamID   string           `json:"team_id"`
	TeamName string           `json:"team_name"`
	Tile     hexmap.TileCoord `json:"tile"`
}

func (h *Handler) handleRegisterFacility(w http.ResponseWriter, r *http.Request) {
	var req registerFacilityRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	teamID := req.TeamID
	if acting := middleware.TeamID(r.Context()); acting != "" {
		teamID = acting
	}

	created, err := h.facilities.Register(r.Context(), facility.Facility{
		ID:       req.ID,
		Type:     req.Type,
		Level:    req.Level,
		TeamID:   teamID,
		TeamName: req.TeamName,
		Tile:     req.Tile,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListFacilities(w http.ResponseWriter, r *http.Request) {
	list, err := h.facilities.List(r.Context(), r.URL.Query().Get("team"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetFacility(w http.ResponseWriter, r *http.Request) {
	f, err := h.facilities.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, f)
}

type setLevelRequest struct {
	Level int `json:"level"`
}

func (h *Handler) handleSetFacilityLevel(w http.ResponseWriter, r *http.Request) {
	var req setLevelRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	f, err := h.facilities.SetLevel(r.Context(), middleware.TeamID(r.Context()), mux.Vars(r)["id"], req.Level)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, f)
}

func (h *Handler) handleFacilityStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.status.Resolve(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) handleFacilityCapacity(w http.ResponseWriter, r *http.Request) {
	view, err := h.ledger.CapacityOf(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleDiscoverUtilities(w http.ResponseWriter, r *http.Request) {
	providers, err := h.discovery.UtilityProviders(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, providers)
}

func (h *Handler) handleDiscoverServices(w http.ResponseWriter, r *http.Request) {
	stations, err := h.discovery.ServiceProviders(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stations)
}

// ---- connection lifecycle ----

type createRequestRequest struct {
	Type               connection.Type `json:"type"`
	ConsumerFacilityID string          `json:"consumer_facility_id"`
	ProviderFacilityID string          `json:"provider_facility_id"`
	ProposedUnitPrice  float64         `json:"proposed_unit_price"`
}

func (h *Handler) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	created, err := h.connections.Request(r.Context(), middleware.TeamID(r.Context()),
		req.ConsumerFacilityID, req.ProviderFacilityID, req.Type, req.ProposedUnitPrice)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	facilityID, role, err := facilityRole(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var views []connections.RequestView
	if role == "provider" {
		views, err = h.connections.ProviderRequests(r.Context(), facilityID)
	} else {
		views, err = h.connections.ConsumerRequests(r.Context(), facilityID)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

type acceptRequestRequest struct {
	UnitPrice float64 `json:"unit_price"`
}

func (h *Handler) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	var req acceptRequestRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	conn, err := h.connections.Accept(r.Context(), middleware.TeamID(r.Context()), mux.Vars(r)["id"], req.UnitPrice)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, conn)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	updated, err := h.connections.Reject(r.Context(), middleware.TeamID(r.Context()), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	updated, err := h.connections.Cancel(r.Context(), middleware.TeamID(r.Context()), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	facilityID, role, err := facilityRole(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var views []connections.ConnectionView
	if role == "provider" {
		views, err = h.connections.ProviderConnections(r.Context(), facilityID)
	} else {
		views, err = h.connections.ConsumerConnections(r.Context(), facilityID)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	conn, err := h.connections.Disconnect(r.Context(), middleware.TeamID(r.Context()), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, conn)
}

// ---- subscriptions ----

type subscribeRequest struct {
	ConsumerFacilityID string  `json:"consumer_facility_id"`
	ProviderFacilityID string  `json:"provider_facility_id"`
	ProposedAnnualFee  float64 `json:"proposed_annual_fee"`
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	sub, err := h.subscriptions.Subscribe(r.Context(), middleware.TeamID(r.Context()),
		req.ConsumerFacilityID, req.ProviderFacilityID, req.ProposedAnnualFee)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sub)
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	facilityID, role, err := facilityRole(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var views []subscriptions.View
	if role == "provider" {
		views, err = h.subscriptions.ProviderSubscriptions(r.Context(), facilityID)
	} else {
		views, err = h.subscriptions.ConsumerSubscriptions(r.Context(), facilityID)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

type acceptSubscriptionRequest struct {
	AnnualFee float64 `json:"annual_fee"`
}

func (h *Handler) handleAcceptSubscription(w http.ResponseWriter, r *http.Request) {
	var req acceptSubscriptionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	sub, err := h.subscriptions.Accept(r.Context(), middleware.TeamID(r.Context()), mux.Vars(r)["id"], req.AnnualFee)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	sub, err := h.subscriptions.Cancel(r.Context(), middleware.TeamID(r.Context()), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleSuspendSubscription(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	sub, err := h.subscriptions.Suspend(r.Context(), middleware.TeamID(r.Context()), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleResumeSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.Resume(r.Context(), middleware.TeamID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

// facilityRole extracts the facility and role query parameters shared by the
// list endpoints. Role defaults to consumer.
func facilityRole(r *http.Request) (string, string, error) {
	facilityID := r.URL.Query().Get("facility")
	if facilityID == "" {
		return "", "", apperrors.Validation("facility query parameter is required")
	}
	role := r.URL.Query().Get("role")
	switch role {
	case "", "consumer":
		role = "consumer"
	case "provider":
	default:
		return "", "", apperrors.Validation("role must be consumer or provider")
	}
	return facilityID, role, nil
}
