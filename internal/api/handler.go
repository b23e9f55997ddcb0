// Package api exposes the aggregated repository over HTTP: provider queries,
// snapshot status, manual reloads and a server-sent event stream of
// snapshot changes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zjrosen/obr/internal/loader"
	"github.com/zjrosen/obr/internal/log"
	"github.com/zjrosen/obr/internal/metrics"
	"github.com/zjrosen/obr/internal/presentation"
	"github.com/zjrosen/obr/internal/pubsub"
	"github.com/zjrosen/obr/internal/repository"
	"github.com/zjrosen/obr/internal/resource"
)

const heartbeatInterval = 30 * time.Second

// Handler provides HTTP endpoints over a repository.
type Handler struct {
	repo       repository.Repository
	refreshers map[string]*loader.Refresher
	order      []string
	events     *pubsub.Broker[loader.SnapshotEvent]
	heartbeat  time.Duration
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	// Repository answers provider queries (required).
	Repository repository.Repository
	// Refreshers back the repository status and reload endpoints.
	Refreshers []*loader.Refresher
	// Events feeds GET /events. Nil disables the stream.
	Events *pubsub.Broker[loader.SnapshotEvent]
	// Heartbeat overrides the event stream keep-alive interval.
	Heartbeat time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		repo:       cfg.Repository,
		refreshers: make(map[string]*loader.Refresher, len(cfg.Refreshers)),
		events:     cfg.Events,
		heartbeat:  cfg.Heartbeat,
	}
	if h.heartbeat <= 0 {
		h.heartbeat = heartbeatInterval
	}
	for _, r := range cfg.Refreshers {
		h.refreshers[r.Name()] = r
		h.order = append(h.order, r.Name())
	}
	return h
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(instrument())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", h.Health)

	router.GET("/providers", h.FindProviders)
	router.POST("/providers", h.FindProvidersBatch)

	router.GET("/repositories", h.ListRepositories)
	router.POST("/repositories/:name/reload", h.Reload)

	router.GET("/events", h.StreamEvents)

	return router
}

// === Request/Response Types ===

// ProvidersRequest is the body of POST /providers.
type ProvidersRequest struct {
	Requirements []presentation.RequirementDTO `json:"requirements"`
}

// ProvidersResponse is the response body for provider queries.
type ProvidersResponse struct {
	Results []presentation.ProvidersDTO `json:"results"`
}

// RepositoryStatus is the published snapshot of one repository.
type RepositoryStatus struct {
	Name     string                    `json:"name"`
	Snapshot *presentation.SnapshotDTO `json:"snapshot,omitempty"`
}

// ListRepositoriesResponse is the response body for GET /repositories.
type ListRepositoriesResponse struct {
	Repositories []RepositoryStatus `json:"repositories"`
	Total        int                `json:"total"`
}

// ReloadResponse is the response body for a reload.
type ReloadResponse struct {
	Swapped  bool                      `json:"swapped"`
	Snapshot *presentation.SnapshotDTO `json:"snapshot,omitempty"`
}

// HealthResponse is the response body for the health endpoint.
type HealthResponse struct {
	Status  string   `json:"status"`
	Pending []string `json:"pending,omitempty"`
}

// ErrorResponse is the response body for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// === Handlers ===

// FindProviders answers a query given as URL parameters: namespace and
// filter for a single requirement, or repeated r=namespace:filter pairs.
// GET /providers
func (h *Handler) FindProviders(c *gin.Context) {
	var dtos []presentation.RequirementDTO
	if ns := c.Query("namespace"); ns != "" {
		dtos = append(dtos, presentation.RequirementDTO{Namespace: ns, Filter: c.Query("filter")})
	}
	for _, raw := range c.QueryArray("r") {
		dto, err := presentation.ParseRequirement(raw)
		if err != nil {
			h.writeError(c, http.StatusBadRequest, "invalid_requirement", err.Error(), raw)
			return
		}
		dtos = append(dtos, dto)
	}
	if len(dtos) == 0 {
		h.writeError(c, http.StatusBadRequest, "validation_error", "namespace or r is required", "")
		return
	}
	h.findProviders(c, dtos)
}

// FindProvidersBatch answers a query given as a JSON body.
// POST /providers
func (h *Handler) FindProvidersBatch(c *gin.Context) {
	var req ProvidersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	if len(req.Requirements) == 0 {
		h.writeError(c, http.StatusBadRequest, "validation_error", "requirements is required", "")
		return
	}
	h.findProviders(c, req.Requirements)
}

func (h *Handler) findProviders(c *gin.Context, dtos []presentation.RequirementDTO) {
	reqs := make([]*resource.Requirement, len(dtos))
	for i, dto := range dtos {
		req, err := dto.ToRequirement()
		if err != nil {
			h.writeError(c, http.StatusBadRequest, "invalid_requirement", err.Error(), dto.Namespace)
			return
		}
		reqs[i] = req
	}

	providers, err := h.repo.FindProviders(c.Request.Context(), reqs)
	if err != nil {
		var sqe *repository.SourceQueryError
		switch {
		case errors.As(err, &sqe):
			h.writeError(c, http.StatusBadGateway, "source_error", "Repository query failed", err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			h.writeError(c, http.StatusServiceUnavailable, "canceled", "Query canceled", err.Error())
		default:
			h.writeError(c, http.StatusInternalServerError, "internal_error", "Query failed", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, ProvidersResponse{Results: presentation.FromProviders(reqs, providers)})
}

// ListRepositories returns the published snapshot of every repository.
// GET /repositories
func (h *Handler) ListRepositories(c *gin.Context) {
	resp := ListRepositoriesResponse{Repositories: make([]RepositoryStatus, 0, len(h.order))}
	for _, name := range h.order {
		resp.Repositories = append(resp.Repositories, RepositoryStatus{
			Name:     name,
			Snapshot: presentation.FromSnapshot(h.refreshers[name].Current()),
		})
	}
	resp.Total = len(resp.Repositories)
	c.JSON(http.StatusOK, resp)
}

// Reload bypasses the snapshot cache and refreshes one repository.
// POST /repositories/:name/reload
func (h *Handler) Reload(c *gin.Context) {
	name := c.Param("name")
	r, ok := h.refreshers[name]
	if !ok {
		h.writeError(c, http.StatusNotFound, "not_found", fmt.Sprintf("repository %q not found", name), "")
		return
	}
	snap, swapped, err := r.Reload(c.Request.Context())
	if err != nil {
		h.writeError(c, http.StatusBadGateway, "reload_failed", "Reload failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, ReloadResponse{Swapped: swapped, Snapshot: presentation.FromSnapshot(snap)})
}

// Health reports ok once every repository has published a snapshot.
// GET /healthz
func (h *Handler) Health(c *gin.Context) {
	var pending []string
	for _, name := range h.order {
		if h.refreshers[name].Current() == nil {
			pending = append(pending, name)
		}
	}
	if len(pending) > 0 {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "starting", Pending: pending})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// StreamEvents streams snapshot events as server-sent events.
// GET /events
func (h *Handler) StreamEvents(c *gin.Context) {
	if h.events == nil {
		h.writeError(c, http.StatusNotFound, "events_disabled", "Event stream not enabled", "")
		return
	}

	ctx := c.Request.Context()
	events := h.events.Subscribe(ctx)

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	w.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
			w.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(eventToJSON(event))
			if err != nil {
				log.ErrorErr(log.CatHTTP, "failed to marshal event", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			w.Flush()
		}
	}
}

// === Helpers ===

func eventToJSON(event pubsub.Event[loader.SnapshotEvent]) map[string]any {
	out := map[string]any{
		"source":    event.Payload.Source,
		"timestamp": event.Timestamp,
	}
	if s := presentation.FromSnapshot(event.Payload.Snapshot); s != nil {
		out["snapshot"] = s
	}
	if p := event.Payload.Previous; p != nil {
		out["previous_id"] = p.ID.String()
	}
	if event.Payload.Err != nil {
		out["error"] = event.Payload.Err.Error()
	}
	return out
}

func (h *Handler) writeError(c *gin.Context, status int, code, message, details string) {
	c.JSON(status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

func instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		log.Debug(log.CatHTTP, "request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", status, "duration", time.Since(start))
	}
}
