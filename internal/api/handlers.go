// Package api implements the HTTP surface of the control plane.
//
// All endpoints are versioned under /api/v1/products. Handlers are pure
// translation: they parse the request, delegate to the session manager,
// deployment coordinator, health probe, or search service, and map error
// kinds to HTTP status codes. No deployment state lives here.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bigdegenenergy/searchops/internal/alias"
	"github.com/bigdegenenergy/searchops/internal/deploy"
	"github.com/bigdegenenergy/searchops/internal/elastic"
	"github.com/bigdegenenergy/searchops/internal/health"
	"github.com/bigdegenenergy/searchops/internal/index"
	"github.com/bigdegenenergy/searchops/internal/ratelimit"
	"github.com/bigdegenenergy/searchops/internal/search"
	"github.com/bigdegenenergy/searchops/internal/session"
	"github.com/bigdegenenergy/searchops/pkg/models"
)

// Handler holds references to all collaborators and provides HTTP handler
// methods.
type Handler struct {
	gateway     elastic.Gateway
	registry    *alias.Registry
	lifecycle   *index.Lifecycle
	probe       *health.Probe
	coordinator *deploy.Coordinator
	sessions    *session.Manager
	searcher    *search.Service
	limiter     *ratelimit.Limiter
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	gateway elastic.Gateway,
	registry *alias.Registry,
	lifecycle *index.Lifecycle,
	probe *health.Probe,
	coordinator *deploy.Coordinator,
	sessions *session.Manager,
	searcher *search.Service,
	limiter *ratelimit.Limiter,
) *Handler {
	return &Handler{
		gateway:     gateway,
		registry:    registry,
		lifecycle:   lifecycle,
		probe:       probe,
		coordinator: coordinator,
		sessions:    sessions,
		searcher:    searcher,
		limiter:     limiter,
	}
}

// RegisterRoutes sets up all API routes on the given Gin engine.
//
// The public surface mixes static segments ("batch", "search") with
// parameter segments (the alias) at the same path position, which gin's
// radix tree cannot hold. The group is therefore registered as generic
// segment routes and dispatched on the first segment.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.ServiceHealth)

	products := r.Group("/api/v1/products")
	{
		products.GET("/:seg1", h.getOne)
		products.GET("/:seg1/:seg2", h.getTwo)
		products.GET("/:seg1/:seg2/:seg3", h.getThree)
		products.POST("/:seg1/:seg2", h.postTwo)
		products.POST("/:seg1/:seg2/:seg3", h.postThree)
	}
}

// getOne handles GET /:productId.
func (h *Handler) getOne(c *gin.Context) {
	h.GetProduct(c, c.Param("seg1"))
}

// getTwo handles GET /batch/active, /:alias/status, /:alias/schema,
// /:alias/stats.
func (h *Handler) getTwo(c *gin.Context) {
	seg1, seg2 := c.Param("seg1"), c.Param("seg2")
	if seg1 == "batch" && seg2 == "active" {
		h.ActiveSessions(c)
		return
	}
	switch seg2 {
	case "status":
		h.AliasStatus(c, seg1)
	case "schema":
		h.AliasSchema(c, seg1)
	case "stats":
		h.AliasStats(c, seg1)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown endpoint"})
	}
}

// getThree handles GET /batch/:sessionId/status.
func (h *Handler) getThree(c *gin.Context) {
	if c.Param("seg1") == "batch" && c.Param("seg3") == "status" {
		h.SessionStatus(c, c.Param("seg2"))
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown endpoint"})
}

// postTwo handles POST /search/text, /search/criteria, /:alias/promote,
// /:alias/initialize, /:alias/rollback, /:alias/cleanup.
func (h *Handler) postTwo(c *gin.Context) {
	seg1, seg2 := c.Param("seg1"), c.Param("seg2")
	if seg1 == "search" {
		switch seg2 {
		case "text":
			h.SearchText(c)
		case "criteria":
			h.SearchCriteria(c)
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown endpoint"})
		}
		return
	}
	switch seg2 {
	case "promote":
		h.Promote(c, seg1)
	case "initialize":
		h.Initialize(c, seg1)
	case "rollback":
		h.Rollback(c, seg1)
	case "cleanup":
		h.Cleanup(c, seg1)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown endpoint"})
	}
}

// postThree handles POST /:alias/batch/start and /batch/:sessionId/<op>.
func (h *Handler) postThree(c *gin.Context) {
	seg1, seg2, seg3 := c.Param("seg1"), c.Param("seg2"), c.Param("seg3")
	if seg2 == "batch" && seg3 == "start" {
		h.StartSession(c, seg1)
		return
	}
	if seg1 == "batch" {
		switch seg3 {
		case "process":
			h.ProcessBatch(c, seg2)
		case "complete":
			h.CompleteSession(c, seg2)
		case "cancel":
			h.CancelSession(c, seg2)
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown endpoint"})
		}
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown endpoint"})
}

// respondError maps a control-plane error kind to an HTTP status.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch models.KindOf(err) {
	case models.KindInvalidArgument, models.KindConflict, models.KindPreconditionFailed:
		status = http.StatusBadRequest
	case models.KindNotFound:
		status = http.StatusNotFound
	case models.KindTimeout, models.KindClusterError:
		status = http.StatusInternalServerError
	}

	var ce *models.Error
	body := gin.H{"error": err.Error()}
	if errors.As(err, &ce) {
		body["kind"] = string(ce.Kind)
	}
	c.JSON(status, body)
}

// ServiceHealth reports API and cluster connectivity.
func (h *Handler) ServiceHealth(c *gin.Context) {
	es := gin.H{"connected": false}
	if info, err := h.gateway.Info(c.Request.Context()); err == nil {
		es["connected"] = true
		es["cluster"] = info.ClusterName
	}
	c.JSON(http.StatusOK, gin.H{
		"api":           "healthy",
		"elasticsearch": es,
	})
}

// StartSession opens an ingest session against the alias.
func (h *Handler) StartSession(c *gin.Context, aliasName string) {
	strategy, err := models.ParseStrategy(c.Query("strategy"))
	if err != nil {
		respondError(c, err)
		return
	}

	estimatedTotal := 0
	if raw := c.Query("estimatedTotal"); raw != "" {
		estimatedTotal, err = strconv.Atoi(raw)
		if err != nil || estimatedTotal < 0 {
			respondError(c, models.NewInvalidArgument("estimatedTotal must be a non-negative integer"))
			return
		}
	}

	s, err := h.sessions.Start(c.Request.Context(), aliasName, strategy, estimatedTotal)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// ProcessBatch ingests one document batch into the session.
func (h *Handler) ProcessBatch(c *gin.Context, sessionID string) {
	if h.limiter != nil {
		allowed, err := h.limiter.Allow(c.Request.Context(), sessionID)
		if err != nil {
			respondError(c, err)
			return
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "batch rate limit exceeded for session"})
			return
		}
	}

	var documents []models.Document
	if err := c.ShouldBindJSON(&documents); err != nil {
		respondError(c, models.NewInvalidArgument("request body must be a JSON array of documents"))
		return
	}

	result, err := h.sessions.ProcessBatch(c.Request.Context(), sessionID, documents)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CompleteSession finalizes the session and returns the deployment state.
func (h *Handler) CompleteSession(c *gin.Context, sessionID string) {
	state, err := h.sessions.Complete(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// CancelSession aborts the session and drops its target index.
func (h *Handler) CancelSession(c *gin.Context, sessionID string) {
	if err := h.sessions.Cancel(c.Request.Context(), sessionID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SessionStatus returns the session snapshot.
func (h *Handler) SessionStatus(c *gin.Context, sessionID string) {
	s, err := h.sessions.Get(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// ActiveSessions lists all sessions still accepting batches.
func (h *Handler) ActiveSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.ListActive())
}

// Promote swaps the alias to the named index.
func (h *Handler) Promote(c *gin.Context, aliasName string) {
	targetIndex := c.Query("targetIndex")
	if targetIndex == "" {
		respondError(c, models.NewInvalidArgument("targetIndex query parameter is required"))
		return
	}

	state, err := h.coordinator.Promote(c.Request.Context(), aliasName, targetIndex)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"alias":          aliasName,
		"newActiveIndex": state.ActiveIndex,
		"message":        "alias promoted",
	})
}

// Initialize bootstraps the alias onto a fresh blue index.
func (h *Handler) Initialize(c *gin.Context, aliasName string) {
	state, err := h.coordinator.InitializeAlias(c.Request.Context(), aliasName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

// Rollback swaps the alias back to the previous color's latest index.
func (h *Handler) Rollback(c *gin.Context, aliasName string) {
	state, err := h.coordinator.Rollback(c.Request.Context(), aliasName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Cleanup deletes all inactive indices of the previous color.
func (h *Handler) Cleanup(c *gin.Context, aliasName string) {
	deleted, err := h.coordinator.Cleanup(c.Request.Context(), aliasName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alias": aliasName, "deleted": deleted})
}

// AliasStatus reports the alias binding and its deployment state.
func (h *Handler) AliasStatus(c *gin.Context, aliasName string) {
	exists, err := h.registry.Exists(c.Request.Context(), aliasName)
	if err != nil {
		respondError(c, err)
		return
	}

	state, err := h.coordinator.GetStatus(c.Request.Context(), aliasName)
	if err != nil {
		respondError(c, err)
		return
	}

	indices, err := h.lifecycle.List(c.Request.Context(), aliasName+"_*")
	if err != nil {
		respondError(c, err)
		return
	}

	body := gin.H{
		"alias":            aliasName,
		"exists":           exists,
		"indices":          indices,
		"deploymentStatus": state.Status,
	}
	if state.ActiveIndex != "" {
		body["activeIndex"] = state.ActiveIndex
		body["activeColor"] = state.ActiveColor
	}
	if state.StagingIndex != "" {
		body["stagingIndex"] = state.StagingIndex
		body["stagingColor"] = state.StagingColor
	}
	c.JSON(http.StatusOK, body)
}

// AliasSchema returns the indices bound to the alias and the mappings of
// every index whose name starts with the alias name, bound or not.
func (h *Handler) AliasSchema(c *gin.Context, aliasName string) {
	indices, err := h.registry.IndicesFor(c.Request.Context(), aliasName)
	if err != nil {
		respondError(c, err)
		return
	}

	mappings, err := h.gateway.GetMappings(c.Request.Context(), aliasName+"*")
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alias":    aliasName,
		"indices":  indices,
		"mappings": mappings,
	})
}

// AliasStats returns operator statistics for the alias's active index.
func (h *Handler) AliasStats(c *gin.Context, aliasName string) {
	state, err := h.coordinator.GetStatus(c.Request.Context(), aliasName)
	if err != nil {
		respondError(c, err)
		return
	}
	if state.ActiveIndex == "" {
		respondError(c, models.NewNotFound("alias %q has no active index", aliasName))
		return
	}

	stats, err := h.probe.GetStats(c.Request.Context(), state.ActiveIndex)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// SearchText runs a full-text query.
func (h *Handler) SearchText(c *gin.Context) {
	var req search.TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.NewInvalidArgument("invalid search request: %v", err))
		return
	}

	result, err := h.searcher.Text(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SearchCriteria runs a structured filter query.
func (h *Handler) SearchCriteria(c *gin.Context) {
	var req search.CriteriaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.NewInvalidArgument("invalid search request: %v", err))
		return
	}

	result, err := h.searcher.Criteria(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetProduct fetches one document through the alias.
func (h *Handler) GetProduct(c *gin.Context, productID string) {
	doc, err := h.searcher.GetByID(c.Request.Context(), c.Query("alias"), productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}
