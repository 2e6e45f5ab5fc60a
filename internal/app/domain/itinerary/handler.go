package itinerary

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/persistence"
	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

// Service is what the HTTP layer needs from the engine.
type Service interface {
	Generate(ctx context.Context, in *models.GeneratorInput) (*models.ItineraryState, error)
	Get(ctx context.Context, id string) (*models.ItineraryState, error)
	Update(ctx context.Context, id string, upd models.ItineraryUpdate) (*models.ItineraryState, error)
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, userID string) ([]*models.ItineraryState, error)
	ResolveConflict(ctx context.Context, id string, keepLocal bool) (*models.ItineraryState, error)
	Health(ctx context.Context) persistence.HealthReport
}

var _ Service = (*Engine)(nil)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes mounts the itinerary API on rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/itineraries", h.Create)
	rg.GET("/itineraries/:id", h.Get)
	rg.PATCH("/itineraries/:id", h.Update)
	rg.DELETE("/itineraries/:id", h.Delete)
	rg.POST("/itineraries/:id/resolve", h.Resolve)
	rg.GET("/users/:userID/itineraries", h.ListByOwner)
	rg.GET("/health", h.Health)
}

// handleError maps domain errors to status codes.
func (h *Handler) handleError(c *gin.Context, err error, operation string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Itinerary not found", "details": err.Error()})
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrBadRequest), errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
	case errors.Is(err, models.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Version conflict", "details": err.Error()})
	case errors.Is(err, models.ErrStorageExhausted):
		h.logger.Error("Itinerary operation failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage unavailable", "details": "No storage tier accepted the itinerary. Please try again later."})
	default:
		h.logger.Error("Itinerary operation failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + operation + " itinerary"})
	}
}

func (h *Handler) Create(c *gin.Context) {
	var in models.GeneratorInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.logger.Warn("Invalid generation request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	st, err := h.service.Generate(c.Request.Context(), &in)
	if err != nil {
		h.handleError(c, err, "create")
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) Get(c *gin.Context) {
	st, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err, "load")
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) Update(c *gin.Context) {
	var upd models.ItineraryUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if upd.Source == "" {
		upd.Source = models.SourceUser
	}
	st, err := h.service.Update(c.Request.Context(), c.Param("id"), upd)
	if err != nil {
		h.handleError(c, err, "update")
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err, "delete")
		return
	}
	c.Status(http.StatusNoContent)
}

type resolveRequest struct {
	KeepLocal bool `json:"keep_local"`
}

func (h *Handler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	st, err := h.service.ResolveConflict(c.Request.Context(), c.Param("id"), req.KeepLocal)
	if err != nil {
		h.handleError(c, err, "resolve")
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) ListByOwner(c *gin.Context) {
	states, err := h.service.ListByOwner(c.Request.Context(), c.Param("userID"))
	if err != nil {
		h.handleError(c, err, "list")
		return
	}
	if states == nil {
		states = []*models.ItineraryState{}
	}
	c.JSON(http.StatusOK, gin.H{"itineraries": states, "count": len(states)})
}

func (h *Handler) Health(c *gin.Context) {
	report := h.service.Health(c.Request.Context())
	status := http.StatusOK
	if report.Status == persistence.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
