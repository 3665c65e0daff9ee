package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"inventory-sync/internal/apperror"
	"inventory-sync/internal/models"
	"inventory-sync/internal/service"
	"inventory-sync/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the local store can serve requests
type ReadinessChecker interface {
	Ping(ctx context.Context) error
}

// ManualDrainer runs an on-demand drain whose outcome joins the background retry schedule.
// Implemented by worker.SyncWorker.
type ManualDrainer interface {
	DrainNow(ctx context.Context) models.DrainResult
}

// Handler contains HTTP handlers
type Handler struct {
	inventoryService *service.InventoryService
	drainer          ManualDrainer
	store            ReadinessChecker
}

// NewHandler creates a new HTTP handler
func NewHandler(inventoryService *service.InventoryService, drainer ManualDrainer, store ReadinessChecker) *Handler {
	return &Handler{
		inventoryService: inventoryService,
		drainer:          drainer,
		store:            store,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/tenants/:tenant/inventory", h.listInventory)
		v1.POST("/tenants/:tenant/inventory", h.createItem)
		v1.POST("/tenants/:tenant/inventory/:id/adjust", h.adjustStock)

		v1.POST("/sync", h.drainNow)
		v1.GET("/sync/pending", h.pendingCount)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the local store answers
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// listInventory returns a tenant's inventory, from the remote service or the cache
func (h *Handler) listInventory(c *gin.Context) {
	tenantID := c.Param("tenant")
	ctx := c.Request.Context()

	var view *models.InventoryView
	var err error
	switch c.Query("source") {
	case "":
		view, err = h.inventoryService.Load(ctx, tenantID)
	case models.SourceRemote:
		view, err = h.inventoryService.LoadFromRemote(ctx, tenantID)
	case models.SourceCache:
		view, err = h.inventoryService.LoadFromCache(ctx, tenantID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid source, expected remote or cache",
		})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// createItem handles item creation. Provisional items are answered with 202.
func (h *Handler) createItem(c *gin.Context) {
	var payload models.CreateItemPayload

	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	item, err := h.inventoryService.SubmitCreate(c.Request.Context(), c.Param("tenant"), payload)
	if err != nil {
		writeError(c, err)
		return
	}

	if item.PendingSync {
		c.JSON(http.StatusAccepted, item)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// adjustStock applies a stock delta to one item
func (h *Handler) adjustStock(c *gin.Context) {
	var payload models.AdjustStockPayload

	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	item, err := h.inventoryService.SubmitAdjust(c.Request.Context(), c.Param("tenant"), c.Param("id"), payload)
	if err != nil {
		writeError(c, err)
		return
	}

	if item.PendingSync {
		c.JSON(http.StatusAccepted, item)
		return
	}
	c.JSON(http.StatusOK, item)
}

// drainNow replays the pending write log and reports the outcome
func (h *Handler) drainNow(c *gin.Context) {
	result := h.drainer.DrainNow(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

// pendingCount returns the number of queued intents, optionally for one tenant
func (h *Handler) pendingCount(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.Query("tenant")

	var n int
	var err error
	if tenantID != "" {
		n, err = h.inventoryService.PendingCountByTenant(ctx, tenantID)
	} else {
		n, err = h.inventoryService.PendingCount(ctx)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"pending": n}
	if tenantID != "" {
		resp["tenant"] = tenantID
	}
	c.JSON(http.StatusOK, resp)
}

// writeError maps a classified failure onto an HTTP response
func writeError(c *gin.Context, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal error",
			"details": err.Error(),
		})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperror.KindValidation:
		status = http.StatusUnprocessableEntity
		if appErr.StatusCode == http.StatusNotFound {
			status = http.StatusNotFound
		}
	case apperror.KindAuth:
		status = http.StatusUnauthorized
	case apperror.KindNetwork, apperror.KindServer, apperror.KindStorage:
		status = http.StatusServiceUnavailable
	}

	message := appErr.Message
	if message == "" {
		message = appErr.Error()
	}
	c.JSON(status, gin.H{
		"error": message,
		"kind":  appErr.Kind.String(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
