// Package server implements the operator-facing HTTP status surface:
// health checks, batch inspection, and the Prometheus scrape endpoint,
// supplementing §6's CLI-first surface with the read-only views the
// teacher pack always puts behind gin.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/campaignsched/internal/handler"
	"github.com/jwalitptl/campaignsched/internal/handler/health"
	"github.com/jwalitptl/campaignsched/internal/mailgateway"
	"github.com/jwalitptl/campaignsched/internal/middleware"
	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/internal/store"
)

// New builds the gin engine serving /health/live, /health/ready, /batches,
// /batches/:batchID, /metrics, and (when webhook is non-nil) the mail
// gateway's push-status webhook route. The middleware stack (request id,
// structured logging, recovery, security headers, size limiting, request
// timeout, gzip, rate limiting, and JSON error rendering) is the teacher
// pack's own `internal/middleware`, applied in front of this domain's
// handlers rather than rebuilt for it.
func New(st store.Store, registry prometheusMiddleware, webhook *mailgateway.WebhookHandler) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(middleware.DefaultCORSConfig()),
		middleware.SizeLimit(middleware.DefaultSizeLimitConfig()),
		middleware.Timeout(middleware.DefaultTimeoutConfig()),
		middleware.Compress(middleware.DefaultCompressConfig()),
		middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: rate.Limit(50), Burst: 100}).RateLimit(),
		middleware.ErrorHandler(),
	)
	if registry != nil {
		r.Use(registry.Middleware())
	}

	root := r.Group("/")

	health.NewHandler(st).RegisterRoutes(root)

	batches := &batchHandler{store: st}
	r.GET("/batches", batches.List)
	r.GET("/batches/:batchID", batches.Get)

	if registry != nil {
		r.GET("/metrics", registry.Handler())
	}

	if webhook != nil {
		webhook.RegisterRoutes(root)
	}

	return r
}

// prometheusMiddleware is the subset of internal/handler/prometheus.Handler
// the server needs, kept narrow so this package doesn't have to import the
// concrete prometheus registry type.
type prometheusMiddleware interface {
	Middleware() gin.HandlerFunc
	Handler() gin.HandlerFunc
}

type batchHandler struct {
	store store.Store
}

func (h *batchHandler) List(c *gin.Context) {
	var filter model.BatchFilter
	if status := c.Query("status"); status != "" {
		filter.Status = model.SendStatus(status)
	}
	if mode := c.Query("send_mode"); mode != "" {
		filter.SendMode = model.SendMode(mode)
	}
	if start := c.Query("start_date"); start != "" {
		filter.StartDate = &start
	}
	if end := c.Query("end_date"); end != "" {
		filter.EndDate = &end
	}

	batches, err := h.store.ListBatches(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(batches))
}

func (h *batchHandler) Get(c *gin.Context) {
	batchID := c.Param("batchID")
	summary, err := h.store.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		if err == store.ErrNotFound {
			c.JSON(http.StatusNotFound, handler.NewErrorResponse("batch not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(summary))
}
