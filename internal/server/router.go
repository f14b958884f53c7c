package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tidewater-labs/driftnet/internal/hydrate"
	"github.com/tidewater-labs/driftnet/internal/relay"
)

var errMissingHydrateService = errors.New("hydrate service dependency required")

// Dependencies wires the read-only observability surface.
type Dependencies struct {
	HydrateService *hydrate.Service
	Logger         *zap.Logger
}

// NewHTTPHandler builds the stats router: health and pipeline counters
// only, never projected record rendering.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.HydrateService == nil {
		return nil, errMissingHydrateService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		hydrateService: deps.HydrateService,
		logger:         logger,
	}

	router.GET("/healthz", handler.handleHealthz)
	router.GET("/stats", handler.handleStats)

	return router, nil
}

type httpHandler struct {
	hydrateService *hydrate.Service
	logger         *zap.Logger
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statsResponsePayload struct {
	Pool      relay.PoolStats      `json:"pool"`
	Projector hydrate.Counters     `json:"projector"`
	Records   hydrate.RecordCounts `json:"records"`
}

func (h *httpHandler) handleStats(c *gin.Context) {
	counts, err := h.hydrateService.RecordCounts(c.Request.Context())
	if err != nil {
		h.logger.Error("record counts failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})
		return
	}

	stats := h.hydrateService.Stats()
	c.JSON(http.StatusOK, statsResponsePayload{
		Pool:      stats.Pool,
		Projector: stats.Projector,
		Records:   counts,
	})
}
