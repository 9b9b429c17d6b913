// Package bridge is the HTTP surface for astrosentry events: operational
// outcomes produced by non-native (HTTP) sources, converted into mesh signals
// and fed through the same router as everything else.
package bridge

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/astromesh/observer/internal/config"
	"github.com/astromesh/observer/internal/router"
	"github.com/astromesh/observer/internal/signal"
)

// sourceTag marks signals that arrived over the bridge rather than the mesh.
const sourceTag = "astrosentry-http"

// HealthChecker is the readiness dependency (the store).
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// NewRouter wires the bridge endpoints.
// Public: /health, /ready, /metrics
// Ingest: POST /bridge/astrosentry
func NewRouter(cfg config.Config, rt *router.Router, db HealthChecker, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	ingest := r.Group("/bridge")
	ingest.Use(RateLimitMiddleware(cfg.BridgeRate, cfg.BridgeBurst))
	registerAstrosentryRoute(ingest, rt, logger)

	return r
}

// astrosentryRequest is the POST /bridge/astrosentry payload.
type astrosentryRequest struct {
	Server     string         `json:"server"`
	EventType  string         `json:"event_type"`
	Operation  string         `json:"operation"`
	Outcome    string         `json:"outcome,omitempty"`
	Timestamp  int64          `json:"timestamp,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// registerAstrosentryRoute converts a bridged event into an astrosentry
// signal and routes it. The router owns classification, audit logging,
// operation derivation, and notification; the bridge only translates.
func registerAstrosentryRoute(r gin.IRoutes, rt *router.Router, logger *zap.Logger) {
	r.POST("/astrosentry", func(c *gin.Context) {
		var req astrosentryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortError(c, http.StatusBadRequest, "invalid JSON payload")
			return
		}

		// Required fields per contract.
		if req.Server == "" {
			abortError(c, http.StatusBadRequest, "server required")
			return
		}
		if req.EventType == "" {
			abortError(c, http.StatusBadRequest, "event_type required")
			return
		}

		payload := map[string]any{
			"sender":     req.Server,
			"source":     sourceTag,
			"event_type": req.EventType,
			"operation":  req.Operation,
		}
		if req.Outcome != "" {
			payload["outcome"] = req.Outcome
		}
		if req.DurationMS > 0 {
			payload["duration_ms"] = req.DurationMS
		}
		for k, v := range req.Metadata {
			// Metadata is genuinely open-ended; producer keys never override
			// the bridge's own fields.
			if _, taken := payload[k]; !taken {
				payload[k] = v
			}
		}

		sig := signal.Signal{
			Type:      signal.AstrosentryEvent,
			Version:   signal.Version,
			Timestamp: req.Timestamp,
			Payload:   payload,
		}

		// No origin address: bridged producers cannot be replied to.
		rt.Route(c.Request.Context(), sig, nil)

		logger.Debug("bridged astrosentry event",
			zap.String("server", req.Server),
			zap.String("event_type", req.EventType),
			zap.String("request_id", RequestID(c)),
		)

		c.JSON(http.StatusAccepted, gin.H{
			"status":     "accepted",
			"request_id": RequestID(c),
		})
	})
}
