package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Smitty-01/ChainGaurd/internal/db"
	"github.com/Smitty-01/ChainGaurd/internal/events"
	"github.com/Smitty-01/ChainGaurd/internal/logging"
	"github.com/Smitty-01/ChainGaurd/internal/metrics"
	"github.com/Smitty-01/ChainGaurd/internal/risk"
	"github.com/Smitty-01/ChainGaurd/internal/shadow"
	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EngineName is reported by /health.
const EngineName = "ChainGuard Risk Engine v1.0"

// RequestIDHeader carries the correlation id in both directions.
const RequestIDHeader = "X-Request-ID"

// RunHistory is the audit store behind /runs (the Postgres store).
type RunHistory interface {
	GetBulkRuns(ctx context.Context, page int, limit int) ([]db.BulkRunInfo, int, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators the router serves. Only Service is required.
type Deps struct {
	Service        *risk.Service
	Runs           RunHistory      // nil without a database
	Hub            *Hub            // nil disables /stream
	Alerts         *events.Manager // nil disables /alerts
	Shadow         *shadow.Runner  // nil without a candidate model
	Limiter        *RateLimiter    // nil disables rate limiting
	AuthToken      string
	AllowedOrigins []string
	Logger         *zap.Logger
}

type APIHandler struct {
	svc    *risk.Service
	runs   RunHistory
	alerts *events.Manager
	shadow *shadow.Runner
	logger *zap.Logger
}

func SetupRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestContext(logger))
	r.Use(metrics.Middleware())
	r.Use(cors(d.AllowedOrigins))

	handler := &APIHandler{
		svc:    d.Service,
		runs:   d.Runs,
		alerts: d.Alerts,
		shadow: d.Shadow,
		logger: logger,
	}

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	{
		api.GET("/health", handler.handleHealth)
		if d.Hub != nil {
			api.GET("/stream", d.Hub.Subscribe)
		}
	}

	protected := api.Group("")
	protected.Use(AuthMiddleware(d.AuthToken, logger))
	if d.Limiter != nil {
		protected.Use(d.Limiter.Middleware())
	}
	{
		protected.GET("/tx/:id", handler.handleLookup)
		protected.POST("/batch", handler.handleBatch)
		protected.GET("/top/:n", handler.handleTopRisk)
		protected.GET("/graph/:id", handler.handleGraph)
		protected.GET("/report/:id", handler.handleReport)

		protected.POST("/bulk", handler.handleBulk)
		protected.GET("/bulk/:runId/export", handler.handleExport)
		protected.GET("/runs", handler.handleRuns)

		protected.GET("/alerts", handler.handleAlerts)
		protected.GET("/shadow/drift", handler.handleShadowDrift)
	}

	return r
}

// requestContext tags each request with a correlation id and a logger that
// carries it, then writes one access log line.
func requestContext(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" || len(reqID) > 64 {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)

		ctx := logging.WithRequestID(c.Request.Context(), reqID)
		ctx = logging.WithLogger(ctx, logger)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		logging.L(ctx).Debug("[HTTP] Request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// cors echoes allowed origins. An empty list or "*" allows any origin.
func cors(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if isWildcard(allowedOrigins) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && originAllowed(allowedOrigins, origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, "+RequestIDHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", RequestIDHeader+", Retry-After")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func isWildcard(origins []string) bool {
	return len(origins) == 0 || (len(origins) == 1 && origins[0] == "*")
}

func originAllowed(origins []string, origin string) bool {
	if isWildcard(origins) {
		return true
	}
	for _, allowed := range origins {
		if strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": kind, "detail": message}. Internal errors
// are logged and their detail withheld.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": models.ErrorKind(err)}
	if status == http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("[API] Request failed",
			zap.String("route", c.FullPath()), zap.Error(err))
	} else {
		body["detail"] = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}
