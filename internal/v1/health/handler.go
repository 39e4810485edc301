package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"framechat/internal/v1/metrics"
)

// StoreChecker verifies the user database accepts writes.
type StoreChecker interface {
	Writable() error
}

// ChatServer is the slice of the chat server the ops endpoint needs.
type ChatServer interface {
	Listening() bool
	Monitor() *metrics.Monitor
}

// Handler manages the health and stats endpoints.
type Handler struct {
	store StoreChecker
	chat  ChatServer
}

// NewHandler creates a new health check handler.
func NewHandler(store StoreChecker, chat ChatServer) *Handler {
	return &Handler{store: store, chat: chat}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only if the chat listener is bound and the user database
// is writable; 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	checks := make(map[string]string)
	allHealthy := true

	if h.chat != nil && h.chat.Listening() {
		checks["listener"] = "healthy"
	} else {
		checks["listener"] = "unhealthy"
		allHealthy = false
	}

	if h.store != nil {
		if err := h.store.Writable(); err != nil {
			checks["user_store"] = "unhealthy"
			allHealthy = false
		} else {
			checks["user_store"] = "healthy"
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats handles the performance snapshot endpoint
// GET /stats
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.chat.Monitor().Snapshot())
}
