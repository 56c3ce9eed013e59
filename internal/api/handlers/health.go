package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/controllers"
	"github.com/spellyaohui/NicePT-Helper/internal/scheduler"
)

// Scheduler is the part of the job scheduler the API drives
type Scheduler interface {
	Trigger(ctx context.Context, kind scheduler.Kind) (*controllers.Report, error)
	Restart() error
	Status() scheduler.Status
}

// HealthHandler handles health check requests
type HealthHandler struct {
	scheduler Scheduler
	logger    *logrus.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(s Scheduler, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{scheduler: s, logger: logger}
}

// ServeHTTP reports liveness and whether the scheduler is armed
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, map[string]any{
		"status":            "healthy",
		"scheduler_running": h.scheduler.Status().Running,
	})
}
