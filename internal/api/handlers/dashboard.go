package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/controllers"
)

const defaultTrendHours = 24

// DashboardHandler serves overview counts and the transfer trend
type DashboardHandler struct {
	stats  *controllers.StatsCollector
	logger *logrus.Logger
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(stats *controllers.StatsCollector, logger *logrus.Logger) *DashboardHandler {
	return &DashboardHandler{stats: stats, logger: logger}
}

func (h *DashboardHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stats", h.Stats)
	r.Get("/trend", h.Trend)
	return r
}

func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Dashboard()
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, stats)
}

func (h *DashboardHandler) Trend(w http.ResponseWriter, r *http.Request) {
	points, err := h.stats.Trend(queryInt(r, "hours", defaultTrendHours))
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, points)
}
