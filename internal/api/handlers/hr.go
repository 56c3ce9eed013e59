package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/controllers"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/scheduler"
)

// HRHandler serves H&R records and pardons
type HRHandler struct {
	hr        *controllers.HRTracker
	scheduler Scheduler
	logger    *logrus.Logger
}

// NewHRHandler creates a new H&R handler
func NewHRHandler(hr *controllers.HRTracker, s Scheduler, logger *logrus.Logger) *HRHandler {
	return &HRHandler{hr: hr, scheduler: s, logger: logger}
}

func (h *HRHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/summary", h.Summary)
	r.Post("/sync", h.Sync)
	r.Post("/{id}/pardon", h.Pardon)
	return r
}

func (h *HRHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	status := models.HRStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		sendError(w, "invalid status", http.StatusBadRequest)
		return
	}

	records, total, err := h.hr.List(models.HRFilter{
		Status:    status,
		AccountID: queryUint(r, "account_id"),
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, Page[*models.HRRecord]{Items: records, Total: total, Page: page, PageSize: pageSize})
}

func (h *HRHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.hr.Summary(queryUint(r, "account_id"))
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, summary)
}

func (h *HRHandler) Sync(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.Trigger(r.Context(), scheduler.KindHRSync)
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, report)
}

// Pardon spends bonus points to clear an obligation
func (h *HRHandler) Pardon(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	message, err := h.hr.Pardon(r.Context(), id)
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, map[string]any{"success": true, "message": message})
}
