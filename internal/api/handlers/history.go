package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/scheduler"
)

// HistoryHandler serves download history
type HistoryHandler struct {
	db        *models.Database
	scheduler Scheduler
	logger    *logrus.Logger
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(db *models.Database, s Scheduler, logger *logrus.Logger) *HistoryHandler {
	return &HistoryHandler{db: db, scheduler: s, logger: logger}
}

func (h *HistoryHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Delete("/{id}", h.Delete)
	r.Post("/sync", h.Sync)
	return r
}

// List pages through history, newest first, optionally narrowed to one status
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	status := models.HistoryStatus(r.URL.Query().Get("status"))

	items, total, err := h.db.ListHistory(status, page, pageSize)
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, Page[*models.HistoryItem]{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// Delete forgets a history record; the torrent in the client is left alone
func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.db.GetHistory(id); err != nil {
		sendErr(w, h.logger, err)
		return
	}
	if err := h.db.DeleteHistory(id); err != nil {
		sendErr(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync runs the status sync job now
func (h *HistoryHandler) Sync(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.Trigger(r.Context(), scheduler.KindStatusSync)
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, report)
}
