package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/controllers"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
)

// DownloaderHandler serves torrent client endpoints
type DownloaderHandler struct {
	db          *models.Database
	downloaders *controllers.DownloaderService
	logger      *logrus.Logger
}

// NewDownloaderHandler creates a new downloader handler
func NewDownloaderHandler(db *models.Database, downloaders *controllers.DownloaderService, logger *logrus.Logger) *DownloaderHandler {
	return &DownloaderHandler{db: db, downloaders: downloaders, logger: logger}
}

// DownloaderRequest carries the password the stored model never serializes
type DownloaderRequest struct {
	Name      string                `json:"name" validate:"required"`
	Type      models.DownloaderType `json:"type" validate:"required,oneof=qbittorrent transmission"`
	Host      string                `json:"host" validate:"required"`
	Port      int                   `json:"port" validate:"required,min=1,max=65535"`
	Username  string                `json:"username"`
	Password  string                `json:"password"`
	UseSSL    bool                  `json:"use_ssl"`
	IsDefault bool                  `json:"is_default"`
}

func (h *DownloaderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/test", h.Test)
	r.Get("/{id}/stats", h.Stats)
	return r
}

func (h *DownloaderHandler) List(w http.ResponseWriter, r *http.Request) {
	downloaders, err := h.db.ListDownloaders()
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, downloaders)
}

func (h *DownloaderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req DownloaderRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	dl := &models.Downloader{
		Name:      req.Name,
		Type:      req.Type,
		Host:      req.Host,
		Port:      req.Port,
		Username:  req.Username,
		Password:  req.Password,
		UseSSL:    req.UseSSL,
		IsDefault: req.IsDefault,
	}
	if err := h.downloaders.Create(dl); err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendStatus(w, http.StatusCreated, dl)
}

func (h *DownloaderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.downloaders.Delete(id); err != nil {
		sendErr(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test reports reachability; an unreachable client is a normal answer, not a failure
func (h *DownloaderHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	version, err := h.downloaders.Test(r.Context(), id)
	switch {
	case err == nil:
		sendJSON(w, map[string]any{"success": true, "version": version})
	case isLookupError(err):
		sendErr(w, h.logger, err)
	default:
		sendJSON(w, map[string]any{"success": false, "message": err.Error()})
	}
}

func (h *DownloaderHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	stats, err := h.downloaders.Stats(r.Context(), id)
	if err != nil {
		if isLookupError(err) {
			sendErr(w, h.logger, err)
			return
		}
		h.logger.WithError(err).WithField("downloader_id", id).Warn("Downloader stats unavailable")
		sendError(w, err.Error(), http.StatusBadGateway)
		return
	}
	sendJSON(w, stats)
}
