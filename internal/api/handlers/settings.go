package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
)

// SettingsHandler serves the stored policy records and scheduler control
type SettingsHandler struct {
	db        *models.Database
	scheduler Scheduler
	logger    *logrus.Logger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(db *models.Database, s Scheduler, logger *logrus.Logger) *SettingsHandler {
	return &SettingsHandler{db: db, scheduler: s, logger: logger}
}

func (h *SettingsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/auto-delete", h.GetAutoDelete)
	r.Put("/auto-delete", h.UpdateAutoDelete)
	r.Get("/schedule", h.GetSchedule)
	r.Put("/schedule", h.UpdateSchedule)
	r.Get("/schedule-control", h.GetScheduleControl)
	r.Put("/schedule-control", h.UpdateScheduleControl)
	r.Get("/scheduler/status", h.SchedulerStatus)
	r.Post("/scheduler/restart", h.RestartScheduler)
	return r
}

func (h *SettingsHandler) GetAutoDelete(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.db.GetAutoDeleteConfig()
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, cfg)
}

// UpdateAutoDelete replaces the whole record; an invalid one leaves the stored record untouched
func (h *SettingsHandler) UpdateAutoDelete(w http.ResponseWriter, r *http.Request) {
	var cfg models.AutoDeleteConfig
	if !decode(w, r, &cfg) {
		return
	}
	if err := h.db.SaveAutoDeleteConfig(cfg); err != nil {
		sendErr(w, h.logger, err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"enabled":        cfg.Enabled,
		"max_gb":         cfg.DiskMaxGB,
		"target_gb":      cfg.DiskTargetGB,
		"expired_action": cfg.ExpiredAction,
	}).Info("Auto-delete settings updated")
	sendJSON(w, cfg)
}

func (h *SettingsHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.db.GetScheduleConfig()
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, cfg.Intervals)
}

func (h *SettingsHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var intervals models.ScheduleIntervals
	if !decode(w, r, &intervals) {
		return
	}
	cfg, ok := h.saveSchedule(w, func(cfg *models.ScheduleConfig) { cfg.Intervals = intervals })
	if !ok {
		return
	}
	sendJSON(w, cfg.Intervals)
}

func (h *SettingsHandler) GetScheduleControl(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.db.GetScheduleConfig()
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, cfg.Control)
}

func (h *SettingsHandler) UpdateScheduleControl(w http.ResponseWriter, r *http.Request) {
	var control models.ScheduleControl
	if !decode(w, r, &control) {
		return
	}
	cfg, ok := h.saveSchedule(w, func(cfg *models.ScheduleConfig) { cfg.Control = control })
	if !ok {
		return
	}
	sendJSON(w, cfg.Control)
}

// saveSchedule stores the edited schedule and re-arms the scheduler from it
func (h *SettingsHandler) saveSchedule(w http.ResponseWriter, edit func(*models.ScheduleConfig)) (models.ScheduleConfig, bool) {
	cfg, err := h.db.GetScheduleConfig()
	if err != nil {
		sendErr(w, h.logger, err)
		return cfg, false
	}
	edit(&cfg)
	if err := h.db.SaveScheduleConfig(cfg); err != nil {
		sendErr(w, h.logger, err)
		return cfg, false
	}
	if err := h.scheduler.Restart(); err != nil {
		sendErr(w, h.logger, err)
		return cfg, false
	}
	return cfg, true
}

func (h *SettingsHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, h.scheduler.Status())
}

func (h *SettingsHandler) RestartScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Restart(); err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, h.scheduler.Status())
}
