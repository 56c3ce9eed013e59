package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/controllers"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
)

// RuleHandler serves rule CRUD
type RuleHandler struct {
	db     *models.Database
	logger *logrus.Logger
}

// NewRuleHandler creates a new rule handler
func NewRuleHandler(db *models.Database, logger *logrus.Logger) *RuleHandler {
	return &RuleHandler{db: db, logger: logger}
}

func (h *RuleHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/toggle", h.Toggle)
	return r
}

func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.db.ListRules()
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, rules)
}

func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var rule models.Rule
	if !decode(w, r, &rule) {
		return
	}
	rule.ID = 0
	if err := h.save(&rule, true); err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendStatus(w, http.StatusCreated, &rule)
}

// Update replaces every field of a rule except its identity and creation time
func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	existing, err := h.db.GetRule(id)
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}

	var rule models.Rule
	if !decode(w, r, &rule) {
		return
	}
	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	if err := h.save(&rule, false); err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, &rule)
}

func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.db.GetRule(id); err != nil {
		sendErr(w, h.logger, err)
		return
	}
	if err := h.db.DeleteRule(id); err != nil {
		sendErr(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Toggle flips the enabled flag
func (h *RuleHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, err := h.db.GetRule(id)
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	rule.Enabled = !rule.Enabled
	if err := h.db.UpdateRule(rule); err != nil {
		sendErr(w, h.logger, err)
		return
	}
	h.logger.WithFields(logrus.Fields{"rule": rule.Name, "enabled": rule.Enabled}).Info("Rule toggled")
	sendJSON(w, rule)
}

// save fills defaults before validating so omitted fields are accepted
func (h *RuleHandler) save(rule *models.Rule, create bool) error {
	rule.ApplyDefaults()
	if err := controllers.ValidateRule(rule); err != nil {
		return err
	}
	if create {
		return h.db.CreateRule(rule)
	}
	return h.db.UpdateRule(rule)
}
