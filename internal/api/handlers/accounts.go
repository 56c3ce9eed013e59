package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/controllers"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
)

// AccountHandler serves the tracker account endpoints
type AccountHandler struct {
	db       *models.Database
	accounts *controllers.AccountService
	logger   *logrus.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(db *models.Database, accounts *controllers.AccountService, logger *logrus.Logger) *AccountHandler {
	return &AccountHandler{db: db, accounts: accounts, logger: logger}
}

// AccountRequest carries the secrets the stored model never serializes
type AccountRequest struct {
	SiteURL  string `json:"site_url" validate:"required,url"`
	Username string `json:"username" validate:"required"`
	UID      string `json:"uid"`
	Cookie   string `json:"cookie" validate:"required"`
	Passkey  string `json:"passkey" validate:"omitempty,len=32,hexadecimal"`
}

func (h *AccountHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/{id}/refresh", h.Refresh)
	r.Delete("/{id}", h.Delete)
	return r
}

func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.db.ListAccounts()
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, accounts)
}

func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	account := &models.Account{
		SiteURL:  req.SiteURL,
		Username: req.Username,
		UID:      req.UID,
		Cookie:   req.Cookie,
		Passkey:  req.Passkey,
		IsActive: true,
	}
	if err := h.accounts.Create(account); err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendStatus(w, http.StatusCreated, account)
}

// Refresh pulls fresh stats from the tracker
func (h *AccountHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	account, err := h.accounts.Refresh(r.Context(), id)
	if err != nil {
		sendErr(w, h.logger, err)
		return
	}
	sendJSON(w, account)
}

func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.accounts.Delete(id); err != nil {
		sendErr(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
