package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/controllers"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/services/login"
)

// LoginFlow is the interactive site login the handler drives
type LoginFlow interface {
	Init(ctx context.Context, siteURL string) (*login.Challenge, error)
	RefreshCaptcha(ctx context.Context, sessionID string) (*login.Challenge, error)
	Submit(ctx context.Context, sessionID string, creds login.Credentials) (*login.Result, error)
}

// SiteLoginHandler obtains a session cookie by logging in with a captcha
type SiteLoginHandler struct {
	flow     LoginFlow
	accounts *controllers.AccountService
	logger   *logrus.Logger
}

// NewSiteLoginHandler creates a new site login handler
func NewSiteLoginHandler(flow LoginFlow, accounts *controllers.AccountService, logger *logrus.Logger) *SiteLoginHandler {
	return &SiteLoginHandler{flow: flow, accounts: accounts, logger: logger}
}

type initRequest struct {
	SiteURL string `json:"site_url" validate:"required,url"`
}

type sessionRequest struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
}

type submitRequest struct {
	SessionID   string `json:"session_id" validate:"required,uuid"`
	Username    string `json:"username" validate:"required"`
	Password    string `json:"password" validate:"required"`
	Captcha     string `json:"captcha"`
	TwoStepCode string `json:"two_step_code"`
}

// submitResponse adds the stored account once the login resolves
type submitResponse struct {
	*login.Result
	Account *models.Account `json:"account,omitempty"`
}

func (h *SiteLoginHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/init", h.Init)
	r.Post("/refresh-captcha", h.RefreshCaptcha)
	r.Post("/submit", h.Submit)
	return r
}

func (h *SiteLoginHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	challenge, err := h.flow.Init(r.Context(), req.SiteURL)
	if err != nil {
		h.logger.WithError(err).WithField("site", req.SiteURL).Warn("Site login could not start")
		sendError(w, err.Error(), http.StatusBadGateway)
		return
	}
	sendJSON(w, challenge)
}

func (h *SiteLoginHandler) RefreshCaptcha(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	challenge, err := h.flow.RefreshCaptcha(r.Context(), req.SessionID)
	if err != nil {
		h.sendFlowErr(w, err)
		return
	}
	sendJSON(w, challenge)
}

// Submit answers the captcha; a resolved login creates or renews the account
func (h *SiteLoginHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	result, err := h.flow.Submit(r.Context(), req.SessionID, login.Credentials{
		Username:    req.Username,
		Password:    req.Password,
		Captcha:     req.Captcha,
		TwoStepCode: req.TwoStepCode,
	})
	if err != nil {
		h.sendFlowErr(w, err)
		return
	}

	resp := submitResponse{Result: result}
	if result.State == login.StateResolved {
		account, err := h.accounts.SaveLogin(result.SiteURL, req.Username, result.Cookie, result.UID)
		if err != nil {
			sendErr(w, h.logger, err)
			return
		}
		resp.Account = account
	}
	sendJSON(w, resp)
}

func (h *SiteLoginHandler) sendFlowErr(w http.ResponseWriter, err error) {
	if errors.Is(err, login.ErrSessionNotFound) {
		sendErr(w, h.logger, err)
		return
	}
	h.logger.WithError(err).Warn("Site login step failed")
	sendError(w, err.Error(), http.StatusBadGateway)
}
