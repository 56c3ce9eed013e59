package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/controllers"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/scheduler"
	"github.com/spellyaohui/NicePT-Helper/internal/services/login"
	"github.com/spellyaohui/NicePT-Helper/internal/services/tracker"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 200
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Page wraps a paginated listing
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func sendError(w http.ResponseWriter, message string, code int) {
	sendStatus(w, code, ErrorResponse{Error: message, Code: code})
}

func sendJSON(w http.ResponseWriter, data any) {
	sendStatus(w, http.StatusOK, data)
}

func sendStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		sendError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// decodeAndValidate reads a JSON body into dst and checks its validate tags
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !decode(w, r, dst) {
		return false
	}

	if err := models.Validator().Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			sendError(w, err.Error(), http.StatusBadRequest)
			return false
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("[%s: %s]", fe.Field(), fe.Tag()))
		}
		sendError(w, "validation failed: "+strings.Join(msgs, " "), http.StatusBadRequest)
		return false
	}
	return true
}

// sendErr maps domain errors onto status codes
func sendErr(w http.ResponseWriter, logger *logrus.Logger, err error) {
	var rejected *tracker.PardonRejectedError
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, login.ErrSessionNotFound),
		errors.Is(err, scheduler.ErrUnknownJob):
		sendError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrInvalidConfig):
		sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, controllers.ErrPardonNotAllowed):
		sendError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &rejected):
		sendError(w, rejected.Message, http.StatusUnprocessableEntity)
	case errors.Is(err, tracker.ErrSessionExpired):
		sendError(w, err.Error(), http.StatusUnauthorized)
	default:
		logger.WithError(err).Error("Request failed")
		sendError(w, err.Error(), http.StatusInternalServerError)
	}
}

// isLookupError reports failures resolving a stored record rather than talking to a remote
func isLookupError(err error) bool {
	return errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidConfig)
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		sendError(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func queryUint(r *http.Request, key string) uint64 {
	v, _ := strconv.ParseUint(r.URL.Query().Get(key), 10, 64)
	return v
}

func pagination(r *http.Request) (int, int) {
	return queryInt(r, "page", defaultPage), min(queryInt(r, "page_size", defaultPageSize), maxPageSize)
}
