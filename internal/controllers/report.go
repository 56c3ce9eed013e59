package controllers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/services/tracker"
)

// ErrPardonNotAllowed is returned when pardon is requested for a settled obligation
var ErrPardonNotAllowed = errors.New("pardon not allowed in current H&R state")

// ItemError records a failure local to one resource
type ItemError struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
	Err      error  `json:"-"`
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Resource, e.ID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Report summarizes one job execution
type Report struct {
	mu sync.Mutex

	Processed    int                   `json:"processed"`
	Changed      int                   `json:"changed"`
	Dispatched   []*models.HistoryItem `json:"dispatched,omitempty"`
	Actions      map[string]int        `json:"actions,omitempty"`
	Errors       []*ItemError          `json:"-"`
	Messages     []string              `json:"errors,omitempty"`
	NeedsRelogin []uint64              `json:"needs_relogin,omitempty"`
}

// NewReport creates an empty report
func NewReport() *Report {
	return &Report{Actions: make(map[string]int)}
}

func (r *Report) addProcessed(n int) {
	r.mu.Lock()
	r.Processed += n
	r.mu.Unlock()
}

func (r *Report) addChanged(n int) {
	r.mu.Lock()
	r.Changed += n
	r.mu.Unlock()
}

func (r *Report) addDispatched(item *models.HistoryItem) {
	r.mu.Lock()
	r.Dispatched = append(r.Dispatched, item)
	r.mu.Unlock()
}

func (r *Report) addAction(status models.HistoryStatus) {
	r.mu.Lock()
	r.Actions[string(status)]++
	r.mu.Unlock()
}

func (r *Report) addError(resource string, id interface{}, err error) {
	itemErr := &ItemError{Resource: resource, ID: fmt.Sprint(id), Err: err}
	r.mu.Lock()
	r.Errors = append(r.Errors, itemErr)
	r.Messages = append(r.Messages, itemErr.Error())
	r.mu.Unlock()
}

func (r *Report) needsRelogin(accountID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.NeedsRelogin {
		if id == accountID {
			return
		}
	}
	r.NeedsRelogin = append(r.NeedsRelogin, accountID)
}

// Err returns the first recorded item error, if any
func (r *Report) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

func isAuthError(err error) bool {
	return errors.Is(err, tracker.ErrSessionExpired)
}
