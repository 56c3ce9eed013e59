package controllers

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/metrics"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/services/tracker"
	"github.com/spellyaohui/NicePT-Helper/internal/utils"
	"golang.org/x/sync/errgroup"
)

var trackerHRStatus = map[tracker.HRStatus]models.HRStatus{
	tracker.HRInspecting: models.HRInspecting,
	tracker.HRReached:    models.HRReached,
	tracker.HRUnreached:  models.HRUnreached,
	tracker.HRPardoned:   models.HRPardoned,
}

// HRTracker mirrors tracker H&R obligations into the store
type HRTracker struct {
	db      *models.Database
	clients Clients
	locker  *utils.KeyedLocker
	logger  *logrus.Logger
}

// NewHRTracker creates an H&R tracker
func NewHRTracker(db *models.Database, clients Clients, locker *utils.KeyedLocker, logger *logrus.Logger) *HRTracker {
	return &HRTracker{
		db:      db,
		clients: clients,
		locker:  locker,
		logger:  logger,
	}
}

// SyncAll syncs every active account concurrently
func (h *HRTracker) SyncAll(ctx context.Context) (*Report, error) {
	accounts, err := h.db.ActiveAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	report := NewReport()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(len(accounts), 1))
	for _, account := range accounts {
		account := account
		g.Go(func() error {
			changed, err := h.Sync(gctx, account)
			report.addProcessed(1)
			report.addChanged(changed)
			if err != nil {
				if isAuthError(err) {
					report.needsRelogin(account.ID)
				}
				report.addError("account", account.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

// Sync fetches every status list for one account and upserts the records
// Returns the number of records created or changed.
func (h *HRTracker) Sync(ctx context.Context, account *models.Account) (int, error) {
	unlock, err := h.locker.Lock(ctx, account.LockKey())
	if err != nil {
		return 0, err
	}
	defer unlock()

	tc, err := h.clients.Tracker(account)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, status := range tracker.HRStatuses {
		items, err := tc.FetchHRList(ctx, status)
		if err != nil {
			return changed, fmt.Errorf("failed to fetch %s H&R list: %w", status, err)
		}
		for _, item := range items {
			ok, err := h.upsert(account, item, trackerHRStatus[status])
			if err != nil {
				return changed, err
			}
			if ok {
				changed++
			}
		}
	}

	metrics.HRChanges.Add(float64(changed))
	h.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"changed":    changed,
	}).Info("H&R sync complete")
	return changed, nil
}

func (h *HRTracker) upsert(account *models.Account, item tracker.HRItem, status models.HRStatus) (bool, error) {
	incoming := &models.HRRecord{
		AccountID:        account.ID,
		HRID:             item.HRID,
		TorrentID:        item.TorrentID,
		TorrentName:      item.TorrentName,
		Uploaded:         item.Uploaded,
		Downloaded:       item.Downloaded,
		ShareRatio:       item.ShareRatio,
		SeedTimeRequired: item.SeedTimeRequired,
		CompletedAt:      item.CompletedAt,
		InspectTimeLeft:  item.InspectTimeLeft,
		Comment:          item.Comment,
		Status:           status,
	}

	existing, err := h.db.FindHR(account.ID, item.HRID)
	if errors.Is(err, models.ErrNotFound) {
		return true, h.db.CreateHR(incoming)
	}
	if err != nil {
		return false, err
	}
	if existing.SameAs(incoming) {
		return false, nil
	}

	if existing.Status != status && !models.CanTransition(existing.Status, status) {
		h.logger.WithFields(logrus.Fields{
			"hr_id": item.HRID,
			"from":  existing.Status,
			"to":    status,
		}).Warn("Tracker reported an unusual H&R transition, accepting it")
	}

	incoming.ID = existing.ID
	return true, h.db.UpdateHR(incoming)
}

// Pardon asks the tracker to waive an obligation using bonus points
// The tracker's refusal message is returned as a *tracker.PardonRejectedError.
func (h *HRTracker) Pardon(ctx context.Context, id uint64) (string, error) {
	record, err := h.db.GetHR(id)
	if err != nil {
		return "", err
	}
	account, err := h.db.GetAccount(record.AccountID)
	if err != nil {
		return "", fmt.Errorf("account %d: %w", record.AccountID, err)
	}

	unlock, err := h.locker.Lock(ctx, account.LockKey())
	if err != nil {
		return "", err
	}
	defer unlock()

	// Re-read under the lock, a concurrent pardon may have settled it
	if record, err = h.db.GetHR(id); err != nil {
		return "", err
	}
	if !models.CanTransition(record.Status, models.HRPardoned) {
		return "", ErrPardonNotAllowed
	}

	tc, err := h.clients.Tracker(account)
	if err != nil {
		return "", err
	}
	message, err := tc.RequestPardon(ctx, record.HRID)
	if err != nil {
		h.logger.WithError(err).WithField("hr_id", record.HRID).Warn("Pardon request failed")
		return "", err
	}

	record.Status = models.HRPardoned
	if err := h.db.UpdateHR(record); err != nil {
		return "", err
	}
	h.logger.WithFields(logrus.Fields{
		"hr_id":   record.HRID,
		"torrent": record.TorrentName,
	}).Info("H&R pardoned")
	return message, nil
}

// List returns one page of records
func (h *HRTracker) List(filter models.HRFilter) ([]*models.HRRecord, int, error) {
	return h.db.ListHR(filter)
}

// Summary counts records per status, keyed by status name
func (h *HRTracker) Summary(accountID uint64) (map[string]int, error) {
	counts, err := h.db.HRSummary(accountID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(counts)+1)
	total := 0
	for status, n := range counts {
		out[string(status)] = n
		total += n
	}
	out["total"] = total
	return out, nil
}

func hrKey(accountID uint64, torrentID string) models.HRKey {
	return models.HRKey{AccountID: accountID, TorrentID: torrentID}
}
