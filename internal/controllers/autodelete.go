package controllers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/metrics"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/services/downloader"
	"github.com/spellyaohui/NicePT-Helper/internal/utils"
	"golang.org/x/sync/errgroup"
)

// Policy selects which retention sub-policies a sweep applies
type Policy uint8

const (
	PolicyUnregistered Policy = 1 << iota
	PolicyExpired             // Includes the non-free sub-policy
	PolicyCapacity

	PolicyAll = PolicyUnregistered | PolicyExpired | PolicyCapacity
)

// Has reports whether p includes every bit of q
func (p Policy) Has(q Policy) bool { return p&q == q }

// AutoDeleteEngine applies the retention policy to dispatched torrents
type AutoDeleteEngine struct {
	db      *models.Database
	clients Clients
	locker  *utils.KeyedLocker
	logger  *logrus.Logger
	now     func() time.Time
}

// NewAutoDeleteEngine creates a retention engine
func NewAutoDeleteEngine(db *models.Database, clients Clients, locker *utils.KeyedLocker, logger *logrus.Logger) *AutoDeleteEngine {
	return &AutoDeleteEngine{
		db:      db,
		clients: clients,
		locker:  locker,
		logger:  logger,
		now:     time.Now,
	}
}

// exemption is the H&R standing of one history item
type exemption struct {
	settled   bool // reached or pardoned, skipped by every action
	obligated bool // must keep seeding, never deleted
}

func exemptionFor(index map[models.HRKey]models.HRStatus, item *models.HistoryItem) exemption {
	if status, ok := index[hrKey(item.AccountID, item.TorrentID)]; ok {
		return exemption{settled: status.Settled(), obligated: status.Obligated()}
	}
	return exemption{obligated: item.HasHR}
}

// Sweep applies the selected sub-policies to every active history item, one downloader at a time
func (e *AutoDeleteEngine) Sweep(ctx context.Context, policies Policy) (*Report, error) {
	report := NewReport()

	cfg, err := e.db.GetAutoDeleteConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load auto-delete config: %w", err)
	}
	if !cfg.Enabled {
		e.logger.Debug("Auto-delete disabled, skipping sweep")
		return report, nil
	}

	items, err := e.db.ActiveHistory()
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	index, err := e.db.HRIndex()
	if err != nil {
		return nil, fmt.Errorf("failed to load H&R records: %w", err)
	}

	groups, order := groupByDownloader(items)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(len(order), 1))
	for _, id := range order {
		id := id
		g.Go(func() error {
			if err := e.sweepDownloader(gctx, cfg, policies, id, groups[id], index, report); err != nil {
				e.logger.WithError(err).WithField("downloader_id", id).Warn("Auto-delete sweep failed for downloader")
				report.addError("downloader", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	e.logger.WithFields(logrus.Fields{
		"processed": report.Processed,
		"changed":   report.Changed,
	}).Info("Auto-delete sweep complete")
	return report, nil
}

func (e *AutoDeleteEngine) sweepDownloader(ctx context.Context, cfg models.AutoDeleteConfig, policies Policy, downloaderID uint64, items []*models.HistoryItem, index map[models.HRKey]models.HRStatus, report *Report) error {
	dl, err := e.db.GetDownloader(downloaderID)
	if err != nil {
		return err
	}
	unlock, err := e.locker.Lock(ctx, dl.LockKey())
	if err != nil {
		return err
	}
	defer unlock()

	dc, err := e.clients.Downloader(dl)
	if err != nil {
		return err
	}
	torrents, err := dc.List(ctx)
	if err != nil {
		return err
	}
	byHash := make(map[string]downloader.Torrent, len(torrents))
	for _, t := range torrents {
		byHash[t.Hash] = t
	}

	now := e.now()
	used := downloader.UsedSpace(torrents)
	var remaining []*models.HistoryItem
	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report.addProcessed(1)

		ex := exemptionFor(index, item)
		if ex.settled {
			continue
		}
		t, ok := byHash[item.InfoHash]
		if !ok {
			continue
		}

		status, act := e.decide(cfg, policies, item, t, ex, now)
		if !act {
			if !ex.obligated {
				remaining = append(remaining, item)
			}
			continue
		}
		if err := e.apply(ctx, dc, item, status); err != nil {
			report.addError("history", item.ID, err)
			continue
		}
		report.addChanged(1)
		report.addAction(status)
		if status != models.HistoryPaused {
			used -= t.Size
		}
		delete(byHash, item.InfoHash)
	}

	if policies.Has(PolicyCapacity) && cfg.DynamicDeleteEnabled {
		return e.enforceCapacity(ctx, cfg, dc, remaining, byHash, used, report)
	}
	return nil
}

// decide returns the status an item should move to, the first matching sub-policy winning
// The non-free policy deletes any download without a free promotion, so twoup,
// halfdown and thirtypercent items are deleted too, not only unpromoted ones.
func (e *AutoDeleteEngine) decide(cfg models.AutoDeleteConfig, policies Policy, item *models.HistoryItem, t downloader.Torrent, ex exemption, now time.Time) (models.HistoryStatus, bool) {
	if policies.Has(PolicyUnregistered) && cfg.DeleteUnregistered && !ex.obligated &&
		(t.Unregistered || downloader.IsUnregistered(t.TrackerMessage)) {
		return models.HistoryUnregisteredDeleted, true
	}

	if !policies.Has(PolicyExpired) {
		return "", false
	}
	if cfg.DeleteExpired && item.DiscountExpired(now) {
		return expiredStatus(cfg, ex), true
	}
	if cfg.DeleteNonFree && !ex.obligated &&
		item.Status == models.HistoryDownloading && !item.DiscountType.IsFree() {
		return models.HistoryDeleted, true
	}
	return "", false
}

func expiredStatus(cfg models.AutoDeleteConfig, ex exemption) models.HistoryStatus {
	if ex.obligated || cfg.ExpiredAction == models.ExpiredActionPause {
		return models.HistoryPaused
	}
	return models.HistoryExpiredDeleted
}

// apply performs the client call for a status change and persists it
func (e *AutoDeleteEngine) apply(ctx context.Context, dc DownloaderClient, item *models.HistoryItem, status models.HistoryStatus) error {
	var err error
	if status == models.HistoryPaused {
		err = dc.Pause(ctx, item.InfoHash)
	} else {
		err = dc.Remove(ctx, item.InfoHash, true)
	}
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"history_id": item.ID,
			"title":      item.Title,
			"action":     status,
		}).Warn("Downloader call failed, leaving torrent for the next pass")
		return err
	}

	item.Status = status
	if err := e.db.UpdateHistory(item); err != nil {
		return fmt.Errorf("torrent %s but history not saved: %w", status, err)
	}
	metrics.AutoDeleteActions.WithLabelValues(string(status)).Inc()
	e.logger.WithFields(logrus.Fields{
		"history_id": item.ID,
		"title":      item.Title,
		"size":       utils.FormatSize(item.Size),
		"action":     status,
	}).Info("Retention action applied")
	return nil
}

// enforceCapacity deletes the oldest seeding items until used space drops to the target
func (e *AutoDeleteEngine) enforceCapacity(ctx context.Context, cfg models.AutoDeleteConfig, dc DownloaderClient, candidates []*models.HistoryItem, present map[string]downloader.Torrent, used int64, report *Report) error {
	maxBytes, target := cfg.MaxBytes(), cfg.TargetBytes()
	if used < maxBytes {
		return nil
	}

	var eligible []*models.HistoryItem
	for _, item := range candidates {
		t, ok := present[item.InfoHash]
		if !ok {
			continue
		}
		if item.Status == models.HistorySeeding || t.State == downloader.StateSeeding {
			eligible = append(eligible, item)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i].AgeKey(), eligible[j].AgeKey()
		if !a.Equal(b) {
			return a.Before(b)
		}
		return eligible[i].ID < eligible[j].ID
	})

	e.logger.WithFields(logrus.Fields{
		"used":     utils.FormatSize(used),
		"max":      utils.FormatSize(maxBytes),
		"target":   utils.FormatSize(target),
		"eligible": len(eligible),
	}).Info("Disk usage over threshold, deleting oldest seeding torrents")

	for _, item := range eligible {
		if used <= target {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		size := present[item.InfoHash].Size
		if err := e.apply(ctx, dc, item, models.HistoryDynamicDeleted); err != nil {
			report.addError("history", item.ID, err)
			continue
		}
		report.addChanged(1)
		report.addAction(models.HistoryDynamicDeleted)

		estimate := used - size
		used = estimate
		if torrents, err := dc.List(ctx); err == nil {
			if requeried := downloader.UsedSpace(torrents); requeried < estimate {
				used = requeried
			}
		}
	}
	return nil
}

// ExpiryLead is how long before the promotion end HandleExpiry already acts
const ExpiryLead = time.Minute

// HandleExpiry applies the expired sub-policy to one item whose promotion ends within ExpiryLead
// It returns false when the item needed no action.
func (e *AutoDeleteEngine) HandleExpiry(ctx context.Context, historyID uint64) (bool, error) {
	cfg, err := e.db.GetAutoDeleteConfig()
	if err != nil {
		return false, err
	}
	if !cfg.Enabled || !cfg.DeleteExpired {
		return false, nil
	}

	item, err := e.db.GetHistory(historyID)
	if err != nil {
		return false, err
	}
	if !item.Status.IsActive() || !item.DiscountEndsWithin(e.now(), ExpiryLead) {
		return false, nil
	}

	index, err := e.db.HRIndex()
	if err != nil {
		return false, err
	}
	ex := exemptionFor(index, item)
	if ex.settled {
		return false, nil
	}

	dl, err := e.db.GetDownloader(item.DownloaderID)
	if err != nil {
		return false, err
	}
	unlock, err := e.locker.Lock(ctx, dl.LockKey())
	if err != nil {
		return false, err
	}
	defer unlock()

	// Re-read under the lock, a sweep may have acted first
	if item, err = e.db.GetHistory(historyID); err != nil {
		return false, err
	}
	if !item.Status.IsActive() {
		return false, nil
	}

	dc, err := e.clients.Downloader(dl)
	if err != nil {
		return false, err
	}
	if err := e.apply(ctx, dc, item, expiredStatus(cfg, ex)); err != nil {
		return false, err
	}
	return true, nil
}
