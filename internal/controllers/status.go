package controllers

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/services/downloader"
	"github.com/spellyaohui/NicePT-Helper/internal/utils"
	"golang.org/x/sync/errgroup"
)

var clientStatus = map[downloader.State]models.HistoryStatus{
	downloader.StateDownloading: models.HistoryDownloading,
	downloader.StateSeeding:     models.HistorySeeding,
	downloader.StatePaused:      models.HistoryPaused,
	downloader.StateError:       models.HistoryError,
}

// StatusSyncer copies downloader state onto active history items
type StatusSyncer struct {
	db      *models.Database
	clients Clients
	locker  *utils.KeyedLocker
	logger  *logrus.Logger
	now     func() time.Time
}

// NewStatusSyncer creates a status syncer
func NewStatusSyncer(db *models.Database, clients Clients, locker *utils.KeyedLocker, logger *logrus.Logger) *StatusSyncer {
	return &StatusSyncer{
		db:      db,
		clients: clients,
		locker:  locker,
		logger:  logger,
		now:     time.Now,
	}
}

// Sync updates every active history item from its downloader
// Items the downloader no longer has are marked deleted.
func (s *StatusSyncer) Sync(ctx context.Context) (*Report, error) {
	items, err := s.db.ActiveHistory()
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	report := NewReport()
	groups, order := groupByDownloader(items)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(len(order), 1))
	for _, id := range order {
		id := id
		g.Go(func() error {
			if err := s.syncDownloader(gctx, id, groups[id], report); err != nil {
				s.logger.WithError(err).WithField("downloader_id", id).Warn("Status sync failed for downloader")
				report.addError("downloader", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.WithFields(logrus.Fields{
		"processed": report.Processed,
		"changed":   report.Changed,
	}).Info("Status sync complete")
	return report, nil
}

func (s *StatusSyncer) syncDownloader(ctx context.Context, downloaderID uint64, items []*models.HistoryItem, report *Report) error {
	dl, err := s.db.GetDownloader(downloaderID)
	if err != nil {
		return err
	}
	unlock, err := s.locker.Lock(ctx, dl.LockKey())
	if err != nil {
		return err
	}
	defer unlock()

	dc, err := s.clients.Downloader(dl)
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

	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report.addProcessed(1)
		if item.InfoHash == "" {
			continue
		}

		next := models.HistoryDeleted
		t, ok := byHash[item.InfoHash]
		if ok {
			status, known := clientStatus[t.State]
			if !known {
				continue
			}
			next = status
		}
		if next == item.Status {
			continue
		}

		prev := item.Status
		item.Status = next
		if next == models.HistorySeeding && item.CompletedAt == nil {
			completed := t.CompletedAt
			if completed.IsZero() {
				completed = s.now()
			}
			item.CompletedAt = &completed
		}
		if err := s.db.UpdateHistory(item); err != nil {
			report.addError("history", item.ID, err)
			continue
		}
		report.addChanged(1)

		entry := s.logger.WithFields(logrus.Fields{
			"history_id": item.ID,
			"torrent_id": item.TorrentID,
			"from":       prev,
			"to":         next,
		})
		if next == models.HistoryDeleted {
			entry.Info("Torrent no longer in downloader, marked deleted")
		} else {
			entry.Debug("History status updated")
		}
	}
	return nil
}

func groupByDownloader(items []*models.HistoryItem) (map[uint64][]*models.HistoryItem, []uint64) {
	groups := make(map[uint64][]*models.HistoryItem)
	var order []uint64
	for _, item := range items {
		if item.DownloaderID == 0 {
			continue
		}
		if _, ok := groups[item.DownloaderID]; !ok {
			order = append(order, item.DownloaderID)
		}
		groups[item.DownloaderID] = append(groups[item.DownloaderID], item)
	}
	return groups, order
}
