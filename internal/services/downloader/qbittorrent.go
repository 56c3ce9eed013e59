package downloader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/autobrr/go-qbittorrent"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

type qbitClient struct {
	client  *qbittorrent.Client
	timeout time.Duration
	logger  *logrus.Logger

	mu       sync.Mutex
	loggedIn bool
}

func newQBittorrent(cfg Config, logger *logrus.Logger) *qbitClient {
	client := qbittorrent.NewClient(qbittorrent.Config{
		Host:     cfg.BaseURL(),
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  int(cfg.Timeout.Seconds()),
	})
	return &qbitClient{
		client:  client,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// login authenticates once; the library re-authenticates on 403 afterwards
func (q *qbitClient) login(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.loggedIn {
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 1), ctx)
	if err := backoff.Retry(func() error { return q.client.LoginCtx(ctx) }, b); err != nil {
		return fmt.Errorf("failed to connect to qBittorrent: %w", err)
	}
	q.loggedIn = true
	return nil
}

func (q *qbitClient) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	if err := q.login(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

func (q *qbitClient) Add(ctx context.Context, torrent []byte, savePath, tags string) error {
	options := map[string]string{}
	if savePath != "" {
		options["savepath"] = savePath
	}
	if tags != "" {
		options["tags"] = tags
	}
	return q.call(ctx, func(ctx context.Context) error {
		if err := q.client.AddTorrentFromMemoryCtx(ctx, torrent, options); err != nil {
			return fmt.Errorf("failed to add torrent: %w", err)
		}
		return nil
	})
}

func (q *qbitClient) Remove(ctx context.Context, hash string, deleteFiles bool) error {
	return q.call(ctx, func(ctx context.Context) error {
		if err := q.client.DeleteTorrentsCtx(ctx, []string{hash}, deleteFiles); err != nil {
			return fmt.Errorf("failed to delete torrent %s: %w", hash, err)
		}
		return nil
	})
}

func (q *qbitClient) Pause(ctx context.Context, hash string) error {
	return q.call(ctx, func(ctx context.Context) error {
		if err := q.client.PauseCtx(ctx, []string{hash}); err != nil {
			return fmt.Errorf("failed to pause torrent %s: %w", hash, err)
		}
		return nil
	})
}

func (q *qbitClient) List(ctx context.Context) ([]Torrent, error) {
	var out []Torrent
	err := q.call(ctx, func(ctx context.Context) error {
		torrents, err := q.client.GetTorrentsCtx(ctx, qbittorrent.TorrentFilterOptions{})
		if err != nil {
			return fmt.Errorf("failed to get torrents: %w", err)
		}

		out = make([]Torrent, 0, len(torrents))
		for _, t := range torrents {
			item := Torrent{
				Hash:          strings.ToLower(t.Hash),
				Name:          t.Name,
				State:         qbitState(string(t.State)),
				Size:          int64(t.Size),
				Progress:      float64(t.Progress),
				Uploaded:      int64(t.Uploaded),
				Ratio:         float64(t.Ratio),
				UploadSpeed:   int64(t.UpSpeed),
				DownloadSpeed: int64(t.DlSpeed),
				AddedAt:       time.Unix(int64(t.AddedOn), 0),
				SavePath:      t.SavePath,
			}
			if t.CompletionOn > 0 {
				item.CompletedAt = time.Unix(int64(t.CompletionOn), 0)
			}
			// An empty tracker means no tracker is working; ask why
			if t.Tracker == "" {
				item.TrackerMessage = q.trackerMessage(ctx, t.Hash)
				item.Unregistered = IsUnregistered(item.TrackerMessage)
			}
			out = append(out, item)
		}
		return nil
	})
	return out, err
}

func (q *qbitClient) trackerMessage(ctx context.Context, hash string) string {
	trackers, err := q.client.GetTorrentTrackersCtx(ctx, hash)
	if err != nil {
		q.logger.WithError(err).WithField("hash", hash).Debug("Failed to get torrent trackers")
		return ""
	}
	for _, tr := range trackers {
		// Skip the DHT, PeX and LSD pseudo trackers
		if strings.HasPrefix(tr.Url, "** [") {
			continue
		}
		if tr.Message != "" {
			return tr.Message
		}
	}
	return ""
}

func (q *qbitClient) FreeSpace(ctx context.Context) (int64, error) {
	var free int64
	err := q.call(ctx, func(ctx context.Context) error {
		data, err := q.client.SyncMainDataCtx(ctx, 0)
		if err != nil {
			return fmt.Errorf("failed to get free space: %w", err)
		}
		free = int64(data.ServerState.FreeSpaceOnDisk)
		return nil
	})
	return free, err
}

func (q *qbitClient) Probe(ctx context.Context) (string, error) {
	var version string
	err := q.call(ctx, func(ctx context.Context) error {
		v, err := q.client.GetAppVersionCtx(ctx)
		if err != nil {
			return fmt.Errorf("failed to get qBittorrent version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

func (q *qbitClient) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := q.call(ctx, func(ctx context.Context) error {
		info, err := q.client.GetTransferInfoCtx(ctx)
		if err != nil {
			return fmt.Errorf("failed to get transfer info: %w", err)
		}
		stats.UploadSpeed = int64(info.UpInfoSpeed)
		stats.DownloadSpeed = int64(info.DlInfoSpeed)
		return nil
	})
	if err != nil {
		return nil, err
	}

	torrents, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	stats.Downloading, stats.Seeding = Summarize(torrents)
	stats.Total = len(torrents)

	if stats.FreeSpace, err = q.FreeSpace(ctx); err != nil {
		q.logger.WithError(err).Debug("Free space unavailable")
	}
	return stats, nil
}

func qbitState(state string) State {
	switch state {
	case "downloading", "stalledDL", "metaDL", "forcedDL", "queuedDL", "checkingDL", "allocating", "forcedMetaDL":
		return StateDownloading
	case "uploading", "stalledUP", "forcedUP", "queuedUP", "checkingUP":
		return StateSeeding
	case "pausedDL", "pausedUP", "stoppedDL", "stoppedUP":
		return StatePaused
	case "error", "missingFiles":
		return StateError
	}
	return StateUnknown
}
