package controllers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/config"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/services/downloader"
	"github.com/spellyaohui/NicePT-Helper/internal/services/tracker"
)

// TrackerClient is what the engines need from a tracker session
type TrackerClient interface {
	Search(ctx context.Context, params tracker.SearchParams) ([]tracker.Torrent, error)
	Bookmarks(ctx context.Context) ([]tracker.Torrent, error)
	DownloadTorrent(ctx context.Context, torrentID string) ([]byte, error)
	FetchHRList(ctx context.Context, status tracker.HRStatus) ([]tracker.HRItem, error)
	RequestPardon(ctx context.Context, hrID int) (string, error)
	FetchAccountStats(ctx context.Context, uid string) (*tracker.UserStats, error)
	FetchPasskey(ctx context.Context) (string, error)
}

// DownloaderClient is what the engines need from a torrent client
type DownloaderClient = downloader.Client

// Clients resolves stored resources to live clients
type Clients interface {
	Tracker(account *models.Account) (TrackerClient, error)
	Downloader(dl *models.Downloader) (DownloaderClient, error)
}

type cachedTracker struct {
	fingerprint string
	client      *tracker.Client
}

type cachedDownloader struct {
	fingerprint string
	client      downloader.Client
}

// ClientFactory builds and caches clients per resource
// A tracker client is reused across jobs so request spacing holds per account.
type ClientFactory struct {
	cfg    *config.Config
	logger *logrus.Logger

	mu          sync.Mutex
	trackers    map[uint64]cachedTracker
	downloaders map[uint64]cachedDownloader
}

// NewClientFactory creates a client factory
func NewClientFactory(cfg *config.Config, logger *logrus.Logger) *ClientFactory {
	return &ClientFactory{
		cfg:         cfg,
		logger:      logger,
		trackers:    make(map[uint64]cachedTracker),
		downloaders: make(map[uint64]cachedDownloader),
	}
}

func (f *ClientFactory) Tracker(account *models.Account) (TrackerClient, error) {
	fingerprint := account.SiteURL + "|" + account.Cookie + "|" + account.Passkey

	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.trackers[account.ID]; ok && cached.fingerprint == fingerprint {
		return cached.client, nil
	}

	client, err := tracker.NewClient(tracker.Options{
		SiteURL:      account.SiteURL,
		Cookie:       account.Cookie,
		Passkey:      account.Passkey,
		UserAgent:    f.cfg.UserAgent,
		Timeout:      f.cfg.RequestTimeout,
		RequestDelay: f.cfg.RequestDelay,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", account.ID, err)
	}
	f.trackers[account.ID] = cachedTracker{fingerprint: fingerprint, client: client}
	return client, nil
}

func (f *ClientFactory) Downloader(dl *models.Downloader) (DownloaderClient, error) {
	cfg := DownloaderConfig(dl, f.cfg.DownloaderTimeout)
	fingerprint := fmt.Sprintf("%s|%s|%d|%s|%s|%t", cfg.Type, cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.UseSSL)

	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.downloaders[dl.ID]; ok && cached.fingerprint == fingerprint {
		return cached.client, nil
	}

	client, err := downloader.New(cfg, f.logger)
	if err != nil {
		return nil, fmt.Errorf("downloader %d: %w", dl.ID, err)
	}
	f.downloaders[dl.ID] = cachedDownloader{fingerprint: fingerprint, client: client}
	return client, nil
}

// DownloaderConfig maps a stored downloader to client settings
func DownloaderConfig(dl *models.Downloader, timeout time.Duration) downloader.Config {
	return downloader.Config{
		Type:     string(dl.Type),
		Host:     dl.Host,
		Port:     dl.Port,
		Username: dl.Username,
		Password: dl.Password,
		UseSSL:   dl.UseSSL,
		Timeout:  timeout,
	}
}
