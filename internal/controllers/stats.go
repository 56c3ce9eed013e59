package controllers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
)

const recentHistoryLimit = 10

// StatsCollector samples transfer totals and serves dashboard figures
type StatsCollector struct {
	db        *models.Database
	clients   Clients
	retention time.Duration
	logger    *logrus.Logger
	now       func() time.Time
}

// NewStatsCollector creates a stats collector keeping samples for retention
func NewStatsCollector(db *models.Database, clients Clients, retention time.Duration, logger *logrus.Logger) *StatsCollector {
	return &StatsCollector{
		db:        db,
		clients:   clients,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Snapshot records one trend point and prunes points older than the retention window
// Totals come from the stored account counters, speeds from live downloaders.
func (c *StatsCollector) Snapshot(ctx context.Context) (*models.TrendPoint, error) {
	accounts, err := c.db.ActiveAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	downloaders, err := c.db.ListDownloaders()
	if err != nil {
		return nil, fmt.Errorf("failed to load downloaders: %w", err)
	}

	point := &models.TrendPoint{Timestamp: c.now().UTC()}
	for _, a := range accounts {
		point.Uploaded += a.Uploaded
		point.Downloaded += a.Downloaded
	}
	for _, dl := range downloaders {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		dc, err := c.clients.Downloader(dl)
		if err != nil {
			c.logger.WithError(err).WithField("downloader", dl.Name).Warn("Skipping downloader in snapshot")
			continue
		}
		stats, err := dc.Stats(ctx)
		if err != nil {
			c.logger.WithError(err).WithField("downloader", dl.Name).Warn("Skipping downloader in snapshot")
			continue
		}
		point.UploadSpeed += stats.UploadSpeed
		point.DownloadSpeed += stats.DownloadSpeed
	}

	if err := c.db.AddTrendPoint(point); err != nil {
		return nil, fmt.Errorf("failed to store trend point: %w", err)
	}
	pruned, err := c.db.PruneTrend(point.Timestamp.Add(-c.retention))
	if err != nil {
		c.logger.WithError(err).Warn("Failed to prune trend points")
	}
	c.logger.WithFields(logrus.Fields{
		"accounts":    len(accounts),
		"downloaders": len(downloaders),
		"pruned":      pruned,
	}).Debug("Stats snapshot stored")
	return point, nil
}

// Trend returns samples of the last hours, merged per minute
// Totals within a minute are summed and speeds take the maximum.
func (c *StatsCollector) Trend(hours int) ([]*models.TrendPoint, error) {
	if hours <= 0 {
		hours = 24
	}
	points, err := c.db.TrendSince(c.now().UTC().Add(-time.Duration(hours) * time.Hour))
	if err != nil {
		return nil, err
	}
	return aggregatePerMinute(points), nil
}

func aggregatePerMinute(points []*models.TrendPoint) []*models.TrendPoint {
	buckets := make(map[time.Time]*models.TrendPoint)
	var keys []time.Time
	for _, p := range points {
		key := p.Timestamp.Truncate(time.Minute)
		b, ok := buckets[key]
		if !ok {
			b = &models.TrendPoint{Timestamp: key}
			buckets[key] = b
			keys = append(keys, key)
		}
		b.Uploaded += p.Uploaded
		b.Downloaded += p.Downloaded
		b.UploadSpeed = max(b.UploadSpeed, p.UploadSpeed)
		b.DownloadSpeed = max(b.DownloadSpeed, p.DownloadSpeed)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	out := make([]*models.TrendPoint, 0, len(keys))
	for _, k := range keys {
		out = append(out, buckets[k])
	}
	return out
}

// DashboardStats are the counts shown on the dashboard
type DashboardStats struct {
	Accounts       int                   `json:"accounts"`
	ActiveAccounts int                   `json:"active_accounts"`
	Rules          int                   `json:"rules"`
	EnabledRules   int                   `json:"enabled_rules"`
	Downloaders    int                   `json:"downloaders"`
	History        HistoryCounts         `json:"history"`
	Uploaded       int64                 `json:"uploaded"`
	Downloaded     int64                 `json:"downloaded"`
	Recent         []*models.HistoryItem `json:"recent"`
}

// HistoryCounts breaks history down by lifecycle state
type HistoryCounts struct {
	Total       int `json:"total"`
	Downloading int `json:"downloading"`
	Seeding     int `json:"seeding"`
	Paused      int `json:"paused"`
	Removed     int `json:"removed"`
}

// Dashboard gathers the dashboard counts and the most recent history items
func (c *StatsCollector) Dashboard() (*DashboardStats, error) {
	accounts, err := c.db.ListAccounts()
	if err != nil {
		return nil, err
	}
	rules, err := c.db.ListRules()
	if err != nil {
		return nil, err
	}
	downloaders, err := c.db.ListDownloaders()
	if err != nil {
		return nil, err
	}
	counts, total, err := c.db.CountHistory()
	if err != nil {
		return nil, err
	}
	recent, _, err := c.db.ListHistory("", 1, recentHistoryLimit)
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		Accounts:    len(accounts),
		Rules:       len(rules),
		Downloaders: len(downloaders),
		Recent:      recent,
	}
	for _, a := range accounts {
		if a.IsActive {
			stats.ActiveAccounts++
			stats.Uploaded += a.Uploaded
			stats.Downloaded += a.Downloaded
		}
	}
	for _, r := range rules {
		if r.Enabled {
			stats.EnabledRules++
		}
	}

	stats.History.Total = total
	for status, n := range counts {
		switch {
		case status == models.HistoryDownloading:
			stats.History.Downloading += n
		case status == models.HistorySeeding || status == models.HistoryCompleted:
			stats.History.Seeding += n
		case status == models.HistoryPaused:
			stats.History.Paused += n
		case status.IsRemoved():
			stats.History.Removed += n
		}
	}
	return stats, nil
}
