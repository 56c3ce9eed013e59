package models

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRulesOrderedBySortOrderThenCreation(t *testing.T) {
	db := newTestDB(t)

	for _, r := range []*Rule{
		{Name: "late", SortOrder: 2, Enabled: true},
		{Name: "first-a", SortOrder: 1, Enabled: true},
		{Name: "off", SortOrder: 0, Enabled: false},
		{Name: "first-b", SortOrder: 1, Enabled: true},
	} {
		require.NoError(t, db.CreateRule(r))
	}

	rules, err := db.EnabledRules()
	require.NoError(t, err)
	var names []string
	for _, r := range rules {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"first-a", "first-b", "late"}, names)
}

func TestDefaultDownloaderIsExclusive(t *testing.T) {
	db := newTestDB(t)

	a := &Downloader{Name: "a", Type: DownloaderQBittorrent, IsDefault: true}
	b := &Downloader{Name: "b", Type: DownloaderTransmission, IsDefault: true}
	require.NoError(t, db.CreateDownloader(a))
	require.NoError(t, db.CreateDownloader(b))

	def, err := db.DefaultDownloader()
	require.NoError(t, err)
	assert.Equal(t, b.ID, def.ID)

	a, err = db.GetDownloader(a.ID)
	require.NoError(t, err)
	assert.False(t, a.IsDefault)
}

func TestActiveHistoryAndRuleCount(t *testing.T) {
	db := newTestDB(t)

	items := []*HistoryItem{
		{TorrentID: "1", RuleID: 7, AccountID: 1, Status: HistoryDownloading},
		{TorrentID: "2", RuleID: 7, AccountID: 1, Status: HistorySeeding},
		{TorrentID: "3", RuleID: 7, AccountID: 1, Status: HistoryExpiredDeleted},
		{TorrentID: "4", RuleID: 8, AccountID: 2, Status: HistoryDownloading},
	}
	for _, item := range items {
		require.NoError(t, db.CreateHistory(item))
	}

	count, err := db.CountActiveForRule(7)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	active, err := db.ActiveHistory()
	require.NoError(t, err)
	assert.Len(t, active, 3)

	ids, err := db.HistoryTorrentIDs(1)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"1": true, "2": true, "3": true}, ids)

	page, total, err := db.ListHistory(HistoryDownloading, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, "4", page[0].TorrentID, "newest first")
}

func TestSettingsDefaultsAndValidation(t *testing.T) {
	db := newTestDB(t)

	cfg, err := db.GetAutoDeleteConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultAutoDeleteConfig(), cfg)

	cfg.DiskTargetGB = cfg.DiskMaxGB
	err = db.SaveAutoDeleteConfig(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	stored, err := db.GetAutoDeleteConfig()
	require.NoError(t, err)
	assert.Equal(t, 8000.0, stored.DiskTargetGB, "rejected config must not replace the stored one")

	cfg.DiskTargetGB = 500
	cfg.DiskMaxGB = 1000
	cfg.Enabled = true
	require.NoError(t, db.SaveAutoDeleteConfig(cfg))
	stored, err = db.GetAutoDeleteConfig()
	require.NoError(t, err)
	assert.True(t, stored.Enabled)
	assert.Equal(t, int64(1000)<<30, stored.MaxBytes())

	sched, err := db.GetScheduleConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, sched.Intervals.AutoDownload)
	assert.False(t, sched.Control.AutoDownload)

	sched.Intervals.StatusSync = 0
	assert.ErrorIs(t, db.SaveScheduleConfig(sched), ErrInvalidConfig)
}

func TestHRSummaryAndIndex(t *testing.T) {
	db := newTestDB(t)

	for _, r := range []*HRRecord{
		{AccountID: 1, HRID: 10, TorrentID: "100", Status: HRInspecting},
		{AccountID: 1, HRID: 11, TorrentID: "101", Status: HRReached},
		{AccountID: 2, HRID: 12, TorrentID: "100", Status: HRPardoned},
	} {
		require.NoError(t, db.CreateHR(r))
	}

	summary, err := db.HRSummary(0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary[HRInspecting])
	assert.Equal(t, 1, summary[HRReached])
	assert.Equal(t, 0, summary[HRUnreached])
	assert.Equal(t, 1, summary[HRPardoned])

	index, err := db.HRIndex()
	require.NoError(t, err)
	assert.Equal(t, HRInspecting, index[HRKey{AccountID: 1, TorrentID: "100"}])
	assert.Equal(t, HRPardoned, index[HRKey{AccountID: 2, TorrentID: "100"}])

	found, err := db.FindHR(1, 11)
	require.NoError(t, err)
	assert.Equal(t, "101", found.TorrentID)

	_, err = db.FindHR(1, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrendPrune(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()

	require.NoError(t, db.AddTrendPoint(&TrendPoint{Timestamp: now.Add(-48 * time.Hour), Uploaded: 1}))
	require.NoError(t, db.AddTrendPoint(&TrendPoint{Timestamp: now.Add(-time.Hour), Uploaded: 2}))

	points, err := db.TrendSince(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, int64(2), points[0].Uploaded)

	removed, err := db.PruneTrend(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	tests := []struct {
		name           string
		page, pageSize int
		want           []int
	}{
		{"first page", 1, 2, []int{1, 2}},
		{"last partial page", 3, 2, []int{5}},
		{"past the end", 4, 2, []int{}},
		{"page below one", 0, 2, []int{1, 2}},
		{"no page size", 2, 0, items},
		{"huge page", 92233720368547760, 100, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, paginate(items, tt.page, tt.pageSize))
		})
	}
}
