package controllers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/services/downloader"
	"github.com/spellyaohui/NicePT-Helper/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAutoDelete(env *testEnv) *AutoDeleteEngine {
	e := NewAutoDeleteEngine(env.db, env.clients, env.locker, utils.NewDiscardLogger())
	e.now = func() time.Time { return testNow }
	return e
}

func saveAutoDelete(t *testing.T, env *testEnv, mutate func(*models.AutoDeleteConfig)) {
	t.Helper()
	cfg := models.DefaultAutoDeleteConfig()
	cfg.Enabled = true
	cfg.DeleteExpired = false
	cfg.DeleteUnregistered = false
	mutate(&cfg)
	require.NoError(t, env.db.SaveAutoDeleteConfig(cfg))
}

// addTracked stores a history item and puts the matching torrent into the fake downloader
func addTracked(t *testing.T, env *testEnv, item *models.HistoryItem, torrent downloader.Torrent) *models.HistoryItem {
	t.Helper()
	item.InfoHash = hashOf(t, item.TorrentID)
	item.AccountID = env.account.ID
	item.DownloaderID = env.downloader.ID
	require.NoError(t, env.db.CreateHistory(item))

	torrent.Hash = item.InfoHash
	torrent.Size = item.Size
	env.clients.downloader.torrents = append(env.clients.downloader.torrents, torrent)
	return item
}

func reload(t *testing.T, env *testEnv, item *models.HistoryItem) *models.HistoryItem {
	t.Helper()
	got, err := env.db.GetHistory(item.ID)
	require.NoError(t, err)
	return got
}

func completedAt(hoursAgo int) *time.Time {
	ts := testNow.Add(-time.Duration(hoursAgo) * time.Hour)
	return &ts
}

func TestSweepIsNoopWhenDisabled(t *testing.T) {
	env := newTestEnv(t)
	past := testNow.Add(-time.Hour)
	item := addTracked(t, env, &models.HistoryItem{TorrentID: "1", Status: models.HistoryDownloading, DiscountEndTime: &past},
		downloader.Torrent{State: downloader.StateDownloading, Unregistered: true})

	report, err := newTestAutoDelete(env).Sweep(context.Background(), PolicyAll)
	require.NoError(t, err)
	assert.Zero(t, report.Changed)
	assert.Empty(t, env.clients.downloader.removed)
	assert.Equal(t, models.HistoryDownloading, reload(t, env, item).Status)
}

func TestCapacityDeletesOldestUntilTarget(t *testing.T) {
	env := newTestEnv(t)
	saveAutoDelete(t, env, func(c *models.AutoDeleteConfig) {
		c.DynamicDeleteEnabled = true
		c.DiskMaxGB = 1000
		c.DiskTargetGB = 800
	})

	// Data the automation did not dispatch still counts towards usage
	env.clients.downloader.torrents = append(env.clients.downloader.torrents,
		downloader.Torrent{Hash: "unmanaged", Size: 650 * gb, State: downloader.StateSeeding})

	var items []*models.HistoryItem
	for i, id := range []string{"oldest", "older", "newer", "newest"} {
		items = append(items, addTracked(t, env, &models.HistoryItem{
			TorrentID:   id,
			Size:        100 * gb,
			Status:      models.HistorySeeding,
			CompletedAt: completedAt(40 - i*10),
		}, downloader.Torrent{State: downloader.StateSeeding}))
	}

	report, err := newTestAutoDelete(env).Sweep(context.Background(), PolicyCapacity)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Actions[string(models.HistoryDynamicDeleted)])

	for _, item := range items[:3] {
		assert.Equal(t, models.HistoryDynamicDeleted, reload(t, env, item).Status, item.TorrentID)
	}
	assert.Equal(t, models.HistorySeeding, reload(t, env, items[3]).Status)
	assert.Equal(t, []string{items[0].InfoHash, items[1].InfoHash, items[2].InfoHash}, env.clients.downloader.removed)
	assert.NotContains(t, env.clients.downloader.removed, "unmanaged")
}

func TestCapacityBelowThresholdDoesNothing(t *testing.T) {
	env := newTestEnv(t)
	saveAutoDelete(t, env, func(c *models.AutoDeleteConfig) {
		c.DynamicDeleteEnabled = true
		c.DiskMaxGB = 1000
		c.DiskTargetGB = 800
	})
	addTracked(t, env, &models.HistoryItem{TorrentID: "1", Size: 900 * gb, Status: models.HistorySeeding},
		downloader.Torrent{State: downloader.StateSeeding})

	report, err := newTestAutoDelete(env).Sweep(context.Background(), PolicyAll)
	require.NoError(t, err)
	assert.Zero(t, report.Changed)
}

func TestCapacitySkipsObligatedAndDownloading(t *testing.T) {
	env := newTestEnv(t)
	saveAutoDelete(t, env, func(c *models.AutoDeleteConfig) {
		c.DynamicDeleteEnabled = true
		c.DiskMaxGB = 100
		c.DiskTargetGB = 10
	})
	hr := addTracked(t, env, &models.HistoryItem{TorrentID: "hr", Size: 100 * gb, Status: models.HistorySeeding, HasHR: true, CompletedAt: completedAt(50)},
		downloader.Torrent{State: downloader.StateSeeding})
	dl := addTracked(t, env, &models.HistoryItem{TorrentID: "dl", Size: 100 * gb, Status: models.HistoryDownloading},
		downloader.Torrent{State: downloader.StateDownloading})
	free := addTracked(t, env, &models.HistoryItem{TorrentID: "ok", Size: 100 * gb, Status: models.HistorySeeding, CompletedAt: completedAt(1)},
		downloader.Torrent{State: downloader.StateSeeding})

	_, err := newTestAutoDelete(env).Sweep(context.Background(), PolicyCapacity)
	require.NoError(t, err)
	assert.Equal(t, models.HistorySeeding, reload(t, env, hr).Status)
	assert.Equal(t, models.HistoryDownloading, reload(t, env, dl).Status)
	assert.Equal(t, models.HistoryDynamicDeleted, reload(t, env, free).Status)
}

func TestExpiredObligatedItemIsPaused(t *testing.T) {
	for _, action := range []models.ExpiredAction{models.ExpiredActionPause, models.ExpiredActionDelete} {
		t.Run(string(action), func(t *testing.T) {
			env := newTestEnv(t)
			saveAutoDelete(t, env, func(c *models.AutoDeleteConfig) {
				c.DeleteExpired = true
				c.ExpiredAction = action
			})
			past := testNow.Add(-time.Minute)
			item := addTracked(t, env, &models.HistoryItem{TorrentID: "1", Status: models.HistorySeeding, HasHR: true, DiscountEndTime: &past},
				downloader.Torrent{State: downloader.StateSeeding})
			require.NoError(t, env.db.CreateHR(&models.HRRecord{AccountID: env.account.ID, HRID: 1, TorrentID: "1", Status: models.HRInspecting}))

			_, err := newTestAutoDelete(env).Sweep(context.Background(), PolicyExpired)
			require.NoError(t, err)
			assert.Equal(t, models.HistoryPaused, reload(t, env, item).Status)
			assert.Equal(t, []string{item.InfoHash}, env.clients.downloader.paused)
			assert.Empty(t, env.clients.downloader.removed)
		})
	}
}

func TestExpiredActions(t *testing.T) {
	env := newTestEnv(t)
	saveAutoDelete(t, env, func(c *models.AutoDeleteConfig) {
		c.DeleteExpired = true
		c.ExpiredAction = models.ExpiredActionDelete
	})
	past, future := testNow.Add(-time.Minute), testNow.Add(time.Hour)
	expired := addTracked(t, env, &models.HistoryItem{TorrentID: "1", Status: models.HistoryDownloading, DiscountType: models.DiscountFree, DiscountEndTime: &past},
		downloader.Torrent{State: downloader.StateDownloading})
	running := addTracked(t, env, &models.HistoryItem{TorrentID: "2", Status: models.HistoryDownloading, DiscountType: models.DiscountFree, DiscountEndTime: &future},
		downloader.Torrent{State: downloader.StateDownloading})

	report, err := newTestAutoDelete(env).Sweep(context.Background(), PolicyExpired)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, models.HistoryExpiredDeleted, reload(t, env, expired).Status)
	assert.Equal(t, models.HistoryDownloading, reload(t, env, running).Status)
}

func TestNonFreeWhileDownloading(t *testing.T) {
	env := newTestEnv(t)
	saveAutoDelete(t, env, func(c *models.AutoDeleteConfig) { c.DeleteNonFree = true })

	paid := addTracked(t, env, &models.HistoryItem{TorrentID: "1", Status: models.HistoryDownloading, DiscountType: models.DiscountHalfDown},
		downloader.Torrent{State: downloader.StateDownloading})
	free := addTracked(t, env, &models.HistoryItem{TorrentID: "2", Status: models.HistoryDownloading, DiscountType: models.DiscountTwoUpFree},
		downloader.Torrent{State: downloader.StateDownloading})
	seeding := addTracked(t, env, &models.HistoryItem{TorrentID: "3", Status: models.HistorySeeding},
		downloader.Torrent{State: downloader.StateSeeding})
	hr := addTracked(t, env, &models.HistoryItem{TorrentID: "4", Status: models.HistoryDownloading, HasHR: true},
		downloader.Torrent{State: downloader.StateDownloading})

	_, err := newTestAutoDelete(env).Sweep(context.Background(), PolicyExpired)
	require.NoError(t, err)
	assert.Equal(t, models.HistoryDeleted, reload(t, env, paid).Status)
	assert.Equal(t, models.HistoryDownloading, reload(t, env, free).Status)
	assert.Equal(t, models.HistorySeeding, reload(t, env, seeding).Status)
	assert.Equal(t, models.HistoryDownloading, reload(t, env, hr).Status, "HasHR without a record counts as obligated")
}

func TestUnregisteredDeleted(t *testing.T) {
	env := newTestEnv(t)
	saveAutoDelete(t, env, func(c *models.AutoDeleteConfig) { c.DeleteUnregistered = true })

	gone := addTracked(t, env, &models.HistoryItem{TorrentID: "1", Status: models.HistorySeeding},
		downloader.Torrent{State: downloader.StateSeeding, TrackerMessage: "Torrent not registered with this tracker"})
	fine := addTracked(t, env, &models.HistoryItem{TorrentID: "2", Status: models.HistorySeeding},
		downloader.Torrent{State: downloader.StateSeeding, TrackerMessage: "OK"})

	report, err := newTestAutoDelete(env).Sweep(context.Background(), PolicyUnregistered)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Actions[string(models.HistoryUnregisteredDeleted)])
	assert.Equal(t, models.HistoryUnregisteredDeleted, reload(t, env, gone).Status)
	assert.Equal(t, models.HistorySeeding, reload(t, env, fine).Status)
}

func TestSettledObligationsAreExemptFromEveryAction(t *testing.T) {
	for _, status := range []models.HRStatus{models.HRReached, models.HRPardoned} {
		t.Run(string(status), func(t *testing.T) {
			env := newTestEnv(t)
			saveAutoDelete(t, env, func(c *models.AutoDeleteConfig) {
				c.DeleteExpired = true
				c.DeleteNonFree = true
				c.DeleteUnregistered = true
				c.DynamicDeleteEnabled = true
				c.DiskMaxGB = 1
				c.DiskTargetGB = 0
			})
			past := testNow.Add(-time.Hour)
			item := addTracked(t, env, &models.HistoryItem{TorrentID: "1", Size: 10 * gb, Status: models.HistorySeeding, HasHR: true, DiscountEndTime: &past},
				downloader.Torrent{State: downloader.StateSeeding, Unregistered: true})
			require.NoError(t, env.db.CreateHR(&models.HRRecord{AccountID: env.account.ID, HRID: 1, TorrentID: "1", Status: status}))

			report, err := newTestAutoDelete(env).Sweep(context.Background(), PolicyAll)
			require.NoError(t, err)
			assert.Zero(t, report.Changed)
			assert.Equal(t, models.HistorySeeding, reload(t, env, item).Status)
			assert.Empty(t, env.clients.downloader.removed)
			assert.Empty(t, env.clients.downloader.paused)
		})
	}
}

func TestObligatedItemsAreNeverDeleted(t *testing.T) {
	env := newTestEnv(t)
	saveAutoDelete(t, env, func(c *models.AutoDeleteConfig) {
		c.DeleteNonFree = true
		c.DeleteUnregistered = true
		c.DynamicDeleteEnabled = true
		c.DiskMaxGB = 1
		c.DiskTargetGB = 0
	})
	item := addTracked(t, env, &models.HistoryItem{TorrentID: "1", Size: 10 * gb, Status: models.HistoryDownloading},
		downloader.Torrent{State: downloader.StateDownloading, Unregistered: true})
	require.NoError(t, env.db.CreateHR(&models.HRRecord{AccountID: env.account.ID, HRID: 1, TorrentID: "1", Status: models.HRUnreached}))

	_, err := newTestAutoDelete(env).Sweep(context.Background(), PolicyAll)
	require.NoError(t, err)
	assert.Equal(t, models.HistoryDownloading, reload(t, env, item).Status)
	assert.Empty(t, env.clients.downloader.removed)
}

func TestFailedClientCallLeavesItemForNextPass(t *testing.T) {
	env := newTestEnv(t)
	saveAutoDelete(t, env, func(c *models.AutoDeleteConfig) { c.DeleteUnregistered = true })

	stuck := addTracked(t, env, &models.HistoryItem{TorrentID: "1", Status: models.HistorySeeding},
		downloader.Torrent{State: downloader.StateSeeding, Unregistered: true})
	other := addTracked(t, env, &models.HistoryItem{TorrentID: "2", Status: models.HistorySeeding},
		downloader.Torrent{State: downloader.StateSeeding, Unregistered: true})
	env.clients.downloader.failOn = map[string]error{stuck.InfoHash: errors.New("timeout")}

	report, err := newTestAutoDelete(env).Sweep(context.Background(), PolicyUnregistered)
	require.NoError(t, err)
	assert.Len(t, report.Errors, 1)
	assert.Equal(t, models.HistorySeeding, reload(t, env, stuck).Status)
	assert.Equal(t, models.HistoryUnregisteredDeleted, reload(t, env, other).Status)
}

func TestHandleExpiry(t *testing.T) {
	env := newTestEnv(t)
	saveAutoDelete(t, env, func(c *models.AutoDeleteConfig) {
		c.DeleteExpired = true
		c.ExpiredAction = models.ExpiredActionDelete
	})
	past, future := testNow.Add(-time.Second), testNow.Add(time.Hour)
	due := addTracked(t, env, &models.HistoryItem{TorrentID: "1", Status: models.HistoryDownloading, DiscountEndTime: &past},
		downloader.Torrent{State: downloader.StateDownloading})
	early := addTracked(t, env, &models.HistoryItem{TorrentID: "2", Status: models.HistoryDownloading, DiscountEndTime: &future},
		downloader.Torrent{State: downloader.StateDownloading})

	engine := newTestAutoDelete(env)
	acted, err := engine.HandleExpiry(context.Background(), due.ID)
	require.NoError(t, err)
	assert.True(t, acted)
	assert.Equal(t, models.HistoryExpiredDeleted, reload(t, env, due).Status)

	acted, err = engine.HandleExpiry(context.Background(), due.ID)
	require.NoError(t, err)
	assert.False(t, acted, "an item already removed is left alone")

	acted, err = engine.HandleExpiry(context.Background(), early.ID)
	require.NoError(t, err)
	assert.False(t, acted)
	assert.Equal(t, models.HistoryDownloading, reload(t, env, early).Status)
}

func TestHandleExpiryActsAtTimerFireTime(t *testing.T) {
	env := newTestEnv(t)
	saveAutoDelete(t, env, func(c *models.AutoDeleteConfig) {
		c.DeleteExpired = true
		c.ExpiredAction = models.ExpiredActionPause
	})
	// The timer fires ExpiryLead before the end, testNow is that instant
	end := testNow.Add(ExpiryLead)
	justAfter := testNow.Add(ExpiryLead + time.Second)
	due := addTracked(t, env, &models.HistoryItem{TorrentID: "1", Status: models.HistorySeeding, DiscountEndTime: &end},
		downloader.Torrent{State: downloader.StateSeeding})
	notYet := addTracked(t, env, &models.HistoryItem{TorrentID: "2", Status: models.HistorySeeding, DiscountEndTime: &justAfter},
		downloader.Torrent{State: downloader.StateSeeding})

	engine := newTestAutoDelete(env)
	acted, err := engine.HandleExpiry(context.Background(), due.ID)
	require.NoError(t, err)
	assert.True(t, acted)
	assert.Equal(t, models.HistoryPaused, reload(t, env, due).Status)

	acted, err = engine.HandleExpiry(context.Background(), notYet.ID)
	require.NoError(t, err)
	assert.False(t, acted)
	assert.Equal(t, models.HistorySeeding, reload(t, env, notYet).Status)
}
