package controllers

import (
	"context"
	"testing"
	"time"

	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/services/downloader"
	"github.com/spellyaohui/NicePT-Helper/internal/services/tracker"
	"github.com/spellyaohui/NicePT-Helper/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusSync(t *testing.T) {
	env := newTestEnv(t)
	finished := testNow.Add(-time.Hour)

	done := addTracked(t, env, &models.HistoryItem{TorrentID: "1", Status: models.HistoryDownloading},
		downloader.Torrent{State: downloader.StateSeeding, CompletedAt: finished})
	still := addTracked(t, env, &models.HistoryItem{TorrentID: "2", Status: models.HistoryDownloading},
		downloader.Torrent{State: downloader.StateDownloading})
	broken := addTracked(t, env, &models.HistoryItem{TorrentID: "3", Status: models.HistorySeeding},
		downloader.Torrent{State: downloader.StateError})
	gone := &models.HistoryItem{TorrentID: "4", InfoHash: hashOf(t, "4"), Status: models.HistorySeeding,
		AccountID: env.account.ID, DownloaderID: env.downloader.ID}
	require.NoError(t, env.db.CreateHistory(gone))

	s := NewStatusSyncer(env.db, env.clients, env.locker, utils.NewDiscardLogger())
	s.now = func() time.Time { return testNow }

	report, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Processed)
	assert.Equal(t, 3, report.Changed)

	got := reload(t, env, done)
	assert.Equal(t, models.HistorySeeding, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, finished.Equal(*got.CompletedAt))

	assert.Equal(t, models.HistoryDownloading, reload(t, env, still).Status)
	assert.Equal(t, models.HistoryError, reload(t, env, broken).Status)
	assert.Equal(t, models.HistoryDeleted, reload(t, env, gone).Status)
}

func TestAccountRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.clients.tracker.stats = func(_ context.Context, uid string) (*tracker.UserStats, error) {
		assert.Equal(t, "7", uid)
		return &tracker.UserStats{Uploaded: 10 * gb, Downloaded: 5 * gb, Ratio: 2, Bonus: 1234.5, UserClass: "Power User"}, nil
	}
	env.clients.tracker.passkey = func(context.Context) (string, error) {
		return "0123456789abcdef0123456789abcdef", nil
	}

	s := NewAccountService(env.db, env.clients, env.locker, utils.NewDiscardLogger())
	s.now = func() time.Time { return testNow }

	account, err := s.Refresh(context.Background(), env.account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10*gb), account.Uploaded)
	assert.Equal(t, "Power User", account.UserClass)

	stored, err := env.db.GetAccount(env.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", stored.Passkey)
	require.NotNil(t, stored.LastRefresh)
	assert.True(t, testNow.Equal(*stored.LastRefresh))
}

func TestAccountRefreshAllFlagsExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	env.clients.tracker.stats = func(context.Context, string) (*tracker.UserStats, error) {
		return nil, tracker.ErrSessionExpired
	}

	report, err := NewAccountService(env.db, env.clients, env.locker, utils.NewDiscardLogger()).RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{env.account.ID}, report.NeedsRelogin)
}

func TestSaveLoginCreatesThenRenews(t *testing.T) {
	env := newTestEnv(t)
	s := NewAccountService(env.db, env.clients, env.locker, utils.NewDiscardLogger())

	renewed, err := s.SaveLogin("https://www.nicept.net/", "alice", "c=2", "")
	require.NoError(t, err)
	assert.Equal(t, env.account.ID, renewed.ID)
	assert.Equal(t, "c=2", renewed.Cookie)
	assert.Equal(t, "7", renewed.UID)

	created, err := s.SaveLogin("https://www.nicept.net", "bob", "c=3", "8")
	require.NoError(t, err)
	assert.NotEqual(t, env.account.ID, created.ID)
	assert.True(t, created.IsActive)
}

func TestCreateAccountRequiresCookie(t *testing.T) {
	env := newTestEnv(t)
	s := NewAccountService(env.db, env.clients, env.locker, utils.NewDiscardLogger())

	err := s.Create(&models.Account{SiteURL: "https://www.nicept.net", Username: "carol"})
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
	err = s.Create(&models.Account{SiteURL: "not a url", Username: "carol", Cookie: "c"})
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}
