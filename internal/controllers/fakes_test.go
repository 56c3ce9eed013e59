package controllers

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/services/downloader"
	"github.com/spellyaohui/NicePT-Helper/internal/services/tracker"
	"github.com/spellyaohui/NicePT-Helper/internal/utils"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	search    func(ctx context.Context, params tracker.SearchParams) ([]tracker.Torrent, error)
	bookmarks func(ctx context.Context) ([]tracker.Torrent, error)
	download  func(ctx context.Context, torrentID string) ([]byte, error)
	hrList    func(ctx context.Context, status tracker.HRStatus) ([]tracker.HRItem, error)
	pardon    func(ctx context.Context, hrID int) (string, error)
	stats     func(ctx context.Context, uid string) (*tracker.UserStats, error)
	passkey   func(ctx context.Context) (string, error)

	mu       sync.Mutex
	searches []tracker.SearchParams
}

func (f *fakeTracker) Search(ctx context.Context, params tracker.SearchParams) ([]tracker.Torrent, error) {
	f.mu.Lock()
	f.searches = append(f.searches, params)
	f.mu.Unlock()
	if f.search == nil {
		return nil, nil
	}
	return f.search(ctx, params)
}

func (f *fakeTracker) Bookmarks(ctx context.Context) ([]tracker.Torrent, error) {
	if f.bookmarks == nil {
		return nil, nil
	}
	return f.bookmarks(ctx)
}

func (f *fakeTracker) DownloadTorrent(ctx context.Context, torrentID string) ([]byte, error) {
	if f.download == nil {
		return torrentFile(torrentID), nil
	}
	return f.download(ctx, torrentID)
}

func (f *fakeTracker) FetchHRList(ctx context.Context, status tracker.HRStatus) ([]tracker.HRItem, error) {
	if f.hrList == nil {
		return nil, nil
	}
	return f.hrList(ctx, status)
}

func (f *fakeTracker) RequestPardon(ctx context.Context, hrID int) (string, error) {
	if f.pardon == nil {
		return "ok", nil
	}
	return f.pardon(ctx, hrID)
}

func (f *fakeTracker) FetchAccountStats(ctx context.Context, uid string) (*tracker.UserStats, error) {
	if f.stats == nil {
		return &tracker.UserStats{UID: uid}, nil
	}
	return f.stats(ctx, uid)
}

func (f *fakeTracker) FetchPasskey(ctx context.Context) (string, error) {
	if f.passkey == nil {
		return "", nil
	}
	return f.passkey(ctx)
}

func (f *fakeTracker) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.searches)
}

// fakeDownloader keeps an in-memory torrent list that Remove and Pause act on
type fakeDownloader struct {
	add   func(ctx context.Context, torrent []byte, savePath, tags string) error
	probe func(ctx context.Context) (string, error)

	mu       sync.Mutex
	torrents []downloader.Torrent
	added    [][]byte
	removed  []string
	paused   []string
	failOn   map[string]error
	lists    int
}

func (f *fakeDownloader) Add(ctx context.Context, torrent []byte, savePath, tags string) error {
	if f.add != nil {
		if err := f.add(ctx, torrent, savePath, tags); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.added = append(f.added, torrent)
	f.mu.Unlock()
	return nil
}

func (f *fakeDownloader) Remove(_ context.Context, hash string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[hash]; err != nil {
		return err
	}
	f.removed = append(f.removed, hash)
	kept := f.torrents[:0]
	for _, t := range f.torrents {
		if t.Hash != hash {
			kept = append(kept, t)
		}
	}
	f.torrents = kept
	return nil
}

func (f *fakeDownloader) Pause(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[hash]; err != nil {
		return err
	}
	f.paused = append(f.paused, hash)
	for i := range f.torrents {
		if f.torrents[i].Hash == hash {
			f.torrents[i].State = downloader.StatePaused
		}
	}
	return nil
}

func (f *fakeDownloader) List(context.Context) ([]downloader.Torrent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return append([]downloader.Torrent(nil), f.torrents...), nil
}

func (f *fakeDownloader) FreeSpace(context.Context) (int64, error) { return 1 << 40, nil }

func (f *fakeDownloader) Probe(ctx context.Context) (string, error) {
	if f.probe == nil {
		return "v4.6.0", nil
	}
	return f.probe(ctx)
}

func (f *fakeDownloader) Stats(ctx context.Context) (*downloader.Stats, error) {
	torrents, _ := f.List(ctx)
	downloading, seeding := downloader.Summarize(torrents)
	return &downloader.Stats{
		UploadSpeed:   1000,
		DownloadSpeed: 500,
		Downloading:   downloading,
		Seeding:       seeding,
		Total:         len(torrents),
	}, nil
}

type fakeClients struct {
	tracker    *fakeTracker
	downloader *fakeDownloader
	trackerErr error
}

func (c *fakeClients) Tracker(*models.Account) (TrackerClient, error) {
	if c.trackerErr != nil {
		return nil, c.trackerErr
	}
	return c.tracker, nil
}

func (c *fakeClients) Downloader(*models.Downloader) (DownloaderClient, error) {
	return c.downloader, nil
}

type testEnv struct {
	db      *models.Database
	clients *fakeClients
	locker  *utils.KeyedLocker

	account    *models.Account
	downloader *models.Downloader
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := models.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	account := &models.Account{SiteURL: "https://www.nicept.net", Username: "alice", UID: "7", Cookie: "c=1", IsActive: true}
	require.NoError(t, db.CreateAccount(account))
	dl := &models.Downloader{Name: "qb", Type: models.DownloaderQBittorrent, Host: "localhost", Port: 8080, IsDefault: true}
	require.NoError(t, db.CreateDownloader(dl))

	return &testEnv{
		db:         db,
		clients:    &fakeClients{tracker: &fakeTracker{}, downloader: &fakeDownloader{}},
		locker:     utils.NewKeyedLocker(),
		account:    account,
		downloader: dl,
	}
}

// torrentFile builds a minimal single-file .torrent whose info hash depends on name
func torrentFile(name string) []byte {
	info := metainfo.Info{
		Name:        name,
		PieceLength: 16384,
		Pieces:      make([]byte, 20),
		Length:      1,
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		panic(err)
	}
	var buf bytes.Buffer
	mi := metainfo.MetaInfo{InfoBytes: infoBytes, Announce: "https://tracker.example/announce.php"}
	if err := mi.Write(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func hashOf(t *testing.T, name string) string {
	t.Helper()
	hash, err := InfoHash(torrentFile(name))
	require.NoError(t, err)
	return hash
}
