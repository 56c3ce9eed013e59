package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spellyaohui/NicePT-Helper/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const torrentsPage = `<html><body>
<table class="torrents">
<tr><td class="colhead">type</td><td class="colhead">name</td><td class="colhead">c</td><td class="colhead">time</td>
<td class="colhead">size</td><td class="colhead">se</td><td class="colhead">le</td><td class="colhead">done</td><td class="colhead">by</td></tr>
<tr>
<td class="rowfollow"><a href="?cat=401"><img alt="Movies" src="c.png" /></a></td>
<td class="rowfollow"><table class="torrentname"><tr><td class="embedded"><a title="Some.Movie.2024.2160p" href="details.php?id=123&amp;hit=1"><b>Some.Movie.2024.2160p</b></a> <img class="pro_free" src="t.gif" alt="Free" /> <b>[<span title="2024-05-01 12:00:00">1d</span>]</b> <img class="hitandrun" src="hr.gif" /><br />某电影 4K HDR</td></tr></table></td>
<td class="rowfollow">0</td>
<td class="rowfollow"><span title="2024-04-28 08:30:00">2d</span></td>
<td class="rowfollow">2.5<br />GB</td>
<td class="rowfollow">12</td>
<td class="rowfollow">3</td>
<td class="rowfollow">1,040</td>
<td class="rowfollow">uploader1</td>
</tr>
<tr>
<td class="rowfollow"><a href="?cat=402"><img alt="TV" src="c.png" /></a></td>
<td class="rowfollow"><table class="torrentname"><tr><td class="embedded"><a href="details.php?id=124">Show.S01</a> <img class="pro_free2up" src="t.gif" alt="2xFree" /></td></tr></table></td>
<td class="rowfollow">0</td>
<td class="rowfollow"><span title="2024-04-29 09:00:00">1d</span></td>
<td class="rowfollow">700 MB</td>
<td class="rowfollow">1</td>
<td class="rowfollow">0</td>
<td class="rowfollow">5</td>
<td class="rowfollow">anon</td>
</tr>
</table></body></html>`

const hrPage = `<html><body><table id="hr-table">
<tr><td class="colhead">ID</td><td class="colhead">name</td><td class="colhead">up</td><td class="colhead">down</td><td class="colhead">ratio</td>
<td class="colhead">seed</td><td class="colhead">done</td><td class="colhead">left</td><td class="colhead">comment</td></tr>
<tr><td>42</td><td><a href="details.php?id=555" title="Some.Movie">Some.Movie</a></td><td>10.00 GB</td><td>5.00 GB</td><td>∞</td>
<td>72:00:00</td><td>2024-04-01 10:00:00</td><td>3d</td><td>note</td></tr>
</table></body></html>`

const userPage = `<html><body><table>
<tr><td class="rowhead">用户名</td><td>alice</td></tr>
<tr><td class="rowhead">等级</td><td><img title="Power User" src="x.gif" /></td></tr>
<tr><td class="rowhead">传送</td><td>分享率: 2.000 上传量: 20.00 GB 下载量: 10.00 GB</td></tr>
<tr><td class="rowhead">魔力值</td><td>12,345.6</td></tr>
</table></body></html>`

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{
		SiteURL: srv.URL,
		Cookie:  "c_secure_uid=MQ==",
		Passkey: "abc",
		Timeout: 5 * time.Second,
	}, utils.NewDiscardLogger())
	require.NoError(t, err)
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestSearchParsesTorrentRows(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/torrents.php", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("spstate"))
		assert.Equal(t, "c_secure_uid=MQ==", r.Header.Get("Cookie"))
		fmt.Fprint(w, torrentsPage)
	}))

	torrents, err := c.Search(context.Background(), SearchParams{SpState: SpStateFree})
	require.NoError(t, err)
	require.Len(t, torrents, 2)

	first := torrents[0]
	assert.Equal(t, "123", first.ID)
	assert.Equal(t, "Some.Movie.2024.2160p", first.Title)
	assert.Equal(t, "某电影 4K HDR", first.Subtitle)
	assert.Equal(t, 401, first.CategoryID)
	assert.Equal(t, "Movies", first.Category)
	assert.Equal(t, int64(5<<29), first.Size)
	assert.Equal(t, 12, first.Seeders)
	assert.Equal(t, 3, first.Leechers)
	assert.Equal(t, 1040, first.Completions)
	assert.Equal(t, "uploader1", first.Uploader)
	assert.Equal(t, "free", first.Discount)
	assert.True(t, first.HasHR)
	require.NotNil(t, first.DiscountEnd)
	assert.True(t, first.DiscountEnd.Equal(time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC)))
	assert.True(t, first.UploadedAt.Equal(time.Date(2024, 4, 28, 0, 30, 0, 0, time.UTC)))

	second := torrents[1]
	assert.Equal(t, "124", second.ID)
	assert.Equal(t, "twoupfree", second.Discount)
	assert.Nil(t, second.DiscountEnd)
	assert.False(t, second.HasHR)
	assert.Empty(t, second.Subtitle)
	assert.Equal(t, int64(700<<20), second.Size)
}

func TestRedirectToLoginIsSessionExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/torrents.php", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login.php?returnto=torrents.php", http.StatusFound)
	})
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<form action="takelogin.php"></form>`)
	})
	c := newTestClient(t, mux)

	_, err := c.Search(context.Background(), SearchParams{})
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, torrentsPage)
	}))

	torrents, err := c.Search(context.Background(), SearchParams{})
	require.NoError(t, err)
	assert.Len(t, torrents, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.Search(context.Background(), SearchParams{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.Code)
	assert.Equal(t, int32(maxRetries), calls.Load())
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))

	_, err := c.Bookmarks(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRequestsAreSpaced(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, torrentsPage)
	}))
	c.delay = 50 * time.Millisecond

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Bookmarks(context.Background())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestFetchHRList(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/myhr.php", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("status"))
		fmt.Fprint(w, hrPage)
	}))

	items, err := c.FetchHRList(context.Background(), HRUnreached)
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, 42, item.HRID)
	assert.Equal(t, "555", item.TorrentID)
	assert.Equal(t, "Some.Movie", item.TorrentName)
	assert.Equal(t, int64(10<<30), item.Uploaded)
	assert.Equal(t, int64(5<<30), item.Downloaded)
	assert.Equal(t, float64(-1), item.ShareRatio)
	assert.Equal(t, "72:00:00", item.SeedTimeRequired)
	assert.Equal(t, "3d", item.InspectTimeLeft)
	assert.Equal(t, "note", item.Comment)
	assert.Equal(t, HRUnreached, item.Status)
}

func TestRequestPardon(t *testing.T) {
	reply := `{"ret":-1,"msg":"insufficient bonus"}`
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "removeHitAndRun", r.PostForm.Get("action"))
		assert.Equal(t, "42", r.PostForm.Get("params[id]"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, reply)
	}))

	_, err := c.RequestPardon(context.Background(), 42)
	var rejected *PardonRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "insufficient bonus", rejected.Message)
	assert.Equal(t, 42, rejected.HRID)

	reply = `{"ret":0,"msg":"ok"}`
	msg, err := c.RequestPardon(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "ok", msg)
}

func TestFetchAccountStats(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("id"))
		fmt.Fprint(w, userPage)
	}))

	stats, err := c.FetchAccountStats(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "7", stats.UID)
	assert.Equal(t, "alice", stats.Username)
	assert.Equal(t, "Power User", stats.UserClass)
	assert.Equal(t, int64(20<<30), stats.Uploaded)
	assert.Equal(t, int64(10<<30), stats.Downloaded)
	assert.Equal(t, 2.0, stats.Ratio)
	assert.InDelta(t, 12345.6, stats.Bonus, 0.001)
}

func TestDownloadTorrent(t *testing.T) {
	html := true
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("passkey"))
		if html {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<html>no permission</html>")
			return
		}
		w.Header().Set("Content-Type", "application/x-bittorrent")
		fmt.Fprint(w, "d8:announce3:urle")
	}))

	_, err := c.DownloadTorrent(context.Background(), "123")
	assert.Error(t, err)

	html = false
	data, err := c.DownloadTorrent(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "d8:announce3:urle", string(data))
}

func TestFetchPasskey(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/usercp.php", r.URL.Path)
		fmt.Fprint(w, `<table><tr><td class="rowhead">密钥</td><td><input value="0123456789abcdef0123456789abcdef" /></td></tr></table>`)
	}))

	passkey, err := c.FetchPasskey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", passkey)
}
