package tracker

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Search lists torrents matching params
func (c *Client) Search(ctx context.Context, params SearchParams) ([]Torrent, error) {
	query := url.Values{}
	if params.Keyword != "" {
		query.Set("search", params.Keyword)
	}
	if params.Category > 0 {
		query.Set("cat", strconv.Itoa(params.Category))
	}
	query.Set("spstate", strconv.Itoa(params.SpState))
	query.Set("incldead", strconv.Itoa(params.IncludeDead))
	if params.Page > 0 {
		query.Set("page", strconv.Itoa(params.Page))
	}

	doc, err := c.document(ctx, "torrents.php", query)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	torrents := parseTorrentTable(doc)

	c.logger.WithFields(logrus.Fields{
		"keyword": params.Keyword,
		"spstate": params.SpState,
		"results": len(torrents),
	}).Debug("Tracker search completed")

	return torrents, nil
}

// Bookmarks lists the account's bookmarked torrents
func (c *Client) Bookmarks(ctx context.Context) ([]Torrent, error) {
	doc, err := c.document(ctx, "bookmarks.php", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bookmarks: %w", err)
	}
	return parseTorrentTable(doc), nil
}

// DownloadTorrent fetches the .torrent file for a torrent ID
func (c *Client) DownloadTorrent(ctx context.Context, torrentID string) ([]byte, error) {
	if c.passkey == "" {
		return nil, fmt.Errorf("passkey is required to download torrent %s", torrentID)
	}
	query := url.Values{}
	query.Set("id", torrentID)
	query.Set("passkey", c.passkey)

	resp, err := c.get(ctx, "download.php", query)
	if err != nil {
		return nil, fmt.Errorf("failed to download torrent %s: %w", torrentID, err)
	}
	// An HTML body is an error page, not a torrent
	if strings.Contains(resp.contentType, "text/html") || len(resp.body) == 0 || resp.body[0] != 'd' {
		return nil, fmt.Errorf("tracker did not return a torrent file for %s", torrentID)
	}
	return resp.body, nil
}
