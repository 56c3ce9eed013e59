package downloader

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const sessionHeader = "X-Transmission-Session-Id"

// Transmission torrent status codes
const (
	trStopped      = 0
	trCheckWait    = 1
	trCheck        = 2
	trDownloadWait = 3
	trDownload     = 4
	trSeedWait     = 5
	trSeed         = 6
)

type transmissionClient struct {
	rpcURL     string
	username   string
	password   string
	httpClient *http.Client
	logger     *logrus.Logger

	mu        sync.Mutex
	sessionID string
}

func newTransmission(cfg Config, logger *logrus.Logger) *transmissionClient {
	return &transmissionClient{
		rpcURL:   cfg.BaseURL() + "/transmission/rpc",
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type rpcRequest struct {
	Method    string      `json:"method"`
	Arguments interface{} `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

// rpc performs one call, repeating it once when the server hands out a new session id
func (t *transmissionClient) rpc(ctx context.Context, method string, args interface{}, out interface{}) error {
	payload, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", method, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.rpcURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if t.username != "" {
			req.SetBasicAuth(t.username, t.password)
		}
		t.mu.Lock()
		if t.sessionID != "" {
			req.Header.Set(sessionHeader, t.sessionID)
		}
		t.mu.Unlock()

		resp, err := t.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("transmission %s failed: %w", method, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read transmission response: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusConflict:
			t.mu.Lock()
			t.sessionID = resp.Header.Get(sessionHeader)
			t.mu.Unlock()
			continue
		case http.StatusUnauthorized:
			return fmt.Errorf("transmission rejected credentials")
		case http.StatusOK:
		default:
			return fmt.Errorf("transmission returned status %d", resp.StatusCode)
		}

		var decoded rpcResponse
		if err := json.Unmarshal(body, &decoded); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", method, err)
		}
		if decoded.Result != "success" {
			return fmt.Errorf("transmission %s: %s", method, decoded.Result)
		}
		if out != nil && len(decoded.Arguments) > 0 {
			if err := json.Unmarshal(decoded.Arguments, out); err != nil {
				return fmt.Errorf("failed to decode %s arguments: %w", method, err)
			}
		}
		return nil
	}
	return fmt.Errorf("transmission %s: session handshake failed", method)
}

func (t *transmissionClient) Add(ctx context.Context, torrent []byte, savePath, tags string) error {
	args := map[string]interface{}{
		"metainfo": base64.StdEncoding.EncodeToString(torrent),
	}
	if savePath != "" {
		args["download-dir"] = savePath
	}
	if labels := splitTags(tags); len(labels) > 0 {
		args["labels"] = labels
	}
	if err := t.rpc(ctx, "torrent-add", args, nil); err != nil {
		return fmt.Errorf("failed to add torrent: %w", err)
	}
	return nil
}

func (t *transmissionClient) Remove(ctx context.Context, hash string, deleteFiles bool) error {
	args := map[string]interface{}{
		"ids":               []string{hash},
		"delete-local-data": deleteFiles,
	}
	if err := t.rpc(ctx, "torrent-remove", args, nil); err != nil {
		return fmt.Errorf("failed to delete torrent %s: %w", hash, err)
	}
	return nil
}

func (t *transmissionClient) Pause(ctx context.Context, hash string) error {
	args := map[string]interface{}{"ids": []string{hash}}
	if err := t.rpc(ctx, "torrent-stop", args, nil); err != nil {
		return fmt.Errorf("failed to pause torrent %s: %w", hash, err)
	}
	return nil
}

var torrentFields = []string{
	"hashString", "name", "status", "totalSize", "percentDone", "uploadedEver",
	"uploadRatio", "rateUpload", "rateDownload", "addedDate", "doneDate",
	"downloadDir", "error", "errorString", "trackerStats",
}

type trTorrent struct {
	HashString   string  `json:"hashString"`
	Name         string  `json:"name"`
	Status       int     `json:"status"`
	TotalSize    int64   `json:"totalSize"`
	PercentDone  float64 `json:"percentDone"`
	UploadedEver int64   `json:"uploadedEver"`
	UploadRatio  float64 `json:"uploadRatio"`
	RateUpload   int64   `json:"rateUpload"`
	RateDownload int64   `json:"rateDownload"`
	AddedDate    int64   `json:"addedDate"`
	DoneDate     int64   `json:"doneDate"`
	DownloadDir  string  `json:"downloadDir"`
	Error        int     `json:"error"`
	ErrorString  string  `json:"errorString"`
	TrackerStats []struct {
		LastAnnounceResult string `json:"lastAnnounceResult"`
	} `json:"trackerStats"`
}

func (t *transmissionClient) List(ctx context.Context) ([]Torrent, error) {
	var result struct {
		Torrents []trTorrent `json:"torrents"`
	}
	if err := t.rpc(ctx, "torrent-get", map[string]interface{}{"fields": torrentFields}, &result); err != nil {
		return nil, fmt.Errorf("failed to get torrents: %w", err)
	}

	out := make([]Torrent, 0, len(result.Torrents))
	for _, tr := range result.Torrents {
		item := Torrent{
			Hash:          strings.ToLower(tr.HashString),
			Name:          tr.Name,
			State:         transmissionState(tr.Status, tr.Error, tr.PercentDone),
			Size:          tr.TotalSize,
			Progress:      tr.PercentDone,
			Uploaded:      tr.UploadedEver,
			Ratio:         tr.UploadRatio,
			UploadSpeed:   tr.RateUpload,
			DownloadSpeed: tr.RateDownload,
			AddedAt:       time.Unix(tr.AddedDate, 0),
			SavePath:      tr.DownloadDir,
		}
		if tr.DoneDate > 0 {
			item.CompletedAt = time.Unix(tr.DoneDate, 0)
		}
		item.TrackerMessage = tr.ErrorString
		for _, ts := range tr.TrackerStats {
			if IsUnregistered(ts.LastAnnounceResult) {
				item.TrackerMessage = ts.LastAnnounceResult
				break
			}
		}
		item.Unregistered = IsUnregistered(item.TrackerMessage)
		out = append(out, item)
	}
	return out, nil
}

func (t *transmissionClient) FreeSpace(ctx context.Context) (int64, error) {
	var session struct {
		DownloadDir string `json:"download-dir"`
	}
	if err := t.rpc(ctx, "session-get", map[string]interface{}{"fields": []string{"download-dir"}}, &session); err != nil {
		return 0, fmt.Errorf("failed to get session: %w", err)
	}
	var space struct {
		SizeBytes int64 `json:"size-bytes"`
	}
	if err := t.rpc(ctx, "free-space", map[string]interface{}{"path": session.DownloadDir}, &space); err != nil {
		return 0, fmt.Errorf("failed to get free space: %w", err)
	}
	return space.SizeBytes, nil
}

func (t *transmissionClient) Probe(ctx context.Context) (string, error) {
	var session struct {
		Version string `json:"version"`
	}
	if err := t.rpc(ctx, "session-get", map[string]interface{}{"fields": []string{"version"}}, &session); err != nil {
		return "", err
	}
	return session.Version, nil
}

func (t *transmissionClient) Stats(ctx context.Context) (*Stats, error) {
	var session struct {
		UploadSpeed   int64 `json:"uploadSpeed"`
		DownloadSpeed int64 `json:"downloadSpeed"`
	}
	if err := t.rpc(ctx, "session-stats", nil, &session); err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}
	stats := &Stats{
		UploadSpeed:   session.UploadSpeed,
		DownloadSpeed: session.DownloadSpeed,
	}

	torrents, err := t.List(ctx)
	if err != nil {
		return nil, err
	}
	stats.Downloading, stats.Seeding = Summarize(torrents)
	stats.Total = len(torrents)

	if stats.FreeSpace, err = t.FreeSpace(ctx); err != nil {
		t.logger.WithError(err).Debug("Free space unavailable")
	}
	return stats, nil
}

// transmissionState maps status codes; error 3 is a local error, 1 and 2 are tracker warnings
func transmissionState(status, errCode int, percentDone float64) State {
	if errCode == 3 {
		return StateError
	}
	switch status {
	case trStopped:
		return StatePaused
	case trCheckWait, trCheck:
		if percentDone >= 1 {
			return StateSeeding
		}
		return StateDownloading
	case trDownloadWait, trDownload:
		return StateDownloading
	case trSeedWait, trSeed:
		return StateSeeding
	}
	return StateUnknown
}

func splitTags(tags string) []string {
	var out []string
	for _, tag := range strings.Split(tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
