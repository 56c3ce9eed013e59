package downloader

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Client types
const (
	TypeQBittorrent  = "qbittorrent"
	TypeTransmission = "transmission"
)

// State is a client-neutral torrent state
type State string

const (
	StateDownloading State = "downloading"
	StateSeeding     State = "seeding"
	StatePaused      State = "paused"
	StateError       State = "error"
	StateUnknown     State = "unknown"
)

// Torrent is one torrent as reported by a client
type Torrent struct {
	Hash           string // lowercase hex info hash
	Name           string
	State          State
	Size           int64
	Progress       float64 // 0..1
	Uploaded       int64
	Ratio          float64
	UploadSpeed    int64
	DownloadSpeed  int64
	AddedAt        time.Time
	CompletedAt    time.Time // zero until complete
	SavePath       string
	TrackerMessage string
	Unregistered   bool
}

// Stats is a live snapshot of a client
type Stats struct {
	UploadSpeed   int64 `json:"upload_speed"`
	DownloadSpeed int64 `json:"download_speed"`
	FreeSpace     int64 `json:"free_space"`
	Downloading   int   `json:"downloading"`
	Seeding       int   `json:"seeding"`
	Total         int   `json:"total"`
}

// Client is the set of operations the automation needs from a torrent client
type Client interface {
	// Add submits a .torrent file. tags is a comma separated list.
	Add(ctx context.Context, torrent []byte, savePath, tags string) error
	Remove(ctx context.Context, hash string, deleteFiles bool) error
	Pause(ctx context.Context, hash string) error
	List(ctx context.Context) ([]Torrent, error)
	FreeSpace(ctx context.Context) (int64, error)
	// Probe checks the client is reachable and returns its version
	Probe(ctx context.Context) (string, error)
	Stats(ctx context.Context) (*Stats, error)
}

// Config describes how to reach a client
type Config struct {
	Type     string
	Host     string
	Port     int
	Username string
	Password string
	UseSSL   bool
	Timeout  time.Duration
}

// BaseURL returns scheme://host:port, tolerating a scheme already present in Host
func (c Config) BaseURL() string {
	host := strings.TrimRight(c.Host, "/")
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}
	if i := strings.Index(host, "://"); i >= 0 {
		scheme, host = host[:i], host[i+3:]
	}
	if c.Port > 0 {
		if _, _, err := net.SplitHostPort(host); err != nil {
			host = net.JoinHostPort(host, strconv.Itoa(c.Port))
		}
	}
	return scheme + "://" + host
}

// New builds a client for cfg.Type
func New(cfg Config, logger *logrus.Logger) (Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("downloader host is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	switch cfg.Type {
	case TypeQBittorrent:
		return newQBittorrent(cfg, logger), nil
	case TypeTransmission:
		return newTransmission(cfg, logger), nil
	}
	return nil, fmt.Errorf("unsupported downloader type %q", cfg.Type)
}

// IsUnregistered reports whether a tracker message means the torrent was removed from the site
func IsUnregistered(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "unregistered") ||
		strings.Contains(m, "not registered") ||
		strings.Contains(m, "torrent not found") ||
		strings.Contains(m, "种子不存在")
}

// Summarize counts torrents by state
func Summarize(torrents []Torrent) (downloading, seeding int) {
	for _, t := range torrents {
		switch t.State {
		case StateDownloading:
			downloading++
		case StateSeeding:
			seeding++
		}
	}
	return downloading, seeding
}

// UsedSpace sums the size of every torrent in the client
func UsedSpace(torrents []Torrent) int64 {
	var used int64
	for _, t := range torrents {
		used += t.Size
	}
	return used
}
