package models

import (
	"fmt"
	"time"
)

// Downloader is a torrent client endpoint
type Downloader struct {
	ID        uint64         `boltholdKey:"ID" json:"id"`
	Name      string         `json:"name" validate:"required"`
	Type      DownloaderType `json:"type" validate:"required,oneof=qbittorrent transmission"`
	Host      string         `json:"host" validate:"required"`
	Port      int            `json:"port" validate:"required,min=1,max=65535"`
	Username  string         `json:"username"`
	Password  string         `json:"-"`
	UseSSL    bool           `json:"use_ssl"`
	IsDefault bool           `json:"is_default"`
	CreatedAt time.Time      `json:"created_at"`
}

// LockKey is the resource key jobs lock before touching this downloader
func (d *Downloader) LockKey() string {
	return lockKey("downloader", d.ID)
}

func lockKey(kind string, id uint64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}
