package models

import "strings"

// DownloaderType identifies the torrent client software behind a Downloader
type DownloaderType string

const (
	DownloaderQBittorrent  DownloaderType = "qbittorrent"
	DownloaderTransmission DownloaderType = "transmission"
)

// RuleKind selects where a rule gets its candidate torrents from
type RuleKind string

const (
	RuleKindNormal   RuleKind = "normal"   // Tracker search
	RuleKindFavorite RuleKind = "favorite" // Account bookmarks
)

// HistoryStatus represents the lifecycle status of a dispatched torrent
type HistoryStatus string

const (
	HistoryDownloading         HistoryStatus = "downloading"
	HistorySeeding             HistoryStatus = "seeding"
	HistoryCompleted           HistoryStatus = "completed"
	HistoryPaused              HistoryStatus = "paused"
	HistoryError               HistoryStatus = "error"
	HistoryDeleted             HistoryStatus = "deleted"
	HistoryExpiredDeleted      HistoryStatus = "expired_deleted"
	HistoryDynamicDeleted      HistoryStatus = "dynamic_deleted"
	HistoryUnregisteredDeleted HistoryStatus = "unregistered_deleted"
)

// ActiveHistoryStatuses are the statuses of torrents still transferring in a downloader
var ActiveHistoryStatuses = []HistoryStatus{HistoryDownloading, HistorySeeding}

// IsActive reports whether the torrent is still downloading or seeding
func (s HistoryStatus) IsActive() bool {
	return s == HistoryDownloading || s == HistorySeeding
}

// IsRemoved reports whether the torrent has left its downloader
func (s HistoryStatus) IsRemoved() bool {
	switch s {
	case HistoryDeleted, HistoryExpiredDeleted, HistoryDynamicDeleted, HistoryUnregisteredDeleted:
		return true
	}
	return false
}

// DiscountType is the tracker promotion applied to a torrent
type DiscountType string

const (
	DiscountNone          DiscountType = ""
	DiscountFree          DiscountType = "free"
	DiscountTwoUp         DiscountType = "twoup"
	DiscountTwoUpFree     DiscountType = "twoupfree"
	DiscountHalfDown      DiscountType = "halfdown"
	DiscountTwoUpHalfDown DiscountType = "twouphalfdown"
	DiscountThirtyPercent DiscountType = "thirtypercent"
	DiscountCustom        DiscountType = "custom"
)

// IsFree reports whether downloading the torrent costs no download credit
func (d DiscountType) IsFree() bool {
	return d == DiscountFree || d == DiscountTwoUpFree
}

// IsDoubleUpload reports whether uploads are counted twice
func (d DiscountType) IsDoubleUpload() bool {
	return d == DiscountTwoUp || d == DiscountTwoUpFree
}

// ExpiredAction is what happens to a torrent whose promotion has ended
type ExpiredAction string

const (
	ExpiredActionDelete ExpiredAction = "delete" // Remove torrent and local data
	ExpiredActionPause  ExpiredAction = "pause"  // Stop transfer, keep files
)

// splitList splits a comma separated field into trimmed, non-empty entries
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
