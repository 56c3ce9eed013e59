package models

import "time"

// HistoryItem records one dispatched torrent and its lifecycle in a downloader
type HistoryItem struct {
	ID        uint64 `boltholdKey:"ID" json:"id"`
	TorrentID string `boltholdIndex:"TorrentID" json:"torrent_id"`
	InfoHash  string `json:"info_hash"`
	Title     string `json:"title"`
	Size      int64  `json:"size"` // bytes

	DiscountType    DiscountType `json:"discount_type"`
	DiscountEndTime *time.Time   `json:"discount_end_time,omitempty"`
	HasHR           bool         `json:"has_hr"`

	Status       HistoryStatus `boltholdIndex:"Status" json:"status"`
	AccountID    uint64        `json:"account_id"`
	DownloaderID uint64        `json:"downloader_id"`
	RuleID       uint64        `boltholdIndex:"RuleID" json:"rule_id"`

	Tags        string `json:"tags"`
	SavePath    string `json:"save_path"`
	IsFavorited bool   `json:"is_favorited"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DiscountExpired reports whether the promotion window ended before now
func (h *HistoryItem) DiscountExpired(now time.Time) bool {
	return h.DiscountEndTime != nil && h.DiscountEndTime.Before(now)
}

// DiscountEndsWithin reports whether the promotion ends no later than now+lead
func (h *HistoryItem) DiscountEndsWithin(now time.Time, lead time.Duration) bool {
	return h.DiscountEndTime != nil && !h.DiscountEndTime.After(now.Add(lead))
}

// AgeKey is the timestamp capacity eviction orders by, oldest first
func (h *HistoryItem) AgeKey() time.Time {
	if h.CompletedAt != nil {
		return *h.CompletedAt
	}
	return h.CreatedAt
}
