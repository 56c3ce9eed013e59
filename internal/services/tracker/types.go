package tracker

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionExpired is returned when the tracker redirects to its login page
var ErrSessionExpired = errors.New("tracker session expired, re-login required")

// PardonRejectedError carries the tracker's reason for refusing an H&R removal
type PardonRejectedError struct {
	HRID    int
	Message string
}

func (e *PardonRejectedError) Error() string {
	return fmt.Sprintf("pardon of H&R %d rejected: %s", e.HRID, e.Message)
}

// Torrent is one row of a torrent listing
type Torrent struct {
	ID          string
	Title       string
	Subtitle    string
	CategoryID  int
	Category    string
	Size        int64 // bytes
	Seeders     int
	Leechers    int
	Completions int
	UploadedAt  time.Time
	Uploader    string

	Discount    string     // free, twoup, twoupfree, halfdown, thirtypercent, custom or empty
	DiscountEnd *time.Time // nil when the promotion has no end or there is none
	HasHR       bool
}

// Promotion filter values of the torrents.php spstate parameter
const (
	SpStateAll       = 0
	SpStateFree      = 2
	SpStateTwoUp     = 3
	SpStateTwoUpFree = 4
	SpStateHalfDown  = 5
)

// SearchParams are the torrents.php query parameters
type SearchParams struct {
	Keyword     string
	Category    int
	SpState     int
	IncludeDead int // 0 alive, 1 all, 2 dead
	Page        int
}

// HRStatus is the myhr.php status parameter
type HRStatus int

const (
	HRInspecting HRStatus = 1
	HRReached    HRStatus = 2
	HRUnreached  HRStatus = 3
	HRPardoned   HRStatus = 4
)

// HRStatuses lists every status page the tracker exposes
var HRStatuses = []HRStatus{HRInspecting, HRReached, HRUnreached, HRPardoned}

func (s HRStatus) String() string {
	switch s {
	case HRInspecting:
		return "inspecting"
	case HRReached:
		return "reached"
	case HRUnreached:
		return "unreached"
	case HRPardoned:
		return "pardoned"
	}
	return fmt.Sprintf("HRStatus(%d)", int(s))
}

// HRItem is one row of the H&R table
type HRItem struct {
	HRID             int
	TorrentID        string
	TorrentName      string
	Uploaded         int64
	Downloaded       int64
	ShareRatio       float64 // -1 for an infinite ratio
	SeedTimeRequired string
	CompletedAt      string
	InspectTimeLeft  string
	Comment          string
	Status           HRStatus
}

// UserStats are the counters shown on a user's detail page
type UserStats struct {
	UID        string
	Username   string
	Uploaded   int64
	Downloaded int64
	Ratio      float64 // -1 for an infinite ratio
	Bonus      float64
	UserClass  string
	Passkey    string
}
