package models

import (
	"fmt"
	"time"
)

// HRStatus is the state of an H&R obligation
type HRStatus string

const (
	HRInspecting HRStatus = "inspecting"
	HRReached    HRStatus = "reached"
	HRUnreached  HRStatus = "unreached"
	HRPardoned   HRStatus = "pardoned"
)

// HRStatuses lists every obligation state in tracker order
var HRStatuses = []HRStatus{HRInspecting, HRReached, HRUnreached, HRPardoned}

// HRTransitions defines the allowed obligation state changes
var HRTransitions = map[HRStatus][]HRStatus{
	HRInspecting: {HRReached, HRUnreached, HRPardoned},
	HRUnreached:  {HRPardoned},
}

// CanTransition reports whether an obligation may move from one state to another
func CanTransition(from, to HRStatus) bool {
	for _, s := range HRTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error for a disallowed state change
func ValidateTransition(from, to HRStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid H&R transition from %s to %s", from, to)
	}
	return nil
}

// Valid reports whether s is a known state
func (s HRStatus) Valid() bool {
	switch s {
	case HRInspecting, HRReached, HRUnreached, HRPardoned:
		return true
	}
	return false
}

// Obligated reports whether the torrent must keep seeding
func (s HRStatus) Obligated() bool {
	return s == HRInspecting || s == HRUnreached
}

// Settled reports whether the obligation is closed for good
func (s HRStatus) Settled() bool {
	return s == HRReached || s == HRPardoned
}

// HRRecord is one H&R obligation as last reported by the tracker
type HRRecord struct {
	ID        uint64 `boltholdKey:"ID" json:"id"`
	AccountID uint64 `boltholdIndex:"AccountID" json:"account_id"`
	HRID      int    `boltholdIndex:"HRID" json:"hr_id"`

	TorrentID   string `boltholdIndex:"TorrentID" json:"torrent_id"`
	TorrentName string `json:"torrent_name"`

	// Snapshot at sync time
	Uploaded         int64   `json:"uploaded"`
	Downloaded       int64   `json:"downloaded"`
	ShareRatio       float64 `json:"share_ratio"`
	SeedTimeRequired string  `json:"seed_time_required"`
	CompletedAt      string  `json:"completed_at"`
	InspectTimeLeft  string  `json:"inspect_time_left"`
	Comment          string  `json:"comment"`

	Status    HRStatus  `boltholdIndex:"Status" json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SameAs reports whether two records carry identical tracker-reported data
func (r *HRRecord) SameAs(o *HRRecord) bool {
	return r.TorrentID == o.TorrentID &&
		r.TorrentName == o.TorrentName &&
		r.Uploaded == o.Uploaded &&
		r.Downloaded == o.Downloaded &&
		r.ShareRatio == o.ShareRatio &&
		r.SeedTimeRequired == o.SeedTimeRequired &&
		r.CompletedAt == o.CompletedAt &&
		r.InspectTimeLeft == o.InspectTimeLeft &&
		r.Comment == o.Comment &&
		r.Status == o.Status
}
