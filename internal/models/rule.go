package models

import (
	"fmt"
	"time"
)

// Rule is a named filter and dispatch definition evaluated by the auto-download job
type Rule struct {
	ID      uint64   `boltholdKey:"ID" json:"id"`
	Name    string   `json:"name" validate:"required"`
	Enabled bool     `boltholdIndex:"Enabled" json:"enabled"`
	Kind    RuleKind `json:"rule_type" validate:"omitempty,oneof=normal favorite"`

	// Zero means the first active account / the default downloader
	AccountID    uint64 `json:"account_id"`
	DownloaderID uint64 `json:"downloader_id"`

	// Promotion and H&R conditions
	FreeOnly     bool `json:"free_only"`
	DoubleUpload bool `json:"double_upload"`
	SkipHR       bool `json:"skip_hr"`

	// Ranges, zero means unbounded. Sizes are in GB.
	MinSize     float64 `json:"min_size" validate:"gte=0"`
	MaxSize     float64 `json:"max_size" validate:"gte=0"`
	MinSeeders  int     `json:"min_seeders" validate:"gte=0"`
	MaxSeeders  int     `json:"max_seeders" validate:"gte=0"`
	MinLeechers int     `json:"min_leechers" validate:"gte=0"`
	MaxLeechers int     `json:"max_leechers" validate:"gte=0"`

	// Comma separated lists
	Keywords        string `json:"keywords"`
	ExcludeKeywords string `json:"exclude_keywords"`
	Categories      string `json:"categories"`

	MaxPublishHours int    `json:"max_publish_hours" validate:"gte=0"`
	Expression      string `json:"expression"`

	MaxDownloading int    `json:"max_downloading" validate:"gte=1"`
	SavePath       string `json:"save_path"`
	Tags           string `json:"tags"`
	SortOrder      int    `json:"sort_order"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultMaxDownloading is the concurrency cap of a rule created without one
const DefaultMaxDownloading = 5

// KeywordList returns the include keywords
func (r *Rule) KeywordList() []string { return splitList(r.Keywords) }

// ExcludeList returns the exclude keywords
func (r *Rule) ExcludeList() []string { return splitList(r.ExcludeKeywords) }

// CategoryList returns the category allowlist
func (r *Rule) CategoryList() []string { return splitList(r.Categories) }

// ApplyDefaults fills zero values a rule needs to be evaluated
func (r *Rule) ApplyDefaults() {
	if r.Kind == "" {
		r.Kind = RuleKindNormal
	}
	if r.MaxDownloading == 0 {
		r.MaxDownloading = DefaultMaxDownloading
	}
}

// Validate checks field tags and cross-field range bounds
func (r *Rule) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if r.MaxSize > 0 && r.MinSize > r.MaxSize {
		return fmt.Errorf("%w: min_size exceeds max_size", ErrInvalidConfig)
	}
	if r.MaxSeeders > 0 && r.MinSeeders > r.MaxSeeders {
		return fmt.Errorf("%w: min_seeders exceeds max_seeders", ErrInvalidConfig)
	}
	if r.MaxLeechers > 0 && r.MinLeechers > r.MaxLeechers {
		return fmt.Errorf("%w: min_leechers exceeds max_leechers", ErrInvalidConfig)
	}
	return nil
}
