package models

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is returned when a configuration record fails validation
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// AutoDeleteConfig is the process-wide retention policy
type AutoDeleteConfig struct {
	Enabled bool `json:"enabled"`

	// Expired promotion sub-policy
	DeleteExpired bool          `json:"delete_expired"`
	ExpiredAction ExpiredAction `json:"expired_action" validate:"required,oneof=delete pause"`
	DeleteNonFree bool          `json:"delete_non_free"`

	// Capacity sub-policy, thresholds in GB
	DynamicDeleteEnabled bool    `json:"dynamic_delete_enabled"`
	DiskMaxGB            float64 `json:"disk_max_gb" validate:"gt=0"`
	DiskTargetGB         float64 `json:"disk_target_gb" validate:"gte=0"`

	// Unregistered torrent sub-policy
	DeleteUnregistered bool `json:"delete_unregistered"`
}

// DefaultAutoDeleteConfig returns the policy used before an operator saves one
func DefaultAutoDeleteConfig() AutoDeleteConfig {
	return AutoDeleteConfig{
		Enabled:              false,
		DeleteExpired:        true,
		ExpiredAction:        ExpiredActionDelete,
		DeleteNonFree:        false,
		DynamicDeleteEnabled: false,
		DiskMaxGB:            10000,
		DiskTargetGB:         8000,
		DeleteUnregistered:   true,
	}
}

// Validate checks the record as a whole
func (c *AutoDeleteConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.DiskTargetGB >= c.DiskMaxGB {
		return fmt.Errorf("%w: disk_target_gb (%.0f) must be below disk_max_gb (%.0f)",
			ErrInvalidConfig, c.DiskTargetGB, c.DiskMaxGB)
	}
	return nil
}

// MaxBytes is the capacity trigger threshold in bytes
func (c *AutoDeleteConfig) MaxBytes() int64 { return gbToBytes(c.DiskMaxGB) }

// TargetBytes is the capacity target threshold in bytes
func (c *AutoDeleteConfig) TargetBytes() int64 { return gbToBytes(c.DiskTargetGB) }

func gbToBytes(gb float64) int64 {
	return int64(gb * (1 << 30))
}

// ScheduleIntervals holds the period of each job in minutes
type ScheduleIntervals struct {
	AutoDownload      int `json:"auto_download_minutes" validate:"gte=1,lte=10080"`
	AccountRefresh    int `json:"account_refresh_minutes" validate:"gte=1,lte=10080"`
	StatusSync        int `json:"status_sync_minutes" validate:"gte=1,lte=10080"`
	ExpiredCheck      int `json:"expired_check_minutes" validate:"gte=1,lte=10080"`
	DynamicDelete     int `json:"dynamic_delete_minutes" validate:"gte=1,lte=10080"`
	UnregisteredCheck int `json:"unregistered_check_minutes" validate:"gte=1,lte=10080"`
	HRSync            int `json:"hr_sync_minutes" validate:"gte=1,lte=10080"`
}

// ScheduleControl holds the enable flag of each job
type ScheduleControl struct {
	AutoDownload      bool `json:"auto_download_enabled"`
	AccountRefresh    bool `json:"account_refresh_enabled"`
	StatusSync        bool `json:"status_sync_enabled"`
	ExpiredCheck      bool `json:"expired_check_enabled"`
	DynamicDelete     bool `json:"dynamic_delete_enabled"`
	UnregisteredCheck bool `json:"unregistered_check_enabled"`
	HRSync            bool `json:"hr_sync_enabled"`
}

// ScheduleConfig is the singleton record the scheduler arms its jobs from
type ScheduleConfig struct {
	Intervals ScheduleIntervals `json:"intervals"`
	Control   ScheduleControl   `json:"control"`
}

// DefaultScheduleConfig returns every job disabled at its default period
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Intervals: ScheduleIntervals{
			AutoDownload:      10,
			AccountRefresh:    60,
			StatusSync:        5,
			ExpiredCheck:      30,
			DynamicDelete:     10,
			UnregisteredCheck: 10,
			HRSync:            60,
		},
	}
}

// Validate checks the record as a whole
func (c *ScheduleConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Validator exposes the shared validator for request payloads
func Validator() *validator.Validate {
	return validate
}
