package models

import "time"

// Account is a tracker identity the automation acts for
type Account struct {
	ID       uint64 `boltholdKey:"ID" json:"id"`
	SiteURL  string `json:"site_url" validate:"required,url"`
	Username string `json:"username" validate:"required"`
	UID      string `json:"uid"`

	// Session credential, opaque to everything but the tracker client
	Cookie  string `json:"-"`
	Passkey string `json:"-"`

	// Counters copied from the tracker on refresh
	Uploaded   int64   `json:"uploaded"`
	Downloaded int64   `json:"downloaded"`
	Ratio      float64 `json:"ratio"`
	Bonus      float64 `json:"bonus"`
	UserClass  string  `json:"user_class"`

	IsActive    bool       `boltholdIndex:"IsActive" json:"is_active"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// LockKey is the resource key jobs lock before acting for this account
func (a *Account) LockKey() string {
	return lockKey("account", a.ID)
}
