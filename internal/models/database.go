package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = bolthold.ErrNotFound

const (
	autoDeleteKey = "auto_delete"
	scheduleKey   = "schedule"
)

// Database wraps the bolthold store
type Database struct {
	store *bolthold.Store
}

// NewDatabase opens (or creates) the store at path
func NewDatabase(path string) (*Database, error) {
	store, err := bolthold.Open(path, 0600, &bolthold.Options{
		Options: &bbolt.Options{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{store: store}, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.store.Close()
}

// Account operations

// CreateAccount inserts a new account
func (db *Database) CreateAccount(account *Account) error {
	account.SiteURL = strings.TrimRight(account.SiteURL, "/")
	account.CreatedAt = time.Now()
	return db.store.Insert(bolthold.NextSequence(), account)
}

// UpdateAccount saves an existing account
func (db *Database) UpdateAccount(account *Account) error {
	return db.store.Update(account.ID, account)
}

// GetAccount retrieves an account by ID
func (db *Database) GetAccount(id uint64) (*Account, error) {
	var account Account
	if err := db.store.Get(id, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// ListAccounts retrieves all accounts ordered by ID
func (db *Database) ListAccounts() ([]*Account, error) {
	var accounts []*Account
	err := db.store.Find(&accounts, nil)
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, err
}

// ActiveAccounts retrieves accounts enabled for automation, ordered by ID
func (db *Database) ActiveAccounts() ([]*Account, error) {
	var accounts []*Account
	err := db.store.Find(&accounts, bolthold.Where("IsActive").Eq(true))
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, err
}

// FindAccount retrieves the account for a username on a site
func (db *Database) FindAccount(siteURL, username string) (*Account, error) {
	var account Account
	err := db.store.FindOne(&account,
		bolthold.Where("SiteURL").Eq(strings.TrimRight(siteURL, "/")).
			And("Username").Eq(username))
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// DeleteAccount deletes an account and the H&R records it owns
func (db *Database) DeleteAccount(id uint64) error {
	if err := db.store.Delete(id, &Account{}); err != nil {
		return err
	}
	return db.store.DeleteMatching(&HRRecord{}, bolthold.Where("AccountID").Eq(id))
}

// Downloader operations

// CreateDownloader inserts a downloader, clearing the default flag elsewhere when set
func (db *Database) CreateDownloader(dl *Downloader) error {
	dl.CreatedAt = time.Now()
	if err := db.store.Insert(bolthold.NextSequence(), dl); err != nil {
		return err
	}
	if dl.IsDefault {
		return db.clearDefaultDownloader(dl.ID)
	}
	return nil
}

// UpdateDownloader saves an existing downloader
func (db *Database) UpdateDownloader(dl *Downloader) error {
	if err := db.store.Update(dl.ID, dl); err != nil {
		return err
	}
	if dl.IsDefault {
		return db.clearDefaultDownloader(dl.ID)
	}
	return nil
}

func (db *Database) clearDefaultDownloader(keep uint64) error {
	var dls []*Downloader
	if err := db.store.Find(&dls, bolthold.Where("IsDefault").Eq(true)); err != nil {
		return err
	}
	for _, dl := range dls {
		if dl.ID == keep {
			continue
		}
		dl.IsDefault = false
		if err := db.store.Update(dl.ID, dl); err != nil {
			return err
		}
	}
	return nil
}

// GetDownloader retrieves a downloader by ID
func (db *Database) GetDownloader(id uint64) (*Downloader, error) {
	var dl Downloader
	if err := db.store.Get(id, &dl); err != nil {
		return nil, err
	}
	return &dl, nil
}

// ListDownloaders retrieves all downloaders ordered by ID
func (db *Database) ListDownloaders() ([]*Downloader, error) {
	var dls []*Downloader
	err := db.store.Find(&dls, nil)
	sort.Slice(dls, func(i, j int) bool { return dls[i].ID < dls[j].ID })
	return dls, err
}

// DefaultDownloader retrieves the downloader marked default
func (db *Database) DefaultDownloader() (*Downloader, error) {
	var dl Downloader
	if err := db.store.FindOne(&dl, bolthold.Where("IsDefault").Eq(true)); err != nil {
		return nil, err
	}
	return &dl, nil
}

// DeleteDownloader deletes a downloader by ID
func (db *Database) DeleteDownloader(id uint64) error {
	return db.store.Delete(id, &Downloader{})
}

// Rule operations

// CreateRule inserts a new rule
func (db *Database) CreateRule(rule *Rule) error {
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt
	return db.store.Insert(bolthold.NextSequence(), rule)
}

// UpdateRule saves an existing rule
func (db *Database) UpdateRule(rule *Rule) error {
	rule.UpdatedAt = time.Now()
	return db.store.Update(rule.ID, rule)
}

// GetRule retrieves a rule by ID
func (db *Database) GetRule(id uint64) (*Rule, error) {
	var rule Rule
	if err := db.store.Get(id, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListRules retrieves all rules in evaluation order
func (db *Database) ListRules() ([]*Rule, error) {
	var rules []*Rule
	if err := db.store.Find(&rules, nil); err != nil {
		return nil, err
	}
	SortRules(rules)
	return rules, nil
}

// EnabledRules retrieves enabled rules in evaluation order
func (db *Database) EnabledRules() ([]*Rule, error) {
	var rules []*Rule
	if err := db.store.Find(&rules, bolthold.Where("Enabled").Eq(true)); err != nil {
		return nil, err
	}
	SortRules(rules)
	return rules, nil
}

// SortRules orders rules by ascending sort order, then creation order
func SortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].SortOrder != rules[j].SortOrder {
			return rules[i].SortOrder < rules[j].SortOrder
		}
		return rules[i].ID < rules[j].ID
	})
}

// DeleteRule deletes a rule by ID
func (db *Database) DeleteRule(id uint64) error {
	return db.store.Delete(id, &Rule{})
}

// History operations

// CreateHistory inserts a new history item
func (db *Database) CreateHistory(item *HistoryItem) error {
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	return db.store.Insert(bolthold.NextSequence(), item)
}

// UpdateHistory saves an existing history item
func (db *Database) UpdateHistory(item *HistoryItem) error {
	item.UpdatedAt = time.Now()
	return db.store.Update(item.ID, item)
}

// GetHistory retrieves a history item by ID
func (db *Database) GetHistory(id uint64) (*HistoryItem, error) {
	var item HistoryItem
	if err := db.store.Get(id, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteHistory deletes a history item by ID
func (db *Database) DeleteHistory(id uint64) error {
	return db.store.Delete(id, &HistoryItem{})
}

// ActiveHistory retrieves items still downloading or seeding, oldest first
func (db *Database) ActiveHistory() ([]*HistoryItem, error) {
	var items []*HistoryItem
	err := db.store.Find(&items, bolthold.Where("Status").In(statusArgs(ActiveHistoryStatuses)...))
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, err
}

// CountActiveForRule counts the items a rule still has downloading or seeding
func (db *Database) CountActiveForRule(ruleID uint64) (int, error) {
	var items []*HistoryItem
	err := db.store.Find(&items,
		bolthold.Where("RuleID").Eq(ruleID).
			And("Status").In(statusArgs(ActiveHistoryStatuses)...))
	return len(items), err
}

// HistoryTorrentIDs returns the torrent IDs already dispatched for an account
func (db *Database) HistoryTorrentIDs(accountID uint64) (map[string]bool, error) {
	var items []*HistoryItem
	if err := db.store.Find(&items, bolthold.Where("AccountID").Eq(accountID)); err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(items))
	for _, item := range items {
		ids[item.TorrentID] = true
	}
	return ids, nil
}

// ListHistory retrieves one page of history, newest first, with the total count
func (db *Database) ListHistory(status HistoryStatus, page, pageSize int) ([]*HistoryItem, int, error) {
	var items []*HistoryItem
	var query *bolthold.Query
	if status != "" {
		query = bolthold.Where("Status").Eq(status)
	}
	if err := db.store.Find(&items, query); err != nil {
		return nil, 0, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return paginate(items, page, pageSize), len(items), nil
}

// CountHistory counts all history items and those in the given statuses
func (db *Database) CountHistory() (map[HistoryStatus]int, int, error) {
	var items []*HistoryItem
	if err := db.store.Find(&items, nil); err != nil {
		return nil, 0, err
	}
	counts := make(map[HistoryStatus]int)
	for _, item := range items {
		counts[item.Status]++
	}
	return counts, len(items), nil
}

// PendingExpiryHistory retrieves active items with a promotion end time
func (db *Database) PendingExpiryHistory() ([]*HistoryItem, error) {
	items, err := db.ActiveHistory()
	if err != nil {
		return nil, err
	}
	var pending []*HistoryItem
	for _, item := range items {
		if item.DiscountEndTime != nil {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

func statusArgs(statuses []HistoryStatus) []interface{} {
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return args
}

// H&R operations

// HRFilter narrows an H&R listing
type HRFilter struct {
	Status    HRStatus
	AccountID uint64
	Page      int
	PageSize  int
}

// FindHR retrieves the record for a tracker H&R id of an account
func (db *Database) FindHR(accountID uint64, hrID int) (*HRRecord, error) {
	var record HRRecord
	err := db.store.FindOne(&record, bolthold.Where("AccountID").Eq(accountID).And("HRID").Eq(hrID))
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetHR retrieves an H&R record by ID
func (db *Database) GetHR(id uint64) (*HRRecord, error) {
	var record HRRecord
	if err := db.store.Get(id, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// CreateHR inserts a new H&R record
func (db *Database) CreateHR(record *HRRecord) error {
	record.UpdatedAt = time.Now()
	return db.store.Insert(bolthold.NextSequence(), record)
}

// UpdateHR saves an existing H&R record
func (db *Database) UpdateHR(record *HRRecord) error {
	record.UpdatedAt = time.Now()
	return db.store.Update(record.ID, record)
}

// ListHR retrieves one page of H&R records, newest tracker id first, with the total count
func (db *Database) ListHR(filter HRFilter) ([]*HRRecord, int, error) {
	var query *bolthold.Query
	if filter.Status != "" {
		query = bolthold.Where("Status").Eq(filter.Status)
	}
	if filter.AccountID != 0 {
		if query == nil {
			query = bolthold.Where("AccountID").Eq(filter.AccountID)
		} else {
			query = query.And("AccountID").Eq(filter.AccountID)
		}
	}

	var records []*HRRecord
	if err := db.store.Find(&records, query); err != nil {
		return nil, 0, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].HRID > records[j].HRID })
	return paginate(records, filter.Page, filter.PageSize), len(records), nil
}

// HRSummary counts H&R records per status
func (db *Database) HRSummary(accountID uint64) (map[HRStatus]int, error) {
	var query *bolthold.Query
	if accountID != 0 {
		query = bolthold.Where("AccountID").Eq(accountID)
	}
	var records []*HRRecord
	if err := db.store.Find(&records, query); err != nil {
		return nil, err
	}
	summary := make(map[HRStatus]int, len(HRStatuses))
	for _, s := range HRStatuses {
		summary[s] = 0
	}
	for _, r := range records {
		summary[r.Status]++
	}
	return summary, nil
}

// HRKey identifies an obligation by owning account and tracker torrent id
type HRKey struct {
	AccountID uint64
	TorrentID string
}

// HRIndex maps every known obligation to its status
func (db *Database) HRIndex() (map[HRKey]HRStatus, error) {
	var records []*HRRecord
	if err := db.store.Find(&records, nil); err != nil {
		return nil, err
	}
	index := make(map[HRKey]HRStatus, len(records))
	for _, r := range records {
		key := HRKey{AccountID: r.AccountID, TorrentID: r.TorrentID}
		// An obligated record outranks a settled one for the same torrent
		if prev, ok := index[key]; ok && prev.Obligated() {
			continue
		}
		index[key] = r.Status
	}
	return index, nil
}

// Settings operations

// GetAutoDeleteConfig returns the stored retention policy or the defaults
func (db *Database) GetAutoDeleteConfig() (AutoDeleteConfig, error) {
	var cfg AutoDeleteConfig
	err := db.store.Get(autoDeleteKey, &cfg)
	if errors.Is(err, bolthold.ErrNotFound) {
		return DefaultAutoDeleteConfig(), nil
	}
	return cfg, err
}

// SaveAutoDeleteConfig validates and stores the retention policy
func (db *Database) SaveAutoDeleteConfig(cfg AutoDeleteConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return db.store.Upsert(autoDeleteKey, &cfg)
}

// GetScheduleConfig returns the stored schedule or the defaults
func (db *Database) GetScheduleConfig() (ScheduleConfig, error) {
	var cfg ScheduleConfig
	err := db.store.Get(scheduleKey, &cfg)
	if errors.Is(err, bolthold.ErrNotFound) {
		return DefaultScheduleConfig(), nil
	}
	return cfg, err
}

// SaveScheduleConfig validates and stores the schedule
func (db *Database) SaveScheduleConfig(cfg ScheduleConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return db.store.Upsert(scheduleKey, &cfg)
}

// Trend operations

// AddTrendPoint appends a trend sample
func (db *Database) AddTrendPoint(point *TrendPoint) error {
	return db.store.Insert(bolthold.NextSequence(), point)
}

// TrendSince retrieves samples taken at or after since, oldest first
func (db *Database) TrendSince(since time.Time) ([]*TrendPoint, error) {
	var all []*TrendPoint
	if err := db.store.Find(&all, nil); err != nil {
		return nil, err
	}
	points := make([]*TrendPoint, 0, len(all))
	for _, p := range all {
		if !p.Timestamp.Before(since) {
			points = append(points, p)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points, nil
}

// PruneTrend deletes samples taken before cutoff and returns how many were removed
func (db *Database) PruneTrend(cutoff time.Time) (int, error) {
	var all []*TrendPoint
	if err := db.store.Find(&all, nil); err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range all {
		if !p.Timestamp.Before(cutoff) {
			continue
		}
		if err := db.store.Delete(p.ID, &TrendPoint{}); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	// Compared as page counts so a huge page cannot overflow the offset
	if pages := (len(items) + pageSize - 1) / pageSize; page > pages {
		return []T{}
	}
	start := (page - 1) * pageSize
	return items[start:min(start+pageSize, len(items))]
}
