package controllers

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/metrics"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/services/tracker"
	"github.com/spellyaohui/NicePT-Helper/internal/utils"
)

// candidateEnv is the variable set available to rule expressions
type candidateEnv struct {
	Title       string  `expr:"title"`
	Subtitle    string  `expr:"subtitle"`
	Category    string  `expr:"category"`
	CategoryID  int     `expr:"category_id"`
	SizeGB      float64 `expr:"size_gb"`
	Seeders     int     `expr:"seeders"`
	Leechers    int     `expr:"leechers"`
	Completions int     `expr:"completions"`
	Discount    string  `expr:"discount"`
	HasHR       bool    `expr:"has_hr"`
	AgeHours    float64 `expr:"age_hours"`
	Quality     string  `expr:"quality"`
	Resolution  string  `expr:"resolution"`
	Year        int     `expr:"year"`
}

func newCandidateEnv(t tracker.Torrent, now time.Time) candidateEnv {
	env := candidateEnv{
		Title:       t.Title,
		Subtitle:    t.Subtitle,
		Category:    t.Category,
		CategoryID:  t.CategoryID,
		SizeGB:      float64(t.Size) / utils.GiB,
		Seeders:     t.Seeders,
		Leechers:    t.Leechers,
		Completions: t.Completions,
		Discount:    t.Discount,
		HasHR:       t.HasHR,
		Quality:     utils.DetermineQuality(t.Title),
		Resolution:  utils.ExtractResolution(t.Title),
		Year:        utils.ExtractYear(t.Title),
	}
	if !t.UploadedAt.IsZero() {
		env.AgeHours = now.Sub(t.UploadedAt).Hours()
	}
	return env
}

// CompileExpression checks a rule expression and returns its program
func CompileExpression(source string) (*vm.Program, error) {
	program, err := expr.Compile(source, expr.Env(candidateEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: expression: %v", models.ErrInvalidConfig, err)
	}
	return program, nil
}

// ValidateRule checks a rule before it is stored
func ValidateRule(rule *models.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(rule.Expression) != "" {
		if _, err := CompileExpression(rule.Expression); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate filters candidates through a rule and orders them by seeders, highest first
// The result depends only on its inputs.
func Evaluate(rule *models.Rule, candidates []tracker.Torrent, now time.Time) ([]tracker.Torrent, error) {
	var program *vm.Program
	if strings.TrimSpace(rule.Expression) != "" {
		p, err := CompileExpression(rule.Expression)
		if err != nil {
			return nil, err
		}
		program = p
	}

	categories := make(map[string]bool)
	for _, c := range rule.CategoryList() {
		categories[c] = true
	}
	include := utils.NewKeywordSet(rule.Keywords)
	exclude := utils.NewKeywordSet(rule.ExcludeKeywords)

	var selected []tracker.Torrent
	for _, t := range candidates {
		if len(categories) > 0 && !categories[strconv.Itoa(t.CategoryID)] {
			continue
		}

		sizeGB := float64(t.Size) / utils.GiB
		if rule.MinSize > 0 && sizeGB < rule.MinSize {
			continue
		}
		if rule.MaxSize > 0 && sizeGB > rule.MaxSize {
			continue
		}

		if !inRange(t.Seeders, rule.MinSeeders, rule.MaxSeeders) ||
			!inRange(t.Leechers, rule.MinLeechers, rule.MaxLeechers) {
			continue
		}

		if rule.MaxPublishHours > 0 && !t.UploadedAt.IsZero() &&
			now.Sub(t.UploadedAt) > time.Duration(rule.MaxPublishHours)*time.Hour {
			continue
		}

		if !include.Empty() {
			if ok, _ := include.Match(t.Title, t.Subtitle); !ok {
				continue
			}
		}
		if ok, _ := exclude.Match(t.Title, t.Subtitle); ok {
			continue
		}

		discount := models.DiscountType(t.Discount)
		if rule.FreeOnly && !discount.IsFree() {
			continue
		}
		if rule.DoubleUpload && !discount.IsDoubleUpload() {
			continue
		}
		if rule.SkipHR && t.HasHR {
			continue
		}

		if program != nil {
			out, err := expr.Run(program, newCandidateEnv(t, now))
			if err != nil {
				continue
			}
			if ok, _ := out.(bool); !ok {
				continue
			}
		}

		selected = append(selected, t)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Seeders > selected[j].Seeders
	})
	return selected, nil
}

func inRange(v, min, max int) bool {
	if min > 0 && v < min {
		return false
	}
	if max > 0 && v > max {
		return false
	}
	return true
}

// searchParams narrows the tracker query using the rule's hints
func searchParams(rule *models.Rule) tracker.SearchParams {
	params := tracker.SearchParams{}
	if keywords := rule.KeywordList(); len(keywords) == 1 {
		params.Keyword = keywords[0]
	}
	if categories := rule.CategoryList(); len(categories) == 1 {
		params.Category, _ = strconv.Atoi(categories[0])
	}
	switch {
	case rule.FreeOnly && rule.DoubleUpload:
		params.SpState = tracker.SpStateTwoUpFree
	case rule.FreeOnly:
		params.SpState = tracker.SpStateFree
	case rule.DoubleUpload:
		params.SpState = tracker.SpStateTwoUp
	}
	return params
}

// RuleEngine evaluates enabled rules and dispatches matches to downloaders
type RuleEngine struct {
	db      *models.Database
	clients Clients
	locker  *utils.KeyedLocker
	logger  *logrus.Logger
	now     func() time.Time
}

// NewRuleEngine creates a rule engine
func NewRuleEngine(db *models.Database, clients Clients, locker *utils.KeyedLocker, logger *logrus.Logger) *RuleEngine {
	return &RuleEngine{
		db:      db,
		clients: clients,
		locker:  locker,
		logger:  logger,
		now:     time.Now,
	}
}

// RunAll evaluates every enabled rule in sort order
func (e *RuleEngine) RunAll(ctx context.Context) (*Report, error) {
	report := NewReport()

	rules, err := e.db.EnabledRules()
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	if len(rules) == 0 {
		e.logger.Debug("No enabled rules")
		return report, nil
	}
	accounts, err := e.db.ActiveAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	skipped := make(map[uint64]bool)
	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}
		report.addProcessed(1)

		account, err := e.resolveAccount(rule, accounts)
		if err != nil {
			report.addError("rule", rule.ID, err)
			continue
		}
		if skipped[account.ID] {
			continue
		}
		dl, err := e.resolveDownloader(rule)
		if err != nil {
			report.addError("rule", rule.ID, err)
			continue
		}

		if err := e.runRule(ctx, rule, account, dl, report); err != nil {
			if isAuthError(err) {
				e.logger.WithFields(logrus.Fields{
					"account_id": account.ID,
					"username":   account.Username,
				}).Warn("Tracker session expired, skipping account for this pass")
				skipped[account.ID] = true
				report.needsRelogin(account.ID)
				continue
			}
			e.logger.WithError(err).WithField("rule", rule.Name).Error("Rule failed")
			report.addError("rule", rule.ID, err)
		}
	}

	return report, nil
}

func (e *RuleEngine) resolveAccount(rule *models.Rule, active []*models.Account) (*models.Account, error) {
	if rule.AccountID == 0 {
		if len(active) == 0 {
			return nil, fmt.Errorf("no active account available")
		}
		return active[0], nil
	}
	for _, a := range active {
		if a.ID == rule.AccountID {
			return a, nil
		}
	}
	return nil, fmt.Errorf("account %d is missing or inactive", rule.AccountID)
}

func (e *RuleEngine) resolveDownloader(rule *models.Rule) (*models.Downloader, error) {
	if rule.DownloaderID == 0 {
		dl, err := e.db.DefaultDownloader()
		if err != nil {
			return nil, fmt.Errorf("no default downloader: %w", err)
		}
		return dl, nil
	}
	dl, err := e.db.GetDownloader(rule.DownloaderID)
	if err != nil {
		return nil, fmt.Errorf("downloader %d: %w", rule.DownloaderID, err)
	}
	return dl, nil
}

func (e *RuleEngine) runRule(ctx context.Context, rule *models.Rule, account *models.Account, dl *models.Downloader, report *Report) error {
	unlock, err := e.locker.LockAll(ctx, account.LockKey(), dl.LockKey())
	if err != nil {
		return err
	}
	defer unlock()

	logger := e.logger.WithFields(logrus.Fields{
		"rule":       rule.Name,
		"account_id": account.ID,
		"downloader": dl.Name,
	})

	active, err := e.db.CountActiveForRule(rule.ID)
	if err != nil {
		return fmt.Errorf("failed to count active downloads: %w", err)
	}
	slots := rule.MaxDownloading - active
	if slots <= 0 {
		logger.WithField("active", active).Debug("Rule at max downloading, skipping")
		return nil
	}

	tc, err := e.clients.Tracker(account)
	if err != nil {
		return err
	}
	var candidates []tracker.Torrent
	if rule.Kind == models.RuleKindFavorite {
		candidates, err = tc.Bookmarks(ctx)
	} else {
		candidates, err = tc.Search(ctx, searchParams(rule))
	}
	if err != nil {
		return err
	}

	selected, err := Evaluate(rule, candidates, e.now())
	if err != nil {
		return err
	}

	seen, err := e.db.HistoryTorrentIDs(account.ID)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	fresh := selected[:0]
	for _, t := range selected {
		if !seen[t.ID] {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) > slots {
		fresh = fresh[:slots]
	}

	logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"matched":    len(selected),
		"dispatch":   len(fresh),
		"slots":      slots,
	}).Info("Rule evaluated")

	if len(fresh) == 0 {
		return nil
	}

	dc, err := e.clients.Downloader(dl)
	if err != nil {
		return err
	}
	items, errs := e.dispatch(ctx, tc, dc, account, rule, dl, fresh)
	for _, item := range items {
		report.addDispatched(item)
	}
	for _, itemErr := range errs {
		if isAuthError(itemErr) {
			return itemErr
		}
		report.addError(itemErr.Resource, itemErr.ID, itemErr.Err)
	}
	return nil
}

// Dispatch adds the selected torrents to a downloader and records them in history
// A failure is recorded for its candidate and the batch continues.
func (e *RuleEngine) Dispatch(ctx context.Context, account *models.Account, rule *models.Rule, dl *models.Downloader, selected []tracker.Torrent) ([]*models.HistoryItem, []*ItemError) {
	tc, err := e.clients.Tracker(account)
	if err != nil {
		return nil, []*ItemError{{Resource: "account", ID: fmt.Sprint(account.ID), Err: err}}
	}
	dc, err := e.clients.Downloader(dl)
	if err != nil {
		return nil, []*ItemError{{Resource: "downloader", ID: fmt.Sprint(dl.ID), Err: err}}
	}
	return e.dispatch(ctx, tc, dc, account, rule, dl, selected)
}

func (e *RuleEngine) dispatch(ctx context.Context, tc TrackerClient, dc DownloaderClient, account *models.Account, rule *models.Rule, dl *models.Downloader, selected []tracker.Torrent) ([]*models.HistoryItem, []*ItemError) {
	var items []*models.HistoryItem
	var errs []*ItemError

	for _, t := range selected {
		if ctx.Err() != nil {
			break
		}
		item, err := e.dispatchOne(ctx, tc, dc, account, rule, dl, t)
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"torrent_id": t.ID,
				"title":      t.Title,
			}).Warn("Failed to dispatch torrent")
			errs = append(errs, &ItemError{Resource: "torrent", ID: t.ID, Err: err})
			if isAuthError(err) {
				break
			}
			continue
		}
		items = append(items, item)
	}
	return items, errs
}

func (e *RuleEngine) dispatchOne(ctx context.Context, tc TrackerClient, dc DownloaderClient, account *models.Account, rule *models.Rule, dl *models.Downloader, t tracker.Torrent) (*models.HistoryItem, error) {
	data, err := tc.DownloadTorrent(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	hash, err := InfoHash(data)
	if err != nil {
		return nil, err
	}
	if err := dc.Add(ctx, data, rule.SavePath, rule.Tags); err != nil {
		return nil, err
	}

	item := &models.HistoryItem{
		TorrentID:       t.ID,
		InfoHash:        hash,
		Title:           t.Title,
		Size:            t.Size,
		DiscountType:    models.DiscountType(t.Discount),
		DiscountEndTime: t.DiscountEnd,
		HasHR:           t.HasHR,
		Status:          models.HistoryDownloading,
		AccountID:       account.ID,
		DownloaderID:    dl.ID,
		RuleID:          rule.ID,
		Tags:            rule.Tags,
		SavePath:        rule.SavePath,
		IsFavorited:     rule.Kind == models.RuleKindFavorite,
		CreatedAt:       e.now(),
	}
	if err := e.db.CreateHistory(item); err != nil {
		return nil, fmt.Errorf("torrent added but history not saved: %w", err)
	}

	metrics.TorrentsDispatched.WithLabelValues(rule.Name).Inc()
	e.logger.WithFields(logrus.Fields{
		"torrent_id": t.ID,
		"title":      t.Title,
		"hash":       hash,
		"discount":   t.Discount,
		"rule":       rule.Name,
	}).Info("Torrent dispatched")
	return item, nil
}

// InfoHash returns the lowercase hex info hash of a .torrent file
func InfoHash(data []byte) (string, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("invalid torrent file: %w", err)
	}
	return mi.HashInfoBytes().HexString(), nil
}
