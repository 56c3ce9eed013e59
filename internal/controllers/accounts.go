package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/utils"
	"golang.org/x/sync/errgroup"
)

// AccountService keeps tracker accounts and their counters current
type AccountService struct {
	db      *models.Database
	clients Clients
	locker  *utils.KeyedLocker
	logger  *logrus.Logger
	now     func() time.Time
}

// NewAccountService creates an account service
func NewAccountService(db *models.Database, clients Clients, locker *utils.KeyedLocker, logger *logrus.Logger) *AccountService {
	return &AccountService{
		db:      db,
		clients: clients,
		locker:  locker,
		logger:  logger,
		now:     time.Now,
	}
}

// Create validates and stores a new account
func (s *AccountService) Create(account *models.Account) error {
	account.SiteURL = strings.TrimRight(strings.TrimSpace(account.SiteURL), "/")
	if err := models.Validator().Struct(account); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	if account.Cookie == "" {
		return fmt.Errorf("%w: cookie is required", models.ErrInvalidConfig)
	}
	return s.db.CreateAccount(account)
}

// SaveLogin stores the cookie of a completed site login, creating the account when needed
func (s *AccountService) SaveLogin(siteURL, username, cookie, uid string) (*models.Account, error) {
	siteURL = strings.TrimRight(siteURL, "/")
	account, err := s.db.FindAccount(siteURL, username)
	if errors.Is(err, models.ErrNotFound) {
		account = &models.Account{
			SiteURL:  siteURL,
			Username: username,
			UID:      uid,
			Cookie:   cookie,
			IsActive: true,
		}
		if err := s.db.CreateAccount(account); err != nil {
			return nil, err
		}
		s.logger.WithFields(logrus.Fields{
			"account_id": account.ID,
			"username":   username,
		}).Info("Account created from site login")
		return account, nil
	}
	if err != nil {
		return nil, err
	}

	account.Cookie = cookie
	account.IsActive = true
	if uid != "" {
		account.UID = uid
	}
	if err := s.db.UpdateAccount(account); err != nil {
		return nil, err
	}
	s.logger.WithField("account_id", account.ID).Info("Account session renewed from site login")
	return account, nil
}

// Refresh copies the tracker's counters onto one account
func (s *AccountService) Refresh(ctx context.Context, id uint64) (*models.Account, error) {
	account, err := s.db.GetAccount(id)
	if err != nil {
		return nil, err
	}
	if err := s.refresh(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// RefreshAll refreshes every active account concurrently
func (s *AccountService) RefreshAll(ctx context.Context) (*Report, error) {
	accounts, err := s.db.ActiveAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	report := NewReport()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(len(accounts), 1))
	for _, account := range accounts {
		account := account
		g.Go(func() error {
			report.addProcessed(1)
			if err := s.refresh(gctx, account); err != nil {
				if isAuthError(err) {
					report.needsRelogin(account.ID)
				}
				s.logger.WithError(err).WithField("username", account.Username).Error("Failed to refresh account")
				report.addError("account", account.ID, err)
				return nil
			}
			report.addChanged(1)
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

func (s *AccountService) refresh(ctx context.Context, account *models.Account) error {
	if account.UID == "" {
		return fmt.Errorf("account %d has no uid", account.ID)
	}
	unlock, err := s.locker.Lock(ctx, account.LockKey())
	if err != nil {
		return err
	}
	defer unlock()

	tc, err := s.clients.Tracker(account)
	if err != nil {
		return err
	}
	stats, err := tc.FetchAccountStats(ctx, account.UID)
	if err != nil {
		return err
	}

	account.Uploaded = stats.Uploaded
	account.Downloaded = stats.Downloaded
	account.Ratio = stats.Ratio
	account.Bonus = stats.Bonus
	account.UserClass = stats.UserClass
	if stats.Passkey != "" {
		account.Passkey = stats.Passkey
	}
	if account.Passkey == "" {
		passkey, err := tc.FetchPasskey(ctx)
		if err != nil {
			s.logger.WithError(err).WithField("account_id", account.ID).Warn("Failed to fetch passkey")
		} else {
			account.Passkey = passkey
		}
	}
	now := s.now()
	account.LastRefresh = &now

	if err := s.db.UpdateAccount(account); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"username":   account.Username,
		"uploaded":   utils.FormatSize(account.Uploaded),
		"ratio":      account.Ratio,
	}).Info("Account refreshed")
	return nil
}

// Delete removes an account
func (s *AccountService) Delete(id uint64) error {
	if _, err := s.db.GetAccount(id); err != nil {
		return err
	}
	return s.db.DeleteAccount(id)
}
