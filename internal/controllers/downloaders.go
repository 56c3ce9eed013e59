package controllers

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/services/downloader"
)

// DownloaderService manages torrent client endpoints
type DownloaderService struct {
	db      *models.Database
	clients Clients
	logger  *logrus.Logger
}

// NewDownloaderService creates a downloader service
func NewDownloaderService(db *models.Database, clients Clients, logger *logrus.Logger) *DownloaderService {
	return &DownloaderService{db: db, clients: clients, logger: logger}
}

// Create validates and stores a downloader
func (s *DownloaderService) Create(dl *models.Downloader) error {
	if err := models.Validator().Struct(dl); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	return s.db.CreateDownloader(dl)
}

// Delete removes a downloader
func (s *DownloaderService) Delete(id uint64) error {
	if _, err := s.db.GetDownloader(id); err != nil {
		return err
	}
	return s.db.DeleteDownloader(id)
}

// Test checks the downloader answers and returns its version
func (s *DownloaderService) Test(ctx context.Context, id uint64) (string, error) {
	dc, dl, err := s.client(id)
	if err != nil {
		return "", err
	}
	version, err := dc.Probe(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("downloader", dl.Name).Warn("Downloader test failed")
		return "", err
	}
	s.logger.WithFields(logrus.Fields{
		"downloader": dl.Name,
		"version":    version,
	}).Info("Downloader reachable")
	return version, nil
}

// Stats returns live speeds, torrent counts and free space
func (s *DownloaderService) Stats(ctx context.Context, id uint64) (*downloader.Stats, error) {
	dc, _, err := s.client(id)
	if err != nil {
		return nil, err
	}
	return dc.Stats(ctx)
}

func (s *DownloaderService) client(id uint64) (DownloaderClient, *models.Downloader, error) {
	dl, err := s.db.GetDownloader(id)
	if err != nil {
		return nil, nil, err
	}
	dc, err := s.clients.Downloader(dl)
	if err != nil {
		return nil, nil, err
	}
	return dc, dl, nil
}
