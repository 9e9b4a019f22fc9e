package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"propsync/internal/config"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const (
	backupPrefix  = "propsync_"
	backupLayout  = "20060102_150405"
	defaultPeriod = 24 * time.Hour
)

// BackupService snapshots the sqlite database holding the entity map and
// sync log on a fixed interval and prunes snapshots past retention.
// Postgres deployments rely on their own backups and never start it.
type BackupService struct {
	dbPath   string
	dir      string
	interval time.Duration
	keep     time.Duration
	enabled  bool
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewBackupService(dbPath string, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPeriod
	}
	l := logger.With().Str("component", "backup").Logger()

	return &BackupService{
		dbPath:   dbPath,
		dir:      cfg.StoragePath,
		interval: interval,
		keep:     time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		enabled:  cfg.Enabled,
		logger:   &l,
		now:      time.Now,
	}
}

// Start takes a snapshot right away and then one per interval until ctx is
// done.
func (s *BackupService) Start(ctx context.Context) {
	if !s.enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}
	s.logger.Info().Dur("interval", s.interval).Str("path", s.dbPath).Msg("Backup service started")

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *BackupService) runOnce(ctx context.Context) {
	if _, err := s.PerformBackup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Backup failed")
	}
	if removed := s.CleanupOldBackups(); removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Old backups deleted")
	}
}

// PerformBackup writes a consistent copy of the database with VACUUM INTO
// and returns its path.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	path := filepath.Join(s.dir, backupPrefix+s.now().Format(backupLayout)+".db")

	db, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return "", fmt.Errorf("open source database: %w", err)
	}
	defer db.Close()

	// VACUUM INTO takes no bind parameters.
	quoted := strings.ReplaceAll(path, "'", "''")
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("vacuum into %s: %w", path, err)
	}

	s.logger.Info().Str("path", path).Msg("Database backup written")
	return path, nil
}

// CleanupOldBackups deletes snapshots older than the retention window and
// returns how many were removed. Files not written by the service are kept.
func (s *BackupService) CleanupOldBackups() int {
	if s.keep <= 0 {
		return 0
	}

	matches, err := filepath.Glob(filepath.Join(s.dir, backupPrefix+"*.db"))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list backups")
		return 0
	}

	cutoff := s.now().Add(-s.keep)
	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str("file", path).Msg("Failed to delete old backup")
			continue
		}
		removed++
	}
	return removed
}
