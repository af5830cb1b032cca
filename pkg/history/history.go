// Package history persists generated run reports so successive
// reconstructions of the same bundle can be compared over time.
package history

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/testviz/xctimeline/pkg/config"
)

// Store provides persistence for reconstructed run summaries.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertReport(ctx context.Context, report *ReportRecord) error
	ListReports(ctx context.Context, bundlePath string) ([]ReportRecord, error)
	ListAllReports(ctx context.Context) ([]ReportRecord, error)

	BulkUpsertRunSummaries(ctx context.Context, summaries []*RunSummary) error
	ListRunSummaries(ctx context.Context, reportID string) ([]RunSummary, error)
	ListFailingRuns(ctx context.Context, bundlePath string) ([]RunSummary, error)
	DeleteRunSummariesForReport(ctx context.Context, reportID string) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.HistoryDatabaseConfig
	db  *gorm.DB
}

// NewStore creates a history Store backed by the configured database
// driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.HistoryDatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "history"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&ReportRecord{},
		&RunSummary{},
	); err != nil {
		return fmt.Errorf("running history migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("History database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// UpsertReport inserts or updates a report record keyed by
// bundle_path + report_id.
func (s *store) UpsertReport(ctx context.Context, report *ReportRecord) error {
	result := s.db.WithContext(ctx).
		Where("bundle_path = ? AND report_id = ?",
			report.BundlePath, report.ReportID).
		Assign(report).
		FirstOrCreate(report)
	if result.Error != nil {
		return fmt.Errorf("upserting report: %w", result.Error)
	}

	return nil
}

// ListReports returns all reports for a bundle path, newest first.
func (s *store) ListReports(
	ctx context.Context, bundlePath string,
) ([]ReportRecord, error) {
	var reports []ReportRecord
	if err := s.db.WithContext(ctx).
		Where("bundle_path = ?", bundlePath).
		Order("generated_at DESC").
		Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}

	return reports, nil
}

// ListAllReports returns all reports across all bundle paths.
func (s *store) ListAllReports(ctx context.Context) ([]ReportRecord, error) {
	var reports []ReportRecord
	if err := s.db.WithContext(ctx).
		Order("generated_at DESC").
		Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("listing all reports: %w", err)
	}

	return reports, nil
}

// BulkUpsertRunSummaries inserts multiple run summaries in a single
// transaction, batched to keep round-trips bounded.
func (s *store) BulkUpsertRunSummaries(
	ctx context.Context, summaries []*RunSummary,
) error {
	if len(summaries) == 0 {
		return nil
	}

	const batchSize = 100

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < len(summaries); i += batchSize {
			end := i + batchSize
			if end > len(summaries) {
				end = len(summaries)
			}

			batch := summaries[i:end]

			if err := tx.CreateInBatches(batch, len(batch)).Error; err != nil {
				return fmt.Errorf("bulk inserting run summaries: %w", err)
			}
		}

		return nil
	})
}

// ListRunSummaries returns every run summary recorded for a report.
func (s *store) ListRunSummaries(
	ctx context.Context, reportID string,
) ([]RunSummary, error) {
	var summaries []RunSummary
	if err := s.db.WithContext(ctx).
		Where("report_id = ?", reportID).
		Order("test_id ASC").
		Find(&summaries).Error; err != nil {
		return nil, fmt.Errorf("listing run summaries: %w", err)
	}

	return summaries, nil
}

// ListFailingRuns returns summaries of runs that recorded a failure,
// across every report of a bundle path.
func (s *store) ListFailingRuns(
	ctx context.Context, bundlePath string,
) ([]RunSummary, error) {
	var summaries []RunSummary
	if err := s.db.WithContext(ctx).
		Joins("JOIN report_records ON report_records.report_id = run_summaries.report_id").
		Where("report_records.bundle_path = ? AND run_summaries.failed = ?",
			bundlePath, true).
		Find(&summaries).Error; err != nil {
		return nil, fmt.Errorf("listing failing runs: %w", err)
	}

	return summaries, nil
}

// DeleteRunSummariesForReport removes all run summaries for a report.
func (s *store) DeleteRunSummariesForReport(
	ctx context.Context, reportID string,
) error {
	if err := s.db.WithContext(ctx).
		Where("report_id = ?", reportID).
		Delete(&RunSummary{}).Error; err != nil {
		return fmt.Errorf("deleting run summaries for report: %w", err)
	}

	return nil
}
