// Package indexstore mirrors appended history into a SQLite database so
// per-test trends can be queried without scanning the history file.
package indexstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/ethpandaops/reportoor/pkg/history"
	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const batchSize = 100

// Store provides persistence for indexed history.
type Store interface {
	history.Recorder

	Start(ctx context.Context) error
	Stop() error

	UpsertDataPoint(ctx context.Context, dp *DataPoint) error
	ListDataPoints(ctx context.Context, branch string) ([]DataPoint, error)
	BulkUpsertTestRuns(ctx context.Context, runs []*TestRun) error
	// HistoryForTest returns at most limit runs of a test, newest first.
	// limit <= 0 returns every run.
	HistoryForTest(ctx context.Context, branch, historyID string, limit int) ([]TestRun, error)
	DeleteDataPoint(ctx context.Context, branch, uuid string) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.SQLiteDatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new index Store backed by SQLite.
func NewStore(log logrus.FieldLogger, cfg *config.SQLiteDatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "indexstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	if s.cfg == nil || s.cfg.Path == "" {
		return errors.New("index database path is required")
	}

	db, err := gorm.Open(sqlite.Open(s.cfg.Path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	s.db = db

	if s.cfg.Path == ":memory:" {
		// Every pooled connection would open its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&DataPoint{},
		&TestRun{},
	); err != nil {
		return fmt.Errorf("running index migrations: %w", err)
	}

	s.log.WithField("path", s.cfg.Path).Info("Index database connected")

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

// UpsertDataPoint inserts or updates a data point keyed by branch + uuid.
func (s *store) UpsertDataPoint(ctx context.Context, dp *DataPoint) error {
	result := s.db.WithContext(ctx).
		Where("branch = ? AND uuid = ?", dp.Branch, dp.UUID).
		Assign(dp).
		FirstOrCreate(dp)
	if result.Error != nil {
		return fmt.Errorf("upserting data point: %w", result.Error)
	}

	return nil
}

// ListDataPoints returns the data points of a branch, newest first.
func (s *store) ListDataPoints(ctx context.Context, branch string) ([]DataPoint, error) {
	var points []DataPoint
	if err := s.db.WithContext(ctx).
		Where("branch = ?", branch).
		Order("timestamp DESC").
		Find(&points).Error; err != nil {
		return nil, fmt.Errorf("listing data points: %w", err)
	}

	return points, nil
}

// BulkUpsertTestRuns replaces the stored runs of every (branch, uuid,
// historyId) in runs within one transaction.
func (s *store) BulkUpsertTestRuns(ctx context.Context, runs []*TestRun) error {
	if len(runs) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < len(runs); i += batchSize {
			end := min(i+batchSize, len(runs))
			batch := runs[i:end]

			for _, run := range batch {
				if err := tx.
					Where("branch = ? AND uuid = ? AND history_id = ?",
						run.Branch, run.UUID, run.HistoryID).
					Delete(&TestRun{}).Error; err != nil {
					return fmt.Errorf("clearing test run: %w", err)
				}
			}

			if err := tx.CreateInBatches(batch, len(batch)).Error; err != nil {
				return fmt.Errorf("bulk inserting test runs: %w", err)
			}
		}

		return nil
	})
}

func (s *store) HistoryForTest(
	ctx context.Context, branch, historyID string, limit int,
) ([]TestRun, error) {
	q := s.db.WithContext(ctx).
		Where("branch = ? AND history_id = ?", branch, historyID).
		Order("timestamp DESC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	var runs []TestRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing test history: %w", err)
	}

	return runs, nil
}

// DeleteDataPoint removes a data point and its test runs.
func (s *store) DeleteDataPoint(ctx context.Context, branch, uuid string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("branch = ? AND uuid = ?", branch, uuid).
			Delete(&TestRun{}).Error; err != nil {
			return fmt.Errorf("deleting test runs: %w", err)
		}

		if err := tx.Where("branch = ? AND uuid = ?", branch, uuid).
			Delete(&DataPoint{}).Error; err != nil {
			return fmt.Errorf("deleting data point: %w", err)
		}

		return nil
	})
}

// RecordDataPoint indexes an appended history data point.
func (s *store) RecordDataPoint(ctx context.Context, branch string, point *model.HistoryDataPoint) error {
	if s.db == nil {
		return errors.New("index database not started")
	}

	dp, runs, err := convertDataPoint(branch, point)
	if err != nil {
		return err
	}

	if err := s.UpsertDataPoint(ctx, dp); err != nil {
		return err
	}

	if err := s.BulkUpsertTestRuns(ctx, runs); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"branch":    branch,
		"uuid":      point.UUID,
		"test_runs": len(runs),
	}).Debug("Indexed history data point")

	return nil
}

func convertDataPoint(branch string, point *model.HistoryDataPoint) (*DataPoint, []*TestRun, error) {
	metrics := []byte("{}")

	if len(point.Metrics) > 0 {
		var err error

		metrics, err = json.Marshal(point.Metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding metrics: %w", err)
		}
	}

	var stat model.Statistic

	runs := make([]*TestRun, 0, len(point.TestResults))

	for hid, htr := range point.TestResults {
		stat.Add(htr.Status)

		run := &TestRun{
			Branch:    branch,
			UUID:      point.UUID,
			HistoryID: hid,
			Name:      htr.Name,
			FullName:  htr.FullName,
			Status:    string(htr.Status),
			Start:     htr.Start,
			Stop:      htr.Stop,
			Duration:  htr.Duration,
			Timestamp: point.Timestamp,
		}

		if htr.Error != nil {
			run.Message = htr.Error.Message
		}

		runs = append(runs, run)
	}

	dp := &DataPoint{
		Branch:       branch,
		UUID:         point.UUID,
		Name:         point.Name,
		Timestamp:    point.Timestamp,
		URL:          point.URL,
		TestsTotal:   stat.Total,
		TestsFailed:  stat.Failed,
		TestsBroken:  stat.Broken,
		TestsPassed:  stat.Passed,
		TestsSkipped: stat.Skipped,
		TestsUnknown: stat.Unknown,
		MetricsJSON:  string(metrics),
		IndexedAt:    time.Now().UTC(),
	}

	return dp, runs, nil
}
