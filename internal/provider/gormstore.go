package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jmylchreest/mediaflow/internal/config"
)

// ScoreRecord is the GORM model for one persisted provider score.
type ScoreRecord struct {
	Name      string    `gorm:"primaryKey;size:128" json:"name"`
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName sets the table name for ScoreRecord.
func (ScoreRecord) TableName() string {
	return "provider_scores"
}

// GormStore is a ScoreStore backed by SQLite, PostgreSQL, or MySQL
// through GORM.
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewGormStore opens a database connection for the given configuration
// and migrates the score table.
func NewGormStore(cfg config.StoreConfig, logger *slog.Logger) (*GormStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialector, err := getDialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true, // single-row upserts, no transaction needed
	})
	if err != nil {
		return nil, fmt.Errorf("opening score store: %w", err)
	}

	if err := db.AutoMigrate(&ScoreRecord{}); err != nil {
		return nil, fmt.Errorf("migrating score store: %w", err)
	}

	return &GormStore{db: db, logger: logger}, nil
}

// getDialector returns the GORM dialector for the configured driver.
func getDialector(cfg config.StoreConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported score store driver: %s", cfg.Driver)
	}
}

// Load returns all persisted provider scores.
func (s *GormStore) Load(ctx context.Context) ([]Entry, error) {
	var records []ScoreRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("loading scores: %w", err)
	}

	entries := make([]Entry, len(records))
	for i, rec := range records {
		entries[i] = Entry{Name: rec.Name, Score: rec.Score, UpdatedAt: rec.UpdatedAt}
	}
	return entries, nil
}

// Save upserts the given entries. Last write wins per provider name.
func (s *GormStore) Save(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	records := make([]ScoreRecord, len(entries))
	for i, e := range entries {
		records[i] = ScoreRecord{Name: e.Name, Score: e.Score, UpdatedAt: e.UpdatedAt}
	}

	if err := s.db.WithContext(ctx).Save(&records).Error; err != nil {
		return fmt.Errorf("saving scores: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
