package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

var (
	_ Backend    = (*GormStore)(nil)
	_ OwnerIndex = (*GormStore)(nil)
)

// recordRow is the gorm model of the itinerary_records table.
type recordRow struct {
	RecordKey string `gorm:"column:record_key;primaryKey"`
	OwnerID   string `gorm:"column:owner_id;index"`
	Version   int64  `gorm:"column:version"`
	Payload   []byte `gorm:"column:payload"`
	UpdatedAt time.Time
}

func (recordRow) TableName() string { return recordsTable }

func (r recordRow) record() Record {
	return Record{Key: r.RecordKey, OwnerID: r.OwnerID, Version: r.Version, Payload: r.Payload, UpdatedAt: r.UpdatedAt}
}

// GormStore is the structured tier for embedded deployments (SQLite through
// gorm).
type GormStore struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewGormStore migrates the records table and returns the store.
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, fmt.Errorf("migrating %s: %w", recordsTable, err)
	}
	return &GormStore{logger: logger, db: db}, nil
}

func (s *GormStore) Name() string { return "sqlite" }

func (s *GormStore) Put(ctx context.Context, rec Record) error {
	row := recordRow{
		RecordKey: rec.Key,
		OwnerID:   rec.OwnerID,
		Version:   rec.Version,
		Payload:   rec.Payload,
		UpdatedAt: rec.UpdatedAt,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_key"}},
		Where:     clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: recordsTable + ".version <= excluded.version"}}},
		UpdateAll: true,
	}).Create(&row)
	if res.Error != nil {
		s.logger.Error("Failed to upsert record", zap.String("method", "Put"), zap.String("key", rec.Key), zap.Error(res.Error))
		return fmt.Errorf("sqlite error saving record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var stored recordRow
		if err := s.db.WithContext(ctx).Select("version").Where("record_key = ?", rec.Key).First(&stored).Error; err != nil {
			s.logger.Warn("Stale write refused, stored version unreadable", zap.String("key", rec.Key), zap.Error(err))
		}
		return staleWrite(rec, stored.Version)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, key string) (*Record, error) {
	var row recordRow
	err := s.db.WithContext(ctx).Where("record_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("record %s: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite error loading record: %w", err)
	}
	rec := row.record()
	return &rec, nil
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("record_key = ?", key).Delete(&recordRow{}).Error; err != nil {
		return fmt.Errorf("sqlite error deleting record: %w", err)
	}
	return nil
}

func (s *GormStore) ListByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	var rows []recordRow
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("updated_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite error listing records: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}
