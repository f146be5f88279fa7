package postgres

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/flowforge/startlimit/pkg/config"
	"github.com/flowforge/startlimit/pkg/model"
)

type Store struct {
	db *gorm.DB
}

func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	return &Store{db: db}, nil
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&model.LimitRecord{})
}

// LimitRepository persists limit definitions in the start_limits table.
type LimitRepository struct {
	db *gorm.DB
}

func NewLimitRepository(db *gorm.DB) *LimitRepository {
	return &LimitRepository{db: db}
}

// Save upserts the definition keyed by tag.
func (r *LimitRepository) Save(ctx context.Context, def *model.LimitDefinition) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tag"}},
			UpdateAll: true,
		}).
		Create(model.NewLimitRecord(def)).Error
}

func (r *LimitRepository) Delete(ctx context.Context, tag string) error {
	return r.db.WithContext(ctx).Where("tag = ?", tag).Delete(&model.LimitRecord{}).Error
}

func (r *LimitRepository) Load(ctx context.Context) ([]*model.LimitDefinition, error) {
	var records []model.LimitRecord
	if err := r.db.WithContext(ctx).Order("tag").Find(&records).Error; err != nil {
		return nil, err
	}
	defs := make([]*model.LimitDefinition, 0, len(records))
	for i := range records {
		defs = append(defs, records[i].Definition())
	}
	return defs, nil
}
