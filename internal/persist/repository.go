// Package persist keeps a durable copy of every room so the in-memory store
// survives restarts.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var ErrUnknownDriver = errors.New("unknown database driver")

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// RoomRecord is one room subtree serialized as JSON.
type RoomRecord struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	Data      []byte    `gorm:"column:data;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (RoomRecord) TableName() string { return "rooms" }

type Repository struct {
	db *gorm.DB
}

// Open connects and migrates. The memory driver means no persistence and
// returns a nil repository.
func Open(driver, dsn string, log *zap.Logger) (*Repository, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverMemory, "":
		return nil, nil
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&RoomRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if log != nil {
		log.Info("database ready", zap.String("driver", driver))
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Load(ctx context.Context) ([]RoomRecord, error) {
	var out []RoomRecord
	if err := r.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	return out, nil
}

// Save inserts or replaces the room.
func (r *Repository) Save(ctx context.Context, id string, data []byte) error {
	rec := RoomRecord{ID: id, Data: data}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save room %s: %w", id, err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&RoomRecord{ID: id}).Error; err != nil {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	return nil
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
