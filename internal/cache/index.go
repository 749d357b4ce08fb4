package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const schemaVersion = 1

// assetRecord 是 cached_assets 表的行结构；时间以 UnixNano 存储，保证排序稳定。
type assetRecord struct {
	URL         string `gorm:"primaryKey;size:2048"`
	Kind        string `gorm:"size:32;not null"`
	ContentType string `gorm:"size:255"`
	BlobKey     string `gorm:"size:64;not null"`
	SizeBytes   int64  `gorm:"not null"`
	StoredAt    int64  `gorm:"index;not null"`
	ExpiresAt   int64  `gorm:"index;not null"`
}

func (assetRecord) TableName() string {
	return "cached_assets"
}

func (r assetRecord) asset() CachedAsset {
	return CachedAsset{
		URL:         r.URL,
		Kind:        AssetKind(r.Kind),
		ContentType: r.ContentType,
		SizeBytes:   r.SizeBytes,
		StoredAt:    time.Unix(0, r.StoredAt),
		ExpiresAt:   time.Unix(0, r.ExpiresAt),
	}
}

func recordFor(asset CachedAsset) assetRecord {
	return assetRecord{
		URL:         asset.URL,
		Kind:        string(asset.Kind),
		ContentType: asset.ContentType,
		BlobKey:     blobKey(asset.URL),
		SizeBytes:   asset.SizeBytes,
		StoredAt:    asset.StoredAt.UnixNano(),
		ExpiresAt:   asset.ExpiresAt.UnixNano(),
	}
}

// assetIndex 封装 SQLite 元数据表的读写。
type assetIndex struct {
	db *gorm.DB
}

func openIndex(storagePath string) (*assetIndex, error) {
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	dbPath := filepath.Join(storagePath, "assets.db")
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open asset index: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := ensureSchema(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &assetIndex{db: db}, nil
}

// ensureSchema 仅在表不存在时创建，版本固定为 1，不做迁移。
func ensureSchema(db *gorm.DB) error {
	var version int
	if err := db.Raw("PRAGMA user_version").Scan(&version).Error; err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("unsupported asset index schema version %d", version)
	}
	if err := db.AutoMigrate(&assetRecord{}); err != nil {
		return fmt.Errorf("create asset index: %w", err)
	}
	if version == 0 {
		if err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)).Error; err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
	}
	return nil
}

func (i *assetIndex) find(ctx context.Context, url string) (*assetRecord, error) {
	var rec assetRecord
	err := i.db.WithContext(ctx).Take(&rec, "url = ?", url).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (i *assetIndex) upsert(ctx context.Context, rec assetRecord) error {
	return i.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "url"}},
			UpdateAll: true,
		}).Create(&rec).Error
}

func (i *assetIndex) delete(ctx context.Context, url string) error {
	return i.db.WithContext(ctx).Where("url = ?", url).Delete(&assetRecord{}).Error
}

func (i *assetIndex) totals(ctx context.Context) (Stats, error) {
	var stats Stats
	err := i.db.WithContext(ctx).Model(&assetRecord{}).
		Select("COUNT(*) AS count, COALESCE(SUM(size_bytes), 0) AS total_size_bytes").
		Scan(&stats).Error
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// oldestFirst 按 stored_at 升序返回全部记录，同一时刻按 url 排序。
func (i *assetIndex) oldestFirst(ctx context.Context) ([]assetRecord, error) {
	var recs []assetRecord
	err := i.db.WithContext(ctx).
		Order("stored_at ASC").
		Order("url ASC").
		Find(&recs).Error
	return recs, err
}

func (i *assetIndex) expiredBy(ctx context.Context, now time.Time) ([]assetRecord, error) {
	var recs []assetRecord
	err := i.db.WithContext(ctx).
		Where("expires_at <= ?", now.UnixNano()).
		Order("expires_at ASC").
		Find(&recs).Error
	return recs, err
}

func (i *assetIndex) close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
