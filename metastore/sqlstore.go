package metastore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// SQLStore is the MySQL-backed implementation. The host record tables live
// in the same database as the relational tables, so no extra connection is
// needed.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// EnsureTables creates the host record tables on fresh installs. Existing
// deployments already carry them.
func (s *SQLStore) EnsureTables() error {
	return s.db.AutoMigrate(&HostRecord{}, &HostRecordMeta{})
}

func (s *SQLStore) GetField(ctx context.Context, entityId int, key string) (string, bool, error) {
	var meta HostRecordMeta
	err := s.db.WithContext(ctx).
		Where("record_id = ? AND meta_key = ?", entityId, key).
		Order("id ASC").
		First(&meta).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return meta.MetaValue, true, nil
}

func (s *SQLStore) SetField(ctx context.Context, entityId int, key string, value string) error {
	var meta HostRecordMeta
	err := s.db.WithContext(ctx).
		Where("record_id = ? AND meta_key = ?", entityId, key).
		Order("id ASC").
		First(&meta).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		meta = HostRecordMeta{RecordId: entityId, MetaKey: key, MetaValue: value}
		return s.db.WithContext(ctx).Create(&meta).Error
	}
	return s.db.WithContext(ctx).Model(&HostRecordMeta{}).
		Where("id = ?", meta.ID).
		Update("meta_value", value).Error
}

func (s *SQLStore) DeleteField(ctx context.Context, entityId int, key string) error {
	return s.db.WithContext(ctx).
		Where("record_id = ? AND meta_key = ?", entityId, key).
		Delete(&HostRecordMeta{}).Error
}

func (s *SQLStore) GetAllFields(ctx context.Context, entityId int) (map[string]string, error) {
	var metas []HostRecordMeta
	err := s.db.WithContext(ctx).
		Where("record_id = ?", entityId).
		Order("id ASC").
		Find(&metas).Error
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(metas))
	for _, m := range metas {
		// first row per key wins
		if _, seen := fields[m.MetaKey]; !seen {
			fields[m.MetaKey] = m.MetaValue
		}
	}
	return fields, nil
}

func (s *SQLStore) GetEntity(ctx context.Context, entityId int) (*HostRecord, error) {
	var record HostRecord
	err := s.db.WithContext(ctx).First(&record, entityId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (s *SQLStore) QueryEntities(ctx context.Context, q EntityQuery) ([]int, error) {
	dbCtx := s.queryBase(ctx, q)
	if q.Random {
		dbCtx = dbCtx.Order("RAND()")
	} else {
		dbCtx = dbCtx.Order("host_records.id ASC")
	}
	if q.Limit > 0 {
		dbCtx = dbCtx.Limit(q.Limit)
	}
	var ids []int
	if err := dbCtx.Pluck("host_records.id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLStore) CountEntities(ctx context.Context, q EntityQuery) (int64, error) {
	var count int64
	if err := s.queryBase(ctx, q).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLStore) queryBase(ctx context.Context, q EntityQuery) *gorm.DB {
	dbCtx := s.db.WithContext(ctx).Model(&HostRecord{})
	if q.RecordType != "" {
		dbCtx = dbCtx.Where("host_records.record_type = ?", q.RecordType)
	}
	if q.HavingKey != "" {
		dbCtx = dbCtx.Where(
			"EXISTS (SELECT 1 FROM host_record_meta m WHERE m.record_id = host_records.id AND m.meta_key = ?)",
			q.HavingKey)
	}
	if q.MissingKey != "" {
		dbCtx = dbCtx.Where(
			"NOT EXISTS (SELECT 1 FROM host_record_meta m WHERE m.record_id = host_records.id AND m.meta_key = ?)",
			q.MissingKey)
	}
	if q.EqualKey != "" {
		dbCtx = dbCtx.Where(
			"EXISTS (SELECT 1 FROM host_record_meta m WHERE m.record_id = host_records.id AND m.meta_key = ? AND m.meta_value = ?)",
			q.EqualKey, q.EqualValue)
	}
	return dbCtx
}

func (s *SQLStore) CreateEntity(ctx context.Context, entity NewEntity) (int, error) {
	record := HostRecord{
		RecordType: entity.RecordType,
		Title:      entity.Title,
		Status:     entity.Status,
		CreatedAt:  entity.CreatedAt,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		for key, value := range entity.Fields {
			meta := HostRecordMeta{RecordId: record.ID, MetaKey: key, MetaValue: value}
			if err := tx.Create(&meta).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return record.ID, nil
}

func (s *SQLStore) DeleteEntity(ctx context.Context, entityId int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("record_id = ?", entityId).Delete(&HostRecordMeta{}).Error; err != nil {
			return err
		}
		return tx.Delete(&HostRecord{}, entityId).Error
	})
}

func (s *SQLStore) SetEntityCreatedAt(ctx context.Context, entityId int, createdAt time.Time) error {
	return s.db.WithContext(ctx).Model(&HostRecord{}).
		Where("id = ?", entityId).
		Update("created_at", createdAt).Error
}
