package metastore

import (
	"context"
	"time"
)

// HostRecord is the externally-owned key-value entity an invoice was
// migrated from. The meta store owns its lifecycle; this service only
// reads fields, writes mirror fields and markers, and syncs the creation
// timestamp on activation.
type HostRecord struct {
	ID         int       `gorm:"primary_key" json:"id"`
	RecordType string    `gorm:"size:50;index;not null" json:"record_type"`
	Title      string    `gorm:"size:255" json:"title"`
	Status     string    `gorm:"size:50" json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (HostRecord) TableName() string {
	return "host_records"
}

// HostRecordMeta is one field of a host record. One key may appear more
// than once historically; reads take the first row by id.
type HostRecordMeta struct {
	ID        int    `gorm:"primary_key" json:"id"`
	RecordId  int    `gorm:"index:idx_record_key;not null" json:"record_id"`
	MetaKey   string `gorm:"size:255;index:idx_record_key" json:"meta_key"`
	MetaValue string `gorm:"type:longtext" json:"meta_value"`
}

func (HostRecordMeta) TableName() string {
	return "host_record_meta"
}

// EntityQuery selects host record ids. Exactly one of MissingKey/HavingKey
// is usually set; ids come back ascending unless Random is requested.
type EntityQuery struct {
	RecordType string
	MissingKey string
	HavingKey  string
	EqualKey   string
	EqualValue string
	Random     bool
	Limit      int
}

// NewEntity carries everything needed to create a host record with its
// initial fields in one call.
type NewEntity struct {
	RecordType string
	Title      string
	Status     string
	CreatedAt  time.Time
	Fields     map[string]string
}

// Store is the consumed interface of the key-value entity store.
type Store interface {
	GetField(ctx context.Context, entityId int, key string) (string, bool, error)
	SetField(ctx context.Context, entityId int, key string, value string) error
	DeleteField(ctx context.Context, entityId int, key string) error
	GetAllFields(ctx context.Context, entityId int) (map[string]string, error)

	GetEntity(ctx context.Context, entityId int) (*HostRecord, error)
	QueryEntities(ctx context.Context, q EntityQuery) ([]int, error)
	CountEntities(ctx context.Context, q EntityQuery) (int64, error)
	CreateEntity(ctx context.Context, entity NewEntity) (int, error)
	DeleteEntity(ctx context.Context, entityId int) error

	// SetEntityCreatedAt syncs the externally-visible creation timestamp so
	// downstream consumers ordering by it agree with the relational store.
	SetEntityCreatedAt(ctx context.Context, entityId int, createdAt time.Time) error
}
