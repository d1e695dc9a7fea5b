package metastore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by tests and local tooling.
type MemStore struct {
	mu      sync.Mutex
	nextId  int
	records map[int]*HostRecord
	fields  map[int]map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{
		nextId:  1,
		records: map[int]*HostRecord{},
		fields:  map[int]map[string]string{},
	}
}

func (s *MemStore) GetField(ctx context.Context, entityId int, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.fields[entityId]
	if !ok {
		return "", false, nil
	}
	value, ok := fields[key]
	return value, ok, nil
}

func (s *MemStore) SetField(ctx context.Context, entityId int, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fields[entityId]; !ok {
		s.fields[entityId] = map[string]string{}
	}
	s.fields[entityId][key] = value
	return nil
}

func (s *MemStore) DeleteField(ctx context.Context, entityId int, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fields, ok := s.fields[entityId]; ok {
		delete(fields, key)
	}
	return nil
}

func (s *MemStore) GetAllFields(ctx context.Context, entityId int) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.fields[entityId]
	if !ok {
		return map[string]string{}, nil
	}
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied, nil
}

func (s *MemStore) GetEntity(ctx context.Context, entityId int) (*HostRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[entityId]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (s *MemStore) QueryEntities(ctx context.Context, q EntityQuery) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int
	for id, record := range s.records {
		if s.matches(record, q) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}
	return ids, nil
}

func (s *MemStore) CountEntities(ctx context.Context, q EntityQuery) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, record := range s.records {
		if s.matches(record, q) {
			count++
		}
	}
	return count, nil
}

func (s *MemStore) matches(record *HostRecord, q EntityQuery) bool {
	if q.RecordType != "" && record.RecordType != q.RecordType {
		return false
	}
	fields := s.fields[record.ID]
	if q.HavingKey != "" {
		if _, ok := fields[q.HavingKey]; !ok {
			return false
		}
	}
	if q.MissingKey != "" {
		if _, ok := fields[q.MissingKey]; ok {
			return false
		}
	}
	if q.EqualKey != "" {
		if fields[q.EqualKey] != q.EqualValue {
			return false
		}
	}
	return true
}

func (s *MemStore) CreateEntity(ctx context.Context, entity NewEntity) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextId
	s.nextId++
	createdAt := entity.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	s.records[id] = &HostRecord{
		ID:         id,
		RecordType: entity.RecordType,
		Title:      entity.Title,
		Status:     entity.Status,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	s.fields[id] = map[string]string{}
	for k, v := range entity.Fields {
		s.fields[id][k] = v
	}
	return id, nil
}

func (s *MemStore) DeleteEntity(ctx context.Context, entityId int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, entityId)
	delete(s.fields, entityId)
	return nil
}

func (s *MemStore) SetEntityCreatedAt(ctx context.Context, entityId int, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[entityId]
	if !ok {
		return nil
	}
	record.CreatedAt = createdAt
	return nil
}
