package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ErrRecordNotFound is returned when no state record exists for an agent.
var ErrRecordNotFound = errors.New("state record not found")

// BucketStateRecords is the KV bucket holding per-agent state records.
const BucketStateRecords = "AGENTCYCLE_STATE"

// StateStore persists StateRecords keyed by agent identity.
type StateStore interface {
	Load(ctx context.Context, agentID string) (*StateRecord, error)
	Save(ctx context.Context, agentID string, record *StateRecord) error
}

// KVStateStore stores state records in a NATS KV bucket. The bucket carries a
// TTL so a crashed instance's stale record cannot be mistaken for a live one
// indefinitely.
type KVStateStore struct {
	kv jetstream.KeyValue
}

// NewKVStateStore creates the state bucket if needed and returns a store.
func NewKVStateStore(ctx context.Context, js jetstream.JetStream, ttl time.Duration) (*KVStateStore, error) {
	kv, err := js.KeyValue(ctx, BucketStateRecords)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      BucketStateRecords,
			Description: "agentcycle workflow state records",
			History:     5,
			TTL:         ttl,
		})
		if err != nil {
			return nil, fmt.Errorf("create state bucket: %w", err)
		}
	}
	return &KVStateStore{kv: kv}, nil
}

// Load reads the record for agentID.
func (s *KVStateStore) Load(ctx context.Context, agentID string) (*StateRecord, error) {
	entry, err := s.kv.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get state record: %w", err)
	}

	var record StateRecord
	if err := json.Unmarshal(entry.Value(), &record); err != nil {
		return nil, fmt.Errorf("unmarshal state record: %w", err)
	}
	return &record, nil
}

// Save writes the record for agentID. The record is marshalled whole so a
// reader never observes a partial write.
func (s *KVStateStore) Save(ctx context.Context, agentID string, record *StateRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal state record: %w", err)
	}
	if _, err := s.kv.Put(ctx, agentID, data); err != nil {
		return fmt.Errorf("put state record: %w", err)
	}
	return nil
}

// MemoryStateStore is an in-memory StateStore for tests.
type MemoryStateStore struct {
	mu      sync.Mutex
	records map[string][]byte
}

// NewMemoryStateStore returns an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{records: make(map[string][]byte)}
}

// Load reads the record for agentID.
func (s *MemoryStateStore) Load(_ context.Context, agentID string) (*StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.records[agentID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	var record StateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal state record: %w", err)
	}
	return &record, nil
}

// Save writes the record for agentID.
func (s *MemoryStateStore) Save(_ context.Context, agentID string, record *StateRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal state record: %w", err)
	}
	s.mu.Lock()
	s.records[agentID] = data
	s.mu.Unlock()
	return nil
}
