package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// BucketTasks is the KV bucket holding task entries.
const BucketTasks = "AGENTCYCLE_TASKS"

// Store persists task entries keyed by task ID.
type Store interface {
	Create(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
	List(ctx context.Context) ([]*Entry, error)
}

// KVStore stores entries in a NATS KV bucket.
type KVStore struct {
	kv jetstream.KeyValue
}

// NewKVStore creates the task bucket if needed and returns a store.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	kv, err := js.KeyValue(ctx, BucketTasks)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      BucketTasks,
			Description: "agentcycle task ledger",
			History:     5,
		})
		if err != nil {
			return nil, fmt.Errorf("create tasks bucket: %w", err)
		}
	}
	return &KVStore{kv: kv}, nil
}

// Create stores a new entry; an existing key is ErrDuplicateID.
func (s *KVStore) Create(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if _, err := s.kv.Create(ctx, entry.ID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return ErrDuplicateID
		}
		return fmt.Errorf("store task: %w", err)
	}
	return nil
}

// Get retrieves an entry by ID.
func (s *KVStore) Get(ctx context.Context, id string) (*Entry, error) {
	kvEntry, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(kvEntry.Value(), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &entry, nil
}

// Put overwrites an existing entry.
func (s *KVStore) Put(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if _, err := s.kv.Put(ctx, entry.ID, data); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// List returns all entries. Entries that fail to load are skipped.
func (s *KVStore) List(ctx context.Context) ([]*Entry, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list task keys: %w", err)
	}

	entries := make([]*Entry, 0, len(keys))
	for _, key := range keys {
		kvEntry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(kvEntry.Value(), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// Create stores a new entry; an existing key is ErrDuplicateID.
func (s *MemoryStore) Create(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.ID]; ok {
		return ErrDuplicateID
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	s.entries[entry.ID] = data
	return nil
}

// Get retrieves an entry by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &entry, nil
}

// Put overwrites an existing entry.
func (s *MemoryStore) Put(_ context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	s.mu.Lock()
	s.entries[entry.ID] = data
	s.mu.Unlock()
	return nil
}

// List returns all entries.
func (s *MemoryStore) List(_ context.Context) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]*Entry, 0, len(s.entries))
	for _, data := range s.entries {
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
