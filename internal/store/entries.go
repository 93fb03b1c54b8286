package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/CloudNativeWorks/ilog/pkg/logger"
	"github.com/google/uuid"
)

// EntriesKey is the key the entry list is stored under.
const EntriesKey = "iLoggerData"

var ErrEntryNotFound = errors.New("entry not found")

// Entry is one logged measurement.
type Entry struct {
	ID    uuid.UUID `json:"id" yaml:"id"`
	Value float64   `json:"value" yaml:"value"`
	Date  time.Time `json:"date" yaml:"date"`
}

// EntryStore keeps entries newest first and persists the whole list on every change.
type EntryStore struct {
	kv      *KV
	mu      sync.Mutex
	entries []Entry
	logger  *logger.Logger
}

// NewEntryStore loads the persisted entries from kv.
func NewEntryStore(ctx context.Context, kv *KV) (*EntryStore, error) {
	s := &EntryStore{kv: kv, logger: logger.NewLogger("entry-store")}

	data, ok, err := kv.Get(ctx, EntriesKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := json.Unmarshal(data, &s.entries); err != nil {
			return nil, fmt.Errorf("decode entries: %w", err)
		}
		sortNewestFirst(s.entries)
	}

	s.logger.WithField("count", len(s.entries)).Debug("Entries loaded")
	return s, nil
}

// Add records value at date and returns the new entry.
func (s *EntryStore) Add(ctx context.Context, value float64, date time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Entry{ID: uuid.New(), Value: value, Date: date.UTC()}
	next := append(append([]Entry(nil), s.entries...), entry)
	sortNewestFirst(next)

	if err := s.persist(ctx, next); err != nil {
		return Entry{}, err
	}
	s.entries = next
	return entry, nil
}

// Delete removes the entry with id.
func (s *EntryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.ID != id {
			next = append(next, e)
		}
	}
	if len(next) == len(s.entries) {
		return ErrEntryNotFound
	}

	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

// List returns a copy of the entries, newest first.
func (s *EntryStore) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func (s *EntryStore) persist(ctx context.Context, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}
	return s.kv.Put(ctx, EntriesKey, data)
}

func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date.After(entries[j].Date)
	})
}
