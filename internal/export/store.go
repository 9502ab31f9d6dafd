package export

import (
	"fmt"
	"sync"
	"time"

	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"github.com/golang/snappy"
)

// DefaultRetention is how long a bulk export stays downloadable.
const DefaultRetention = time.Hour

// DefaultMaxEntries bounds the number of retained exports.
const DefaultMaxEntries = 256

type entry struct {
	blob      []byte // snappy-compressed CSV
	rawSize   int
	createdAt time.Time
}

// Stats describes the retained exports.
type Stats struct {
	Entries         int   `json:"entries"`
	CompressedBytes int64 `json:"compressedBytes"`
	RawBytes        int64 `json:"rawBytes"`
}

// Store keeps per-row bulk exports in memory, snappy compressed, for a
// bounded time. Exports are derived data: losing them on restart is fine,
// the caller can re-run the batch.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      []string // insertion order, oldest first
	retention  time.Duration
	maxEntries int
	now        func() time.Time
}

// NewStore creates an export store. Non-positive arguments use defaults.
func NewStore(retention time.Duration, maxEntries int) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		entries:    make(map[string]*entry),
		retention:  retention,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Put stores an export under runID, evicting expired and then oldest
// entries as needed.
func (s *Store) Put(runID string, data []byte) {
	blob := snappy.Encode(nil, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked()
	if _, exists := s.entries[runID]; !exists {
		s.order = append(s.order, runID)
	}
	s.entries[runID] = &entry{blob: blob, rawSize: len(data), createdAt: s.now()}
	for len(s.order) > s.maxEntries {
		delete(s.entries, s.order[0])
		s.order = s.order[1:]
	}
}

// Get returns the decompressed export for runID.
func (s *Store) Get(runID string) ([]byte, error) {
	s.mu.Lock()
	s.evictLocked()
	e, ok := s.entries[runID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("export %q: %w", runID, models.ErrNotFound)
	}

	data, err := snappy.Decode(nil, e.blob)
	if err != nil {
		return nil, fmt.Errorf("decode export %q: %w", runID, err)
	}
	return data, nil
}

// Stats reports the current size of the store.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Entries: len(s.entries)}
	for _, e := range s.entries {
		st.CompressedBytes += int64(len(e.blob))
		st.RawBytes += int64(e.rawSize)
	}
	return st
}

func (s *Store) evictLocked() {
	cutoff := s.now().Add(-s.retention)
	i := 0
	for ; i < len(s.order); i++ {
		e := s.entries[s.order[i]]
		if e.createdAt.After(cutoff) {
			break
		}
		delete(s.entries, s.order[i])
	}
	s.order = s.order[i:]
}
