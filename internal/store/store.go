package store

import (
	"fmt"
	"slices"
	"sort"

	"github.com/Smitty-01/ChainGaurd/pkg/models"
)

// Store is the process-wide, read-only table of per-transaction model
// outputs. It is never mutated after New returns, so any number of
// goroutines may read it without locking.
type Store struct {
	records map[int64]*models.ScoreRecord
	ranked  []*models.ScoreRecord // risk_score desc, key asc
	keys    []int64               // ascending
}

// New indexes records by key and precomputes the risk ranking. Later
// duplicates of a key are ignored.
func New(records []models.ScoreRecord) *Store {
	s := &Store{
		records: make(map[int64]*models.ScoreRecord, len(records)),
		ranked:  make([]*models.ScoreRecord, 0, len(records)),
		keys:    make([]int64, 0, len(records)),
	}
	for i := range records {
		rec := records[i]
		if _, dup := s.records[rec.Key]; dup {
			continue
		}
		s.records[rec.Key] = &rec
		s.ranked = append(s.ranked, &rec)
		s.keys = append(s.keys, rec.Key)
	}

	sort.Slice(s.ranked, func(i, j int) bool {
		a, b := s.ranked[i], s.ranked[j]
		if a.RiskScore != b.RiskScore {
			return a.RiskScore > b.RiskScore
		}
		return a.Key < b.Key
	})
	slices.Sort(s.keys)
	return s
}

// Get returns a copy of the record for key.
func (s *Store) Get(key int64) (models.ScoreRecord, error) {
	rec, ok := s.records[key]
	if !ok {
		return models.ScoreRecord{}, fmt.Errorf("score record for tx %d: %w", key, models.ErrNotFound)
	}
	return *rec, nil
}

// Has reports whether key is in the table.
func (s *Store) Has(key int64) bool {
	_, ok := s.records[key]
	return ok
}

// TopN returns the n riskiest records, ties broken by key ascending.
// The ranking is computed once at construction, so this is O(n).
func (s *Store) TopN(n int) ([]models.ScoreRecord, error) {
	if n <= 0 {
		return nil, fmt.Errorf("top n must be positive, got %d: %w", n, models.ErrInvalidInput)
	}
	if n > len(s.ranked) {
		n = len(s.ranked)
	}
	out := make([]models.ScoreRecord, n)
	for i := 0; i < n; i++ {
		out[i] = *s.ranked[i]
	}
	return out, nil
}

// Keys returns all dataset keys in ascending order.
func (s *Store) Keys() []int64 {
	return slices.Clone(s.keys)
}

// Each calls fn for every record in key order until fn returns false.
func (s *Store) Each(fn func(rec models.ScoreRecord) bool) {
	for _, k := range s.keys {
		if !fn(*s.records[k]) {
			return
		}
	}
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.keys)
}

// BandCounts tallies records per risk band.
func (s *Store) BandCounts() map[models.Band]int {
	counts := make(map[models.Band]int, len(models.Bands))
	for _, rec := range s.records {
		counts[rec.Band]++
	}
	return counts
}

// FlaggedCount returns how many records carry the illicit label.
func (s *Store) FlaggedCount() int {
	n := 0
	for _, rec := range s.records {
		if rec.IsFlagged {
			n++
		}
	}
	return n
}
