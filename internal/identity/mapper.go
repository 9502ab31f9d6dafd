package identity

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// DefaultSalt is the salt the offline hashing step used when it produced
// the public risk table. Changing it invalidates every published secure id.
const DefaultSalt = "chainguard-privacy-123"

// secureIDLen is the hex length of a SHA-256 digest.
const secureIDLen = 64

// ──────────────────────────────────────────────────────────────────
// Identifier Mapper
//
// Secure identifiers are SHA-256(salt || decimal txId), hex encoded.
// The digest is one-way, so resolving a secure id needs an explicit
// digest -> key table built at load time. That table is an internal
// trust boundary: nothing in this package hands it out, and external
// consumers only ever see secure ids.
// ──────────────────────────────────────────────────────────────────

// SecureID derives the opaque external identifier for a dataset key.
func SecureID(salt string, key int64) string {
	buf := make([]byte, 0, len(salt)+20)
	buf = append(buf, salt...)
	buf = strconv.AppendInt(buf, key, 10)
	return hex.EncodeToString(chainhash.HashB(buf))
}

// Mapper resolves raw dataset keys and secure identifiers to dataset keys.
// It is immutable after construction and safe for concurrent readers.
type Mapper struct {
	salt     string
	keys     map[int64]string // key -> secure id
	reversed map[string]int64 // secure id -> key
}

// NewMapper builds the bidirectional table for keys. It fails if two keys
// hash to the same secure id.
func NewMapper(salt string, keys []int64) (*Mapper, error) {
	m := &Mapper{
		salt:     salt,
		keys:     make(map[int64]string, len(keys)),
		reversed: make(map[string]int64, len(keys)),
	}
	for _, k := range keys {
		if _, seen := m.keys[k]; seen {
			continue
		}
		sid := SecureID(salt, k)
		if other, clash := m.reversed[sid]; clash {
			return nil, fmt.Errorf("secure id collision between %d and %d", other, k)
		}
		m.keys[k] = sid
		m.reversed[sid] = k
	}
	return m, nil
}

// Resolve accepts a raw dataset key or a secure identifier and returns the
// canonical dataset key. Raw keys must be written in canonical decimal
// form: "+72631257" and "0072631257" do not resolve.
func (m *Mapper) Resolve(id string) (int64, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, fmt.Errorf("empty identifier: %w", models.ErrNotFound)
	}

	if key, err := strconv.ParseInt(id, 10, 64); err == nil && strconv.FormatInt(key, 10) == id {
		if _, ok := m.keys[key]; ok {
			return key, nil
		}
	}

	if len(id) == secureIDLen {
		if key, ok := m.reversed[strings.ToLower(id)]; ok {
			return key, nil
		}
	}

	return 0, fmt.Errorf("identifier %q: %w", truncateID(id), models.ErrNotFound)
}

// SecureIDOf returns the secure id for a known key.
func (m *Mapper) SecureIDOf(key int64) (string, bool) {
	sid, ok := m.keys[key]
	return sid, ok
}

// Salt returns the salt used to derive secure ids.
func (m *Mapper) Salt() string {
	return m.salt
}

// Len returns the number of mapped keys.
func (m *Mapper) Len() int {
	return len(m.keys)
}

// truncateID keeps error messages bounded when callers send garbage.
func truncateID(id string) string {
	if len(id) > 80 {
		return id[:80] + "..."
	}
	return id
}
