// Package identity maintains the username-to-identifier map and the
// miners that populate it from observed traffic and page content.
package identity

import (
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/tapminer/tapminer/pkg/regexcache"
)

var (
	usernameRE = regexcache.MustGet(`^[\w.]+$`)
	numericRE  = regexcache.MustGet(`^\d+$`)
)

// ValidUsername reports whether s is a plausible username handle.
func ValidUsername(s string) bool {
	return s != "" && usernameRE.MatchString(s)
}

// ValidID reports whether s is an all-digit numeric identifier.
func ValidID(s string) bool {
	return s != "" && numericRE.MatchString(s)
}

// Map is the process-wide username-to-id mapping. Insertions are
// first-writer-wins: once a username is known its id is never
// overwritten, which makes discovery order across interleaved
// responses irrelevant. The map is never evicted here; persistence is
// a collaborator's concern (see pkg/store).
type Map struct {
	mu     sync.RWMutex
	byName map[string]string
}

// NewMap returns an empty identity map.
func NewMap() *Map {
	return &Map{byName: make(map[string]string)}
}

// Add inserts the pair if the username is not yet known. Both sides
// are validated; usernames are NFC-normalized first so visually
// identical handles from differently-composed payloads collide.
// Returns true when a new entry was inserted.
func (m *Map) Add(username, id string) bool {
	username = norm.NFC.String(username)
	if !ValidUsername(username) || !ValidID(id) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[username]; exists {
		return false
	}
	m.byName[username] = id
	return true
}

// Get returns the id mapped to username.
func (m *Map) Get(username string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[norm.NFC.String(username)]
	return id, ok
}

// ReverseLookup returns the first username mapped to id. Linear scan;
// the map stays small enough (one page session's discoveries) that a
// second index is not worth maintaining.
func (m *Map) ReverseLookup(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, mapped := range m.byName {
		if mapped == id {
			return name, true
		}
	}
	return "", false
}

// Preseed adopts pairs from a previously persisted cache. Only absent
// usernames are taken; live discoveries always outrank stale cache
// entries already present. Returns the number adopted.
func (m *Map) Preseed(pairs map[string]string) int {
	adopted := 0
	for username, id := range pairs {
		if m.Add(username, id) {
			adopted++
		}
	}
	return adopted
}

// Snapshot returns a copy of the current mapping.
func (m *Map) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.byName))
	for k, v := range m.byName {
		out[k] = v
	}
	return out
}

// Len returns the number of known usernames.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byName)
}
