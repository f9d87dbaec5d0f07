// Package ledger persists the cross-run poller state: the fetch cursor,
// the bounded seen-set, and the chat display-name cache.
//
// The state is one cohesive record loaded once per run, mutated in memory by
// the orchestrator, and persisted once at run end. A run that fails before
// Persist leaves the previous cursor intact, so the next run re-scans the
// same window.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultCap bounds the seen-set size.
const DefaultCap = 500

// State is the persisted cursor record for one poller instance.
type State struct {
	// CursorTS marks the start of the next fetch window, epoch seconds.
	CursorTS int64 `json:"cursor_ts"`

	// SeenIDs holds already-processed message identifiers in insertion
	// order, most recent last.
	SeenIDs []string `json:"seen_ids"`

	// Names caches chat sender id -> resolved human name.
	Names map[string]string `json:"names,omitempty"`

	// UserID and UserName identify the authenticated chat user, resolved
	// once and reused across runs.
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
}

// Load reads the state file at path. Missing or corrupt state fails soft:
// it yields a fresh state with the cursor defaulted to one hour before now,
// never a hard failure.
func Load(path string) *State {
	fresh := func() *State {
		return &State{
			CursorTS: time.Now().Add(-time.Hour).Unix(),
			Names:    map[string]string{},
		}
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return fresh()
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fresh()
	}
	if st.Names == nil {
		st.Names = map[string]string{}
	}
	return &st
}

// Seen reports whether id is in the seen-set.
func (s *State) Seen(id string) bool {
	for _, v := range s.SeenIDs {
		if v == id {
			return true
		}
	}
	return false
}

// Advance merges newly seen ids into the seen-set, evicts oldest-first down
// to limit entries, and replaces the cursor. limit <= 0 means DefaultCap.
func (s *State) Advance(cursor int64, newIDs []string, limit int) {
	if limit <= 0 {
		limit = DefaultCap
	}
	for _, id := range newIDs {
		if id == "" || s.Seen(id) {
			continue
		}
		s.SeenIDs = append(s.SeenIDs, id)
	}
	if n := len(s.SeenIDs); n > limit {
		s.SeenIDs = append([]string(nil), s.SeenIDs[n-limit:]...)
	}
	s.CursorTS = cursor
}

// Persist writes the full state atomically via a temp file and rename, so a
// half-written state file is never observed by a subsequent run.
func Persist(path string, s *State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}
