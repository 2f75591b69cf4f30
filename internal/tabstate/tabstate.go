// Package tabstate keeps the per-tab analysis payloads and debug parameter
// sets. Entries live until the host reports the tab closed.
package tabstate

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/lotas/perfdebug/internal/params"
	"github.com/lotas/perfdebug/internal/types"
)

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	analyses map[types.TabID]json.RawMessage
	params   map[types.TabID]params.Set
}

func New() *Store {
	return &Store{
		analyses: make(map[types.TabID]json.RawMessage),
		params:   make(map[types.TabID]params.Set),
	}
}

// StoreAnalysis overwrites the payload for tab. The payload shape is not
// checked.
func (s *Store) StoreAnalysis(tab types.TabID, payload json.RawMessage) {
	cp := append(json.RawMessage(nil), payload...)
	s.mu.Lock()
	s.analyses[tab] = cp
	s.mu.Unlock()
}

func (s *Store) Analysis(tab types.TabID) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.analyses[tab]
	return p, ok
}

// StoreParameters replaces the parameter set of tab with a copy of set.
func (s *Store) StoreParameters(tab types.TabID, set params.Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set.Len() == 0 {
		delete(s.params, tab)
		return
	}
	s.params[tab] = set.Clone()
}

// Parameters returns a copy of the tab's set, empty when none is stored.
func (s *Store) Parameters(tab types.TabID) params.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if set, ok := s.params[tab]; ok {
		return set.Clone()
	}
	return params.NewSet()
}

// AddParameter reports whether name was newly added.
func (s *Store) AddParameter(tab types.TabID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.params[tab]
	if !ok {
		set = params.NewSet()
		s.params[tab] = set
	}
	return set.Add(name)
}

// RemoveParameter reports whether name was present.
func (s *Store) RemoveParameter(tab types.TabID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.params[tab]
	if !ok {
		return false
	}
	changed := set.Remove(name)
	if set.Len() == 0 {
		delete(s.params, tab)
	}
	return changed
}

func (s *Store) ClearParameters(tab types.TabID) {
	s.mu.Lock()
	delete(s.params, tab)
	s.mu.Unlock()
}

// ClearTab drops everything known about tab.
func (s *Store) ClearTab(tab types.TabID) {
	s.mu.Lock()
	delete(s.analyses, tab)
	delete(s.params, tab)
	s.mu.Unlock()
}

// Tabs lists the tabs holding an analysis, in ascending order.
func (s *Store) Tabs() []types.TabID {
	s.mu.RLock()
	ids := make([]types.TabID, 0, len(s.analyses))
	for id := range s.analyses {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
