package uploader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// localStateTTL bounds how long an interrupted upload is offered for
// resumption from local state alone.
const localStateTTL = 24 * time.Hour

// LocalState mirrors the subset of session fields needed to offer a
// resume even before the server can be polled.
type LocalState struct {
	SessionID     string    `json:"sessionId"`
	FileName      string    `json:"fileName"`
	UploadedBytes int64     `json:"uploadedBytes"`
	TotalBytes    int64     `json:"totalBytes"`
	UploadURL     string    `json:"uploadUrl"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// StateStore keeps LocalState entries in a single JSON file, written
// atomically. Entries idle past the TTL are evicted proactively.
type StateStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewStateStore creates a store persisting to path, creating parent
// directories as needed.
func NewStateStore(path string) (*StateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &StateStore{path: path, now: time.Now}, nil
}

// Put inserts or replaces the entry for its session id.
func (s *StateStore) Put(st LocalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	states, err := s.load()
	if err != nil {
		return err
	}
	states[st.SessionID] = st
	return s.save(states)
}

// Get returns the entry for sessionID if present and fresh.
func (s *StateStore) Get(sessionID string) (LocalState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	states, err := s.load()
	if err != nil {
		return LocalState{}, false
	}
	st, ok := states[sessionID]
	if !ok || s.stale(st) {
		return LocalState{}, false
	}
	return st, true
}

// List returns all fresh entries, evicting stale ones as a side effect.
func (s *StateStore) List() []LocalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	states, err := s.load()
	if err != nil {
		return nil
	}
	var out []LocalState
	evicted := false
	for id, st := range states {
		if s.stale(st) {
			delete(states, id)
			evicted = true
			continue
		}
		out = append(out, st)
	}
	if evicted {
		_ = s.save(states)
	}
	return out
}

// Delete removes the entry for sessionID.
func (s *StateStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	states, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := states[sessionID]; !ok {
		return nil
	}
	delete(states, sessionID)
	return s.save(states)
}

func (s *StateStore) stale(st LocalState) bool {
	return s.now().Sub(st.UpdatedAt) > localStateTTL
}

func (s *StateStore) load() (map[string]LocalState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]LocalState{}, nil
	}
	if err != nil {
		return nil, err
	}
	states := map[string]LocalState{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &states); err != nil {
			// A corrupt state file only loses resume hints; start over.
			return map[string]LocalState{}, nil
		}
	}
	return states, nil
}

func (s *StateStore) save(states map[string]LocalState) error {
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".partial"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
