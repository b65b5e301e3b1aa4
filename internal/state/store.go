// Package state persists the hub's small pile of durable facts: which
// project is active, which were used recently, and the daemon lifecycle
// status. Everything is written synchronously so a crash never loses an
// acknowledged mutation.
package state

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status is the daemon lifecycle phase reported to clients.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
)

const maxRecentProjects = 10

// State is the persisted document. A missing file yields the zero value.
type State struct {
	ActiveProject  string    `json:"activeProject"`
	RecentProjects []string  `json:"recentProjects"`
	Status         Status    `json:"status"`
	LastError      string    `json:"lastError,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Store guards the state document and writes every mutation to disk before
// returning to the caller.
type Store struct {
	path string

	mu    sync.Mutex
	state State
}

// Open loads the state file at dir/state.json, creating the directory if
// needed. A corrupt or missing file starts fresh rather than failing the
// daemon.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &Store{path: filepath.Join(dir, "state.json")}

	data, err := os.ReadFile(s.path)
	if err == nil {
		if err := json.Unmarshal(data, &s.state); err != nil {
			s.state = State{}
		}
	}
	if s.state.Status == "" {
		s.state.Status = StatusIdle
	}
	return s, nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.RecentProjects = append([]string(nil), s.state.RecentProjects...)
	return st
}

// SetActiveProject records path as the active project and moves it to the
// front of the recent list, deduplicated and capped.
func (s *Store) SetActiveProject(path string) error {
	path = filepath.Clean(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.ActiveProject = path

	recent := make([]string, 0, maxRecentProjects)
	recent = append(recent, path)
	for _, p := range s.state.RecentProjects {
		if p == path {
			continue
		}
		recent = append(recent, p)
		if len(recent) == maxRecentProjects {
			break
		}
	}
	s.state.RecentProjects = recent

	return s.persistLocked()
}

// TouchProject moves path to the front of the recent list without changing
// the active project. Called for every session create so the recency list
// survives a daemon restart.
func (s *Store) TouchProject(path string) error {
	path = filepath.Clean(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := make([]string, 0, maxRecentProjects)
	recent = append(recent, path)
	for _, p := range s.state.RecentProjects {
		if p == path {
			continue
		}
		recent = append(recent, p)
		if len(recent) == maxRecentProjects {
			break
		}
	}
	s.state.RecentProjects = recent

	return s.persistLocked()
}

// RecordExit persists a process-exit event. A non-zero code becomes the last
// error; a clean exit only bumps the write timestamp.
func (s *Store) RecordExit(path string, code int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code != 0 {
		s.state.LastError = fmt.Sprintf("session in %s exited with code %d", path, code)
	}
	return s.persistLocked()
}

// SetStatus records the lifecycle phase. lastErr is kept only for
// StatusError and cleared otherwise.
func (s *Store) SetStatus(status Status, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Status = status
	if status == StatusError {
		s.state.LastError = lastErr
	} else {
		s.state.LastError = ""
	}
	return s.persistLocked()
}

// persistLocked writes the document atomically: full temp file first, then
// rename over the target. Readers never observe a partial write.
func (s *Store) persistLocked() error {
	s.state.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// LoadOrCreateToken returns the shared auth token from dir/token, generating
// a fresh random one on first run. The file is owner-readable only.
func LoadOrCreateToken(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(dir, "token")

	if data, err := os.ReadFile(path); err == nil {
		token := string(data)
		if token != "" {
			return token, nil
		}
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(raw)

	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return "", fmt.Errorf("write token: %w", err)
	}
	return token, nil
}
