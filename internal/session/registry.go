package session

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/codedeck/deckd/internal/event"
	"github.com/codedeck/deckd/internal/gitinfo"
	"github.com/codedeck/deckd/internal/metrics"
	"github.com/codedeck/deckd/internal/proc"
)

// Options configures the registry and the sessions it spawns.
type Options struct {
	Shell           string
	EnvExtra        []string
	BufferLines     int
	ReadyTimeout    time.Duration
	GracefulTimeout time.Duration

	AgentCommand         string
	AgentArgs            []string
	AgentGracefulTimeout time.Duration

	Metrics *metrics.Metrics

	// OnSessionExit is invoked after any session's process exits, with the
	// session's working directory and exit code. Used to persist exit events.
	OnSessionExit func(path string, code int)
}

// Registry is the single source of truth for which sessions exist. It owns
// the id map and, for interactive shells, the working-directory map.
type Registry struct {
	opts    Options
	metrics *metrics.Metrics
	git     *gitinfo.Cache

	mu        sync.Mutex
	byID      map[string]Session
	byPath    map[string]string
	pathLocks map[string]*sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:      opts,
		metrics:   opts.Metrics,
		git:       gitinfo.NewCache(10 * time.Second),
		byID:      make(map[string]Session),
		byPath:    make(map[string]string),
		pathLocks: make(map[string]*sync.Mutex),
	}
}

// GetOrCreate returns the live interactive session for path, creating one if
// none exists. Concurrent calls for the same path serialize on a per-path
// lock, so a second caller always observes the first caller's session.
func (r *Registry) GetOrCreate(path string) (Session, error) {
	path = filepath.Clean(path)

	lock := r.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if id, ok := r.byPath[path]; ok {
		if s, ok := r.byID[id]; ok && s.Alive() {
			r.mu.Unlock()
			if term, ok := s.(*Interactive); ok {
				term.touch()
			}
			return s, nil
		}
	}
	r.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: no such directory %s", ErrNotFound, path)
	}

	s, err := newInteractive(path, interactiveOptions{
		Shell:           r.opts.Shell,
		EnvExtra:        r.opts.EnvExtra,
		BufferLines:     r.opts.BufferLines,
		GracefulTimeout: r.opts.GracefulTimeout,
		OnExit:          r.handleExit,
	})
	if err != nil {
		r.metrics.SpawnFailed()
		return nil, err
	}

	r.mu.Lock()
	r.byID[s.ID()] = s
	r.byPath[path] = s.ID()
	r.mu.Unlock()
	r.metrics.SessionOpened(string(KindTerminal))

	s.WaitReady(r.opts.ReadyTimeout)
	log.Printf("terminal session %s created for %s", s.ID(), path)
	return s, nil
}

// CreateAgent creates a new agent-invocation session for path. Unlike
// terminals, agent sessions are not keyed by path; each create is a new
// conversation.
func (r *Registry) CreateAgent(path string) (Session, error) {
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: no such directory %s", ErrNotFound, path)
	}

	graceful := r.opts.AgentGracefulTimeout
	if graceful <= 0 {
		graceful = r.opts.GracefulTimeout
	}
	s := newAgent(path, agentOptions{
		Command:         r.opts.AgentCommand,
		Args:            r.opts.AgentArgs,
		BufferLines:     r.opts.BufferLines,
		GracefulTimeout: graceful,
		OnExit:          r.handleExit,
	})

	r.mu.Lock()
	r.byID[s.ID()] = s
	r.mu.Unlock()
	r.metrics.SessionOpened(string(KindAgent))

	log.Printf("agent session %s created for %s", s.ID(), path)
	return s, nil
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

// Write forwards raw bytes to a terminal session's input. Returns false when
// the session is unknown or dead; callers surface that as "session not
// found", never as a crash.
func (r *Registry) Write(id, data string) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	if err := s.Write(data); err != nil {
		log.Printf("session %s: write failed: %v", id, err)
		return false
	}
	return true
}

// Send delivers one user message to an agent session, spawning an
// invocation. Errors distinguish unknown sessions from a busy conversation.
func (r *Registry) Send(id, message string) error {
	s, ok := r.Get(id)
	if !ok {
		return ErrNotFound
	}
	return s.Write(message)
}

// Resize updates a session's pseudo-terminal dimensions; no-op if unknown.
func (r *Registry) Resize(id string, cols, rows uint16) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	return s.Resize(cols, rows) == nil
}

// Interrupt stops an agent session's in-flight invocation without closing
// the session.
func (r *Registry) Interrupt(id string) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	agent, ok := s.(*Agent)
	if !ok {
		return false
	}
	return agent.Interrupt()
}

// Close terminates a session and removes it from the registry. Idempotent:
// the second call returns false and kills nothing.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	s, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, id)
	if r.byPath[s.Path()] == id {
		delete(r.byPath, s.Path())
		delete(r.pathLocks, s.Path())
	}
	r.mu.Unlock()

	r.metrics.SessionClosed(string(s.Kind()))
	s.Close()
	return true
}

// Subscribe registers a callback on a session, replaying buffered output
// first. The returned closure is idempotent. Returns false if the session is
// unknown.
func (r *Registry) Subscribe(id string, fn Subscriber) (func(), bool) {
	s, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	wrapped := func(ev event.Event) {
		r.metrics.EventBroadcast()
		fn(ev)
	}
	return s.Subscribe(wrapped), true
}

// List snapshots every live session, enriched with what the shell is
// currently running and git metadata for its working directory.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	snap := proc.TakeSnapshot()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		info := s.Info()
		if term, ok := s.(*Interactive); ok {
			if cmd := snap.ForegroundCommand(term.Pid()); cmd != "" {
				info.Busy = true
				info.CurrentCommand = cmd
			}
			if r.opts.AgentCommand != "" {
				info.AgentRunning = snap.HasDescendant(term.Pid(), []string{r.opts.AgentCommand})
			}
			if git := r.git.Lookup(info.Path); git != nil {
				info.RepoRoot = git.RepoRoot
				info.GitBranch = git.Branch
				info.GitRemote = git.Remote
			}
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// CloseAll terminates every session and waits a bounded time for the child
// processes to exit. Used only at daemon shutdown so no orphans survive.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.byID = make(map[string]Session)
	r.byPath = make(map[string]string)
	r.mu.Unlock()

	for _, s := range sessions {
		r.metrics.SessionClosed(string(s.Kind()))
		s.Close()
	}

	graceful := r.opts.GracefulTimeout
	if graceful <= 0 {
		graceful = defaultGracefulTimeout
	}
	deadline := time.After(graceful + time.Second)
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-deadline:
			return
		}
	}
}

// handleExit runs after a session broadcast its exit event: the session is
// removed from both maps and its subscriber set is cleared, so a later
// GetOrCreate for the same path spawns fresh.
func (r *Registry) handleExit(id string, code int) {
	r.mu.Lock()
	s, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		if r.byPath[s.Path()] == id {
			delete(r.byPath, s.Path())
			delete(r.pathLocks, s.Path())
		}
	}
	r.mu.Unlock()

	if ok {
		r.metrics.SessionClosed(string(s.Kind()))
		log.Printf("session %s exited with code %d", id, code)
		if r.opts.OnSessionExit != nil {
			r.opts.OnSessionExit(s.Path(), code)
		}
	}
	// Clear even when already removed by an explicit Close: destruction must
	// always drop the subscriber set.
	if s != nil {
		s.clearSubscribers()
	}
}

func (r *Registry) pathLock(path string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.pathLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		r.pathLocks[path] = lock
	}
	return lock
}
