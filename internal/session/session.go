// Package session owns the hub's process sessions: long-lived interactive
// shells and per-message agent CLI invocations, their rolling output buffers,
// and the fan-out of their events to subscribers.
package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codedeck/deckd/internal/event"
)

const (
	defaultBufferLines     = 5000
	defaultReadyTimeout    = 5 * time.Second
	defaultGracefulTimeout = 2 * time.Second
	ptyReadBufSize         = 4096
)

var (
	// ErrNotFound means the referenced session id or path is unknown or dead.
	ErrNotFound = errors.New("session not found")
	// ErrClosed means the session no longer accepts input.
	ErrClosed = errors.New("session closed")
	// ErrBusy means an agent invocation is already attached to the session.
	ErrBusy = errors.New("invocation already running")
)

// Kind distinguishes the two session variants.
type Kind string

const (
	KindTerminal Kind = "terminal"
	KindAgent    Kind = "cli-chat"
)

// Info is a point-in-time snapshot of one session, safe to serialize.
type Info struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	Path          string    `json:"path"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActivity  time.Time `json:"lastActivity"`
	BufferedLines int       `json:"bufferedLines"`
	Alive         bool      `json:"alive"`

	// Terminal enrichment: what the shell is doing and where it lives.
	Busy           bool   `json:"busy,omitempty"`
	CurrentCommand string `json:"currentCommand,omitempty"`
	AgentRunning   bool   `json:"agentRunning,omitempty"`
	RepoRoot       string `json:"repoRoot,omitempty"`
	GitBranch      string `json:"gitBranch,omitempty"`
	GitRemote      string `json:"gitRemote,omitempty"`
}

// Session is the polymorphic surface shared by both variants.
type Session interface {
	ID() string
	Path() string
	Kind() Kind

	// Write forwards input: raw bytes for terminals, one user message for
	// agent sessions. Returns ErrClosed once the session is dead.
	Write(data string) error

	// Resize updates pseudo-terminal dimensions. No-op for agent sessions.
	Resize(cols, rows uint16) error

	// Close terminates the attached process gracefully, escalating to a
	// forceful kill on a timer. Safe to call more than once.
	Close()

	// Subscribe registers a callback and immediately replays the buffered
	// output as one history event. The returned closure unsubscribes and is
	// safe to call twice.
	Subscribe(fn Subscriber) func()

	Info() Info
	Alive() bool

	// Done is closed once the attached process has fully exited.
	Done() <-chan struct{}

	// clearSubscribers drops every registered callback. Called by the
	// registry when the session leaves the maps.
	clearSubscribers()
}

// displayName derives a human-readable session name from its path.
func displayName(path string) string {
	name := filepath.Base(filepath.Clean(path))
	if name == "." || name == string(filepath.Separator) {
		return path
	}
	return name
}

// envAllowList is the fixed set of parent-process variables a spawned shell
// may inherit. Everything else is withheld so parent secrets never leak into
// sessions a browser can drive.
var envAllowList = []string{"PATH", "HOME", "USER", "SHELL", "TERM", "LANG"}

// sanitizedEnv builds a child environment from the allow-list plus any
// configured extras, forcing a sane TERM when the parent has none.
func sanitizedEnv(extra []string) []string {
	allowed := make(map[string]struct{}, len(envAllowList)+len(extra))
	for _, key := range envAllowList {
		allowed[key] = struct{}{}
	}
	for _, key := range extra {
		if key != "" {
			allowed[key] = struct{}{}
		}
	}

	var env []string
	sawTerm := false
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, ok := allowed[key]; !ok {
			continue
		}
		if key == "TERM" {
			sawTerm = true
		}
		env = append(env, kv)
	}
	if !sawTerm {
		env = append(env, "TERM=xterm-256color")
	}
	return env
}

// historyEvent packages a session's buffered output as one synthetic event.
func historyEvent(sessionID string, lines []string) event.Event {
	return event.New(event.KindHistory, sessionID, strings.Join(lines, "\n"))
}
