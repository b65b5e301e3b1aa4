package session

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/codedeck/deckd/internal/event"
	"github.com/codedeck/deckd/internal/parse"
)

// Turn is one role-tagged entry in an agent session's transcript.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Agent is a conversation with an AI CLI tool. The session outlives any
// single invocation: each user message spawns one child process whose
// structured output is parsed and folded back into the transcript.
type Agent struct {
	id        string
	path      string
	name      string
	createdAt time.Time

	command string
	args    []string

	parser *parse.StreamParser
	buf    *ringBuffer
	bc     *broadcaster

	mu           sync.Mutex
	lastActivity time.Time
	alive        bool
	running      bool
	cmd          *exec.Cmd
	upstreamID   string
	model        string
	transcript   []Turn

	closeOnce  sync.Once
	finishOnce sync.Once
	done       chan struct{}

	gracefulTimeout time.Duration
	onExit          func(id string, code int)
}

type agentOptions struct {
	Command         string
	Args            []string
	BufferLines     int
	GracefulTimeout time.Duration
	OnExit          func(id string, code int)
}

func newAgent(path string, opts agentOptions) *Agent {
	command := opts.Command
	if command == "" {
		command = "claude"
	}
	graceful := opts.GracefulTimeout
	if graceful <= 0 {
		graceful = defaultGracefulTimeout
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	return &Agent{
		id:              id,
		path:            path,
		name:            displayName(path),
		createdAt:       now,
		lastActivity:    now,
		command:         command,
		args:            opts.Args,
		parser:          parse.NewStreamParser(id),
		buf:             newRingBuffer(opts.BufferLines),
		bc:              newBroadcaster(),
		alive:           true,
		done:            make(chan struct{}),
		gracefulTimeout: graceful,
		onExit:          opts.OnExit,
	}
}

func (s *Agent) ID() string   { return s.id }
func (s *Agent) Path() string { return s.path }
func (s *Agent) Kind() Kind   { return KindAgent }

func (s *Agent) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

func (s *Agent) Done() <-chan struct{} { return s.done }

// Busy reports whether an invocation is currently attached.
func (s *Agent) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Transcript returns a copy of the conversation so far.
func (s *Agent) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

func (s *Agent) clearSubscribers() { s.bc.Clear() }

// Interrupt terminates the in-flight invocation, if any, without closing the
// session. The conversation stays usable; the next message resumes it.
func (s *Agent) Interrupt() bool {
	s.mu.Lock()
	running := s.running
	cmd := s.cmd
	s.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		return false
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	time.AfterFunc(s.gracefulTimeout, func() {
		s.mu.Lock()
		still := s.running && s.cmd == cmd
		s.mu.Unlock()
		if still && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	})
	return true
}

// Write sends one user message, spawning a new invocation. A new invocation
// only starts when no process is attached, so two writers can never
// interleave output into the same transcript.
func (s *Agent) Write(message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return fmt.Errorf("empty message")
	}

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.running {
		s.mu.Unlock()
		return ErrBusy
	}

	args := append([]string(nil), s.args...)
	if s.upstreamID != "" {
		args = append(args, "--resume", s.upstreamID)
	}
	args = append(args, message)

	cmd := exec.Command(s.command, args...)
	cmd.Dir = s.path
	cmd.Env = sanitizedEnv(nil)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("spawn %s: %w", s.command, err)
	}

	s.cmd = cmd
	s.running = true
	s.lastActivity = time.Now().UTC()
	s.transcript = append(s.transcript, Turn{Role: "user", Text: message})
	s.mu.Unlock()

	s.buf.Append("> " + message)
	s.bc.Publish(event.New(event.KindUserMessage, s.id, message))

	go s.drainStderr(stderr)
	go s.runInvocation(cmd, stdout)

	return nil
}

// Resize is a no-op: agent invocations have no pseudo-terminal.
func (s *Agent) Resize(cols, rows uint16) error { return nil }

// Close ends the session, terminating any in-flight invocation.
func (s *Agent) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.alive = false
		cmd := s.cmd
		running := s.running
		s.mu.Unlock()

		if running && cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
			time.AfterFunc(s.gracefulTimeout, func() {
				if s.Busy() && cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
			})
			return
		}

		// No process attached: the session is done immediately.
		s.finish(0)
	})
}

// Subscribe registers a callback, replaying buffered output first.
func (s *Agent) Subscribe(fn Subscriber) func() {
	fn(historyEvent(s.id, s.buf.Snapshot()))
	return s.bc.Add(fn)
}

func (s *Agent) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:            s.id,
		Kind:          KindAgent,
		Path:          s.path,
		Name:          s.name,
		CreatedAt:     s.createdAt,
		LastActivity:  s.lastActivity,
		BufferedLines: s.buf.Len(),
		Alive:         s.alive,
		Busy:          s.running,
	}
}

func (s *Agent) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Agent) runInvocation(cmd *exec.Cmd, stdout io.Reader) {
	var acc parse.ChunkAccumulator

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ev, ok := s.parser.ParseLine(scanner.Text())
		if !ok {
			continue
		}
		s.touch()

		switch ev.Kind {
		case event.KindInit:
			s.mu.Lock()
			if ev.UpstreamID != "" {
				s.upstreamID = ev.UpstreamID
			}
			if ev.Model != "" {
				s.model = ev.Model
			}
			s.mu.Unlock()

		case event.KindAssistantChunk:
			// Subscribers always receive the full text so far.
			ev.Content = acc.Add(ev.Content)

		case event.KindAssistantComplete:
			text := ev.Content
			if text == "" {
				text = acc.Current()
			}
			acc.Complete()
			ev.Content = text
			s.mu.Lock()
			s.transcript = append(s.transcript, Turn{Role: "assistant", Text: text})
			s.mu.Unlock()
			if text != "" {
				s.buf.Append(text)
			}

		case event.KindError:
			s.buf.Append("error: " + ev.Content)
		}

		s.bc.Publish(ev)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("session %s: agent output scanner error: %v", s.id, err)
	}

	err := cmd.Wait()
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	}

	s.mu.Lock()
	s.running = false
	s.cmd = nil
	alive := s.alive
	s.mu.Unlock()

	if code != 0 {
		// The invocation failed; the session survives for a retry.
		ev := event.New(event.KindError, s.id, fmt.Sprintf("invocation exited with code %d", code))
		s.buf.Append(ev.Content)
		s.bc.Publish(ev)
	}

	if !alive {
		s.finish(code)
	}
}

func (s *Agent) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.Contains(line, "Thinking") || strings.Contains(line, "...") {
			s.bc.Publish(event.New(event.KindThinking, s.id, line))
			continue
		}
		log.Printf("session %s: agent stderr: %s", s.id, line)
	}
}

// finish broadcasts the terminal exit event and signals completion. Runs at
// most once, either from Close (no process attached) or from the tail of the
// final invocation.
func (s *Agent) finish(code int) {
	s.finishOnce.Do(func() {
		ev := event.New(event.KindExit, s.id, fmt.Sprintf("session closed with code %d", code))
		ev.ExitCode = code
		s.bc.Publish(ev)

		close(s.done)

		if s.onExit != nil {
			s.onExit(s.id, code)
		}
	})
}
