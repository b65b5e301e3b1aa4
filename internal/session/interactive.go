package session

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/codedeck/deckd/internal/event"
	"github.com/codedeck/deckd/internal/parse"
)

// Interactive is a long-lived shell attached to a pseudo-terminal. It lives
// until explicitly closed or the shell exits on its own.
type Interactive struct {
	id        string
	path      string
	name      string
	createdAt time.Time

	ptmx   *os.File
	cmd    *exec.Cmd
	parser *parse.TerminalParser
	buf    *ringBuffer
	bc     *broadcaster

	mu           sync.Mutex
	lastActivity time.Time
	alive        bool

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}

	gracefulTimeout time.Duration

	// onExit runs after the exit event has been broadcast.
	onExit func(id string, code int)
}

// interactiveOptions configures a new shell session.
type interactiveOptions struct {
	Shell           string
	EnvExtra        []string
	BufferLines     int
	GracefulTimeout time.Duration
	OnExit          func(id string, code int)
}

func newInteractive(path string, opts interactiveOptions) (*Interactive, error) {
	shell := opts.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/bash"
	}
	graceful := opts.GracefulTimeout
	if graceful <= 0 {
		graceful = defaultGracefulTimeout
	}

	cmd := exec.Command(shell)
	cmd.Dir = path
	cmd.Env = sanitizedEnv(opts.EnvExtra)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("spawn shell %s: %w", shell, err)
	}
	_ = pty.Setsize(ptmx, &pty.Winsize{Rows: 24, Cols: 80})

	id := uuid.New().String()
	now := time.Now().UTC()
	s := &Interactive{
		id:              id,
		path:            path,
		name:            displayName(path),
		createdAt:       now,
		lastActivity:    now,
		ptmx:            ptmx,
		cmd:             cmd,
		parser:          parse.NewTerminalParser(id),
		buf:             newRingBuffer(opts.BufferLines),
		bc:              newBroadcaster(),
		alive:           true,
		ready:           make(chan struct{}),
		done:            make(chan struct{}),
		gracefulTimeout: graceful,
		onExit:          opts.OnExit,
	}

	go s.readLoop()
	go s.waitForExit()

	return s, nil
}

func (s *Interactive) ID() string   { return s.id }
func (s *Interactive) Path() string { return s.path }
func (s *Interactive) Kind() Kind   { return KindTerminal }

func (s *Interactive) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

func (s *Interactive) Done() <-chan struct{} { return s.done }

// WaitReady blocks until the shell shows its first prompt, or the timeout
// elapses, after which the session is treated as ready anyway.
func (s *Interactive) WaitReady(timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	select {
	case <-s.ready:
	case <-s.done:
	case <-time.After(timeout):
		log.Printf("session %s: no prompt within %s, marking ready", s.id, timeout)
	}
}

// Write forwards raw bytes to the shell's input.
func (s *Interactive) Write(data string) error {
	s.mu.Lock()
	alive := s.alive
	s.mu.Unlock()
	if !alive {
		return ErrClosed
	}

	if _, err := s.ptmx.Write([]byte(data)); err != nil {
		return fmt.Errorf("write to pty: %w", err)
	}
	s.touch()
	return nil
}

// Resize updates the pseudo-terminal dimensions.
func (s *Interactive) Resize(cols, rows uint16) error {
	s.mu.Lock()
	alive := s.alive
	s.mu.Unlock()
	if !alive {
		return ErrClosed
	}
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Close terminates the shell: SIGTERM first, SIGKILL on a timer. The
// escalation is scheduled, never awaited, so callers are never blocked.
func (s *Interactive) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.alive = false
		s.mu.Unlock()

		if s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(syscall.SIGTERM)
		}
		time.AfterFunc(s.gracefulTimeout, func() {
			select {
			case <-s.done:
			default:
				if s.cmd.Process != nil {
					_ = s.cmd.Process.Kill()
				}
			}
		})
	})
}

// Subscribe registers a callback, replaying buffered output first.
func (s *Interactive) Subscribe(fn Subscriber) func() {
	fn(historyEvent(s.id, s.buf.Snapshot()))
	return s.bc.Add(fn)
}

func (s *Interactive) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:            s.id,
		Kind:          KindTerminal,
		Path:          s.path,
		Name:          s.name,
		CreatedAt:     s.createdAt,
		LastActivity:  s.lastActivity,
		BufferedLines: s.buf.Len(),
		Alive:         s.alive,
	}
}

func (s *Interactive) clearSubscribers() { s.bc.Clear() }

// Pid returns the shell's process id, or zero if it never started.
func (s *Interactive) Pid() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *Interactive) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Interactive) readLoop() {
	buf := make([]byte, ptyReadBufSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.touch()
			for _, ev := range s.parser.Feed(string(buf[:n])) {
				if ev.Content != "" {
					s.buf.Append(ev.Content)
				}
				if ev.Kind == event.KindPrompt {
					s.readyOnce.Do(func() { close(s.ready) })
				}
				s.bc.Publish(ev)
			}
		}
		if err != nil {
			if err != io.EOF {
				select {
				case <-s.done:
				default:
					log.Printf("session %s: pty read error: %v", s.id, err)
				}
			}
			return
		}
	}
}

func (s *Interactive) waitForExit() {
	err := s.cmd.Wait()

	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	}

	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
	_ = s.ptmx.Close()

	ev := event.New(event.KindExit, s.id, fmt.Sprintf("shell exited with code %d", code))
	ev.ExitCode = code
	s.bc.Publish(ev)

	close(s.done)

	if s.onExit != nil {
		s.onExit(s.id, code)
	}
}
