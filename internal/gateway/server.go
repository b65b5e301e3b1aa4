// Package gateway exposes the session hub over a single authenticated
// WebSocket endpoint. Every inbound message carries the shared token; the
// check happens before validation and before any side effect.
package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/codedeck/deckd/internal/event"
	"github.com/codedeck/deckd/internal/metrics"
	"github.com/codedeck/deckd/internal/protocol"
	"github.com/codedeck/deckd/internal/session"
	"github.com/codedeck/deckd/internal/state"
)

// Watcher is the slice of the file watcher the gateway drives: sessions are
// enrolled on create and released on close.
type Watcher interface {
	Watch(sessionID, dir string)
	Unwatch(sessionID string)
}

// Config carries the gateway's fixed settings.
type Config struct {
	Token   string
	Version string
}

// Server owns every live WebSocket connection and dispatches inbound
// messages to the registry and state store.
type Server struct {
	cfg      Config
	registry *session.Registry
	store    *state.Store
	metrics  *metrics.Metrics
	watcher  Watcher

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a gateway. watcher may be nil when file watching is disabled.
func New(cfg Config, reg *session.Registry, store *state.Store, m *metrics.Metrics, w Watcher) *Server {
	return &Server{
		cfg:      cfg,
		registry: reg,
		store:    store,
		metrics:  m,
		watcher:  w,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The token on every message is the auth boundary; the daemon
			// fronts a personal dashboard, not a public origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// SetWatcher attaches the file watcher after construction. The watcher's
// change callback points back at this server, so the two are wired in two
// steps.
func (s *Server) SetWatcher(w Watcher) {
	s.watcher = w
}

// HandleWS upgrades an HTTP request and runs the connection's pumps.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: upgrade failed: %v", err)
		return
	}

	c := newClient(conn)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.ConnOpened()
	log.Printf("gateway: client connected from %s", conn.RemoteAddr())

	go c.writePump()
	go c.readPump(s)

	c.enqueue(protocol.New(protocol.TypeReady, map[string]string{"version": s.cfg.Version}))
}

// dropClient removes a disconnected client and releases its subscriptions.
func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if !ok {
		return
	}
	c.clearSubs()
	c.shutdown()
	s.metrics.ConnClosed()
	log.Printf("gateway: client %s disconnected", c.conn.RemoteAddr())
}

// CloseAll disconnects every client. Used at daemon shutdown.
func (s *Server) CloseAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.conn.Close()
	}
}

// NotifyFilesUpdate fans a files-update message out to every client
// subscribed to the session. Wired as the file watcher's callback.
func (s *Server) NotifyFilesUpdate(sessionID string, changes int) {
	msg := protocol.New(protocol.TypeFilesUpdate, protocol.FilesUpdatePayload{
		SessionID: sessionID,
		Changes:   changes,
	})
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		if c.subscribed(sessionID) {
			c.enqueue(msg)
		}
	}
}

// broadcast sends one message to every connected client.
func (s *Server) broadcast(msg protocol.Message) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.enqueue(msg)
	}
}

// handleMessage is the single dispatch point for inbound traffic. Order is
// fixed: decode, authenticate, validate, then act.
func (s *Server) handleMessage(c *client, raw []byte) {
	var msg protocol.Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.enqueue(protocol.NewError(protocol.CodeMalformed, "invalid JSON", ""))
		return
	}

	if msg.Token != s.cfg.Token {
		s.metrics.AuthFailed()
		c.enqueue(protocol.NewError(protocol.CodeAuthFailure, "invalid token", msg.SessionID))
		return
	}

	if err := protocol.Validate(&msg); err != nil {
		c.enqueue(protocol.NewError(protocol.CodeMalformed, err.Error(), msg.SessionID))
		return
	}
	s.metrics.MessageHandled(msg.Type)

	switch msg.Type {
	case protocol.TypeTerminalCreate:
		s.handleTerminalCreate(c, &msg)
	case protocol.TypeTerminalWrite:
		if !s.registry.Write(msg.SessionID, msg.Data) {
			c.enqueue(protocol.NewError(protocol.CodeNotFound, "session not found", msg.SessionID))
		}
	case protocol.TypeTerminalResize:
		if !s.registry.Resize(msg.SessionID, msg.Cols, msg.Rows) {
			c.enqueue(protocol.NewError(protocol.CodeNotFound, "session not found", msg.SessionID))
		}
	case protocol.TypeTerminalClose:
		s.handleClose(c, msg.SessionID, protocol.TypeTerminalClosed)
	case protocol.TypeTerminalSubscribe:
		s.handleSubscribe(c, msg.SessionID)
	case protocol.TypeTerminalUnsubscribe, protocol.TypeChatUnsubscribe:
		c.removeSub(msg.SessionID)
	case protocol.TypeTerminalList:
		c.enqueue(protocol.New(protocol.TypeTerminalListed, s.listKind(session.KindTerminal)))

	case protocol.TypeChatCreate:
		s.handleChatCreate(c, &msg)
	case protocol.TypeChatSend:
		s.handleChatSend(c, &msg)
	case protocol.TypeStop:
		if !s.registry.Interrupt(msg.SessionID) {
			c.enqueue(protocol.NewError(protocol.CodeNotFound, "no running invocation", msg.SessionID))
		}
	case protocol.TypeChatClose:
		s.handleClose(c, msg.SessionID, protocol.TypeChatClosed)
	case protocol.TypeChatSubscribe:
		s.handleSubscribe(c, msg.SessionID)
	case protocol.TypeChatList:
		c.enqueue(protocol.New(protocol.TypeChatListed, s.listKind(session.KindAgent)))

	case protocol.TypeProjectSwitch:
		s.handleProjectSwitch(c, &msg)
	case protocol.TypeStatus:
		c.enqueue(s.statusMessage())
	}
}

func (s *Server) handleTerminalCreate(c *client, msg *protocol.Inbound) {
	sess, err := s.registry.GetOrCreate(msg.ProjectPath)
	if err != nil {
		c.enqueue(protocol.NewError(spawnErrorCode(err), err.Error(), ""))
		return
	}
	if s.watcher != nil {
		s.watcher.Watch(sess.ID(), sess.Path())
	}
	if err := s.store.TouchProject(sess.Path()); err != nil {
		log.Printf("gateway: persist project touch: %v", err)
	}
	c.enqueue(protocol.New(protocol.TypeTerminalCreated, protocol.SessionRef{
		SessionID: sess.ID(),
		Path:      sess.Path(),
	}))
}

func (s *Server) handleChatCreate(c *client, msg *protocol.Inbound) {
	sess, err := s.registry.CreateAgent(msg.ProjectPath)
	if err != nil {
		c.enqueue(protocol.NewError(spawnErrorCode(err), err.Error(), ""))
		return
	}
	if s.watcher != nil {
		s.watcher.Watch(sess.ID(), sess.Path())
	}
	if err := s.store.TouchProject(sess.Path()); err != nil {
		log.Printf("gateway: persist project touch: %v", err)
	}
	c.enqueue(protocol.New(protocol.TypeChatCreated, protocol.SessionRef{
		SessionID: sess.ID(),
		Path:      sess.Path(),
	}))
}

func (s *Server) handleChatSend(c *client, msg *protocol.Inbound) {
	err := s.registry.Send(msg.SessionID, msg.Message)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrClosed):
		c.enqueue(protocol.NewError(protocol.CodeNotFound, "session not found", msg.SessionID))
	case errors.Is(err, session.ErrBusy):
		c.enqueue(protocol.NewError(protocol.CodeBusy, "invocation already running", msg.SessionID))
	default:
		c.enqueue(protocol.NewError(protocol.CodeUpstreamProcess, err.Error(), msg.SessionID))
	}
}

func (s *Server) handleClose(c *client, sessionID, ackType string) {
	c.removeSub(sessionID)
	if s.watcher != nil {
		s.watcher.Unwatch(sessionID)
	}
	if !s.registry.Close(sessionID) {
		c.enqueue(protocol.NewError(protocol.CodeNotFound, "session not found", sessionID))
		return
	}
	c.enqueue(protocol.New(ackType, protocol.SessionRef{SessionID: sessionID}))
}

func (s *Server) handleSubscribe(c *client, sessionID string) {
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		c.enqueue(protocol.NewError(protocol.CodeNotFound, "session not found", sessionID))
		return
	}
	kind := sess.Kind()
	unsub, ok := s.registry.Subscribe(sessionID, func(ev event.Event) {
		c.enqueue(wireMessage(kind, ev))
	})
	if !ok {
		c.enqueue(protocol.NewError(protocol.CodeNotFound, "session not found", sessionID))
		return
	}
	c.addSub(sessionID, unsub)
}

func (s *Server) handleProjectSwitch(c *client, msg *protocol.Inbound) {
	if err := s.store.SetActiveProject(msg.ProjectPath); err != nil {
		c.enqueue(protocol.NewError(protocol.CodeUpstreamProcess, err.Error(), ""))
		return
	}
	st := s.store.Snapshot()
	s.broadcast(protocol.New(protocol.TypeProjects, protocol.ProjectsPayload{
		ActiveProject:  st.ActiveProject,
		RecentProjects: st.RecentProjects,
	}))
}

func (s *Server) statusMessage() protocol.Message {
	st := s.store.Snapshot()
	return protocol.New(protocol.TypeStatusUp, protocol.StatusPayload{
		Status:         string(st.Status),
		ActiveProject:  st.ActiveProject,
		RecentProjects: st.RecentProjects,
		LastError:      st.LastError,
		Sessions:       len(s.registry.List()),
		Version:        s.cfg.Version,
	})
}

func (s *Server) listKind(kind session.Kind) []session.Info {
	infos := s.registry.List()
	out := make([]session.Info, 0, len(infos))
	for _, info := range infos {
		if info.Kind == kind {
			out = append(out, info)
		}
	}
	return out
}

// wireMessage maps a session event to its outbound envelope. Terminal exits
// get their own type so clients can mark the pane dead; everything from an
// agent session travels as one event stream.
func wireMessage(kind session.Kind, ev event.Event) protocol.Message {
	if kind == session.KindTerminal {
		if ev.Kind == event.KindExit {
			return protocol.New(protocol.TypeTerminalExit, ev)
		}
		return protocol.New(protocol.TypeTerminalOutput, ev)
	}
	return protocol.New(protocol.TypeChatEvent, ev)
}

func spawnErrorCode(err error) string {
	if errors.Is(err, session.ErrNotFound) {
		return protocol.CodeNotFound
	}
	return protocol.CodeSpawnFailure
}
