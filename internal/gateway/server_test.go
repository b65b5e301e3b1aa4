package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedeck/deckd/internal/metrics"
	"github.com/codedeck/deckd/internal/protocol"
	"github.com/codedeck/deckd/internal/session"
	"github.com/codedeck/deckd/internal/state"
)

const testToken = "test-token"

type testEnv struct {
	registry *session.Registry
	server   *Server
	store    *state.Store
	ts       *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	registry := session.NewRegistry(session.Options{
		Shell:           "/bin/sh",
		BufferLines:     100,
		ReadyTimeout:    3 * time.Second,
		GracefulTimeout: 500 * time.Millisecond,
		AgentCommand:    "/bin/sh",
		AgentArgs:       []string{"-c", `echo '{"type":"result","result":"ok"}'`},
	})
	store, err := state.Open(t.TempDir())
	require.NoError(t, err)

	server := New(Config{Token: testToken, Version: "test"}, registry, store, metrics.New(), nil)
	ts := httptest.NewServer(http.HandlerFunc(server.HandleWS))
	t.Cleanup(func() {
		server.CloseAll()
		registry.CloseAll()
		ts.Close()
	})
	return &testEnv{registry: registry, server: server, store: store, ts: ts}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireMsg struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// readUntil reads messages until one matches msgType, skipping the ready
// greeting and interleaved broadcasts.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) wireMsg {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg wireMsg
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg protocol.Inbound) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestReadyGreeting(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	readUntil(t, conn, protocol.TypeReady)
}

func TestAuthFailureHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, protocol.Inbound{
		Type:        protocol.TypeTerminalCreate,
		Token:       "wrong-token",
		ProjectPath: t.TempDir(),
	})

	msg := readUntil(t, conn, protocol.TypeError)
	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, protocol.CodeAuthFailure, payload.Code)

	// The rejected message must not have spawned anything.
	assert.Empty(t, env.registry.List())
}

func TestMalformedInput(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readUntil(t, conn, protocol.TypeError)
	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, protocol.CodeMalformed, payload.Code)
}

func TestUnknownTypeRejected(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, protocol.Inbound{Type: "bogus", Token: testToken})
	msg := readUntil(t, conn, protocol.TypeError)
	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, protocol.CodeMalformed, payload.Code)
}

func TestStatusQuery(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, protocol.Inbound{Type: protocol.TypeStatus, Token: testToken})
	msg := readUntil(t, conn, protocol.TypeStatusUp)

	var payload protocol.StatusPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "test", payload.Version)
	assert.Zero(t, payload.Sessions)
}

func TestTerminalLifecycleOverWire(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	dir := t.TempDir()

	send(t, conn, protocol.Inbound{Type: protocol.TypeTerminalCreate, Token: testToken, ProjectPath: dir})
	created := readUntil(t, conn, protocol.TypeTerminalCreated)
	var ref protocol.SessionRef
	require.NoError(t, json.Unmarshal(created.Payload, &ref))
	require.NotEmpty(t, ref.SessionID)

	send(t, conn, protocol.Inbound{Type: protocol.TypeTerminalSubscribe, Token: testToken, SessionID: ref.SessionID})
	send(t, conn, protocol.Inbound{Type: protocol.TypeTerminalWrite, Token: testToken, SessionID: ref.SessionID, Data: "echo wire-marker\n"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg wireMsg
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != protocol.TypeTerminalOutput {
			continue
		}
		if strings.Contains(string(msg.Payload), "wire-marker") {
			break
		}
	}

	send(t, conn, protocol.Inbound{Type: protocol.TypeTerminalList, Token: testToken})
	list := readUntil(t, conn, protocol.TypeTerminalListed)
	var infos []session.Info
	require.NoError(t, json.Unmarshal(list.Payload, &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, ref.SessionID, infos[0].ID)

	send(t, conn, protocol.Inbound{Type: protocol.TypeTerminalClose, Token: testToken, SessionID: ref.SessionID})
	readUntil(t, conn, protocol.TypeTerminalClosed)
	assert.Empty(t, env.registry.List())
}

func TestWriteUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, protocol.Inbound{Type: protocol.TypeTerminalWrite, Token: testToken, SessionID: "ghost", Data: "x"})
	msg := readUntil(t, conn, protocol.TypeError)
	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, protocol.CodeNotFound, payload.Code)
	assert.Equal(t, "ghost", payload.SessionID)
}

func TestChatSendOverWire(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	dir := t.TempDir()

	send(t, conn, protocol.Inbound{Type: protocol.TypeChatCreate, Token: testToken, ProjectPath: dir})
	created := readUntil(t, conn, protocol.TypeChatCreated)
	var ref protocol.SessionRef
	require.NoError(t, json.Unmarshal(created.Payload, &ref))

	send(t, conn, protocol.Inbound{Type: protocol.TypeChatSubscribe, Token: testToken, SessionID: ref.SessionID})
	send(t, conn, protocol.Inbound{Type: protocol.TypeChatSend, Token: testToken, SessionID: ref.SessionID, Message: "hello"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	sawComplete := false
	for !sawComplete {
		var msg wireMsg
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == protocol.TypeChatEvent && strings.Contains(string(msg.Payload), `"complete"`) {
			sawComplete = true
		}
	}
}

func TestProjectSwitchBroadcastsProjects(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	other := env.dial(t)
	readUntil(t, other, protocol.TypeReady)

	send(t, conn, protocol.Inbound{Type: protocol.TypeProjectSwitch, Token: testToken, ProjectPath: "/work/alpha"})

	// Every connected client hears about the switch.
	msg := readUntil(t, other, protocol.TypeProjects)
	var payload protocol.ProjectsPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "/work/alpha", payload.ActiveProject)
	assert.Equal(t, []string{"/work/alpha"}, payload.RecentProjects)
}

func TestCreatePersistsRecentProject(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	dir := t.TempDir()

	send(t, conn, protocol.Inbound{Type: protocol.TypeTerminalCreate, Token: testToken, ProjectPath: dir})
	readUntil(t, conn, protocol.TypeTerminalCreated)

	st := env.store.Snapshot()
	assert.Contains(t, st.RecentProjects, dir)
	assert.Empty(t, st.ActiveProject, "creating a session must not steal the active project")
}

func TestBroadcastDuringDisconnect(t *testing.T) {
	env := newTestEnv(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	msg := protocol.New(protocol.TypeStatusUp, protocol.StatusPayload{Status: "ready"})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					env.server.broadcast(msg)
				}
			}
		}()
	}

	// Connections that come and go mid-broadcast must never crash the hub.
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	for i := 0; i < 200; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		conn.Close()
	}

	close(stop)
	wg.Wait()
}

func TestStopWithoutInvocation(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, protocol.Inbound{Type: protocol.TypeStop, Token: testToken, SessionID: "ghost"})
	msg := readUntil(t, conn, protocol.TypeError)
	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, protocol.CodeNotFound, payload.Code)
}
