package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Intelligent-Internet/ii-agent/pkg/agent"
	"github.com/Intelligent-Internet/ii-agent/pkg/protocol"
	"github.com/Intelligent-Internet/ii-agent/pkg/session"
	"github.com/Intelligent-Internet/ii-agent/pkg/tools"
	"github.com/Intelligent-Internet/ii-agent/pkg/workspace"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	mu    sync.Mutex
	turns []*agent.Turn
	gate  chan struct{}
}

func (p *scriptedProvider) Generate(_ context.Context, _ agent.Request) (*agent.Turn, error) {
	if p.gate != nil {
		<-p.gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.turns) == 0 {
		return &agent.Turn{Text: "done"}, nil
	}
	turn := p.turns[0]
	p.turns = p.turns[1:]
	return turn, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

type testEnv struct {
	server   *httptest.Server
	registry *session.Registry
	wsURL    string
}

func newTestEnv(t *testing.T, provider agent.Provider) *testEnv {
	t.Helper()

	history, err := session.NewHistoryStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	registry := session.NewRegistry(session.Config{
		Provider:   provider,
		Tools:      tools.NewRegistry(zerolog.Nop()),
		History:    history,
		Logger:     zerolog.Nop(),
		MaxRetries: 1,
	})

	ws, err := workspace.NewManager(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	srv, err := NewServer(Config{
		Host:      "127.0.0.1",
		Port:      1, // unused, the handler is served by httptest
		Registry:  registry,
		Workspace: ws,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		server:   ts,
		registry: registry,
		wsURL:    "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (e *testEnv) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := e.wsURL
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestHandshake(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{})
	conn := env.dial(t, "")

	hello := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeConnectionEstablished, hello.Type)
	assert.NotEmpty(t, hello.StringField("session_id"))
	assert.Equal(t, int64(0), hello.Sequence)
}

func TestPingPong(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{})
	conn := env.dial(t, "")
	readEnvelope(t, conn)

	sendEnvelope(t, conn, protocol.NewPing())

	pong := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypePong, pong.Type)
	assert.Equal(t, int64(0), pong.Sequence)
}

func TestWorkspaceInfo(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{})
	conn := env.dial(t, "")
	readEnvelope(t, conn)

	sendEnvelope(t, conn, protocol.NewWorkspaceInfoRequest())

	info := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeWorkspaceInfo, info.Type)
	assert.NotEmpty(t, info.StringField("root"))
}

func TestInvalidJSONKeepsConnectionOpen(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{})
	conn := env.dial(t, "")
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))

	errEnv := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeError, errEnv.Type)
	assert.Equal(t, "Invalid JSON format", errEnv.StringField("message"))

	// The connection survived the bad payload.
	sendEnvelope(t, conn, protocol.NewPing())
	assert.Equal(t, protocol.TypePong, readEnvelope(t, conn).Type)
}

func TestUnknownTypeKeepsConnectionOpen(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{})
	conn := env.dial(t, "")
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport","content":{}}`)))

	errEnv := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeError, errEnv.Type)
	assert.Contains(t, errEnv.StringField("message"), "Unknown message type")

	sendEnvelope(t, conn, protocol.NewPing())
	assert.Equal(t, protocol.TypePong, readEnvelope(t, conn).Type)
}

func TestQueryStream(t *testing.T) {
	provider := &scriptedProvider{turns: []*agent.Turn{{Text: "4"}}}
	env := newTestEnv(t, provider)
	conn := env.dial(t, "")
	readEnvelope(t, conn)

	sendEnvelope(t, conn, protocol.NewQuery("what is 2+2", false))

	processing := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeProcessing, processing.Type)
	assert.Equal(t, int64(1), processing.Sequence)

	response := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeAgentResponse, response.Type)
	assert.Equal(t, "4", response.StringField("text"))
	assert.Equal(t, int64(2), response.Sequence)

	complete := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeStreamComplete, complete.Type)
	assert.Equal(t, int64(3), complete.Sequence)

	assert.Equal(t, processing.QueryID, response.QueryID)
	assert.Equal(t, processing.QueryID, complete.QueryID)
}

func TestQueryWhileBusyIsRejected(t *testing.T) {
	provider := &scriptedProvider{
		gate:  make(chan struct{}, 1),
		turns: []*agent.Turn{{Text: "slow"}},
	}
	env := newTestEnv(t, provider)
	conn := env.dial(t, "")
	readEnvelope(t, conn)

	sendEnvelope(t, conn, protocol.NewQuery("first", false))
	assert.Equal(t, protocol.TypeProcessing, readEnvelope(t, conn).Type)

	sendEnvelope(t, conn, protocol.NewQuery("second", false))
	rejection := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeError, rejection.Type)
	assert.Equal(t, "A query is already being processed", rejection.StringField("message"))

	provider.gate <- struct{}{}
	assert.Equal(t, protocol.TypeAgentResponse, readEnvelope(t, conn).Type)
	assert.Equal(t, protocol.TypeStreamComplete, readEnvelope(t, conn).Type)
}

func TestCancelIdleIsAcknowledged(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{})
	conn := env.dial(t, "")
	readEnvelope(t, conn)

	sendEnvelope(t, conn, protocol.NewCancel())

	ack := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeSystem, ack.Type)
	assert.Equal(t, "No active query to cancel", ack.StringField("message"))
}

func TestCancelRunningQuery(t *testing.T) {
	provider := &scriptedProvider{
		gate:  make(chan struct{}, 1),
		turns: []*agent.Turn{{Text: "too late"}},
	}
	env := newTestEnv(t, provider)
	conn := env.dial(t, "session_id=busy")
	readEnvelope(t, conn)

	sendEnvelope(t, conn, protocol.NewQuery("long task", false))
	assert.Equal(t, protocol.TypeProcessing, readEnvelope(t, conn).Type)

	sess, ok := env.registry.Get("busy")
	require.True(t, ok)

	sendEnvelope(t, conn, protocol.NewCancel())
	require.Eventually(t, func() bool {
		return sess.Status() == session.StatusCancelling
	}, 2*time.Second, 5*time.Millisecond)

	provider.gate <- struct{}{}

	ack := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeSystem, ack.Type)
	assert.Equal(t, "Query canceled", ack.StringField("message"))
}

func TestReconnectResume(t *testing.T) {
	provider := &scriptedProvider{turns: []*agent.Turn{{Text: "here you go"}}}
	env := newTestEnv(t, provider)
	conn := env.dial(t, "session_id=resume-me")

	hello := readEnvelope(t, conn)
	assert.Equal(t, "resume-me", hello.StringField("session_id"))

	sendEnvelope(t, conn, protocol.NewQuery("list files", false))

	// Read two envelopes, then drop the connection.
	first := readEnvelope(t, conn)
	second := readEnvelope(t, conn)
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, int64(2), second.Sequence)
	conn.Close()

	// Wait for the query to finish server-side.
	sess, ok := env.registry.Get("resume-me")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return sess.Status() == session.StatusIdle
	}, 2*time.Second, 5*time.Millisecond)

	reconn := env.dial(t, "session_id=resume-me&last_seq=2")
	assert.Equal(t, protocol.TypeConnectionEstablished, readEnvelope(t, reconn).Type)

	replayed := readEnvelope(t, reconn)
	assert.Equal(t, int64(3), replayed.Sequence)
	assert.Equal(t, protocol.TypeStreamComplete, replayed.Type)
	assert.Equal(t, second.QueryID, replayed.QueryID)
}

func TestSecondAttachSupersedesFirst(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{})
	first := env.dial(t, "session_id=shared")
	readEnvelope(t, first)

	second := env.dial(t, "session_id=shared")
	readEnvelope(t, second)

	notice := readEnvelope(t, first)
	assert.Equal(t, protocol.TypeSystem, notice.Type)
	assert.Contains(t, notice.StringField("message"), "superseded")

	// The old connection is closed by the server shortly after.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	// The new connection is live.
	sendEnvelope(t, second, protocol.NewPing())
	assert.Equal(t, protocol.TypePong, readEnvelope(t, second).Type)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{})

	resp, err := env.server.Client().Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{Port: 0})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 8080})
	assert.Error(t, err)
}
