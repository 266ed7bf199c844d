package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Intelligent-Internet/ii-agent/internal/observability"
	"github.com/Intelligent-Internet/ii-agent/internal/tracing"
	"github.com/Intelligent-Internet/ii-agent/pkg/protocol"
	"github.com/Intelligent-Internet/ii-agent/pkg/session"
	"github.com/Intelligent-Internet/ii-agent/pkg/workspace"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server exposes the agent over a websocket endpoint. Each connection is a
// transport attached to a session; the session itself lives in the registry
// and survives the connection.
type Server struct {
	host      string
	port      int
	registry  *session.Registry
	workspace *workspace.Manager
	logger    zerolog.Logger

	upgrader       websocket.Upgrader
	server         *http.Server
	attached       atomic.Int64
	isShuttingDown bool
	shutdownMu     sync.RWMutex
}

// Config holds server configuration.
type Config struct {
	Host      string
	Port      int
	Registry  *session.Registry
	Workspace *workspace.Manager
	Logger    zerolog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if cfg.Workspace == nil {
		return nil, fmt.Errorf("workspace manager is required")
	}

	observability.EnsureRegistered()

	return &Server{
		host:      cfg.Host,
		port:      cfg.Port,
		registry:  cfg.Registry,
		workspace: cfg.Workspace,
		logger:    cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}, nil
}

// Handler returns the HTTP handler serving the websocket endpoint plus
// health and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start begins serving. It returns after the listener goroutine is launched.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("host", s.host).Int("port", s.port).Msg("Starting agent server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Agent server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the server. Running queries keep going until
// their sessions are torn down separately.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down agent server")

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Agent server stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	sessionID := r.URL.Query().Get("session_id")
	lastSeq, _ := strconv.ParseInt(r.URL.Query().Get("last_seq"), 10, 64)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	sess := s.registry.GetOrCreate(sessionID)
	logger := s.logger.With().Str("session_id", sess.ID).Logger()
	transport := newWSTransport(conn, logger)

	// The handshake is out of band of query sequencing and precedes any
	// replayed envelopes.
	if err := transport.Send(protocol.NewConnectionEstablished(sess.ID, "Connected to Agent WebSocket Server")); err != nil {
		logger.Error().Err(err).Msg("Failed to send handshake")
		_ = transport.Close()
		return
	}

	if err := sess.Attach(transport, lastSeq); err != nil && !errors.Is(err, session.ErrResumeIncomplete) {
		logger.Error().Err(err).Msg("Failed to attach transport")
		_ = transport.Close()
		return
	}

	observability.SetAttachedTransports(int(s.attached.Add(1)))
	logger.Info().
		Str("remote", r.RemoteAddr).
		Int64("last_seq", lastSeq).
		Msg("Client connected")

	ctx := tracing.NewRequestContext(context.Background())
	ctx = tracing.WithSessionID(ctx, sess.ID)

	go s.readLoop(ctx, sess, transport, conn)
}

func (s *Server) readLoop(ctx context.Context, sess *session.Session, transport *wsTransport, conn *websocket.Conn) {
	logger := tracing.LoggerFromContext(ctx, s.logger)

	defer func() {
		sess.Detach(transport)
		_ = transport.Close()
		observability.SetAttachedTransports(int(s.attached.Add(-1)))
		logger.Info().Str("session_id", sess.ID).Msg("Client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Msg("WebSocket error")
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			// Malformed input never tears down the connection.
			logger.Warn().Err(err).Msg("Failed to decode inbound message")
			_ = transport.Send(protocol.NewError("Invalid JSON format"))
			continue
		}

		s.dispatch(ctx, sess, transport, env)
	}
}

func (s *Server) dispatch(ctx context.Context, sess *session.Session, transport *wsTransport, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeQuery:
		text := env.StringField("text")
		resume := env.BoolField("resume")
		if err := sess.SubmitQuery(ctx, text, resume); err != nil {
			if errors.Is(err, session.ErrQueryInProgress) {
				_ = transport.Send(protocol.NewError("A query is already being processed"))
			} else {
				_ = transport.Send(protocol.NewError(err.Error()))
			}
		}

	case protocol.TypeCancel:
		if err := s.registry.CancelActive(sess.ID); err != nil {
			_ = transport.Send(protocol.NewError(err.Error()))
		}

	case protocol.TypePing:
		_ = transport.Send(protocol.NewPong())

	case protocol.TypeWorkspaceInfo:
		snap, err := s.workspace.Snapshot()
		if err != nil {
			_ = transport.Send(protocol.NewError(fmt.Sprintf("failed to read workspace: %v", err)))
			return
		}
		_ = transport.Send(protocol.NewWorkspaceInfo(map[string]interface{}{
			"root":        snap.Root,
			"file_count":  snap.FileCount,
			"total_bytes": snap.TotalBytes,
			"scanned_at":  snap.ScannedAt,
		}))

	default:
		_ = transport.Send(protocol.NewError(fmt.Sprintf("Unknown message type: %s", env.Type)))
	}
}
