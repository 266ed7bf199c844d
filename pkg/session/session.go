package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Intelligent-Internet/ii-agent/internal/observability"
	"github.com/Intelligent-Internet/ii-agent/internal/tracing"
	"github.com/Intelligent-Internet/ii-agent/pkg/agent"
	"github.com/Intelligent-Internet/ii-agent/pkg/protocol"
	"github.com/Intelligent-Internet/ii-agent/pkg/tools"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusResponding Status = "responding"
	StatusCancelling Status = "cancelling"
)

const (
	// DefaultMaxTurns bounds the model/tool loop of one query.
	DefaultMaxTurns = 40

	// DefaultMaxRetries bounds transient-failure retries per model call.
	DefaultMaxRetries = 3
)

// Transport delivers outbound envelopes to one connected client. A session
// holds at most one attached transport and never owns it.
type Transport interface {
	Send(env protocol.Envelope) error
	Close() error
}

// Config carries the collaborators and model parameters a session runs with.
type Config struct {
	Provider agent.Provider
	Tools    *tools.Registry
	History  *HistoryStore
	Logger   zerolog.Logger

	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	MaxTurns     int
	MaxRetries   int

	ReplayCapacity int
}

// Query is one request-to-response unit of agent work.
type Query struct {
	ID        string
	Text      string
	Resume    bool
	StartedAt time.Time

	seq       int64
	cancelled atomic.Bool
}

// Session is one client's durable conversational context. It survives
// transport disconnects and is destroyed only by explicit teardown.
type Session struct {
	ID string

	cfg    Config
	logger zerolog.Logger
	replay *replayBuffer

	mu        sync.Mutex
	status    Status
	active    *Query
	transport Transport
}

func newSession(id string, cfg Config) *Session {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	return &Session{
		ID:     id,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("session_id", id).Logger(),
		replay: newReplayBuffer(cfg.ReplayCapacity),
		status: StatusIdle,
	}
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ActiveQueryID returns the id of the running query, or empty when idle.
func (s *Session) ActiveQueryID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.ID
}

// Attach connects a transport to the session and replays any envelopes the
// client has not seen. A previously attached transport receives a system
// notice and is closed; the session itself is untouched, so a query keeps
// running across the handover. Returns ErrResumeIncomplete when the replay
// buffer rolled past lastSeq; the new transport stays attached and has
// already been told via an error envelope.
func (s *Session) Attach(t Transport, lastSeq int64) error {
	// The swap, the replay read and the replay delivery share the lock emit
	// records under. A concurrent query therefore either lands in the
	// replayed suffix or is sent live after it, never both.
	s.mu.Lock()
	old := s.transport
	s.transport = t

	replayed, err := s.replay.replayFrom(lastSeq)
	if err == nil {
		for _, env := range replayed {
			if sendErr := t.Send(env); sendErr != nil {
				s.logger.Warn().Err(sendErr).Msg("Failed to replay envelope")
				break
			}
		}
	}
	s.mu.Unlock()

	if old != nil && old != t {
		_ = old.Send(protocol.NewSystem("Session superseded by a new connection"))
		_ = old.Close()
		s.logger.Info().Msg("Previous transport superseded")
	}

	if err != nil {
		_ = t.Send(protocol.NewError("resume incomplete: requested events are no longer buffered"))
		s.logger.Warn().Int64("last_seq", lastSeq).Msg("Resume incomplete, buffer rolled over")
		return err
	}

	if len(replayed) > 0 {
		observability.RecordReplay(len(replayed))
		s.logger.Info().
			Int("replayed", len(replayed)).
			Int64("last_seq", lastSeq).
			Msg("Replayed buffered envelopes")
	}

	return nil
}

// Detach disconnects a transport without touching the session. A running
// query continues and keeps filling the replay buffer.
func (s *Session) Detach(t Transport) {
	s.mu.Lock()
	if s.transport == t {
		s.transport = nil
	}
	s.mu.Unlock()
}

// Attached reports whether a transport is currently connected.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil
}

// SubmitQuery starts a new query on an idle session. The loop runs in its
// own goroutine so the caller can keep pumping inbound envelopes. Returns
// ErrQueryInProgress when a query is already running.
func (s *Session) SubmitQuery(ctx context.Context, text string, resume bool) error {
	s.mu.Lock()
	if s.status != StatusIdle {
		s.mu.Unlock()
		return ErrQueryInProgress
	}

	q := &Query{
		ID:        gonanoid.Must(12),
		Text:      text,
		Resume:    resume,
		StartedAt: time.Now(),
	}
	s.active = q
	s.status = StatusProcessing
	s.mu.Unlock()

	// The query outlives the submitting connection.
	ctx = context.WithoutCancel(ctx)
	ctx = tracing.WithSessionID(ctx, s.ID)
	ctx = tracing.WithQueryID(ctx, q.ID)

	go s.runQuery(ctx, q)
	return nil
}

// Cancel requests cooperative cancellation of the active query. On an idle
// session it is a no-op that still acknowledges with a system envelope.
func (s *Session) Cancel() {
	s.mu.Lock()
	q := s.active
	if q != nil {
		s.status = StatusCancelling
	}
	s.mu.Unlock()

	if q == nil {
		s.emit(protocol.NewSystem("No active query to cancel"))
		return
	}

	q.cancelled.Store(true)
	s.logger.Info().Str("query_id", q.ID).Msg("Cancellation requested")
}

// emit assigns routing metadata to query-scoped envelopes, records them for
// replay and delivers them to the attached transport, if any.
func (s *Session) emit(env protocol.Envelope) {
	s.mu.Lock()
	if s.active != nil && env.Type.QueryScoped() {
		s.active.seq++
		env.Sequence = s.active.seq
		env.QueryID = s.active.ID
		s.replay.record(env)
	}
	t := s.transport
	s.mu.Unlock()

	observability.RecordEnvelope(string(env.Type))

	if t != nil {
		if err := t.Send(env); err != nil {
			s.logger.Warn().
				Err(err).
				Str("type", string(env.Type)).
				Msg("Failed to deliver envelope")
		}
	}
}

func (s *Session) runQuery(ctx context.Context, q *Query) {
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Str("query_id", q.ID).Bool("resume", q.Resume).Msg("Query started")

	s.emit(protocol.NewProcessing())

	var messages []agent.Message
	if q.Resume {
		loaded, err := s.cfg.History.Load(ctx, s.ID)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to load history, starting fresh")
		} else {
			messages = loaded
		}
	}

	userMsg := agent.Message{Role: "user", Content: q.Text}
	messages = append(messages, userMsg)
	s.appendHistory(ctx, userMsg)

	for turn := 0; ; turn++ {
		if q.cancelled.Load() {
			s.finishCancelled(q)
			return
		}
		if turn >= s.cfg.MaxTurns {
			s.finishError(q, fmt.Sprintf("agent did not complete after %d turns", s.cfg.MaxTurns))
			return
		}

		req := agent.Request{
			Model:        s.cfg.Model,
			SystemPrompt: s.cfg.SystemPrompt,
			Messages:     messages,
			Tools:        s.cfg.Tools.Declarations(),
			Temperature:  s.cfg.Temperature,
			MaxTokens:    s.cfg.MaxTokens,
		}

		logger.Debug().
			Int("turn", turn).
			Int("messages", len(messages)).
			Int("estimated_tokens", agent.EstimateTokens(messages)).
			Msg("Calling model")

		modelStart := time.Now()
		result, err := agent.GenerateWithRetry(ctx, s.cfg.Provider, req, s.cfg.MaxRetries, logger)
		observability.RecordModelCall(s.cfg.Provider.Name(), time.Since(modelStart), err == nil)
		if err != nil {
			logger.Error().Err(err).Str("query_id", q.ID).Msg("Model call failed")
			s.finishError(q, fmt.Sprintf("model call failed: %v", err))
			return
		}

		if q.cancelled.Load() {
			// The model call was in flight when cancellation arrived; its
			// result is discarded.
			s.finishCancelled(q)
			return
		}

		if result.Final() {
			s.setStatus(StatusResponding)
			s.emit(protocol.NewAgentResponse(result.Text))
			s.appendHistory(ctx, agent.Message{Role: "assistant", Content: result.Text})
			s.emit(protocol.NewStreamComplete())
			s.finish(q, "completed")
			logger.Info().Str("query_id", q.ID).Int("turns", turn+1).Msg("Query completed")
			return
		}

		if result.Text != "" {
			s.emit(protocol.NewAgentThinking(result.Text))
		}

		// One tool invocation in flight at a time; the next model call
		// depends on this result.
		call := result.ToolCalls[0]

		if q.cancelled.Load() {
			s.finishCancelled(q)
			return
		}

		s.emit(protocol.NewToolCall(call.Name, call.Input))

		toolStart := time.Now()
		res := s.cfg.Tools.Invoke(ctx, call.Name, call.Input)
		observability.RecordToolInvocation(call.Name, time.Since(toolStart), !res.Failed())

		if q.cancelled.Load() {
			// The invocation was allowed to finish; its result is discarded.
			s.finishCancelled(q)
			return
		}

		s.emit(protocol.NewToolResult(call.Name, res.Payload()))
		s.emit(protocol.NewToolCallResult(call.Name, res.Payload()))

		assistantMsg := agent.Message{
			Role:      "assistant",
			Content:   result.Text,
			ToolCalls: []agent.ToolCall{call},
		}
		toolMsg := agent.Message{
			Role:       "tool",
			Content:    toolResultContent(res),
			ToolCallID: call.ID,
			Metadata:   map[string]interface{}{"tool_name": call.Name},
		}
		messages = append(messages, assistantMsg, toolMsg)
		s.appendHistory(ctx, assistantMsg)
		s.appendHistory(ctx, toolMsg)
	}
}

func (s *Session) finishCancelled(q *Query) {
	s.emit(protocol.NewSystem("Query canceled"))
	s.finish(q, "cancelled")
	s.logger.Info().Str("query_id", q.ID).Msg("Query cancelled")
}

func (s *Session) finishError(q *Query, message string) {
	s.emit(protocol.NewError(message))
	s.finish(q, "error")
}

func (s *Session) finish(q *Query, outcome string) {
	s.mu.Lock()
	s.active = nil
	s.status = StatusIdle
	s.mu.Unlock()

	observability.RecordQuery(outcome, time.Since(q.StartedAt))
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	// Cancellation wins over a responding transition.
	if s.status != StatusCancelling {
		s.status = status
	}
	s.mu.Unlock()
}

func (s *Session) appendHistory(ctx context.Context, msg agent.Message) {
	if err := s.cfg.History.Append(ctx, s.ID, msg); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist history entry")
	}
}

func toolResultContent(res tools.Result) string {
	data, err := json.Marshal(res.Payload())
	if err != nil {
		return fmt.Sprintf("%v", res.Payload())
	}
	return string(data)
}
