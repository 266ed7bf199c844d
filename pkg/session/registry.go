package session

import (
	"sync"

	"github.com/Intelligent-Internet/ii-agent/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Info is a read-only snapshot of one registered session.
type Info struct {
	SessionID     string `json:"session_id"`
	Status        Status `json:"status"`
	ActiveQueryID string `json:"active_query_id,omitempty"`
	Attached      bool   `json:"attached"`
}

// Registry is the process-wide map from session id to Session. Sessions are
// created lazily on first attach and destroyed only by explicit teardown,
// never by disconnect.
type Registry struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry whose sessions run with cfg.
func NewRegistry(cfg Config) *Registry {
	observability.EnsureRegistered()

	return &Registry{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for id, creating it if needed. An empty
// id allocates a fresh session with a generated id.
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		id = uuid.New().String()
	}
	if s, ok := r.sessions[id]; ok {
		return s
	}

	s := newSession(id, r.cfg)
	r.sessions[id] = s
	observability.SetActiveSessions(len(r.sessions))
	r.logger.Info().Str("session_id", id).Msg("Session created")
	return s
}

// Get returns the session for id if it exists.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Attach binds a transport to the session for id, creating the session when
// unknown, and replays unseen envelopes. A transport already attached to the
// session is superseded.
func (r *Registry) Attach(id string, t Transport, lastSeq int64) (*Session, error) {
	s := r.GetOrCreate(id)
	err := s.Attach(t, lastSeq)
	return s, err
}

// CancelActive requests cancellation of the active query of session id.
func (r *Registry) CancelActive(id string) error {
	s, ok := r.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.Cancel()
	return nil
}

// List returns a snapshot of all registered sessions.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, Info{
			SessionID:     s.ID,
			Status:        s.Status(),
			ActiveQueryID: s.ActiveQueryID(),
			Attached:      s.Attached(),
		})
	}
	return infos
}

// Teardown cancels any active query, closes the attached transport and
// removes the session from the registry. Persisted history is untouched.
func (r *Registry) Teardown(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		observability.SetActiveSessions(len(r.sessions))
	}
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	if s.Status() != StatusIdle {
		s.Cancel()
	}

	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}

	r.logger.Info().Str("session_id", id).Msg("Session torn down")
	return nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
