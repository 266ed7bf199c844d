package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Intelligent-Internet/ii-agent/internal/observability"
	"github.com/Intelligent-Internet/ii-agent/internal/tracing"
	"github.com/Intelligent-Internet/ii-agent/pkg/agent"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// HistoryEntry is one persisted conversation turn.
type HistoryEntry struct {
	SessionID string        `json:"session_id"`
	Message   agent.Message `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// HistoryInfo is metadata about a persisted session history.
type HistoryInfo struct {
	SessionID    string    `json:"session_id"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	MessageCount int       `json:"message_count"`
}

// HistoryStore persists conversation history as one JSONL file per session.
type HistoryStore struct {
	dir        string
	logger     zerolog.Logger
	writeLocks map[string]*sync.Mutex
	locksMu    sync.RWMutex
}

// NewHistoryStore creates the store rooted at dir, defaulting to
// ~/.ii-agent/sessions.
func NewHistoryStore(dir string, logger zerolog.Logger) (*HistoryStore, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".ii-agent", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	logger.Info().Str("dir", dir).Msg("History store initialized")

	return &HistoryStore{
		dir:        dir,
		logger:     logger,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (hs *HistoryStore) path(sessionID string) string {
	return filepath.Join(hs.dir, sessionID+".jsonl")
}

func (hs *HistoryStore) writeLock(sessionID string) *sync.Mutex {
	hs.locksMu.Lock()
	defer hs.locksMu.Unlock()

	if lock, exists := hs.writeLocks[sessionID]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	hs.writeLocks[sessionID] = lock
	return lock
}

// Append persists one conversation turn for a session, creating the file on
// first write.
func (hs *HistoryStore) Append(ctx context.Context, sessionID string, message agent.Message) error {
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(
		ctx,
		"session",
		"history.append",
		attribute.String("session_id", sessionID),
		attribute.String("role", message.Role),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, hs.logger)

	start := time.Now()
	defer func() {
		observability.RecordHistorySave(time.Since(start))
	}()

	if err := validateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if message.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}

	lock := hs.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(hs.path(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	entry := HistoryEntry{
		SessionID: sessionID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write history entry: %w", err)
	}

	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync history file: %w", err)
	}

	logger.Debug().
		Str("session_id", sessionID).
		Str("role", message.Role).
		Msg("History entry appended")

	return nil
}

// Load reads all turns for a session. Corrupt lines are skipped, not fatal.
// A session that was never written loads as empty.
func (hs *HistoryStore) Load(ctx context.Context, sessionID string) ([]agent.Message, error) {
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(
		ctx,
		"session",
		"history.load",
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, hs.logger)

	start := time.Now()
	defer func() {
		observability.RecordHistoryLoad(time.Since(start))
	}()

	if err := validateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	file, err := os.Open(hs.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	var messages []agent.Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var entry HistoryEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn().
				Str("session_id", sessionID).
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse history line, skipping")
			continue
		}
		if entry.Message.Role == "" {
			logger.Warn().
				Str("session_id", sessionID).
				Int("line", lineNum).
				Msg("History entry missing role, skipping")
			continue
		}

		messages = append(messages, entry.Message)
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	logger.Debug().
		Str("session_id", sessionID).
		Int("messages", len(messages)).
		Msg("History loaded")

	return messages, nil
}

// Delete removes a session's history file. Deleting a session that was
// never written is not an error.
func (hs *HistoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	lock := hs.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(hs.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete history file: %w", err)
	}

	hs.locksMu.Lock()
	delete(hs.writeLocks, sessionID)
	hs.locksMu.Unlock()

	hs.logger.Info().Str("session_id", sessionID).Msg("History deleted")
	return nil
}

// List returns the ids of all sessions with persisted history.
func (hs *HistoryStore) List() ([]string, error) {
	entries, err := os.ReadDir(hs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".jsonl"))
	}
	return ids, nil
}

// Info returns metadata about a persisted session history.
func (hs *HistoryStore) Info(ctx context.Context, sessionID string) (*HistoryInfo, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	stat, err := os.Stat(hs.path(sessionID))
	if os.IsNotExist(err) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat history file: %w", err)
	}

	messages, err := hs.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &HistoryInfo{
		SessionID:    sessionID,
		Size:         stat.Size(),
		LastModified: stat.ModTime(),
		MessageCount: len(messages),
	}, nil
}
