package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Intelligent-Internet/ii-agent/pkg/agent"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHistory(t *testing.T) *HistoryStore {
	t.Helper()
	hs, err := NewHistoryStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return hs
}

func TestHistoryAppendAndLoad(t *testing.T) {
	hs := newTestHistory(t)
	ctx := context.Background()

	require.NoError(t, hs.Append(ctx, "sess-1", agent.Message{Role: "user", Content: "hello"}))
	require.NoError(t, hs.Append(ctx, "sess-1", agent.Message{
		Role: "assistant",
		ToolCalls: []agent.ToolCall{
			{ID: "c1", Name: "shell", Input: map[string]interface{}{"command": "ls"}},
		},
	}))
	require.NoError(t, hs.Append(ctx, "sess-1", agent.Message{
		Role:       "tool",
		Content:    `{"stdout":"a b c"}`,
		ToolCallID: "c1",
	}))

	messages, err := hs.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "hello", messages[0].Content)
	require.Len(t, messages[1].ToolCalls, 1)
	assert.Equal(t, "shell", messages[1].ToolCalls[0].Name)
	assert.Equal(t, "c1", messages[2].ToolCallID)
}

func TestHistoryLoadMissingSession(t *testing.T) {
	hs := newTestHistory(t)

	messages, err := hs.Load(context.Background(), "never-written")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestHistorySkipsCorruptLines(t *testing.T) {
	hs := newTestHistory(t)
	ctx := context.Background()

	require.NoError(t, hs.Append(ctx, "sess-1", agent.Message{Role: "user", Content: "before"}))

	// Inject garbage between two valid entries.
	f, err := os.OpenFile(hs.path("sess-1"), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n{\"session_id\":\"sess-1\",\"message\":{}}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, hs.Append(ctx, "sess-1", agent.Message{Role: "user", Content: "after"}))

	messages, err := hs.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "before", messages[0].Content)
	assert.Equal(t, "after", messages[1].Content)
}

func TestHistoryValidatesSessionID(t *testing.T) {
	hs := newTestHistory(t)
	ctx := context.Background()
	msg := agent.Message{Role: "user", Content: "x"}

	assert.Error(t, hs.Append(ctx, "", msg))
	assert.Error(t, hs.Append(ctx, "../escape", msg))
	assert.Error(t, hs.Append(ctx, "a/b", msg))
	assert.Error(t, hs.Append(ctx, "a\\b", msg))
	assert.Error(t, hs.Append(ctx, "nul\x00byte", msg))
}

func TestHistoryRejectsEmptyRole(t *testing.T) {
	hs := newTestHistory(t)

	err := hs.Append(context.Background(), "sess-1", agent.Message{Content: "no role"})
	assert.Error(t, err)
}

func TestHistoryDeleteAndList(t *testing.T) {
	hs := newTestHistory(t)
	ctx := context.Background()

	require.NoError(t, hs.Append(ctx, "sess-a", agent.Message{Role: "user", Content: "x"}))
	require.NoError(t, hs.Append(ctx, "sess-b", agent.Message{Role: "user", Content: "y"}))

	ids, err := hs.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sess-a", "sess-b"}, ids)

	require.NoError(t, hs.Delete(ctx, "sess-a"))
	ids, err = hs.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-b"}, ids)

	// Deleting a session that was never written is fine.
	assert.NoError(t, hs.Delete(ctx, "sess-a"))
}

func TestHistoryInfo(t *testing.T) {
	hs := newTestHistory(t)
	ctx := context.Background()

	require.NoError(t, hs.Append(ctx, "sess-1", agent.Message{Role: "user", Content: "x"}))
	require.NoError(t, hs.Append(ctx, "sess-1", agent.Message{Role: "assistant", Content: "y"}))

	info, err := hs.Info(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", info.SessionID)
	assert.Equal(t, 2, info.MessageCount)
	assert.Greater(t, info.Size, int64(0))

	_, err = hs.Info(ctx, "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHistoryListIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	hs, err := NewHistoryStore(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))
	require.NoError(t, hs.Append(context.Background(), "sess-1", agent.Message{Role: "user", Content: "x"}))

	ids, err := hs.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-1"}, ids)
}
