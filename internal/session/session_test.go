package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CriticalRange/arula-go/internal/llm"
)

func TestConversation_Append(t *testing.T) {
	conv := NewConversation("openai")

	msg := conv.Append(llm.Message{Role: llm.RoleUser, Content: "Hello"})

	assert.NotEmpty(t, msg.ID, "append should assign an id")
	assert.False(t, msg.Timestamp.IsZero(), "append should assign a timestamp")
	assert.Equal(t, 1, conv.Len())
}

func TestConversation_TitleDerivation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"simple", "Hello world", "Hello world"},
		{"first line only", "Fix the bug\nin parser.go", "Fix the bug"},
		{"trimmed", "  spaced out  ", "spaced out"},
		{
			"truncated to 60 code points",
			strings.Repeat("é", 80),
			strings.Repeat("é", 60) + "…",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := NewConversation("openai")
			conv.Append(llm.Message{Role: llm.RoleSystem, Content: "sys"})
			conv.Append(llm.Message{Role: llm.RoleUser, Content: tt.content})
			assert.Equal(t, tt.want, conv.Title())
		})
	}
}

func TestConversation_TitleOnlyFromFirstUserMessage(t *testing.T) {
	conv := NewConversation("openai")
	conv.Append(llm.Message{Role: llm.RoleUser, Content: "first"})
	conv.Append(llm.Message{Role: llm.RoleUser, Content: "second"})
	assert.Equal(t, "first", conv.Title())
}

func TestConversation_SnapshotIsolation(t *testing.T) {
	conv := NewConversation("anthropic")
	conv.Append(llm.Message{Role: llm.RoleUser, Content: "hi"})

	snap := conv.Snapshot()
	conv.Append(llm.Message{Role: llm.RoleAssistant, Content: "hello"})

	assert.Len(t, snap.Messages, 1, "snapshot must not observe later appends")
	assert.Equal(t, 2, conv.Len())
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	conv := NewConversation("anthropic")
	conv.Append(llm.Message{Role: llm.RoleSystem, Content: "sys"})
	conv.Append(llm.Message{Role: llm.RoleUser, Content: "list files in /tmp"})
	conv.Append(llm.Message{
		Role:    llm.RoleAssistant,
		Content: "",
		ToolCalls: []llm.ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: llm.FunctionCall{Name: "list_directory", Arguments: `{"path":"/tmp"}`},
		}},
	})
	conv.Append(llm.Message{Role: llm.RoleTool, Content: `{"entries":["a","b"]}`, ToolCallID: "call_1"})

	require.NoError(t, store.Save(conv.Snapshot()))

	loaded, err := store.Load(conv.ID())
	require.NoError(t, err)

	want := conv.Snapshot()
	got := loaded.Snapshot()

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Title, got.Title)
	assert.Equal(t, want.Provider, got.Provider)
	require.Len(t, got.Messages, len(want.Messages))
	for i := range want.Messages {
		assert.Equal(t, want.Messages[i].ID, got.Messages[i].ID)
		assert.Equal(t, want.Messages[i].Role, got.Messages[i].Role)
		assert.Equal(t, want.Messages[i].Content, got.Messages[i].Content)
		assert.Equal(t, want.Messages[i].ToolCallID, got.Messages[i].ToolCallID)
		assert.Equal(t, want.Messages[i].ToolCalls, got.Messages[i].ToolCalls)
	}
}

func TestStore_LoadDefaultsMissingFields(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	// A minimal legacy file: unknown fields ignored, missing defaulted.
	raw := `{"schema_version":1,"id":"legacy-1","messages":[{"role":"user","content":"hi","mystery_field":true}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "legacy-1.json"), []byte(raw), 0600))

	conv, err := store.Load("legacy-1")
	require.NoError(t, err)
	assert.Equal(t, "legacy-1", conv.ID())
	require.Equal(t, 1, conv.Len())
	assert.Equal(t, "hi", conv.History()[0].Content)
}

func TestStore_LoadRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	raw := `{"schema_version":99,"id":"future"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "future.json"), []byte(raw), 0600))

	_, err = store.Load("future")
	assert.Error(t, err)
}

func TestStore_List(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	first := NewConversation("openai")
	first.Append(llm.Message{Role: llm.RoleUser, Content: "older"})
	require.NoError(t, store.Save(first.Snapshot()))

	second := NewConversation("anthropic")
	second.Append(llm.Message{Role: llm.RoleUser, Content: "newer"})
	snap := second.Snapshot()
	snap.UpdatedAt = snap.UpdatedAt.Add(time.Hour)
	require.NoError(t, store.Save(snap))

	summaries, err := store.List()
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "newer", summaries[0].Title, "most recent first")
	assert.Equal(t, 1, summaries[0].Messages)
}

func TestStore_AutosaveDebounce(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	conv := NewConversation("openai")
	store.Watch(conv)

	conv.Append(llm.Message{Role: llm.RoleUser, Content: "hi"})
	store.Notify()
	store.Notify() // burst coalesces into one save
	store.Notify()

	path := filepath.Join(store.Dir(), conv.ID()+".json")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "save should be debounced, not immediate")

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 3*time.Second, 50*time.Millisecond, "debounced save should land")
}

func TestStore_FlushImmediate(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	conv := NewConversation("openai")
	conv.Append(llm.Message{Role: llm.RoleUser, Content: "hi"})
	store.Watch(conv)
	store.Flush()

	_, statErr := os.Stat(filepath.Join(store.Dir(), conv.ID()+".json"))
	assert.NoError(t, statErr)
}

func TestStore_NoPartialFilesOnDisk(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	conv := NewConversation("openai")
	conv.Append(llm.Message{Role: llm.RoleUser, Content: "hi"})
	require.NoError(t, store.Save(conv.Snapshot()))

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}
