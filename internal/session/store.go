package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// schemaVersion is bumped when the persisted conversation shape
// changes. Older files are migrated best-effort on load: unknown fields
// are ignored, missing fields are defaulted.
const schemaVersion = 1

// autosaveDebounce coalesces save bursts during streaming.
const autosaveDebounce = 500 * time.Millisecond

// conversationFile is the on-disk shape.
type conversationFile struct {
	SchemaVersion int `json:"schema_version"`
	Snapshot
}

// Summary describes a persisted conversation without its messages.
type Summary struct {
	ID        string
	Title     string
	Provider  string
	UpdatedAt time.Time
	Messages  int
}

// Store persists conversations as one JSON file per conversation and
// runs the debounced autosave task. Autosave failures are logged and
// never alter the in-memory log or block the agent loop.
type Store struct {
	dir string

	mu      sync.Mutex
	watched *Conversation
	timer   *time.Timer
	closed  bool
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create conversations directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Watch makes conv the autosave target.
func (s *Store) Watch(conv *Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watched = conv
}

// Notify schedules a debounced save of the watched conversation. Safe
// to call from the agent loop after every append.
func (s *Store) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.watched == nil {
		return
	}
	if s.timer != nil {
		s.timer.Reset(autosaveDebounce)
		return
	}
	s.timer = time.AfterFunc(autosaveDebounce, s.flushWatched)
}

// Flush saves the watched conversation immediately, cancelling any
// pending debounce.
func (s *Store) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	conv := s.watched
	s.mu.Unlock()
	if conv != nil {
		s.save(conv.Snapshot())
	}
}

// Close flushes and stops the autosave task.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Flush()
}

func (s *Store) flushWatched() {
	s.mu.Lock()
	s.timer = nil
	conv := s.watched
	closed := s.closed
	s.mu.Unlock()
	if closed || conv == nil {
		return
	}
	s.save(conv.Snapshot())
}

// save writes the snapshot atomically: temp file in the same directory,
// then rename.
func (s *Store) save(snap Snapshot) {
	if err := s.Save(snap); err != nil {
		slog.Warn("autosave failed", "conversation", snap.ID, "error", err)
	}
}

// Save writes one conversation snapshot to disk.
func (s *Store) Save(snap Snapshot) error {
	data, err := json.MarshalIndent(conversationFile{
		SchemaVersion: schemaVersion,
		Snapshot:      snap,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	final := s.path(snap.ID)
	tmp, err := os.CreateTemp(s.dir, ".conversation-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write conversation: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace conversation file: %w", err)
	}
	return nil
}

// Load reads a conversation by id.
func (s *Store) Load(id string) (*Conversation, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	var file conversationFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse conversation: %w", err)
	}
	if file.SchemaVersion > schemaVersion {
		return nil, fmt.Errorf("conversation %s uses schema version %d, newer than supported %d", id, file.SchemaVersion, schemaVersion)
	}
	if file.ID == "" {
		file.ID = id
	}
	return fromSnapshot(file.Snapshot), nil
}

// List returns summaries of persisted conversations, most recent first.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	var out []Summary
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var file conversationFile
		if err := json.Unmarshal(data, &file); err != nil {
			slog.Debug("skipping unreadable conversation file", "file", entry.Name(), "error", err)
			continue
		}
		out = append(out, Summary{
			ID:        file.ID,
			Title:     file.Title,
			Provider:  file.Provider,
			UpdatedAt: file.UpdatedAt,
			Messages:  len(file.Messages),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}
