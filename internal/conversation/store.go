package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// ConversationsDir is the subdirectory under the data dir where
	// conversation records live.
	ConversationsDir = "conversations"
	// ActiveFile names the pointer file holding the active conversation id.
	ActiveFile = "active"
)

// Sentinel errors for the persistence contract. "Not found" means the id has
// no record yet; "corrupt" means a record exists but cannot be decoded. The
// two must stay distinguishable: callers recover from the first and fail hard
// on the second.
var (
	ErrNotFound = errors.New("conversation not found")
	ErrCorrupt  = errors.New("conversation record corrupt")
)

// Store defines the persistence interface for conversations.
// Abstracted for testability (DIP).
type Store interface {
	// Create persists a fresh empty conversation under the given id
	// (generated when empty) and makes it the active conversation.
	Create(ctx context.Context, id string) (Conversation, error)
	// Load reads one conversation. Returns ErrNotFound or ErrCorrupt.
	Load(ctx context.Context, id string) (Conversation, error)
	// Append atomically appends a turn and persists the updated session
	// metadata. Concurrent readers see the turn fully or not at all.
	Append(ctx context.Context, id string, turn Turn, meta Metadata) (Conversation, error)
	// Reset supersedes the active conversation with a fresh one. Prior
	// records remain in durable storage.
	Reset(ctx context.Context) (Conversation, error)
	// Current returns the active conversation, creating one on first use.
	Current(ctx context.Context) (Conversation, error)
	// List returns summaries of all conversations, newest first.
	List(ctx context.Context) ([]Summary, error)
	// Search returns turns whose content matches the query, newest
	// conversations first, at most limit hits.
	Search(ctx context.Context, query string, limit int) ([]Match, error)
	// Close releases underlying resources.
	Close() error
}

// FileStore implements Store with one JSON file per conversation plus a
// pointer file naming the active one. Writes go through a temp-file rename so
// an append is never partially visible.
type FileStore struct {
	dataDir string
}

// NewFileStore creates a filesystem-backed conversation store rooted at
// dataDir.
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("conversation: data directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dataDir, ConversationsDir), 0o755); err != nil {
		return nil, fmt.Errorf("conversation: creating data directory: %w", err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// conversationPath returns the absolute path to a conversation's JSON record.
func (fs *FileStore) conversationPath(id string) string {
	return filepath.Join(fs.dataDir, ConversationsDir, id+".json")
}

// activePath returns the absolute path to the active-conversation pointer.
func (fs *FileStore) activePath() string {
	return filepath.Join(fs.dataDir, ActiveFile)
}

// Create persists a fresh conversation and points the active marker at it.
func (fs *FileStore) Create(ctx context.Context, id string) (Conversation, error) {
	c := NewConversation(id)
	if _, err := os.Stat(fs.conversationPath(c.ID)); err == nil {
		return Conversation{}, fmt.Errorf("conversation %q already exists", c.ID)
	}
	if err := fs.write(c); err != nil {
		return Conversation{}, err
	}
	if err := fs.setActive(c.ID); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// Load reads a specific conversation by id.
func (fs *FileStore) Load(ctx context.Context, id string) (Conversation, error) {
	data, err := os.ReadFile(fs.conversationPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Conversation{}, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
		}
		return Conversation{}, fmt.Errorf("reading conversation %q: %w", id, err)
	}

	var c Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return Conversation{}, fmt.Errorf("decoding conversation %q: %v: %w", id, err, ErrCorrupt)
	}
	return c, nil
}

// Append appends a turn together with the updated metadata in one write.
func (fs *FileStore) Append(ctx context.Context, id string, turn Turn, meta Metadata) (Conversation, error) {
	c, err := fs.Load(ctx, id)
	if err != nil {
		return Conversation{}, err
	}

	meta.UpdatedAt = Now()
	c.Turns = append(c.Turns, turn)
	c.Metadata = meta
	if err := fs.write(c); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// Reset supersedes the active conversation with a fresh empty one. The old
// record stays on disk; only the active pointer moves.
func (fs *FileStore) Reset(ctx context.Context) (Conversation, error) {
	return fs.Create(ctx, "")
}

// Current returns the active conversation, creating one on first use. A stale
// pointer (record deleted out of band) is replaced the same way; a corrupt
// record is surfaced, never silently discarded.
func (fs *FileStore) Current(ctx context.Context) (Conversation, error) {
	id, err := fs.activeID()
	if err != nil {
		return Conversation{}, err
	}
	if id == "" {
		return fs.Create(ctx, "")
	}

	c, err := fs.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return fs.Create(ctx, "")
	}
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// List returns summaries for every stored conversation, newest first.
// Unreadable records are skipped.
func (fs *FileStore) List(ctx context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(filepath.Join(fs.dataDir, ConversationsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading conversations directory: %w", err)
	}

	active, err := fs.activeID()
	if err != nil {
		return nil, err
	}

	var result []Summary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		c, err := fs.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue // skip unreadable records
		}
		result = append(result, Summary{
			ID:             c.ID,
			Active:         c.ID == active,
			TurnCount:      len(c.Turns),
			Clarifications: c.Metadata.Clarifications,
			State:          c.Metadata.State,
			CreatedAt:      c.Metadata.CreatedAt,
			UpdatedAt:      c.Metadata.UpdatedAt,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt != result[j].UpdatedAt {
			return result[i].UpdatedAt > result[j].UpdatedAt
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Search scans turn content for a case-insensitive substring match, newest
// conversations first.
func (fs *FileStore) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	summaries, err := fs.List(ctx)
	if err != nil {
		return nil, err
	}

	var result []Match
	for _, s := range summaries {
		c, err := fs.Load(ctx, s.ID)
		if err != nil {
			continue
		}
		for _, turn := range c.Turns {
			if !strings.Contains(strings.ToLower(turn.Content), query) {
				continue
			}
			result = append(result, Match{ConversationID: c.ID, Turn: turn})
			if len(result) >= limit {
				return result, nil
			}
		}
	}
	return result, nil
}

// Close is a no-op for the file store.
func (fs *FileStore) Close() error { return nil }

// activeID reads the active pointer, returning "" when none is set.
func (fs *FileStore) activeID() (string, error) {
	data, err := os.ReadFile(fs.activePath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading active pointer: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// setActive points the active marker at the given conversation id.
func (fs *FileStore) setActive(id string) error {
	if err := os.WriteFile(fs.activePath(), []byte(id+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing active pointer: %w", err)
	}
	return nil
}

// write marshals a conversation and replaces its record via a temp-file
// rename, so concurrent readers never observe a partial write.
func (fs *FileStore) write(c Conversation) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling conversation %q: %w", c.ID, err)
	}

	path := fs.conversationPath(c.ID)
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+c.ID+"-*")
	if err != nil {
		return fmt.Errorf("creating temp record: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing conversation %q: %w", c.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing conversation %q: %w", c.ID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing conversation %q: %w", c.ID, err)
	}
	return nil
}
