package conversations

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store keeps one JSON file per conversation under dataDir. All methods are
// safe for concurrent use; the mutex serializes read-modify-write cycles.
type Store struct {
	dataDir string
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex
}

// NewStore creates the data directory if needed.
func NewStore(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversations dir: %w", err)
	}
	return &Store{
		dataDir: dataDir,
		logger:  logger.With("component", "conversations"),
		now:     time.Now,
	}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dataDir, id+".json")
}

// Create starts a new conversation and persists it.
func (s *Store) Create(name, model, systemPrompt string) (*Conversation, error) {
	now := s.now()
	conv := &Conversation{
		ID:           NewID(),
		Name:         name,
		SystemPrompt: systemPrompt,
		Model:        model,
		Messages:     []Message{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Save(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Save writes a conversation to disk, bumping its updated_at.
func (s *Store) Save(conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(conv)
}

func (s *Store) saveLocked(conv *Conversation) error {
	conv.UpdatedAt = s.now()
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if err := os.WriteFile(s.path(conv.ID), data, 0o644); err != nil {
		return fmt.Errorf("write conversation: %w", err)
	}
	return nil
}

// Load reads a conversation. A missing or unreadable file yields (nil, nil):
// corrupt conversations are treated as absent, matching list behavior.
func (s *Store) Load(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *Store) loadLocked(id string) (*Conversation, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		s.logger.Warn("skipping corrupt conversation", "id", id, "error", err)
		return nil, nil
	}
	return &conv, nil
}

// Delete removes a conversation; false if it did not exist.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	return true, nil
}

// List returns summaries of every conversation, newest updated first.
// Unreadable files are skipped.
func (s *Store) List() ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	summaries := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		conv, err := s.loadLocked(strings.TrimSuffix(name, ".json"))
		if err != nil || conv == nil {
			continue
		}
		summaries = append(summaries, Summary{
			ID:           conv.ID,
			Name:         conv.Name,
			SystemPrompt: conv.SystemPrompt,
			Model:        conv.Model,
			MessageCount: len(conv.Messages),
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			Preview:      preview(conv.Messages),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// AddMessage appends a message and persists. Returns (nil, nil) when the
// conversation does not exist. Empty message id and timestamp are filled in.
func (s *Store) AddMessage(id string, msg Message) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.loadLocked(id)
	if err != nil || conv == nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	conv.Messages = append(conv.Messages, msg)
	if err := s.saveLocked(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Rename updates the conversation name and persists. Returns (nil, nil) when
// absent.
func (s *Store) Rename(id, name string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.loadLocked(id)
	if err != nil || conv == nil {
		return nil, err
	}
	conv.Name = name
	if err := s.saveLocked(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Update applies optional field changes. Nil pointers leave fields unchanged.
func (s *Store) Update(id string, name, model, systemPrompt *string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.loadLocked(id)
	if err != nil || conv == nil {
		return nil, err
	}
	if name != nil {
		conv.Name = *name
	}
	if model != nil {
		conv.Model = *model
	}
	if systemPrompt != nil {
		conv.SystemPrompt = *systemPrompt
	}
	if err := s.saveLocked(conv); err != nil {
		return nil, err
	}
	return conv, nil
}
