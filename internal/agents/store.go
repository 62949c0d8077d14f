package agents

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9-]+`)

// Store owns agent configurations. The agents.yaml file is the single source
// of truth; schedules are always rebuilt from it at process start, never from
// persisted scheduler state.
//
// Writes are serialized by the store mutex. Across processes the file is
// last-writer-wins.
type Store struct {
	configPath string
	logger     *slog.Logger

	mu     sync.RWMutex
	agents map[string]*Agent
}

// configFile is the on-disk shape of agents.yaml.
type configFile struct {
	Agents map[string]*Agent `yaml:"agents"`
}

// NewStore loads agent configurations from configPath. A missing file starts
// the store empty.
func NewStore(configPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		configPath: configPath,
		logger:     logger.With("component", "agents"),
		agents:     make(map[string]*Agent),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.configPath)
	if os.IsNotExist(err) {
		s.logger.Info("no agents config found, starting fresh", "path", s.configPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read agents config: %w", err)
	}

	var cfg configFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse agents config: %w", err)
	}

	for id, agent := range cfg.Agents {
		if agent == nil {
			continue
		}
		agent.ID = id
		if agent.Name == "" {
			agent.Name = id
		}
		s.agents[id] = agent
	}
	s.logger.Info("loaded agent configurations", "count", len(s.agents))
	return nil
}

// Reload re-reads agents.yaml from disk, replacing the in-memory set.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = make(map[string]*Agent)
	return s.load()
}

func (s *Store) saveLocked() error {
	cfg := configFile{Agents: s.agents}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal agents config: %w", err)
	}
	if dir := filepath.Dir(s.configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(s.configPath, data, 0o644); err != nil {
		return fmt.Errorf("write agents config: %w", err)
	}
	return nil
}

// List returns all agents sorted by id.
func (s *Store) List() []*Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns an agent by id, or nil when absent.
func (s *Store) Get(id string) *Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil
	}
	copied := *a
	return &copied
}

// Create adds a new agent. The id is derived from the name; collisions get a
// numeric suffix.
func (s *Store) Create(req CreateRequest) (*Agent, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("agent name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.uniqueIDLocked(slugify(req.Name))

	output := DefaultOutput()
	if req.Output != nil {
		output = *req.Output
	}
	notify := DefaultNotify()
	if req.Notify != nil {
		notify = *req.Notify
	}

	now := time.Now().UTC()
	agent := &Agent{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Enabled:     true,
		Schedule:    req.Schedule,
		Sources:     req.Sources,
		Prompt:      req.Prompt,
		Output:      output,
		Notify:      notify,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.agents[id] = agent
	if err := s.saveLocked(); err != nil {
		delete(s.agents, id)
		return nil, err
	}

	copied := *agent
	return &copied, nil
}

// Update mutates an existing agent; nil request fields are left unchanged.
// Returns nil when the agent does not exist.
func (s *Store) Update(id string, req UpdateRequest) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[id]
	if !ok {
		return nil, nil
	}

	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Description != nil {
		agent.Description = *req.Description
	}
	if req.Enabled != nil {
		agent.Enabled = *req.Enabled
	}
	if req.Schedule != nil {
		agent.Schedule = *req.Schedule
	}
	if req.Sources != nil {
		agent.Sources = req.Sources
	}
	if req.Prompt != nil {
		agent.Prompt = *req.Prompt
	}
	if req.Output != nil {
		agent.Output = *req.Output
	}
	if req.Notify != nil {
		agent.Notify = *req.Notify
	}
	agent.UpdatedAt = time.Now().UTC()

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	copied := *agent
	return &copied, nil
}

// Delete removes an agent configuration, reporting whether it existed. Run
// history is kept.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[id]
	if !ok {
		return false, nil
	}
	delete(s.agents, id)
	if err := s.saveLocked(); err != nil {
		s.agents[id] = agent
		return false, err
	}
	return true, nil
}

func (s *Store) uniqueIDLocked(base string) string {
	if base == "" {
		base = "agent"
	}
	id := base
	for counter := 1; ; counter++ {
		if _, exists := s.agents[id]; !exists {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, counter)
	}
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = slugPattern.ReplaceAllString(slug, "")
	return strings.Trim(slug, "-")
}
