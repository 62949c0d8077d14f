package runs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

const (
	metaFile    = "meta.json"
	reportFile  = "report.md"
	sourcesDir  = "sources"
	defaultPage = 50
)

// Store persists run records under dataDir/<agentID>/<runID>/. The run
// directory path is deterministic from (agentID, runID), and meta.json is
// rewritten at every status transition so in-flight runs can be re-read at
// any time.
type Store struct {
	dataDir string
	logger  *slog.Logger
}

// NewStore creates a run store rooted at dataDir.
func NewStore(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run data dir: %w", err)
	}
	return &Store{
		dataDir: dataDir,
		logger:  logger.With("component", "runs"),
	}, nil
}

// RunDir returns the directory for one run.
func (s *Store) RunDir(agentID, runID string) string {
	return filepath.Join(s.dataDir, agentID, runID)
}

// CreateRun creates the run directory and writes the initial metadata.
func (s *Store) CreateRun(meta *Meta) error {
	if err := os.MkdirAll(s.RunDir(meta.AgentID, meta.RunID), 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	return s.SaveMeta(meta)
}

// SaveMeta writes the run metadata, overwriting any previous version.
func (s *Store) SaveMeta(meta *Meta) error {
	dir := s.RunDir(meta.AgentID, meta.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), data, 0o644); err != nil {
		return fmt.Errorf("write run meta: %w", err)
	}
	return nil
}

// LoadMeta reads run metadata, returning nil when the run does not exist.
func (s *Store) LoadMeta(agentID, runID string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(agentID, runID), metaFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse run meta %s/%s: %w", agentID, runID, err)
	}
	return &meta, nil
}

// SaveReport writes the report artifact and returns its path.
func (s *Store) SaveReport(agentID, runID, content string) (string, error) {
	dir := s.RunDir(agentID, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	path := filepath.Join(dir, reportFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// LoadReport reads the report artifact, returning "" and false when absent.
func (s *Store) LoadReport(agentID, runID string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(agentID, runID), reportFile))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read report: %w", err)
	}
	return string(data), true, nil
}

// SaveSource persists the raw fetched text for one source, indexed by
// position in the agent's source list.
func (s *Store) SaveSource(agentID, runID string, index int, content string) error {
	dir := filepath.Join(s.RunDir(agentID, runID), sourcesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sources dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("source_%d.md", index))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write source artifact: %w", err)
	}
	return nil
}

// ListRuns returns run summaries for an agent, most recent first. The
// time-sortable run id format makes reverse lexicographic order
// chronological.
func (s *Store) ListRuns(agentID string, limit, offset int) ([]Summary, error) {
	if limit <= 0 {
		limit = defaultPage
	}
	if offset < 0 {
		offset = 0
	}

	ids, err := s.runIDs(agentID)
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	if offset >= len(ids) {
		return []Summary{}, nil
	}
	ids = ids[offset:]
	if len(ids) > limit {
		ids = ids[:limit]
	}

	summaries := make([]Summary, 0, len(ids))
	for _, runID := range ids {
		meta, err := s.LoadMeta(agentID, runID)
		if err != nil {
			s.logger.Error("failed to load run meta", "agent", agentID, "run", runID, "error", err)
			continue
		}
		if meta != nil {
			summaries = append(summaries, meta.Summarize())
		}
	}
	return summaries, nil
}

// CountRuns reports the total number of runs recorded for an agent.
func (s *Store) CountRuns(agentID string) int {
	ids, err := s.runIDs(agentID)
	if err != nil {
		return 0
	}
	return len(ids)
}

// LastRun returns the most recent run for an agent, or nil.
func (s *Store) LastRun(agentID string) (*Meta, error) {
	summaries, err := s.ListRuns(agentID, 1, 0)
	if err != nil || len(summaries) == 0 {
		return nil, err
	}
	return s.LoadMeta(agentID, summaries[0].RunID)
}

func (s *Store) runIDs(agentID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, agentID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agent run dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
