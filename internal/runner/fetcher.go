// Package runner executes agent runs: fetch sources, generate a report,
// persist artifacts, notify.
package runner

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/skein-ai/skein/internal/agents"
	"github.com/skein-ai/skein/internal/mcp"
)

// Well-known tool servers and tools the source kinds map onto.
const (
	fetchServer = "fetch"
	fetchTool   = "fetch"

	braveServer = "brave-search"
	braveTool   = "brave_web_search"

	fileServer = "filesystem"
	fileTool   = "read_file"

	defaultSearchCount = 5
)

// ToolConnector is the tool-connection capability the fetcher dispatches to.
type ToolConnector interface {
	ConnectionStatus(serverID string) mcp.Status
	Connect(ctx context.Context, serverID string) error
	CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (*mcp.ToolCallResult, error)
}

// Fetcher resolves one source config to its textual content through the tool
// connection layer. Connections are established on demand and reused; an
// already-connected server is reused as-is.
type Fetcher struct {
	tools  ToolConnector
	logger *slog.Logger
	now    func() time.Time
}

// NewFetcher creates a fetcher over the given tool connector.
func NewFetcher(tools ToolConnector, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		tools:  tools,
		logger: logger.With("component", "fetcher"),
		now:    time.Now,
	}
}

// Fetch dispatches on the source type tag and returns the fetched text.
// Missing required fields fail fast before any connection is attempted.
func (f *Fetcher) Fetch(ctx context.Context, src agents.Source) (string, error) {
	switch src.Type {
	case agents.SourceFetch:
		if src.URL == "" {
			return "", &ValidationError{Field: "url"}
		}
		return f.callTool(ctx, fetchServer, fetchTool, map[string]any{"url": src.URL})

	case agents.SourceBrave:
		if src.Query == "" {
			return "", &ValidationError{Field: "query"}
		}
		count := src.Count
		if count <= 0 {
			count = defaultSearchCount
		}
		query := expandDatePlaceholder(src.Query, f.now())
		return f.callTool(ctx, braveServer, braveTool, map[string]any{
			"query": query,
			"count": count,
		})

	case agents.SourceFile:
		if src.Path == "" {
			return "", &ValidationError{Field: "path"}
		}
		return f.callTool(ctx, fileServer, fileTool, map[string]any{"path": src.Path})

	case agents.SourceMCP:
		if src.Tool == "" || src.Action == "" {
			return "", &ValidationError{Field: "tool and action"}
		}
		return f.callTool(ctx, src.Tool, src.Action, src.Args)

	default:
		return "", &UnsupportedSourceError{Type: string(src.Type)}
	}
}

// callTool ensures the server is connected, invokes the tool, and extracts
// the textual content from the structured result.
func (f *Fetcher) callTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (string, error) {
	if f.tools.ConnectionStatus(serverID) != mcp.StatusConnected {
		if err := f.tools.Connect(ctx, serverID); err != nil {
			return "", &ConnectionError{Server: serverID, Err: err}
		}
	}

	result, err := f.tools.CallTool(ctx, serverID, toolName, arguments)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

// expandDatePlaceholder substitutes {date} with the current date, so search
// queries like "AI news {date}" stay fresh on scheduled runs.
func expandDatePlaceholder(query string, now time.Time) string {
	return strings.ReplaceAll(query, "{date}", now.Format("2006-01-02"))
}
