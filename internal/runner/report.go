package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/skein-ai/skein/internal/agents"
	"github.com/skein-ai/skein/internal/llm"
	"github.com/skein-ai/skein/internal/runs"
)

const reportSystemPrompt = `You are a helpful assistant that creates well-formatted markdown reports.
Follow the user's instructions carefully and format your output as clean, readable markdown.
Include appropriate headings, bullet points, and formatting.`

// buildMessages assembles the generation prompt from the agent's instructions
// and the successfully fetched source content. Failed sources are omitted.
func buildMessages(agent *agents.Agent, sources []runs.SourceResult) []llm.Message {
	sections := make([]string, 0, len(sources))
	for _, src := range sources {
		if src.Status == runs.SourceOK && src.Content != "" {
			sections = append(sections, fmt.Sprintf("## %s\n\n%s", src.Label, src.Content))
		}
	}
	combined := strings.Join(sections, "\n\n---\n\n")

	userPrompt := fmt.Sprintf("%s\n\n---\n\nHere is the source content to analyze:\n\n%s",
		agent.Prompt, combined)

	return []llm.Message{
		{Role: "system", Content: reportSystemPrompt},
		{Role: "user", Content: userPrompt},
	}
}

// reportTitle expands the title template with the agent name and a
// human-readable date.
func reportTitle(agent *agents.Agent, now time.Time) string {
	tmpl := agent.Output.Title
	if tmpl == "" {
		tmpl = agents.DefaultOutput().Title
	}
	title := strings.ReplaceAll(tmpl, "{agent_name}", agent.Name)
	return strings.ReplaceAll(title, "{date}", now.Format("January 02, 2006"))
}

// assembleReport wraps the generated body in YAML frontmatter, a title
// heading, and an attribution footer.
func assembleReport(agent *agents.Agent, runID, body string, sources []runs.SourceResult, now time.Time) string {
	title := reportTitle(agent, now)

	var labels strings.Builder
	for _, src := range sources {
		if src.Status == runs.SourceOK {
			labels.WriteString("  - ")
			labels.WriteString(src.Label)
			labels.WriteString("\n")
		}
	}

	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "title: %q\n", title)
	fmt.Fprintf(&b, "agent: %s\n", agent.ID)
	fmt.Fprintf(&b, "run_id: %s\n", runID)
	fmt.Fprintf(&b, "generated: %s\n", now.UTC().Format("2006-01-02T15:04:05")+"Z")
	b.WriteString("sources:\n")
	b.WriteString(labels.String())
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", title)
	b.WriteString(body)
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "*Generated by Skein Agent: %s*\n", agent.Name)
	return b.String()
}
