package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/metrics"
)

// Prompt is an assembled, budgeted prompt.
type Prompt struct {
	Text      string
	Citations []string // Chunk ids included in Text, in rank order
	Usage     core.BudgetUsage
}

// BuildPrompt assembles the scaffold, retrieved context and recent history
// of a session into at most budget units.
//
// History is dropped oldest-first, then context lowest-rank-first until
// the minimum context floor. The latest turn is kept when it is the user's
// question. The included chunk ids become the session's pending citations.
func (m *Manager) BuildPrompt(ctx context.Context, id string, result *core.RetrievalResult, budget int) (*Prompt, error) {
	var prompt *Prompt
	err := m.mutate(ctx, id, func(sess *core.Session) error {
		var err error
		prompt, err = m.assemble(sess.Turns, result, budget)
		if err != nil {
			return err
		}
		sess.PendingCitations = prompt.Citations
		sess.Ledger.Prompts++
		sess.Ledger.TotalUnits += prompt.Usage.Total
		sess.Ledger.Last = prompt.Usage
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PromptUnits.Observe(float64(prompt.Usage.Total))
	if prompt.Usage.DroppedTurns > 0 {
		metrics.BudgetTrimmedTotal.WithLabelValues("history").Add(float64(prompt.Usage.DroppedTurns))
		m.logger.Warn("history trimmed to fit budget", "session", id, "dropped", prompt.Usage.DroppedTurns)
	}
	if prompt.Usage.DroppedChunks > 0 {
		metrics.BudgetTrimmedTotal.WithLabelValues("context").Add(float64(prompt.Usage.DroppedChunks))
		m.logger.Warn("context trimmed to fit budget", "session", id, "dropped", prompt.Usage.DroppedChunks)
	}
	m.logger.Debug("prompt built", "session", id, "total", prompt.Usage.Total, "budget", budget, "unit", m.counter.Unit())
	return prompt, nil
}

// assemble is the pure budget algorithm behind BuildPrompt.
func (m *Manager) assemble(turns []core.Turn, result *core.RetrievalResult, budget int) (*Prompt, error) {
	if budget < 1 {
		return nil, fmt.Errorf("%w: budget must be positive, got %d", core.ErrBudgetTooSmall, budget)
	}

	history := turns
	if m.historyWindow > 0 && len(history) > m.historyWindow {
		history = history[len(history)-m.historyWindow:]
	}
	keep := 0
	if n := len(history); n > 0 && history[n-1].Role == core.RoleUser {
		keep = 1
	}

	var chunks []*core.ScoredChunk
	if result != nil {
		chunks = result.Chunks
	}
	floor := min(m.minContext, len(chunks))

	usage := core.BudgetUsage{Budget: budget, Scaffold: m.counter.Count(m.scaffold)}
	for {
		contextText := renderContext(chunks)
		historyText := renderHistory(history)
		text := joinSections(m.scaffold, contextText, historyText)
		total := m.counter.Count(text)

		if total <= budget {
			usage.Context = m.counter.Count(contextText)
			usage.History = m.counter.Count(historyText)
			usage.Total = total
			citations := make([]string, len(chunks))
			for i, c := range chunks {
				citations[i] = c.Chunk.ID
			}
			return &Prompt{Text: text, Citations: citations, Usage: usage}, nil
		}

		switch {
		case len(history) > keep:
			history = history[1:]
			usage.DroppedTurns++
		case len(chunks) > floor:
			chunks = chunks[:len(chunks)-1]
			usage.DroppedChunks++
		default:
			return nil, fmt.Errorf("%w: need %d %s after trimming, budget is %d",
				core.ErrBudgetTooSmall, total, m.counter.Unit(), budget)
		}
	}
}

func renderContext(chunks []*core.ScoredChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Context:")
	for i, c := range chunks {
		sb.WriteString("\n[")
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString("] ")
		sb.WriteString(c.Chunk.Text)
	}
	return sb.String()
}

func renderHistory(turns []core.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Conversation:")
	for _, t := range turns {
		sb.WriteString("\n")
		if t.Role == core.RoleAssistant {
			sb.WriteString("Assistant: ")
		} else {
			sb.WriteString("User: ")
		}
		sb.WriteString(t.Text)
	}
	return sb.String()
}

func joinSections(sections ...string) string {
	nonEmpty := make([]string, 0, len(sections))
	for _, s := range sections {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}
