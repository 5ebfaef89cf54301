package orchestrator

import (
	"fmt"
	"strings"

	"github.com/koopa0/sage/internal/history"
	"github.com/koopa0/sage/internal/provider"
	"github.com/koopa0/sage/internal/vector"
	"github.com/koopa0/sage/internal/websearch"
)

// request assembles the provider request under the prompt budget.
//
// When the assembled prompt exceeds the budget, context is shed in fixed
// order: oldest history first, then the lowest-relevance chunks, then web
// results. The user message itself is never dropped.
func (o *Orchestrator) request(t *turn) provider.Request {
	past := t.past
	chunks := t.chunks
	web := t.web

	build := func() provider.Request {
		req := provider.Request{
			Model:       t.req.Model,
			Temperature: t.profile.Temperature,
			MaxTokens:   t.profile.MaxTokens,
		}
		req.Messages = append(req.Messages, provider.Message{
			Role:    provider.RoleSystem,
			Content: systemPrompt(t.profile.SystemPrompt, chunks, web),
		})
		for _, m := range past {
			role := provider.RoleUser
			if m.Role == history.RoleAssistant {
				role = provider.RoleAssistant
			}
			req.Messages = append(req.Messages, provider.Message{Role: role, Content: m.Content})
		}
		req.Messages = append(req.Messages, provider.Message{
			Role:    provider.RoleUser,
			Content: t.req.Message,
		})
		return req
	}

	req := build()
	for promptSize(req) > o.promptBudget {
		switch {
		case len(past) > 0:
			past = past[1:]
		case len(chunks) > 0:
			// Query results arrive best-first; shed from the tail.
			chunks = chunks[:len(chunks)-1]
		case len(web) > 0:
			web = web[:len(web)-1]
		default:
			return req
		}
		req = build()
	}

	// Record what actually entered the prompt.
	t.past, t.chunks, t.web = past, chunks, web
	return req
}

func promptSize(req provider.Request) int {
	n := 0
	for _, m := range req.Messages {
		n += len(m.Content)
	}
	return n
}

// systemPrompt frames the profile's instructions with the retrieved
// context blocks.
func systemPrompt(base string, chunks []vector.Result, web []websearch.Result) string {
	var b strings.Builder
	b.WriteString(base)

	if len(chunks) > 0 {
		b.WriteString("\n\nContext from indexed documents:\n")
		for i, c := range chunks {
			fmt.Fprintf(&b, "[doc %d, source %s]\n%s\n", i+1, c.Chunk.SourceID, c.Chunk.Text)
		}
	}
	if len(web) > 0 {
		b.WriteString("\n\nWeb results:\n")
		for i, r := range web {
			fmt.Fprintf(&b, "[web %d] %s (%s)\n%s\n", i+1, r.Title, r.URL, r.Snippet)
		}
	}
	return b.String()
}
