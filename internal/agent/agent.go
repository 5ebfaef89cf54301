// Package agent defines the selectable agent profiles and the registry
// that resolves them.
//
// A profile bundles the generation posture for one kind of assistant:
// system prompt, preferred provider, sampling parameters, and which
// collaborators (retrieval, web search) participate in a turn.
package agent

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownAgent is returned when a request names an agent id that is
// not registered.
var ErrUnknownAgent = errors.New("unknown agent")

// Profile describes one agent configuration.
type Profile struct {
	ID          string
	Name        string
	Description string

	// SystemPrompt frames every conversation with this agent.
	SystemPrompt string

	// Provider is the preferred provider id; empty defers to the
	// router's configured order.
	Provider string

	// Retrieval enables context lookup from the vector index.
	Retrieval bool

	// WebSearch enables the web search collaborator.
	WebSearch bool

	// TopK bounds how many retrieved chunks enter the prompt.
	TopK int

	Temperature float32
	MaxTokens   int
}

// Registry resolves agent ids to profiles.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry creates a registry from the given profiles.
func NewRegistry(profiles []Profile) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("agent: at least one profile is required")
	}

	r := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("agent: profile without id")
		}
		if _, dup := r.profiles[p.ID]; dup {
			return nil, fmt.Errorf("agent: duplicate profile %q", p.ID)
		}
		if p.TopK <= 0 {
			p.TopK = 4
		}
		r.profiles[p.ID] = p
	}
	return r, nil
}

// Resolve returns the profile for id, or ErrUnknownAgent.
func (r *Registry) Resolve(id string) (Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	return p, nil
}

// List returns all profiles sorted by id.
func (r *Registry) List() []Profile {
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefaultProfiles returns the built-in agent set.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			ID:          "general",
			Name:        "General Assistant",
			Description: "Everyday questions with document-grounded answers.",
			SystemPrompt: "You are a helpful assistant. Ground your answers in the " +
				"provided context when it is relevant, and say so when it is not.",
			Retrieval:   true,
			TopK:        4,
			Temperature: 0.7,
		},
		{
			ID:          "sql",
			Name:        "SQL Assistant",
			Description: "Writes and explains SQL against the ingested schema docs.",
			SystemPrompt: "You are an expert SQL assistant. Use the schema excerpts in " +
				"the context to produce correct, runnable SQL. Prefer standard SQL and " +
				"call out dialect-specific syntax.",
			Retrieval:   true,
			TopK:        6,
			Temperature: 0.2,
		},
		{
			ID:          "research",
			Name:        "Research Assistant",
			Description: "Combines indexed documents with live web results.",
			SystemPrompt: "You are a research assistant. Synthesize the document context " +
				"and web results into a sourced answer. Cite which source supports each claim.",
			Retrieval:   true,
			WebSearch:   true,
			TopK:        6,
			Temperature: 0.5,
			MaxTokens:   2048,
		},
	}
}
