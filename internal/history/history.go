// Package history persists conversation threads and their messages in
// PostgreSQL.
//
// Persistence is a collaborator, not a dependency: the orchestrator keeps
// serving turns when the store is absent or failing, it just loses
// continuity between requests.
package history

import (
	"time"

	"github.com/google/uuid"
)

// Role mirrors the provider message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one persisted turn of a thread.
type Message struct {
	Role      string
	Content   string
	Provider  string // provider that generated an assistant turn, empty otherwise
	CreatedAt time.Time
}

// Thread is one conversation.
type Thread struct {
	ID        uuid.UUID
	AgentID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const titleMaxRunes = 80

// titleFrom derives a thread title from its first user message.
func titleFrom(content string) string {
	runes := []rune(content)
	if len(runes) <= titleMaxRunes {
		return content
	}
	return string(runes[:titleMaxRunes-1]) + "…"
}
