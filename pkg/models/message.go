// Package models defines the shared data types exchanged between the
// gateway, the channel adapters, and the persistence layer.
package models

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Reply is the terminal result of one turn: the user-facing message plus a
// record of the actions taken while producing it.
type Reply struct {
	Message string         `json:"message"`
	Actions []ActionRecord `json:"actions"`
}

// ActionRecord summarizes a single tool invocation performed during a turn.
type ActionRecord struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Summary string `json:"summary,omitempty"`
}
