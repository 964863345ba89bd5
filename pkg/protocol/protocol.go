// Package protocol defines the message types shared by the conductor,
// the providers, and the event log.
package protocol

import "time"

// Role identifies who authored a message, from the perspective of the
// provider the message is replayed to.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AgentID identifies one of the two conversation participants.
type AgentID string

const (
	AgentA AgentID = "agent_a"
	AgentB AgentID = "agent_b"
)

// Other returns the opposite participant.
func (id AgentID) Other() AgentID {
	if id == AgentA {
		return AgentB
	}
	return AgentA
}

// Valid reports whether the id names a known participant.
func (id AgentID) Valid() bool {
	return id == AgentA || id == AgentB
}

// Message is a single utterance. Immutable once emitted.
//
// Role is stored from the emitting conversation's viewpoint ("assistant" for
// agent output, "user" for the seed prompt, "system" for system prompts).
// When a history is replayed to a provider the roles are rewritten so the
// recipient sees its own prior output as assistant turns and the other
// agent's as user turns.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	AgentID   AgentID   `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Agent describes one conversation participant.
type Agent struct {
	ID              AgentID  `json:"id"`
	ModelID         string   `json:"model_id"`
	DisplayName     string   `json:"display_name"`
	Temperature     *float64 `json:"temperature,omitempty"`
	ThinkingEnabled bool     `json:"thinking_enabled,omitempty"`
	ThinkingBudget  int      `json:"thinking_budget,omitempty"`

	// ChosenName is filled in by the conductor when name choosing is on.
	ChosenName string `json:"chosen_name,omitempty"`
}

// Usage is the token accounting reported by a provider after a completed
// call, when the wire protocol supplied it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
