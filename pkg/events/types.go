// Package events is the per-conversation event system: typed events, a
// synchronous pub/sub bus, an append-only JSONL sink, and a replay reader.
//
// Every significant state transition in a conversation flows through here.
// Within one conversation events are totally ordered by a monotonic
// sequence number; across conversations there is no ordering guarantee.
package events

import (
	"time"

	"github.com/pidginlab/pidgin/pkg/protocol"
)

// Event type names as they appear on the wire.
const (
	TypeConversationStart    = "conversation_start"
	TypeSystemPrompt         = "system_prompt"
	TypeTurnStart            = "turn_start"
	TypeMessageRequest       = "message_request"
	TypeMessageChunk         = "message_chunk"
	TypeMessageComplete      = "message_complete"
	TypeThinkingComplete     = "thinking_complete"
	TypeTurnComplete         = "turn_complete"
	TypeAPIError             = "api_error"
	TypeProviderTimeout      = "provider_timeout"
	TypeRateLimited          = "rate_limited"
	TypeContextTruncation    = "context_truncation"
	TypeInterruptRequest     = "interrupt_request"
	TypeConversationPaused   = "conversation_paused"
	TypeConversationResumed  = "conversation_resumed"
	TypeConversationEnd      = "conversation_end"
	TypeConversationBranched = "conversation_branched"
	TypeExperimentStart      = "experiment_start"
	TypeExperimentEnd        = "experiment_end"
)

// Event is implemented by every concrete event. The bus stamps the envelope
// at emission; events are immutable afterwards.
type Event interface {
	EventType() string
	Env() *Envelope
}

// Envelope carries the base fields present on every JSONL line.
type Envelope struct {
	Type           string    `json:"event_type"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
	Seq            int64     `json:"sequence"`
}

// Env implements Event for every struct that embeds Envelope.
func (e *Envelope) Env() *Envelope { return e }

// EndReason is why a conversation terminated.
type EndReason string

const (
	EndMaxTurns         EndReason = "max_turns_reached"
	EndHighConvergence  EndReason = "high_convergence"
	EndProviderFatal    EndReason = "provider_fatal"
	EndInterrupted      EndReason = "interrupted"
	EndPausedIndefinite EndReason = "paused_indefinite"
)

// ConversationStart opens every conversation log.
type ConversationStart struct {
	Envelope
	ExperimentID  string           `json:"experiment_id"`
	AgentA        protocol.Agent   `json:"agent_a"`
	AgentB        protocol.Agent   `json:"agent_b"`
	InitialPrompt string           `json:"initial_prompt"`
	MaxTurns      int              `json:"max_turns"`
	FirstSpeaker  protocol.AgentID `json:"first_speaker"`
}

func (*ConversationStart) EventType() string { return TypeConversationStart }

// SystemPrompt records one agent's composed system prompt.
type SystemPrompt struct {
	Envelope
	AgentID protocol.AgentID `json:"agent_id"`
	Content string           `json:"content"`
}

func (*SystemPrompt) EventType() string { return TypeSystemPrompt }

// TurnStart marks the beginning of turn N (1-based).
type TurnStart struct {
	Envelope
	Turn int `json:"turn"`
}

func (*TurnStart) EventType() string { return TypeTurnStart }

// MessageRequest precedes each provider call.
type MessageRequest struct {
	Envelope
	AgentID protocol.AgentID `json:"agent_id"`
	Turn    int              `json:"turn"`
	Model   string           `json:"model"`
}

func (*MessageRequest) EventType() string { return TypeMessageRequest }

// MessageChunk is one streamed fragment. Chunks observed before a retry are
// superseded by the next attempt.
type MessageChunk struct {
	Envelope
	AgentID protocol.AgentID `json:"agent_id"`
	Turn    int              `json:"turn"`
	Content string           `json:"content"`
	Index   int              `json:"index"`
}

func (*MessageChunk) EventType() string { return TypeMessageChunk }

// MessageComplete carries one agent's full message for a turn.
type MessageComplete struct {
	Envelope
	AgentID    protocol.AgentID `json:"agent_id"`
	Turn       int              `json:"turn"`
	Content    string           `json:"content"`
	Usage      *protocol.Usage  `json:"usage,omitempty"`
	DurationMS int64            `json:"duration_ms"`
}

func (*MessageComplete) EventType() string { return TypeMessageComplete }

// ThinkingComplete carries aggregated thinking content, emitted before the
// matching MessageComplete.
type ThinkingComplete struct {
	Envelope
	AgentID protocol.AgentID `json:"agent_id"`
	Turn    int              `json:"turn"`
	Content string           `json:"content"`
}

func (*ThinkingComplete) EventType() string { return TypeThinkingComplete }

// TurnComplete closes turn N with its convergence score.
type TurnComplete struct {
	Envelope
	Turn             int     `json:"turn"`
	ConvergenceScore float64 `json:"convergence_score"`
}

func (*TurnComplete) EventType() string { return TypeTurnComplete }

// APIError records a provider failure. Retryable errors that exhausted the
// retry budget and fatal errors both land here.
type APIError struct {
	Envelope
	AgentID   protocol.AgentID `json:"agent_id,omitempty"`
	Turn      int              `json:"turn,omitempty"`
	Kind      string           `json:"kind"`
	Message   string           `json:"message"`
	Retryable bool             `json:"retryable"`
}

func (*APIError) EventType() string { return TypeAPIError }

// ProviderTimeout is a retryable timeout notice emitted before a retry.
type ProviderTimeout struct {
	Envelope
	AgentID protocol.AgentID `json:"agent_id"`
	Turn    int              `json:"turn"`
	Attempt int              `json:"attempt"`
	Message string           `json:"message"`
}

func (*ProviderTimeout) EventType() string { return TypeProviderTimeout }

// RateLimited is a pacing notice emitted before a retry.
type RateLimited struct {
	Envelope
	AgentID protocol.AgentID `json:"agent_id"`
	Turn    int              `json:"turn"`
	Attempt int              `json:"attempt"`
	DelayMS int64            `json:"delay_ms"`
	Message string           `json:"message"`
}

func (*RateLimited) EventType() string { return TypeRateLimited }

// ContextTruncation records a history trim before a provider call.
type ContextTruncation struct {
	Envelope
	AgentID       protocol.AgentID `json:"agent_id"`
	Turn          int              `json:"turn"`
	OriginalCount int              `json:"original_count"`
	KeptCount     int              `json:"kept_count"`
	Dropped       int              `json:"dropped"`
}

func (*ContextTruncation) EventType() string { return TypeContextTruncation }

// InterruptAction names what an InterruptRequest asks for.
type InterruptAction string

const (
	InterruptStop   InterruptAction = "stop"
	InterruptPause  InterruptAction = "pause"
	InterruptResume InterruptAction = "resume"
)

// InterruptRequest asks the conductor to stop, pause, or resume.
type InterruptRequest struct {
	Envelope
	Action InterruptAction `json:"action"`
}

func (*InterruptRequest) EventType() string { return TypeInterruptRequest }

// ConversationPaused marks a pause after a high-convergence turn.
type ConversationPaused struct {
	Envelope
	Turn int `json:"turn"`
}

func (*ConversationPaused) EventType() string { return TypeConversationPaused }

// ConversationResumed marks the matching resume.
type ConversationResumed struct {
	Envelope
	Turn int `json:"turn"`
}

func (*ConversationResumed) EventType() string { return TypeConversationResumed }

// ConversationEnd is the last line of every conversation log.
type ConversationEnd struct {
	Envelope
	Reason           EndReason `json:"reason"`
	TurnCount        int       `json:"turn_count"`
	FinalConvergence *float64  `json:"final_convergence,omitempty"`
	Error            string    `json:"error,omitempty"`
}

func (*ConversationEnd) EventType() string { return TypeConversationEnd }

// ConversationBranched records that this conversation was seeded from a
// parent's history.
type ConversationBranched struct {
	Envelope
	ParentID    string `json:"parent_id"`
	BranchPoint int    `json:"branch_point"`
}

func (*ConversationBranched) EventType() string { return TypeConversationBranched }

// ExperimentStart opens the experiment-level log.
type ExperimentStart struct {
	Envelope
	ExperimentID string `json:"experiment_id"`
	Name         string `json:"name"`
	Total        int    `json:"total"`
}

func (*ExperimentStart) EventType() string { return TypeExperimentStart }

// ExperimentEnd closes the experiment-level log.
type ExperimentEnd struct {
	Envelope
	ExperimentID string `json:"experiment_id"`
	Status       string `json:"status"`
	Completed    int    `json:"completed"`
	Failed       int    `json:"failed"`
}

func (*ExperimentEnd) EventType() string { return TypeExperimentEnd }
