package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// RawEvent preserves a line whose event type this build does not know.
// Consumers must treat unknown event types as opaque.
type RawEvent struct {
	Envelope
	Fields map[string]json.RawMessage `json:"-"`
}

// EventType implements Event.
func (e *RawEvent) EventType() string { return e.Type }

var decoders = map[string]func() Event{
	TypeConversationStart:    func() Event { return &ConversationStart{} },
	TypeSystemPrompt:         func() Event { return &SystemPrompt{} },
	TypeTurnStart:            func() Event { return &TurnStart{} },
	TypeMessageRequest:       func() Event { return &MessageRequest{} },
	TypeMessageChunk:         func() Event { return &MessageChunk{} },
	TypeMessageComplete:      func() Event { return &MessageComplete{} },
	TypeThinkingComplete:     func() Event { return &ThinkingComplete{} },
	TypeTurnComplete:         func() Event { return &TurnComplete{} },
	TypeAPIError:             func() Event { return &APIError{} },
	TypeProviderTimeout:      func() Event { return &ProviderTimeout{} },
	TypeRateLimited:          func() Event { return &RateLimited{} },
	TypeContextTruncation:    func() Event { return &ContextTruncation{} },
	TypeInterruptRequest:     func() Event { return &InterruptRequest{} },
	TypeConversationPaused:   func() Event { return &ConversationPaused{} },
	TypeConversationResumed:  func() Event { return &ConversationResumed{} },
	TypeConversationEnd:      func() Event { return &ConversationEnd{} },
	TypeConversationBranched: func() Event { return &ConversationBranched{} },
	TypeExperimentStart:      func() Event { return &ExperimentStart{} },
	TypeExperimentEnd:        func() Event { return &ExperimentEnd{} },
}

// Decode parses one JSONL line into its typed event. Unknown types decode
// to *RawEvent.
func Decode(line []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	maker, ok := decoders[env.Type]
	if !ok {
		raw := &RawEvent{Envelope: env}
		if err := json.Unmarshal(line, &raw.Fields); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return raw, nil
	}

	ev := maker()
	if err := json.Unmarshal(line, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return ev, nil
}

// ReadLog parses a conversation JSONL back into typed events, in file
// order.
func ReadLog(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer file.Close()
	return ReadAll(file)
}

// ReadAll parses JSONL from a reader.
func ReadAll(r io.Reader) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out []Event
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := Decode(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
