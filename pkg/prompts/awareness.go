// Package prompts composes the system prompts and initial prompts that
// seed a conversation: awareness profiles, dimensional prompt generation,
// and the name-choosing instruction.
package prompts

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AwarenessLevel is a preset controlling how much each agent is told about
// the other's nature.
type AwarenessLevel string

const (
	AwarenessNone     AwarenessLevel = "none"
	AwarenessBasic    AwarenessLevel = "basic"
	AwarenessFirm     AwarenessLevel = "firm"
	AwarenessResearch AwarenessLevel = "research"
)

// Valid reports whether the level is a known preset.
func (l AwarenessLevel) Valid() bool {
	switch l {
	case AwarenessNone, AwarenessBasic, AwarenessFirm, AwarenessResearch:
		return true
	}
	return false
}

var awarenessPrompts = map[AwarenessLevel]string{
	AwarenessNone: "",
	AwarenessBasic: "You are about to have a conversation with another AI. " +
		"Engage naturally.",
	AwarenessFirm: "You are an AI in conversation with another AI. " +
		"You are aware of this and may discuss it if relevant. " +
		"Engage naturally and follow the conversation wherever it goes.",
	AwarenessResearch: "You are an AI participating in a research study of " +
		"AI-to-AI communication. Your conversation partner is {partner_model}. " +
		"The conversation is being recorded for linguistic analysis. " +
		"Engage naturally; there is no task to complete.",
}

// Awareness resolves to the system prompts used for one agent.
type Awareness struct {
	level  AwarenessLevel
	custom *customAwareness
}

// customAwareness is the schema of a user-supplied awareness YAML. Turn
// overrides inject an extra system prompt before the keyed turn.
type customAwareness struct {
	System string         `yaml:"system"`
	Turns  map[int]string `yaml:"turns,omitempty"`
}

// LoadAwareness resolves a preset name or a path to a custom YAML file.
func LoadAwareness(spec string) (*Awareness, error) {
	if spec == "" {
		return &Awareness{level: AwarenessBasic}, nil
	}
	if level := AwarenessLevel(spec); level.Valid() {
		return &Awareness{level: level}, nil
	}
	if strings.HasSuffix(spec, ".yaml") || strings.HasSuffix(spec, ".yml") {
		data, err := os.ReadFile(spec)
		if err != nil {
			return nil, fmt.Errorf("read awareness file: %w", err)
		}
		var custom customAwareness
		if err := yaml.Unmarshal(data, &custom); err != nil {
			return nil, fmt.Errorf("parse awareness file %s: %w", spec, err)
		}
		return &Awareness{custom: &custom}, nil
	}
	return nil, fmt.Errorf("unknown awareness level: %q (want none, basic, firm, research, or a .yaml path)", spec)
}

// SystemPrompt composes the base system prompt for an agent whose partner
// runs partnerModel (substituted at the research level).
func (a *Awareness) SystemPrompt(partnerModel string) string {
	if a.custom != nil {
		return a.custom.System
	}
	prompt := awarenessPrompts[a.level]
	return strings.ReplaceAll(prompt, "{partner_model}", partnerModel)
}

// TurnPrompt returns the extra per-turn system prompt a custom awareness
// keys on this turn index, or "".
func (a *Awareness) TurnPrompt(turn int) string {
	if a.custom == nil {
		return ""
	}
	return a.custom.Turns[turn]
}
