// Package models is the static model registry. It maps model ids and
// human-friendly aliases to the vendor that serves them, the context window
// to respect, and the token-estimation family.
package models

import (
	"fmt"
	"sort"
	"strings"
)

// Vendor identifies which provider implementation serves a model.
type Vendor string

const (
	VendorAnthropic Vendor = "anthropic"
	VendorOpenAI    Vendor = "openai"
	VendorGoogle    Vendor = "google"
	VendorXAI       Vendor = "xai"
	VendorLocal     Vendor = "local"
	VendorTest      Vendor = "test"
	VendorSilent    Vendor = "silent"
)

// RequiresCredentials reports whether the vendor needs an API key.
func (v Vendor) RequiresCredentials() bool {
	switch v {
	case VendorLocal, VendorTest, VendorSilent:
		return false
	default:
		return true
	}
}

// CredentialEnvVar returns the environment variable holding the vendor's
// API key, or "" when none is required.
func (v Vendor) CredentialEnvVar() string {
	switch v {
	case VendorAnthropic:
		return "ANTHROPIC_API_KEY"
	case VendorOpenAI:
		return "OPENAI_API_KEY"
	case VendorGoogle:
		return "GOOGLE_API_KEY"
	case VendorXAI:
		return "XAI_API_KEY"
	default:
		return ""
	}
}

// Family groups models for token estimation. The context manager applies a
// small conservative multiplier per family, and may use an exact tokenizer
// for FamilyGPT.
type Family string

const (
	FamilyClaude  Family = "claude"
	FamilyGPT     Family = "gpt"
	FamilyGeneric Family = "generic"
)

// Model is one registry entry.
type Model struct {
	ID            string
	Vendor        Vendor
	DisplayName   string
	ContextWindow int
	Family        Family
	Aliases       []string
}

var registry = []Model{
	{ID: "claude-sonnet-4-20250514", Vendor: VendorAnthropic, DisplayName: "Claude Sonnet 4", ContextWindow: 200000, Family: FamilyClaude, Aliases: []string{"claude", "sonnet"}},
	{ID: "claude-haiku-3-5-20241022", Vendor: VendorAnthropic, DisplayName: "Claude Haiku 3.5", ContextWindow: 200000, Family: FamilyClaude, Aliases: []string{"haiku"}},
	{ID: "claude-opus-4-20250514", Vendor: VendorAnthropic, DisplayName: "Claude Opus 4", ContextWindow: 200000, Family: FamilyClaude, Aliases: []string{"opus"}},
	{ID: "gpt-4o", Vendor: VendorOpenAI, DisplayName: "GPT-4o", ContextWindow: 128000, Family: FamilyGPT, Aliases: []string{"gpt", "4o"}},
	{ID: "gpt-4o-mini", Vendor: VendorOpenAI, DisplayName: "GPT-4o Mini", ContextWindow: 128000, Family: FamilyGPT, Aliases: []string{"4o-mini"}},
	{ID: "o3-mini", Vendor: VendorOpenAI, DisplayName: "o3 Mini", ContextWindow: 200000, Family: FamilyGPT, Aliases: []string{"o3"}},
	{ID: "gemini-2.0-flash", Vendor: VendorGoogle, DisplayName: "Gemini 2.0 Flash", ContextWindow: 1000000, Family: FamilyGeneric, Aliases: []string{"gemini", "flash"}},
	{ID: "gemini-2.5-pro", Vendor: VendorGoogle, DisplayName: "Gemini 2.5 Pro", ContextWindow: 1000000, Family: FamilyGeneric, Aliases: []string{"gemini-pro"}},
	{ID: "grok-3", Vendor: VendorXAI, DisplayName: "Grok 3", ContextWindow: 131072, Family: FamilyGeneric, Aliases: []string{"grok"}},
	{ID: "grok-3-mini", Vendor: VendorXAI, DisplayName: "Grok 3 Mini", ContextWindow: 131072, Family: FamilyGeneric, Aliases: []string{"grok-mini"}},
	{ID: "silent", Vendor: VendorSilent, DisplayName: "Silence", ContextWindow: 1 << 30, Family: FamilyGeneric, Aliases: []string{"none", "meditation"}},
	{ID: "local:test", Vendor: VendorTest, DisplayName: "Test Model", ContextWindow: 8192, Family: FamilyGeneric, Aliases: []string{"test"}},
}

var byID = func() map[string]*Model {
	m := make(map[string]*Model, len(registry)*2)
	for i := range registry {
		entry := &registry[i]
		m[entry.ID] = entry
		for _, alias := range entry.Aliases {
			m[alias] = entry
		}
	}
	return m
}()

// Resolve looks up a model by id or alias. Ids of the form "local:name"
// resolve to a local (ollama-style) model with a default context window, so
// arbitrary locally served models work without a registry entry.
func Resolve(id string) (*Model, error) {
	if m, ok := byID[strings.ToLower(id)]; ok {
		return m, nil
	}
	if name, ok := strings.CutPrefix(id, "local:"); ok && name != "" {
		return &Model{
			ID:            id,
			Vendor:        VendorLocal,
			DisplayName:   name,
			ContextWindow: 8192,
			Family:        FamilyGeneric,
		}, nil
	}
	return nil, fmt.Errorf("unknown model: %q", id)
}

// TokenMultiplier returns the conservative per-family estimation multiplier.
func TokenMultiplier(f Family) float64 {
	switch f {
	case FamilyClaude:
		return 1.1
	case FamilyGPT:
		return 1.05
	default:
		return 1.0
	}
}

// List returns the ids of all registered models, sorted.
func List() []string {
	ids := make([]string, 0, len(registry))
	for i := range registry {
		ids = append(ids, registry[i].ID)
	}
	sort.Strings(ids)
	return ids
}
