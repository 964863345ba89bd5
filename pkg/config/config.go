// Package config defines the experiment configuration contract: the YAML
// schema, defaults, and total validation. Invalid configuration never
// starts a daemon.
package config

import (
	"fmt"

	"github.com/pidginlab/pidgin/pkg/convergence"
	"github.com/pidginlab/pidgin/pkg/models"
	"github.com/pidginlab/pidgin/pkg/prompts"
)

// ConvergenceAction is what happens when the convergence threshold trips.
type ConvergenceAction string

const (
	ActionStop   ConvergenceAction = "stop"
	ActionPause  ConvergenceAction = "pause"
	ActionNotify ConvergenceAction = "notify"
)

// FirstSpeaker selects which agent opens each conversation.
type FirstSpeaker string

const (
	FirstSpeakerAgentA FirstSpeaker = "agent_a"
	FirstSpeakerAgentB FirstSpeaker = "agent_b"
	FirstSpeakerRandom FirstSpeaker = "random"
)

// ExperimentConfig is the input contract for one experiment.
type ExperimentConfig struct {
	// Name is the human-readable experiment name.
	Name string `yaml:"name" json:"name" jsonschema:"title=Name,description=Human-readable experiment name"`

	// AgentAModel / AgentBModel are model ids or aliases from the registry.
	AgentAModel string `yaml:"agent_a_model" json:"agent_a_model" jsonschema:"title=Agent A model"`
	AgentBModel string `yaml:"agent_b_model" json:"agent_b_model" jsonschema:"title=Agent B model"`

	// Repetitions is how many conversations to run.
	Repetitions int `yaml:"repetitions" json:"repetitions" jsonschema:"minimum=1,default=1"`

	// MaxTurns bounds each conversation.
	MaxTurns int `yaml:"max_turns" json:"max_turns" jsonschema:"minimum=1,default=10"`

	// InitialPrompt seeds the conversation. Mutually exclusive with
	// Dimensions.
	InitialPrompt string `yaml:"initial_prompt,omitempty" json:"initial_prompt,omitempty"`

	// Dimensions generates the initial prompt from "context:topic[:mode]".
	Dimensions string `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`

	// Temperature applies to both agents unless a per-agent value is set.
	Temperature  *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2"`
	TemperatureA *float64 `yaml:"temperature_a,omitempty" json:"temperature_a,omitempty" jsonschema:"minimum=0,maximum=2"`
	TemperatureB *float64 `yaml:"temperature_b,omitempty" json:"temperature_b,omitempty" jsonschema:"minimum=0,maximum=2"`

	// MaxParallel bounds concurrent in-flight conversations.
	MaxParallel int `yaml:"max_parallel,omitempty" json:"max_parallel,omitempty" jsonschema:"minimum=1,default=1"`

	// ConvergenceThreshold triggers ConvergenceAction when a turn's score
	// reaches it. Zero disables unless set explicitly.
	ConvergenceThreshold *float64 `yaml:"convergence_threshold,omitempty" json:"convergence_threshold,omitempty" jsonschema:"minimum=0,maximum=1"`

	// ConvergenceAction is stop, pause, or notify.
	ConvergenceAction ConvergenceAction `yaml:"convergence_action,omitempty" json:"convergence_action,omitempty" jsonschema:"enum=stop,enum=pause,enum=notify,default=stop"`

	// ConvergenceProfile selects the metric weighting.
	ConvergenceProfile convergence.Profile `yaml:"convergence_profile,omitempty" json:"convergence_profile,omitempty" jsonschema:"enum=balanced,enum=structural,enum=semantic,enum=strict,default=balanced"`

	// FirstSpeaker is agent_a, agent_b, or random. Non-random values
	// alternate per repetition for fairness.
	FirstSpeaker FirstSpeaker `yaml:"first_speaker,omitempty" json:"first_speaker,omitempty" jsonschema:"enum=agent_a,enum=agent_b,enum=random,default=agent_a"`

	// AwarenessA / AwarenessB are preset names or paths to custom YAML.
	AwarenessA string `yaml:"awareness_a,omitempty" json:"awareness_a,omitempty"`
	AwarenessB string `yaml:"awareness_b,omitempty" json:"awareness_b,omitempty"`

	// ChooseNames asks each agent to pick a 2-8 letter name.
	ChooseNames bool `yaml:"choose_names,omitempty" json:"choose_names,omitempty"`

	// AllowTruncation trims overlong histories; when false, overlong
	// contexts are sent as-is and provider errors propagate.
	AllowTruncation bool `yaml:"allow_truncation,omitempty" json:"allow_truncation,omitempty"`

	// ThinkBudget enables extended thinking with this token budget.
	ThinkBudget int `yaml:"think_budget,omitempty" json:"think_budget,omitempty" jsonschema:"minimum=0"`

	// MaxOutputTokens caps each response.
	MaxOutputTokens int `yaml:"max_output_tokens,omitempty" json:"max_output_tokens,omitempty" jsonschema:"minimum=1"`

	// VendorCap bounds total in-flight calls per vendor across all
	// conversations.
	VendorCap int `yaml:"vendor_cap,omitempty" json:"vendor_cap,omitempty" jsonschema:"minimum=1,default=8"`

	// StatusAddr, when set, serves the read-only observation endpoint
	// (health, status, metrics) on this localhost address.
	StatusAddr string `yaml:"status_addr,omitempty" json:"status_addr,omitempty"`
}

// SetDefaults applies default values in place.
func (c *ExperimentConfig) SetDefaults() {
	if c.Repetitions == 0 {
		c.Repetitions = 1
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = 10
	}
	if c.MaxParallel == 0 {
		c.MaxParallel = 1
	}
	if c.ConvergenceAction == "" {
		c.ConvergenceAction = ActionStop
	}
	if c.ConvergenceProfile == "" {
		c.ConvergenceProfile = convergence.ProfileBalanced
	}
	if c.FirstSpeaker == "" {
		c.FirstSpeaker = FirstSpeakerAgentA
	}
	if c.InitialPrompt == "" && c.Dimensions == "" {
		c.InitialPrompt = "Hello! I'm looking forward to our conversation."
	}
	if c.VendorCap == 0 {
		c.VendorCap = 8
	}
	if c.AwarenessA == "" {
		c.AwarenessA = string(prompts.AwarenessBasic)
	}
	if c.AwarenessB == "" {
		c.AwarenessB = string(prompts.AwarenessBasic)
	}
}

// Validate checks the whole config and returns every problem found, not
// just the first.
func (c *ExperimentConfig) Validate() []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Name == "" {
		add("name is required")
	}
	if c.AgentAModel == "" {
		add("agent_a_model is required")
	} else if _, err := models.Resolve(c.AgentAModel); err != nil {
		add("agent_a_model: %v", err)
	}
	if c.AgentBModel == "" {
		add("agent_b_model is required")
	} else if _, err := models.Resolve(c.AgentBModel); err != nil {
		add("agent_b_model: %v", err)
	}
	if c.Repetitions < 1 {
		add("repetitions must be >= 1, got %d", c.Repetitions)
	}
	if c.MaxTurns < 1 {
		add("max_turns must be >= 1, got %d", c.MaxTurns)
	}
	if c.MaxParallel < 1 {
		add("max_parallel must be >= 1, got %d", c.MaxParallel)
	}
	if c.InitialPrompt != "" && c.Dimensions != "" {
		add("initial_prompt and dimensions are mutually exclusive")
	}
	if c.Dimensions != "" {
		if _, err := prompts.GenerateDimensional(c.Dimensions); err != nil {
			add("dimensions: %v", err)
		}
	}
	for name, temp := range map[string]*float64{
		"temperature": c.Temperature, "temperature_a": c.TemperatureA, "temperature_b": c.TemperatureB,
	} {
		if temp != nil && (*temp < 0 || *temp > 2) {
			add("%s must be in [0,2], got %g", name, *temp)
		}
	}
	if c.ConvergenceThreshold != nil && (*c.ConvergenceThreshold < 0 || *c.ConvergenceThreshold > 1) {
		add("convergence_threshold must be in [0,1], got %g", *c.ConvergenceThreshold)
	}
	switch c.ConvergenceAction {
	case ActionStop, ActionPause, ActionNotify, "":
	default:
		add("convergence_action must be stop, pause, or notify, got %q", c.ConvergenceAction)
	}
	if c.ConvergenceProfile != "" {
		if _, err := convergence.NewCalculator(c.ConvergenceProfile); err != nil {
			add("%v", err)
		}
	}
	switch c.FirstSpeaker {
	case FirstSpeakerAgentA, FirstSpeakerAgentB, FirstSpeakerRandom, "":
	default:
		add("first_speaker must be agent_a, agent_b, or random, got %q", c.FirstSpeaker)
	}
	for name, spec := range map[string]string{"awareness_a": c.AwarenessA, "awareness_b": c.AwarenessB} {
		if spec == "" {
			continue
		}
		if _, err := prompts.LoadAwareness(spec); err != nil {
			add("%s: %v", name, err)
		}
	}
	if c.ThinkBudget < 0 {
		add("think_budget must be >= 0, got %d", c.ThinkBudget)
	}
	if c.VendorCap < 0 {
		add("vendor_cap must be >= 1, got %d", c.VendorCap)
	}

	return errs
}

// TemperatureFor resolves the effective temperature for one agent.
func (c *ExperimentConfig) TemperatureFor(agentA bool) *float64 {
	if agentA && c.TemperatureA != nil {
		return c.TemperatureA
	}
	if !agentA && c.TemperatureB != nil {
		return c.TemperatureB
	}
	return c.Temperature
}
