package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pidginlab/pidgin/pkg/convergence"
)

func validYAML() string {
	return `
name: test-experiment
agent_a_model: local:test
agent_b_model: local:test
max_turns: 5
repetitions: 2
`
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validYAML()))
	require.NoError(t, err)

	assert.Equal(t, "test-experiment", cfg.Name)
	assert.Equal(t, 5, cfg.MaxTurns)
	assert.Equal(t, 2, cfg.Repetitions)
	assert.Equal(t, 1, cfg.MaxParallel)
	assert.Equal(t, 8, cfg.VendorCap)
	assert.Equal(t, ActionStop, cfg.ConvergenceAction)
	assert.Equal(t, convergence.ProfileBalanced, cfg.ConvergenceProfile)
	assert.Equal(t, FirstSpeakerAgentA, cfg.FirstSpeaker)
	assert.Equal(t, "Hello! I'm looking forward to our conversation.", cfg.InitialPrompt)
	assert.Equal(t, "basic", cfg.AwarenessA)
	assert.Equal(t, "basic", cfg.AwarenessB)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(validYAML() + "definitely_not_a_field: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode config")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := &ExperimentConfig{
		AgentAModel:       "no-such-model",
		Repetitions:       -1,
		MaxTurns:          0,
		MaxParallel:       0,
		InitialPrompt:     "hi",
		Dimensions:        "peers:philosophy",
		ConvergenceAction: "explode",
		FirstSpeaker:      "agent_c",
	}
	errs := cfg.Validate()
	require.NotEmpty(t, errs)

	joined := make([]string, len(errs))
	for i, e := range errs {
		joined[i] = e.Error()
	}
	all := strings.Join(joined, "\n")

	assert.Contains(t, all, "name is required")
	assert.Contains(t, all, "agent_a_model")
	assert.Contains(t, all, "agent_b_model is required")
	assert.Contains(t, all, "repetitions must be >= 1")
	assert.Contains(t, all, "max_turns must be >= 1")
	assert.Contains(t, all, "max_parallel must be >= 1")
	assert.Contains(t, all, "mutually exclusive")
	assert.Contains(t, all, "convergence_action")
	assert.Contains(t, all, "first_speaker")
}

func TestValidateTemperatureRange(t *testing.T) {
	cfg, err := Parse([]byte(validYAML()))
	require.NoError(t, err)

	bad := 2.5
	cfg.Temperature = &bad
	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "temperature must be in [0,2]")
}

func TestValidateConvergenceThreshold(t *testing.T) {
	cfg, err := Parse([]byte(validYAML()))
	require.NoError(t, err)

	bad := 1.5
	cfg.ConvergenceThreshold = &bad
	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "convergence_threshold")
}

func TestValidationErrorListsProblems(t *testing.T) {
	_, err := Parse([]byte("name: x\n"))
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Problems), 2)
	assert.Contains(t, verr.Error(), "invalid configuration")
	assert.Contains(t, verr.Error(), "  - agent_a_model is required")
}

func TestDimensionalPromptConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
name: dims
agent_a_model: local:test
agent_b_model: local:test
dimensions: peers:philosophy:analytical
`))
	require.NoError(t, err)
	assert.Empty(t, cfg.InitialPrompt, "dimensions suppress the default initial prompt")
	assert.Equal(t, "peers:philosophy:analytical", cfg.Dimensions)
}

func TestTemperatureFor(t *testing.T) {
	shared, a := 0.7, 0.2
	cfg := &ExperimentConfig{Temperature: &shared, TemperatureA: &a}

	require.NotNil(t, cfg.TemperatureFor(true))
	assert.Equal(t, 0.2, *cfg.TemperatureFor(true))
	require.NotNil(t, cfg.TemperatureFor(false))
	assert.Equal(t, 0.7, *cfg.TemperatureFor(false), "agent B falls back to the shared temperature")

	assert.Nil(t, (&ExperimentConfig{}).TemperatureFor(true))
}

func TestCheckCredentials(t *testing.T) {
	cfg := &ExperimentConfig{AgentAModel: "local:test", AgentBModel: "local:test"}
	assert.NoError(t, cfg.CheckCredentials(), "local models need no credentials")

	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg = &ExperimentConfig{AgentAModel: "claude-sonnet-4-20250514", AgentBModel: "local:test"}
	err := cfg.CheckCredentials()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")

	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	assert.NoError(t, cfg.CheckCredentials())
}
