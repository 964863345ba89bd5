package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAwarenessPresets(t *testing.T) {
	none, err := LoadAwareness("none")
	require.NoError(t, err)
	assert.Empty(t, none.SystemPrompt("claude"))

	basic, err := LoadAwareness("basic")
	require.NoError(t, err)
	assert.Contains(t, basic.SystemPrompt("claude"), "another AI")

	research, err := LoadAwareness("research")
	require.NoError(t, err)
	prompt := research.SystemPrompt("gpt-4o")
	assert.Contains(t, prompt, "gpt-4o", "research level names the partner model")
	assert.NotContains(t, prompt, "{partner_model}")

	// Presets have no per-turn overrides.
	assert.Empty(t, basic.TurnPrompt(3))
}

func TestLoadAwarenessEmptyDefaultsToBasic(t *testing.T) {
	a, err := LoadAwareness("")
	require.NoError(t, err)
	assert.Equal(t, awarenessPrompts[AwarenessBasic], a.SystemPrompt("x"))
}

func TestLoadAwarenessCustomYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
system: "You are a careful interlocutor."
turns:
  3: "Halfway reminder."
`), 0o644))

	a, err := LoadAwareness(path)
	require.NoError(t, err)
	assert.Equal(t, "You are a careful interlocutor.", a.SystemPrompt("anything"))
	assert.Equal(t, "Halfway reminder.", a.TurnPrompt(3))
	assert.Empty(t, a.TurnPrompt(2))
}

func TestLoadAwarenessUnknown(t *testing.T) {
	_, err := LoadAwareness("extreme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown awareness level")

	_, err = LoadAwareness(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestGenerateDimensional(t *testing.T) {
	prompt, err := GenerateDimensional("peers:philosophy")
	require.NoError(t, err)
	assert.Contains(t, prompt, "peer")
	assert.Contains(t, prompt, "philosophical")

	withMode, err := GenerateDimensional("debate:science:formal")
	require.NoError(t, err)
	assert.Contains(t, withMode, "debate")
	assert.Contains(t, withMode, "formal register")
}

func TestGenerateDimensionalErrors(t *testing.T) {
	_, err := GenerateDimensional("peers")
	assert.Error(t, err)

	_, err = GenerateDimensional("a:b:c:d")
	assert.Error(t, err)

	_, err = GenerateDimensional("nope:philosophy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dimensional context")

	_, err = GenerateDimensional("peers:nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dimensional topic")

	_, err = GenerateDimensional("peers:philosophy:nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dimensional mode")
}

func TestExtractChosenName(t *testing.T) {
	assert.Equal(t, "Aria", ExtractChosenName("[name: Aria] Hello there!"))
	assert.Equal(t, "Bo", ExtractChosenName("Sure. [name:Bo] Let's begin."))
	assert.Equal(t, "", ExtractChosenName("I have no name."))
	assert.Equal(t, "", ExtractChosenName("[name: X] too short"), "names are 2-8 letters")
	assert.Equal(t, "", ExtractChosenName("[name: Excessively] too long"))
	assert.Equal(t, "", ExtractChosenName("[name: R2D2]"), "digits are not allowed")
}
