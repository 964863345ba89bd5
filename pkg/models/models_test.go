package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveByIDAndAlias(t *testing.T) {
	byAlias, err := Resolve("sonnet")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", byAlias.ID)
	assert.Equal(t, VendorAnthropic, byAlias.Vendor)

	byID, err := Resolve("claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Same(t, byAlias, byID, "aliases resolve to the same registry entry")

	upper, err := Resolve("SONNET")
	require.NoError(t, err)
	assert.Same(t, byAlias, upper, "lookup is case-insensitive")
}

func TestResolveLocalPrefix(t *testing.T) {
	m, err := Resolve("local:llama3.2")
	require.NoError(t, err)
	assert.Equal(t, VendorLocal, m.Vendor)
	assert.Equal(t, "llama3.2", m.DisplayName)
	assert.Equal(t, 8192, m.ContextWindow)
	assert.Equal(t, FamilyGeneric, m.Family)

	// "local:test" is a registry entry, not a synthesized local model.
	tm, err := Resolve("local:test")
	require.NoError(t, err)
	assert.Equal(t, VendorTest, tm.Vendor)

	_, err = Resolve("local:")
	assert.Error(t, err)
}

func TestResolveUnknown(t *testing.T) {
	_, err := Resolve("gpt-9000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model")
}

func TestVendorCredentials(t *testing.T) {
	assert.True(t, VendorAnthropic.RequiresCredentials())
	assert.Equal(t, "ANTHROPIC_API_KEY", VendorAnthropic.CredentialEnvVar())
	assert.Equal(t, "XAI_API_KEY", VendorXAI.CredentialEnvVar())

	for _, v := range []Vendor{VendorLocal, VendorTest, VendorSilent} {
		assert.False(t, v.RequiresCredentials(), "%s", v)
		assert.Empty(t, v.CredentialEnvVar())
	}
}

func TestTokenMultiplier(t *testing.T) {
	assert.Equal(t, 1.1, TokenMultiplier(FamilyClaude))
	assert.Equal(t, 1.05, TokenMultiplier(FamilyGPT))
	assert.Equal(t, 1.0, TokenMultiplier(FamilyGeneric))
}

func TestListIsSorted(t *testing.T) {
	ids := List()
	require.NotEmpty(t, ids)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
	assert.Contains(t, ids, "local:test")
}
