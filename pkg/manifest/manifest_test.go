package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pidginlab/pidgin/pkg/config"
)

func TestStoreLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := New("exp-1", "round-trip", 3)
	m.Configuration = &config.ExperimentConfig{
		Name:        "round-trip",
		AgentAModel: "local:test",
		AgentBModel: "local:test",
		MaxTurns:    10,
	}
	m.Conversations["conv_01"] = &Conversation{
		Status:      ConvRunning,
		JSONLFile:   "conv_01.jsonl",
		AgentAModel: "local:test",
		AgentBModel: "local:test",
		TurnsTotal:  10,
		LastLine:    17,
	}
	require.NoError(t, Store(dir, m))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "exp-1", loaded.ExperimentID)
	assert.Equal(t, "round-trip", loaded.Name)
	assert.Equal(t, StatusCreated, loaded.Status)
	assert.Equal(t, 3, loaded.Total)
	require.NotNil(t, loaded.Configuration)
	assert.Equal(t, "local:test", loaded.Configuration.AgentAModel)
	assert.Equal(t, 10, loaded.Configuration.MaxTurns)
	require.Contains(t, loaded.Conversations, "conv_01")
	assert.Equal(t, ConvRunning, loaded.Conversations["conv_01"].Status)
	assert.Equal(t, 17, loaded.Conversations["conv_01"].LastLine)
}

func TestStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Store(dir, New("exp-2", "tidy", 1)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FileName, entries[0].Name())
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.True(t, os.IsNotExist(err))
}

func TestLoadCorruptManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{truncated"), 0o644))
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse manifest")
}

func TestLoadNilConversationsMap(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName),
		[]byte(`{"experiment_id":"e","name":"n","status":"created"}`), 0o644))
	m, err := Load(dir)
	require.NoError(t, err)
	assert.NotNil(t, m.Conversations)
}

func TestTrackerLifecycle(t *testing.T) {
	dir := t.TempDir()
	tracker, err := NewTracker(dir, New("exp-3", "lifecycle", 2))
	require.NoError(t, err)

	tracker.SetPID(4242)
	tracker.SetStatus(StatusRunning)
	tracker.AddConversation("conv_aa", &Conversation{Status: ConvCreated, TurnsTotal: 5})
	tracker.UpdateConversation("conv_aa", func(c *Conversation) {
		c.Status = ConvRunning
	})
	score := 0.4
	tracker.UpdateConversation("conv_aa", func(c *Conversation) {
		c.TurnsComplete = 3
		c.LastConvergence = &score
	})
	tracker.UpdateConversation("conv_aa", func(c *Conversation) {
		c.Status = ConvCompleted
	})
	tracker.SetStatus(StatusCompleted)
	tracker.Close()

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 4242, m.PID)
	assert.Equal(t, StatusCompleted, m.Status)
	require.NotNil(t, m.StartedAt)
	require.NotNil(t, m.CompletedAt)

	conv := m.Conversations["conv_aa"]
	require.NotNil(t, conv)
	assert.Equal(t, ConvCompleted, conv.Status)
	assert.Equal(t, 3, conv.TurnsComplete)
	require.NotNil(t, conv.LastConvergence)
	assert.InDelta(t, 0.4, *conv.LastConvergence, 1e-9)
	assert.Equal(t, 1, m.Completed)
	assert.Equal(t, 0, m.Failed)
	assert.False(t, conv.LastUpdated.IsZero())
}

func TestTrackerCountsFailures(t *testing.T) {
	dir := t.TempDir()
	tracker, err := NewTracker(dir, New("exp-4", "failures", 2))
	require.NoError(t, err)

	tracker.AddConversation("conv_a", &Conversation{Status: ConvRunning})
	tracker.AddConversation("conv_b", &Conversation{Status: ConvRunning})
	tracker.UpdateConversation("conv_a", func(c *Conversation) {
		c.Status = ConvFailed
		c.Error = "provider_fatal: auth_failed"
	})
	// A repeated terminal status does not double-count.
	tracker.UpdateConversation("conv_a", func(c *Conversation) { c.Status = ConvFailed })
	tracker.UpdateConversation("conv_b", func(c *Conversation) { c.Status = ConvCompleted })
	tracker.UpdateConversation("conv_missing", func(c *Conversation) { c.Status = ConvCompleted })
	tracker.Close()

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Failed)
	assert.Equal(t, 1, m.Completed)
	assert.Equal(t, "provider_fatal: auth_failed", m.Conversations["conv_a"].Error)
	assert.NotContains(t, m.Conversations, "conv_missing")
}

func TestTrackerApplyAfterClose(t *testing.T) {
	dir := t.TempDir()
	tracker, err := NewTracker(dir, New("exp-5", "closed", 1))
	require.NoError(t, err)
	tracker.Close()

	// Must not block or panic.
	tracker.SetStatus(StatusFailed)

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, m.Status)
}
