package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathLayout(t *testing.T) {
	assert.Equal(t, "/out/active", ActiveDir("/out"))
	assert.Equal(t, "/out/active/exp-1.pid", PIDFile("/out", "exp-1"))
	assert.Equal(t, "/out/exp-1", ExperimentDir("/out", "exp-1"))
	assert.Equal(t, "/out/logs/exp-1.log", LogFile("/out", "exp-1"))
}

func writePID(t *testing.T, root, id string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(ActiveDir(root), 0o755))
	require.NoError(t, os.WriteFile(PIDFile(root, id), []byte(content), 0o644))
}

func TestReadPID(t *testing.T) {
	root := t.TempDir()
	writePID(t, root, "exp-1", "12345\n")

	pid, err := ReadPID(root, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	_, err = ReadPID(root, "exp-missing")
	assert.True(t, os.IsNotExist(err))

	writePID(t, root, "exp-bad", "not-a-pid")
	_, err = ReadPID(root, "exp-bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt PID file")
}

func TestAlive(t *testing.T) {
	assert.True(t, Alive(os.Getpid()))
	// PID 1 exists but may not be signalable; an impossible PID never is.
	assert.False(t, Alive(1<<22+1234))
}

func TestListActive(t *testing.T) {
	root := t.TempDir()
	writePID(t, root, "exp-live", strconv.Itoa(os.Getpid()))
	writePID(t, root, "exp-stale", "999999999")
	writePID(t, root, "exp-corrupt", "garbage")

	running, stale, err := ListActive(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"exp-live"}, running)
	assert.ElementsMatch(t, []string{"exp-stale", "exp-corrupt"}, stale)
}

func TestListActiveEmpty(t *testing.T) {
	running, stale, err := ListActive(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, running)
	assert.Empty(t, stale)
}

func TestStopCleansStalePIDFile(t *testing.T) {
	root := t.TempDir()
	writePID(t, root, "exp-dead", "999999999")

	require.NoError(t, Stop(root, "exp-dead"))
	_, err := os.Stat(PIDFile(root, "exp-dead"))
	assert.True(t, os.IsNotExist(err), "stale PID files are removed")
}

func TestStopUnknownExperiment(t *testing.T) {
	err := Stop(t.TempDir(), "exp-none")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active experiment")
}

func TestStopAllCollectsStale(t *testing.T) {
	root := t.TempDir()
	writePID(t, root, "exp-one", "999999998")
	writePID(t, root, "exp-two", "999999999")

	stopped, err := StopAll(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"exp-one", "exp-two"}, stopped)

	matches, err := filepath.Glob(filepath.Join(ActiveDir(root), "*.pid"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
