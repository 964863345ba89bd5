package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// gracePeriod is how long a stop waits after SIGTERM before escalating to
// SIGKILL.
const gracePeriod = 30 * time.Second

// ReadPID parses an experiment's PID file.
func ReadPID(root, experimentID string) (int, error) {
	data, err := os.ReadFile(PIDFile(root, experimentID))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt PID file for %s: %w", experimentID, err)
	}
	return pid, nil
}

// Alive reports whether the process still exists.
func Alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// Stop terminates one experiment's daemon: SIGTERM, a grace window for the
// conversations to settle, then SIGKILL. The PID file is removed either way.
func Stop(root, experimentID string) error {
	pid, err := ReadPID(root, experimentID)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no active experiment %s", experimentID)
		}
		return err
	}

	if !Alive(pid) {
		// Stale PID file from a crash; just clean it up.
		os.Remove(PIDFile(root, experimentID))
		return nil
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(gracePeriod)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			os.Remove(PIDFile(root, experimentID))
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	// The daemon ignored the grace window; it no longer gets a vote.
	unix.Kill(pid, unix.SIGKILL)
	os.Remove(PIDFile(root, experimentID))
	return nil
}

// StopAll stops every experiment with a PID file under the root. Errors are
// collected so one wedged daemon does not shield the rest.
func StopAll(root string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(ActiveDir(root), "*.pid"))
	if err != nil {
		return nil, err
	}
	var stopped []string
	var errs []string
	for _, pidPath := range matches {
		id := strings.TrimSuffix(filepath.Base(pidPath), ".pid")
		if err := Stop(root, id); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		stopped = append(stopped, id)
	}
	if len(errs) > 0 {
		return stopped, fmt.Errorf("stop failures: %s", strings.Join(errs, "; "))
	}
	return stopped, nil
}

// ListActive returns the experiment ids with PID files, marking stale ones.
func ListActive(root string) (running, stale []string, err error) {
	matches, err := filepath.Glob(filepath.Join(ActiveDir(root), "*.pid"))
	if err != nil {
		return nil, nil, err
	}
	for _, pidPath := range matches {
		id := strings.TrimSuffix(filepath.Base(pidPath), ".pid")
		pid, err := ReadPID(root, id)
		if err != nil || !Alive(pid) {
			stale = append(stale, id)
			continue
		}
		running = append(running, id)
	}
	return running, stale, nil
}
