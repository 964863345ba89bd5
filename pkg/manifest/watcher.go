package manifest

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch follows an experiment's manifest, invoking onChange with each new
// snapshot until ctx is done. The initial state is delivered immediately.
// Rename-based atomic writes surface as Create events, so both Create and
// Write trigger a reload.
func Watch(ctx context.Context, dir string, onChange func(*Manifest)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: renames replace the inode.
	if err := watcher.Add(dir); err != nil {
		return err
	}

	if m, err := Load(dir); err == nil {
		onChange(m)
	}

	// Debounce bursts: a rename often lands with a companion chmod.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != FileName {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			pending = time.After(50 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		case <-pending:
			pending = nil
			if m, err := Load(dir); err == nil {
				onChange(m)
			}
		}
	}
}
