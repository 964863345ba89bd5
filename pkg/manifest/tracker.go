package manifest

import (
	"log/slog"
	"sync"
	"time"
)

// Tracker serializes all manifest mutations through one goroutine. Runner
// and conductor goroutines send updates; only the tracker touches the file,
// so concurrent conversations can never interleave writes.
type Tracker struct {
	dir     string
	updates chan func(*Manifest)
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewTracker stores the initial manifest and starts the writer goroutine.
func NewTracker(dir string, initial *Manifest) (*Tracker, error) {
	if err := Store(dir, initial); err != nil {
		return nil, err
	}
	t := &Tracker{
		dir:     dir,
		updates: make(chan func(*Manifest), 64),
		done:    make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run(initial)
	return t, nil
}

func (t *Tracker) run(m *Manifest) {
	defer t.wg.Done()
	for {
		select {
		case update := <-t.updates:
			update(m)
			t.store(m)
		case <-t.done:
			// Drain whatever queued before close so the final states land.
			for {
				select {
				case update := <-t.updates:
					update(m)
				default:
					t.store(m)
					return
				}
			}
		}
	}
}

func (t *Tracker) store(m *Manifest) {
	if err := Store(t.dir, m); err != nil {
		slog.Error("manifest write failed", "dir", t.dir, "error", err)
	}
}

// Apply queues a mutation. It never blocks the caller's turn loop unless
// the queue is full, which only happens if the disk has stalled.
func (t *Tracker) Apply(update func(*Manifest)) {
	select {
	case t.updates <- update:
	case <-t.done:
	}
}

// Close flushes pending updates and stops the writer. Safe to call twice.
func (t *Tracker) Close() {
	t.once.Do(func() { close(t.done) })
	t.wg.Wait()
}

// Convenience mutations.

// SetStatus moves the experiment to a new status, stamping started/completed
// times on the transitions that have them.
func (t *Tracker) SetStatus(status string) {
	t.Apply(func(m *Manifest) {
		m.Status = status
		now := time.Now().UTC()
		switch status {
		case StatusRunning:
			if m.StartedAt == nil {
				m.StartedAt = &now
			}
		case StatusCompleted, StatusFailed, StatusInterrupted:
			m.CompletedAt = &now
		}
	})
}

// SetPID records the daemon's process id.
func (t *Tracker) SetPID(pid int) {
	t.Apply(func(m *Manifest) { m.PID = pid })
}

// AddConversation registers a conversation slot.
func (t *Tracker) AddConversation(id string, conv *Conversation) {
	t.Apply(func(m *Manifest) {
		conv.LastUpdated = time.Now().UTC()
		m.Conversations[id] = conv
	})
}

// UpdateConversation mutates one conversation slot, bumping its timestamp
// and the experiment counters on terminal transitions.
func (t *Tracker) UpdateConversation(id string, update func(*Conversation)) {
	t.Apply(func(m *Manifest) {
		conv, ok := m.Conversations[id]
		if !ok {
			return
		}
		before := conv.Status
		update(conv)
		conv.LastUpdated = time.Now().UTC()
		if before != conv.Status {
			switch conv.Status {
			case ConvCompleted:
				m.Completed++
			case ConvFailed:
				m.Failed++
			}
		}
	})
}
