// Package sharedstate publishes a fixed-size snapshot file that external
// observers can poll without touching the event logs. The block is a single
// 8 KiB page: a little-endian version counter, a unix-seconds timestamp,
// then a NUL-terminated JSON payload. Readers detect torn reads by checking
// the version counter before and after reading the payload.
package sharedstate

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the snapshot file name inside an experiment directory.
const FileName = "state.shm"

// BlockSize is the fixed file size. Payloads that do not fit are an error;
// the snapshot carries summaries, not transcripts.
const BlockSize = 8192

const headerSize = 8 // 4B version + 4B unix seconds

// ErrTornRead means the version changed mid-read; retry.
var ErrTornRead = errors.New("sharedstate: torn read")

// ErrNotPublished means the file exists but no snapshot has landed yet.
var ErrNotPublished = errors.New("sharedstate: no snapshot published")

// ConversationState is one conversation's entry in the snapshot.
type ConversationState struct {
	Status      string   `json:"status"`
	Turn        int      `json:"turn"`
	MaxTurns    int      `json:"max_turns"`
	Convergence *float64 `json:"convergence,omitempty"`
}

// Snapshot is the JSON payload.
type Snapshot struct {
	ExperimentID  string                       `json:"experiment_id"`
	Status        string                       `json:"status"`
	Completed     int                          `json:"completed"`
	Failed        int                          `json:"failed"`
	Total         int                          `json:"total"`
	Conversations map[string]ConversationState `json:"conversations"`
}

// Publisher owns the snapshot file. Single writer; the version counter is
// bumped on every publish.
type Publisher struct {
	file    *os.File
	version uint32
}

// NewPublisher creates (or truncates) the snapshot file at its fixed size.
func NewPublisher(dir string) (*Publisher, error) {
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(BlockSize); err != nil {
		f.Close()
		return nil, err
	}
	return &Publisher{file: f}, nil
}

// Publish writes a new snapshot in place. The version is written last so a
// reader that sees the new version also sees the new payload, and a reader
// that catches the write mid-flight sees a version mismatch and retries.
func (p *Publisher) Publish(s *Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if len(payload)+1 > BlockSize-headerSize {
		return fmt.Errorf("snapshot too large: %d bytes", len(payload))
	}

	p.version++
	block := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(block[0:4], p.version)
	binary.LittleEndian.PutUint32(block[4:8], uint32(time.Now().Unix()))
	copy(block[headerSize:], payload)
	// Remainder stays zero; the first NUL terminates the payload.

	if _, err := p.file.WriteAt(block, 0); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Close releases the file. The last snapshot stays on disk.
func (p *Publisher) Close() error {
	return p.file.Close()
}

const (
	readRetries    = 5
	readRetryDelay = 10 * time.Millisecond
)

// Read loads the current snapshot, retrying torn reads.
func Read(dir string) (*Snapshot, time.Time, error) {
	path := filepath.Join(dir, FileName)
	var lastErr error
	for attempt := 0; attempt < readRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(readRetryDelay)
		}
		snap, at, err := readOnce(path)
		if err == nil {
			return snap, at, nil
		}
		if !errors.Is(err, ErrTornRead) {
			return nil, time.Time{}, err
		}
		lastErr = err
	}
	return nil, time.Time{}, lastErr
}

func readOnce(path string) (*Snapshot, time.Time, error) {
	block, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(block) < BlockSize {
		return nil, time.Time{}, fmt.Errorf("sharedstate: short block (%d bytes)", len(block))
	}

	version := binary.LittleEndian.Uint32(block[0:4])
	if version == 0 {
		return nil, time.Time{}, ErrNotPublished
	}
	at := time.Unix(int64(binary.LittleEndian.Uint32(block[4:8])), 0).UTC()

	payload := block[headerSize:]
	end := bytes.IndexByte(payload, 0)
	if end < 0 {
		end = len(payload)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload[:end], &snap); err != nil {
		// A half-written payload parses as garbage; treat it as torn.
		return nil, time.Time{}, ErrTornRead
	}

	// Re-check the version to catch a write that landed mid-read.
	verify := make([]byte, 4)
	f, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer f.Close()
	if _, err := f.ReadAt(verify, 0); err != nil {
		return nil, time.Time{}, err
	}
	if binary.LittleEndian.Uint32(verify) != version {
		return nil, time.Time{}, ErrTornRead
	}
	return &snap, at, nil
}
