package conductor

import (
	"fmt"
	"time"

	"github.com/pidginlab/pidgin/pkg/events"
	"github.com/pidginlab/pidgin/pkg/protocol"
)

// BranchSeed is a parent conversation's history up to a branch point: the
// seed prompt, 2 x branchPoint agent messages, and the matching convergence
// scores.
type BranchSeed struct {
	ParentID      string
	BranchPoint   int
	InitialPrompt string
	Messages      []protocol.Message
	Scores        []float64
}

// LoadBranchSeed reads a parent's JSONL log and extracts the state through
// the given turn. The parent must have completed at least branchPoint turns.
func LoadBranchSeed(parentLog string, branchPoint int) (*BranchSeed, error) {
	if branchPoint < 1 {
		return nil, fmt.Errorf("branch point must be >= 1, got %d", branchPoint)
	}
	evts, err := events.ReadLog(parentLog)
	if err != nil {
		return nil, fmt.Errorf("read parent log: %w", err)
	}

	seed := &BranchSeed{BranchPoint: branchPoint}
	want := 2 * branchPoint
	for _, ev := range evts {
		switch e := ev.(type) {
		case *events.ConversationStart:
			seed.ParentID = e.ConversationID
			seed.InitialPrompt = e.InitialPrompt
		case *events.MessageComplete:
			if len(seed.Messages) < want {
				seed.Messages = append(seed.Messages, protocol.Message{
					Role:      protocol.RoleAssistant,
					Content:   e.Content,
					AgentID:   e.AgentID,
					Timestamp: e.Timestamp,
				})
			}
		case *events.TurnComplete:
			if len(seed.Scores) < branchPoint {
				seed.Scores = append(seed.Scores, e.ConvergenceScore)
			}
		}
	}
	if len(seed.Messages) < want {
		return nil, fmt.Errorf("parent has %d messages, branch point %d needs %d",
			len(seed.Messages), branchPoint, want)
	}
	if len(seed.Scores) < branchPoint {
		return nil, fmt.Errorf("parent has %d completed turns, branch point is %d",
			len(seed.Scores), branchPoint)
	}
	return seed, nil
}

// replayBranch installs the seeded history and re-emits it into this
// conversation's log so the branched log is self-contained: its opening
// messages reproduce the parent's byte for byte.
func (c *Conductor) replayBranch() {
	seed := c.opts.Branch
	for i, msg := range seed.Messages {
		turn := i/2 + 1
		c.opts.Bus.Emit(&events.MessageComplete{
			AgentID: msg.AgentID,
			Turn:    turn,
			Content: msg.Content,
		})
		if i%2 == 1 {
			c.opts.Bus.Emit(&events.TurnComplete{
				Turn:             turn,
				ConvergenceScore: seed.Scores[turn-1],
			})
		}
		c.messages = append(c.messages, protocol.Message{
			Role:      protocol.RoleAssistant,
			Content:   msg.Content,
			AgentID:   msg.AgentID,
			Timestamp: time.Now().UTC(),
		})
	}
	c.history = append(c.history, seed.Scores...)
}
