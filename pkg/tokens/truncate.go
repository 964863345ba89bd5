package tokens

import (
	"github.com/pidginlab/pidgin/pkg/models"
	"github.com/pidginlab/pidgin/pkg/protocol"
)

// safetyMargin reserves headroom under the advertised window for the
// response and estimation error.
const safetyMargin = 0.9

// TruncationResult reports what Fit did to the message set.
type TruncationResult struct {
	Messages        []protocol.Message
	Truncated       bool
	OriginalCount   int
	KeptCount       int
	Dropped         int
	EstimatedTokens int
}

// Manager enforces one model's context window.
type Manager struct {
	estimator *Estimator
	limit     int
	// AllowTruncation disabled means Fit always passes messages through
	// and the provider's context-limit error surfaces instead.
	allowTruncation bool
}

// NewManager builds a context manager for the model.
func NewManager(model *models.Model, allowTruncation bool) *Manager {
	return &Manager{
		estimator:       NewEstimator(model.Family),
		limit:           int(float64(model.ContextWindow) * safetyMargin),
		allowTruncation: allowTruncation,
	}
}

// Fit returns the largest message set that fits the window. System messages
// are always retained; when truncation is needed, a binary search finds the
// largest suffix of non-system messages that fits, dropping the oldest
// history first.
func (m *Manager) Fit(messages []protocol.Message) TruncationResult {
	total := m.estimator.Count(messages)
	result := TruncationResult{
		Messages:        messages,
		OriginalCount:   len(messages),
		KeptCount:       len(messages),
		EstimatedTokens: total,
	}
	if total <= m.limit || !m.allowTruncation {
		return result
	}

	var system, rest []protocol.Message
	for _, msg := range messages {
		if msg.Role == protocol.RoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	systemTokens := m.estimator.Count(system)

	// Binary search over suffix length: fits(k) is monotone in k, so the
	// largest fitting suffix is found in O(log n) estimation passes.
	fits := func(k int) bool {
		return systemTokens+m.estimator.Count(rest[len(rest)-k:]) <= m.limit
	}
	lo, hi := 0, len(rest) // invariant: fits(lo), !fits(hi+1 ... ) unknown
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if fits(mid) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	keep := lo

	kept := make([]protocol.Message, 0, len(system)+keep)
	kept = append(kept, system...)
	kept = append(kept, rest[len(rest)-keep:]...)

	result.Messages = kept
	result.Truncated = true
	result.KeptCount = len(kept)
	result.Dropped = len(messages) - len(kept)
	result.EstimatedTokens = m.estimator.Count(kept)
	return result
}
