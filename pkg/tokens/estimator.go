// Package tokens keeps outgoing message sets under a model's context
// window: conservative estimation plus a binary-search truncation that
// always retains system messages and drops the oldest non-system history.
package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/pidginlab/pidgin/pkg/models"
	"github.com/pidginlab/pidgin/pkg/protocol"
)

// perMessageOverhead accounts for role framing and separators the wire
// format adds around each message.
const perMessageOverhead = 4

// Estimator counts tokens for one model family.
type Estimator struct {
	multiplier float64
	encoding   *tiktoken.Tiktoken
}

var (
	encodingOnce sync.Once
	gptEncoding  *tiktoken.Tiktoken
)

// NewEstimator builds an estimator for the family. The OpenAI family uses
// the exact cl100k tokenizer when its encoding is available; everything
// else uses the character/word heuristic with a conservative multiplier.
func NewEstimator(family models.Family) *Estimator {
	est := &Estimator{multiplier: models.TokenMultiplier(family)}
	if family == models.FamilyGPT {
		encodingOnce.Do(func() {
			// Encoding data may be unavailable offline; the heuristic
			// covers that case.
			if enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE); err == nil {
				gptEncoding = enc
			}
		})
		est.encoding = gptEncoding
	}
	return est
}

// CountText estimates the tokens in a single string.
func (e *Estimator) CountText(text string) int {
	if text == "" {
		return 0
	}
	if e.encoding != nil {
		return len(e.encoding.Encode(text, nil, nil))
	}
	// Average of a character-based and a word-based estimate; both err
	// high for natural language.
	chars := float64(len(text)) / 3.5
	words := float64(len(strings.Fields(text))) * 1.3
	return int(((chars + words) / 2) * e.multiplier)
}

// CountMessage estimates one message including wire framing.
func (e *Estimator) CountMessage(msg protocol.Message) int {
	return e.CountText(msg.Content) + perMessageOverhead
}

// Count estimates a whole message set.
func (e *Estimator) Count(messages []protocol.Message) int {
	total := 0
	for _, msg := range messages {
		total += e.CountMessage(msg)
	}
	return total
}
