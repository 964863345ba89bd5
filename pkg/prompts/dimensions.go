package prompts

import (
	"fmt"
	"strings"
)

// Dimensional prompt specs are "context:topic[:mode]" — e.g.
// "peers:language:analytical". Each dimension selects a fragment; the
// fragments compose into the initial user-visible prompt.

var contextFragments = map[string]string{
	"peers":         "Hello! I'm looking forward to talking with you as a peer.",
	"teaching":      "I'd like you to teach me about something.",
	"debate":        "Let's have a friendly debate.",
	"interview":     "I'd like to interview you.",
	"collaboration": "Let's work through something together.",
}

var topicFragments = map[string]string{
	"language":   "Let's explore how language itself works.",
	"philosophy": "Let's discuss a philosophical question that interests you.",
	"science":    "Let's talk about a scientific idea you find fascinating.",
	"meta":       "Let's talk about this conversation as we have it.",
	"puzzles":    "Let's pose each other puzzles and riddles.",
	"stories":    "Let's tell a story together, taking turns.",
}

var modeFragments = map[string]string{
	"analytical": "Please be precise and analytical.",
	"intuitive":  "Follow your intuition; free association is welcome.",
	"formal":     "Please keep a formal register.",
	"casual":     "Keep it casual and conversational.",
}

// GenerateDimensional expands a "context:topic[:mode]" spec into the
// initial prompt string.
func GenerateDimensional(spec string) (string, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", fmt.Errorf("dimensional spec %q: want context:topic[:mode]", spec)
	}

	contextFragment, ok := contextFragments[parts[0]]
	if !ok {
		return "", fmt.Errorf("unknown dimensional context %q (known: %s)", parts[0], keys(contextFragments))
	}
	topicFragment, ok := topicFragments[parts[1]]
	if !ok {
		return "", fmt.Errorf("unknown dimensional topic %q (known: %s)", parts[1], keys(topicFragments))
	}

	fragments := []string{contextFragment, topicFragment}
	if len(parts) == 3 {
		modeFragment, ok := modeFragments[parts[2]]
		if !ok {
			return "", fmt.Errorf("unknown dimensional mode %q (known: %s)", parts[2], keys(modeFragments))
		}
		fragments = append(fragments, modeFragment)
	}
	return strings.Join(fragments, " "), nil
}

func keys(m map[string]string) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Deterministic order for error messages.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return strings.Join(out, ", ")
}
