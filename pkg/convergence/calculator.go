package convergence

import "fmt"

// Profile selects the component weighting.
type Profile string

const (
	ProfileBalanced   Profile = "balanced"
	ProfileStructural Profile = "structural"
	ProfileSemantic   Profile = "semantic"
	ProfileStrict     Profile = "strict"
)

// Weights are the non-negative component weights, summing to 1.
type Weights struct {
	Vocabulary float64
	Structural float64
	Style      float64
	Mimicry    float64
}

// profiles: strict weights structure and vocabulary more heavily than
// balanced; semantic weights lexical overlap more heavily than structure.
var profiles = map[Profile]Weights{
	ProfileBalanced:   {Vocabulary: 0.35, Structural: 0.25, Style: 0.2, Mimicry: 0.2},
	ProfileStructural: {Vocabulary: 0.15, Structural: 0.55, Style: 0.2, Mimicry: 0.1},
	ProfileSemantic:   {Vocabulary: 0.6, Structural: 0.1, Style: 0.1, Mimicry: 0.2},
	ProfileStrict:     {Vocabulary: 0.45, Structural: 0.4, Style: 0.1, Mimicry: 0.05},
}

// Calculator scores turns under one profile.
type Calculator struct {
	weights        Weights
	stripStopWords bool
}

// NewCalculator builds a calculator for the named profile.
func NewCalculator(profile Profile) (*Calculator, error) {
	if profile == "" {
		profile = ProfileBalanced
	}
	weights, ok := profiles[profile]
	if !ok {
		return nil, fmt.Errorf("unknown convergence profile: %q", profile)
	}
	return &Calculator{weights: weights, stripStopWords: true}, nil
}

// Score computes the convergence of one turn: the two completed messages,
// plus the message the second speaker was replying to (for mimicry; may be
// empty on turn one).
func (c *Calculator) Score(first, second string) float64 {
	if first == "" && second == "" {
		return 0
	}
	// Verbatim repetition is full convergence under every profile, even for
	// messages too short to form bigrams.
	if first == second {
		return 1
	}
	w := c.weights
	score := w.Vocabulary*VocabularyOverlap(first, second, c.stripStopWords) +
		w.Structural*StructuralSimilarity(first, second) +
		w.Style*StyleMatch(first, second) +
		w.Mimicry*MimicryScore(second, first)
	return clamp(score)
}
