package convergence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCalculatorUnknownProfile(t *testing.T) {
	_, err := NewCalculator("aggressive")
	require.Error(t, err)
}

func TestNewCalculatorDefaultsToBalanced(t *testing.T) {
	c, err := NewCalculator("")
	require.NoError(t, err)
	assert.Equal(t, profiles[ProfileBalanced], c.weights)
}

func TestScoreIdenticalMessages(t *testing.T) {
	c, err := NewCalculator(ProfileBalanced)
	require.NoError(t, err)

	msg := "I think language is fascinating. Don't you agree? Let's explore it together."
	score := c.Score(msg, msg)
	assert.InDelta(t, 1.0, score, 0.01, "identical messages should score near 1")
}

// Identical messages score 1.0 even when they are too short to form
// bigrams, under every profile.
func TestScoreIdenticalShortMessages(t *testing.T) {
	for _, profile := range []Profile{ProfileBalanced, ProfileStructural, ProfileSemantic, ProfileStrict} {
		c, err := NewCalculator(profile)
		require.NoError(t, err)
		for _, msg := range []string{"Hello.", "Yes", "the"} {
			assert.Equal(t, 1.0, c.Score(msg, msg), "profile %s msg %q", profile, msg)
		}
	}
}

func TestMimicryScoreIdentical(t *testing.T) {
	assert.Equal(t, 1.0, MimicryScore("Hello.", "Hello."))
}

func TestScoreEmptyMessages(t *testing.T) {
	c, err := NewCalculator(ProfileBalanced)
	require.NoError(t, err)
	assert.Zero(t, c.Score("", ""))
}

func TestScoreBounds(t *testing.T) {
	pairs := [][2]string{
		{"Hello there, how are you today?", "Greetings! I am doing well."},
		{"Short.", "This is a much longer message with completely different vocabulary and structure throughout."},
		{"??!!??", "plain words only here"},
		{"one two three", "one two three four"},
	}
	for _, profile := range []Profile{ProfileBalanced, ProfileStructural, ProfileSemantic, ProfileStrict} {
		c, err := NewCalculator(profile)
		require.NoError(t, err)
		for _, pair := range pairs {
			score := c.Score(pair[0], pair[1])
			assert.GreaterOrEqual(t, score, 0.0, "profile %s", profile)
			assert.LessOrEqual(t, score, 1.0, "profile %s", profile)
		}
	}
}

// A pair with strong structural and vocabulary alignment must score higher
// under strict than balanced, since strict weights those components more.
func TestStrictWeighsStructureAndVocabulary(t *testing.T) {
	strict, err := NewCalculator(ProfileStrict)
	require.NoError(t, err)
	balanced, err := NewCalculator(ProfileBalanced)
	require.NoError(t, err)

	// Same vocabulary, same shape, but different bigram order and style
	// markers: the vocabulary+structural components dominate.
	first := "patterns emerge slowly from conversation. language shifts gradually here!"
	second := "conversation emerge from slowly patterns? gradually language here shifts."

	assert.Greater(t, strict.Score(first, second), balanced.Score(first, second))
}

// A pair that shares vocabulary but not structure must score higher under
// semantic than structural.
func TestSemanticWeighsLexicalOverlap(t *testing.T) {
	semantic, err := NewCalculator(ProfileSemantic)
	require.NoError(t, err)
	structural, err := NewCalculator(ProfileStructural)
	require.NoError(t, err)

	// Identical vocabulary, very different shape: one flat phrase against
	// five staccato questions.
	first := "quantum entanglement correlations measurement particles"
	second := "Quantum? Entanglement? Correlations? Measurement? Particles?"

	assert.Greater(t, semantic.Score(first, second), structural.Score(first, second))
}

func TestVocabularyOverlap(t *testing.T) {
	assert.Equal(t, 1.0, VocabularyOverlap("alpha beta", "beta alpha", false))
	assert.Equal(t, 0.0, VocabularyOverlap("alpha", "beta", false))
	assert.Equal(t, 0.0, VocabularyOverlap("", "beta", false))

	// Stop words stripped: "the" and "a" do not count as shared vocabulary.
	withStop := VocabularyOverlap("the cat sat", "the dog ran", true)
	withoutStop := VocabularyOverlap("the cat sat", "the dog ran", false)
	assert.Less(t, withStop, withoutStop)
}

func TestStructuralSimilaritySameShape(t *testing.T) {
	a := "One sentence here. Another one follows!"
	assert.InDelta(t, 1.0, StructuralSimilarity(a, a), 1e-9)
	assert.Zero(t, StructuralSimilarity(a, ""))
}

func TestStyleMatch(t *testing.T) {
	assert.InDelta(t, 1.0, StyleMatch("Really? Sure!", "Indeed? Yes!"), 1e-9)
	questions := "Why? How? When?"
	flat := "Because. Later. Soon."
	assert.Less(t, StyleMatch(questions, flat), 1.0)
}

func TestMimicryScore(t *testing.T) {
	preceding := "the forest grows quietly at night"
	echo := "yes, the forest grows quietly at night indeed"
	novel := "mathematics is a completely different topic altogether"
	assert.Greater(t, MimicryScore(echo, preceding), MimicryScore(novel, preceding))
	assert.Zero(t, MimicryScore("", preceding))
}
