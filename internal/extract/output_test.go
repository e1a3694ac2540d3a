package extract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/panoptigo/gateway/internal/extract"
)

// TestMCut_FourScoreScenario grounds spec.md's scenario: "[0.9, 0.85, 0.4,
// 0.3] -> kept=[0.9,0.85], confidence=0.625".
func TestMCut_FourScoreScenario(t *testing.T) {
	scores := map[string]float64{"a": 0.9, "b": 0.85, "c": 0.4, "d": 0.3}
	result := extract.ComputeMCut(scores)

	assert.ElementsMatch(t, []string{"a", "b"}, result.Kept)
	assert.InDelta(t, 0.625, result.Confidence, 0.0001)
}

func TestMCut_SingleScore(t *testing.T) {
	result := extract.ComputeMCut(map[string]float64{"only": 0.7})
	assert.Equal(t, []string{"only"}, result.Kept)
	assert.Equal(t, 0.7, result.Confidence)
}

func TestAggregateTagGroups_KeepsMaxScorePerTag(t *testing.T) {
	groups := []extract.TagGroup{
		{SubNamespace: "character", Scores: map[string]float64{"alice": 0.5}},
		{SubNamespace: "character", Scores: map[string]float64{"alice": 0.9}},
	}
	aggregated := extract.AggregateTagGroups(groups)
	assert.Equal(t, 0.9, aggregated["character"].Scores["alice"])
}

func TestDedupTextEntries_DropsShortAndDuplicateCaseInsensitive(t *testing.T) {
	out := extract.DedupTextEntries([]string{"Hi", "hello", "HELLO", "ok", "world"})
	assert.Equal(t, []string{"hello", "world"}, out)
}
