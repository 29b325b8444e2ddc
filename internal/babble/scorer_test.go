package babble

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assessment(probability, confidence float64, recordings int, unknown float64) *Assessment {
	return &Assessment{
		AutismProbability:       probability,
		ConfidenceLevel:         confidence,
		TotalRecordingsAnalyzed: recordings,
		DominantSoundCategories: NewSoundCategories(map[string]float64{
			"babbling": 100 - unknown,
			"unknown":  unknown,
		}),
	}
}

func TestComputeScore(t *testing.T) {
	tests := []struct {
		name       string
		assessment *Assessment
		expected   int
	}{
		{
			name:       "absent assessment uses default",
			assessment: nil,
			expected:   75,
		},
		{
			name:       "perfect signals are clamped to 100",
			assessment: assessment(0, 1, 10, 0),
			expected:   100,
		},
		{
			name:       "worst signals are clamped to 0",
			assessment: assessment(100, 0, 0, 80),
			expected:   0,
		},
		{
			name:       "light penalty band",
			assessment: assessment(50, 0.5, 1, 10),
			// 100 - 30 - 2 + 5 + 2
			expected: 75,
		},
		{
			name:       "moderate penalty band",
			assessment: assessment(50, 0.5, 1, 30),
			// 100 - 30 - 17 + 5 + 2
			expected: 60,
		},
		{
			name:       "heavy penalty band",
			assessment: assessment(10, 0.8, 3, 60),
			// 100 - 6 - 51 + 8 + 6
			expected: 57,
		},
		{
			name:       "recording boost is capped",
			assessment: assessment(40, 0, 100, 0),
			// 100 - 24 + 10
			expected: 86,
		},
		{
			name:       "rounds to nearest integer",
			assessment: assessment(12.5, 0.25, 0, 0),
			// 100 - 7.5 + 2.5
			expected: 95,
		},
		{
			name:       "rounds fractional result up",
			assessment: assessment(0.5, 0.5, 0, 50),
			// 100 - 0.3 - 25 + 5 = 79.7
			expected: 80,
		},
		{
			name:       "rounds half away from zero",
			assessment: assessment(0, 0, 0, 2.5),
			// 100 - 0.5
			expected: 100,
		},
		{
			name: "missing unknown category means no penalty",
			assessment: &Assessment{
				AutismProbability:       20,
				ConfidenceLevel:         0.5,
				TotalRecordingsAnalyzed: 2,
				DominantSoundCategories: NewSoundCategories(map[string]float64{"babbling": 100}),
			},
			// 100 - 12 + 5 + 4
			expected: 97,
		},
		{
			name: "empty categories mean no penalty",
			assessment: &Assessment{
				AutismProbability:       50,
				DominantSoundCategories: NewSoundCategories(map[string]float64{}),
			},
			expected: 70,
		},
		{
			name: "malformed categories use fallback",
			assessment: &Assessment{
				AutismProbability:       0,
				ConfidenceLevel:         1,
				DominantSoundCategories: ParseSoundCategories("not json"),
			},
			expected: 65,
		},
		{
			name: "non-finite input uses fallback",
			assessment: &Assessment{
				AutismProbability:       math.NaN(),
				DominantSoundCategories: NewSoundCategories(nil),
			},
			expected: 65,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputeScore(tt.assessment))
		})
	}
}

func TestUnknownPenaltyBandEdges(t *testing.T) {
	tests := []struct {
		name     string
		unknown  float64
		expected float64
	}{
		{name: "zero", unknown: 0, expected: 0},
		{name: "just above zero", unknown: 0.5, expected: 0.1},
		{name: "light upper bound", unknown: 20, expected: 4},
		{name: "just above light bound", unknown: 20.0001, expected: 20.0001*0.4 + 5},
		{name: "moderate upper bound", unknown: 50, expected: 25},
		{name: "just above moderate bound", unknown: 50.0001, expected: 50.0001*0.6 + 15},
		{name: "everything unknown", unknown: 100, expected: 75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, unknownPenalty(tt.unknown), 1e-9)
		})
	}
}

func TestComputeScoreBandEdgeScores(t *testing.T) {
	// probability 0, confidence 0, no recordings leaves 100 - penalty
	assert.Equal(t, 96, ComputeScore(assessment(0, 0, 0, 20)))
	assert.Equal(t, 87, ComputeScore(assessment(0, 0, 0, 20.0001)))
	assert.Equal(t, 75, ComputeScore(assessment(0, 0, 0, 50)))
	assert.Equal(t, 55, ComputeScore(assessment(0, 0, 0, 50.0001)))
}

func TestComputeScoreAlwaysInRange(t *testing.T) {
	for p := 0.0; p <= 100; p += 12.5 {
		for c := 0.0; c <= 1; c += 0.25 {
			for r := 0; r <= 8; r += 2 {
				for u := 0.0; u <= 100; u += 10 {
					score := ComputeScore(assessment(p, c, r, u))
					assert.GreaterOrEqual(t, score, 0)
					assert.LessOrEqual(t, score, 100)
				}
			}
		}
	}
}

func TestComputeScoreMonotonicity(t *testing.T) {
	t.Run("higher probability never raises the score", func(t *testing.T) {
		for _, u := range []float64{0, 15, 20, 35, 50, 75} {
			prev := ComputeScore(assessment(0, 0.6, 3, u))
			for p := 1.0; p <= 100; p++ {
				score := ComputeScore(assessment(p, 0.6, 3, u))
				assert.LessOrEqual(t, score, prev, "probability %v unknown %v", p, u)
				prev = score
			}
		}
	})

	t.Run("higher confidence never lowers the score", func(t *testing.T) {
		for _, u := range []float64{0, 15, 20, 35, 50, 75} {
			prev := ComputeScore(assessment(60, 0, 2, u))
			for c := 0.05; c <= 1.0001; c += 0.05 {
				score := ComputeScore(assessment(60, c, 2, u))
				assert.GreaterOrEqual(t, score, prev, "confidence %v unknown %v", c, u)
				prev = score
			}
		}
	})
}

func TestComputeAverage(t *testing.T) {
	tests := []struct {
		name     string
		scores   []int
		expected int
	}{
		{name: "empty uses default", scores: nil, expected: 75},
		{name: "empty slice uses default", scores: []int{}, expected: 75},
		{name: "single score", scores: []int{42}, expected: 42},
		{name: "two scores", scores: []int{80, 90}, expected: 85},
		{name: "rounds half up", scores: []int{80, 81}, expected: 81},
		{name: "rounds down", scores: []int{70, 70, 71}, expected: 70},
		{name: "extremes", scores: []int{0, 100}, expected: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputeAverage(tt.scores))
		})
	}
}

func TestAssessmentDecoding(t *testing.T) {
	tests := []struct {
		name          string
		categories    string
		malformed     bool
		unknown       float64
		expectedScore int
	}{
		{
			name:          "string encoded object",
			categories:    `"{\"babbling\": 70, \"unknown\": 30}"`,
			unknown:       30,
			expectedScore: 100 - 24 - 17 + 5 + 4,
		},
		{
			name:          "plain object",
			categories:    `{"babbling": 90, "unknown": 10}`,
			unknown:       10,
			expectedScore: 100 - 24 - 2 + 5 + 4,
		},
		{
			name:          "null categories",
			categories:    `null`,
			expectedScore: 100 - 24 + 5 + 4,
		},
		{
			name:          "string with invalid json",
			categories:    `"{babbling: 70"`,
			malformed:     true,
			expectedScore: 65,
		},
		{
			name:          "string encoded non-numeric values",
			categories:    `"{\"unknown\": \"lots\"}"`,
			malformed:     true,
			expectedScore: 65,
		},
		{
			name:          "string encoded array",
			categories:    `"[1, 2, 3]"`,
			malformed:     true,
			expectedScore: 65,
		},
		{
			name:          "empty string",
			categories:    `""`,
			malformed:     true,
			expectedScore: 65,
		},
		{
			name:          "number",
			categories:    `42`,
			malformed:     true,
			expectedScore: 65,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := `{
				"id": "a1",
				"child_id": "c1",
				"assessment_date": "2026-10-01T10:00:00Z",
				"autism_probability": 40,
				"confidence_level": 0.5,
				"total_recordings_analyzed": 2,
				"dominant_sound_categories": ` + tt.categories + `,
				"recommended_actions": "[\"Read aloud daily\"]",
				"notes": null
			}`

			var a Assessment
			require.NoError(t, json.Unmarshal([]byte(payload), &a))

			assert.Equal(t, tt.malformed, a.DominantSoundCategories.Malformed)
			assert.Equal(t, tt.unknown, a.DominantSoundCategories.Share("unknown"))
			assert.Equal(t, tt.expectedScore, ComputeScore(&a))
			assert.Equal(t, []string{"Read aloud daily"}, a.Recommendations())
		})
	}
}

func TestSoundCategoriesMarshal(t *testing.T) {
	out, err := json.Marshal(NewSoundCategories(map[string]float64{"unknown": 5}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"unknown": 5}`, string(out))

	var sc SoundCategories
	require.NoError(t, sc.UnmarshalJSON([]byte(`"broken"`)))
	out, err = json.Marshal(sc)
	require.NoError(t, err)
	assert.Equal(t, `"broken"`, string(out))
}
