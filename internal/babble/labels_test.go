package babble

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreLabel(t *testing.T) {
	tests := []struct {
		score    int
		expected string
	}{
		{100, "Excellent"},
		{80, "Excellent"},
		{79, "Good"},
		{60, "Good"},
		{59, "Needs Attention"},
		{0, "Needs Attention"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ScoreLabel(tt.score), "score %d", tt.score)
	}
}

func TestRiskLevel(t *testing.T) {
	assert.Equal(t, "low", RiskLevel(0))
	assert.Equal(t, "low", RiskLevel(25))
	assert.Equal(t, "moderate", RiskLevel(25.5))
	assert.Equal(t, "moderate", RiskLevel(50))
	assert.Equal(t, "high", RiskLevel(50.1))
	assert.Equal(t, "high", RiskLevel(100))
}

func TestDailyInsights(t *testing.T) {
	tests := []struct {
		name   string
		scores []int
		titles []string
	}{
		{name: "no sessions", scores: nil, titles: []string{"First Session"}},
		{name: "excellent day", scores: []int{85, 90}, titles: []string{"Great Progress!", "Daily Tip"}},
		{name: "average day", scores: []int{65, 70}, titles: []string{"Daily Tip"}},
		{name: "low day", scores: []int{40, 55}, titles: []string{"Keep Monitoring", "Daily Tip"}},
		{name: "boundary at 80 is positive", scores: []int{80}, titles: []string{"Great Progress!", "Daily Tip"}},
		{name: "boundary at 60 is neutral", scores: []int{60}, titles: []string{"Daily Tip"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insights := DailyInsights(tt.scores)
			titles := make([]string, 0, len(insights))
			for _, in := range insights {
				titles = append(titles, in.Title)
			}
			assert.Equal(t, tt.titles, titles)
		})
	}

	assert.Equal(t, InsightAttention, DailyInsights([]int{10})[0].Type)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00", FormatDuration(0))
	assert.Equal(t, "0:09", FormatDuration(9))
	assert.Equal(t, "3:15", FormatDuration(195))
	assert.Equal(t, "1:00", FormatDuration(59.6))
	assert.Equal(t, "0:00", FormatDuration(-4))
}

func TestPercentChange(t *testing.T) {
	change, ok := PercentChange(80, 90)
	require.True(t, ok)
	assert.Equal(t, 12.5, change)

	change, ok = PercentChange(90, 60)
	require.True(t, ok)
	assert.Equal(t, -33.3, change)

	_, ok = PercentChange(0, 50)
	assert.False(t, ok)
}

func TestChildAge(t *testing.T) {
	now := time.Date(2026, time.October, 14, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		birthDate string
		expected  Age
		text      string
	}{
		{name: "newborn", birthDate: "2026-10-14", expected: Age{}, text: "0 days"},
		{name: "days old", birthDate: "2026-10-02", expected: Age{Days: 12}, text: "12 days"},
		{name: "one month", birthDate: "2026-09-14", expected: Age{Months: 1}, text: "1 month"},
		{name: "months and days", birthDate: "2026-03-20", expected: Age{Months: 6, Days: 24}, text: "6 months"},
		{name: "toddler in months", birthDate: "2025-06-14", expected: Age{Years: 1, Months: 4}, text: "16 months"},
		{name: "two years", birthDate: "2024-10-14", expected: Age{Years: 2}, text: "2 years"},
		{name: "years and months", birthDate: "2023-07-01", expected: Age{Years: 3, Months: 3, Days: 13}, text: "3 years 3 months"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			age, err := ChildAge(tt.birthDate, now)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, age)
			assert.Equal(t, tt.text, age.String())
		})
	}
}

func TestChildAgeEndOfMonth(t *testing.T) {
	tests := []struct {
		name      string
		birthDate string
		now       time.Time
		expected  Age
		text      string
	}{
		{name: "day before clamped anchor", birthDate: "2025-01-31", now: time.Date(2025, time.February, 27, 0, 0, 0, 0, time.UTC), expected: Age{Days: 27}, text: "27 days"},
		{name: "clamped anchor completes the month", birthDate: "2025-01-31", now: time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC), expected: Age{Months: 1}, text: "1 month"},
		{name: "day after clamped anchor", birthDate: "2025-01-31", now: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), expected: Age{Months: 1, Days: 1}, text: "1 month"},
		{name: "second month waits for the 31st", birthDate: "2025-01-31", now: time.Date(2025, time.March, 30, 0, 0, 0, 0, time.UTC), expected: Age{Months: 1, Days: 30}, text: "1 month"},
		{name: "leap day birthday in common year", birthDate: "2024-02-29", now: time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC), expected: Age{Years: 1}, text: "12 months"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			age, err := ChildAge(tt.birthDate, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, age)
			assert.Equal(t, tt.text, age.String())
		})
	}
}

func TestChildAgeErrors(t *testing.T) {
	now := time.Date(2026, time.October, 14, 0, 0, 0, 0, time.UTC)

	_, err := ChildAge("14/10/2026", now)
	assert.Error(t, err)

	_, err = ChildAge("2026-10-15", now)
	assert.Error(t, err)
}

func TestChildInputValidate(t *testing.T) {
	now := time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		input  ChildInput
		fields []string
	}{
		{
			name:  "valid",
			input: ChildInput{Name: "Maya", DateOfBirth: "2025-04-02", Gender: "female", WeightAtBirth: 3.2},
		},
		{
			name:  "gender is optional",
			input: ChildInput{Name: "Leo", DateOfBirth: "2025-04-02"},
		},
		{
			name:   "missing name and birth date",
			input:  ChildInput{},
			fields: []string{"date_of_birth", "name"},
		},
		{
			name:   "future birth date",
			input:  ChildInput{Name: "Ari", DateOfBirth: "2026-12-01"},
			fields: []string{"date_of_birth"},
		},
		{
			name:   "unknown gender and negative measures",
			input:  ChildInput{Name: "Ari", DateOfBirth: "2025-01-01", Gender: "other", WeightAtBirth: -1, HeightAtBirth: -2},
			fields: []string{"gender", "height_at_birth", "weight_at_birth"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problems := tt.input.Validate(now)
			if len(tt.fields) == 0 {
				assert.Nil(t, problems)
				return
			}
			fields := make([]string, 0, len(problems))
			for field := range problems {
				fields = append(fields, field)
			}
			assert.ElementsMatch(t, tt.fields, fields)
		})
	}
}

func TestChildInputNormalize(t *testing.T) {
	in := ChildInput{Name: "  Maya ", Gender: " FEMALE ", DateOfBirth: " 2025-04-02"}
	in.Normalize()
	assert.Equal(t, "Maya", in.Name)
	assert.Equal(t, "female", in.Gender)
	assert.Equal(t, "2025-04-02", in.DateOfBirth)
}
