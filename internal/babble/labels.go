package babble

import (
	"fmt"
	"math"
	"time"
)

// Score label and risk level thresholds used by the dashboard cards.
const (
	excellentThreshold = 80
	goodThreshold      = 60

	lowRiskLimit      = 25
	moderateRiskLimit = 50
)

// ScoreLabel names the band a babble score falls in.
func ScoreLabel(score int) string {
	switch {
	case score >= excellentThreshold:
		return "Excellent"
	case score >= goodThreshold:
		return "Good"
	default:
		return "Needs Attention"
	}
}

// RiskLevel buckets an autism probability percentage.
func RiskLevel(probability float64) string {
	switch {
	case probability <= lowRiskLimit:
		return "low"
	case probability <= moderateRiskLimit:
		return "moderate"
	default:
		return "high"
	}
}

// InsightType classifies an Insight for presentation.
type InsightType string

const (
	InsightPositive   InsightType = "positive"
	InsightAttention  InsightType = "attention"
	InsightSuggestion InsightType = "suggestion"
)

// Insight is a short message shown next to the daily score.
type Insight struct {
	Type    InsightType `json:"type"`
	Title   string      `json:"title"`
	Message string      `json:"message"`
}

// DailyInsights derives the insight list from the scores recorded today.
func DailyInsights(todaysScores []int) []Insight {
	if len(todaysScores) == 0 {
		return []Insight{{
			Type:    InsightSuggestion,
			Title:   "First Session",
			Message: "Record your first session today to start tracking progress!",
		}}
	}

	sum := 0
	for _, s := range todaysScores {
		sum += s
	}
	avg := float64(sum) / float64(len(todaysScores))

	insights := make([]Insight, 0, 2)
	switch {
	case avg >= excellentThreshold:
		insights = append(insights, Insight{
			Type:    InsightPositive,
			Title:   "Great Progress!",
			Message: "Your baby's babbling shows excellent development patterns today.",
		})
	case avg < goodThreshold:
		insights = append(insights, Insight{
			Type:    InsightAttention,
			Title:   "Keep Monitoring",
			Message: "Consider more interactive play sessions to encourage vocalization.",
		})
	}

	return append(insights, Insight{
		Type:    InsightSuggestion,
		Title:   "Daily Tip",
		Message: "Reading aloud can help boost phoneme diversity in your baby's speech.",
	})
}

// FormatDuration renders seconds as m:ss.
func FormatDuration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(math.Round(seconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// PercentChange is the relative change from previous to current in percent,
// rounded to one decimal. ok is false when previous is zero.
func PercentChange(previous, current int) (change float64, ok bool) {
	if previous == 0 {
		return 0, false
	}
	pct := float64(current-previous) / float64(previous) * 100
	return math.Round(pct*10) / 10, true
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
