package database

import (
	"time"

	"github.com/google/uuid"
)

// ScoreSnapshot is one computed babble score for a child.
type ScoreSnapshot struct {
	ID            string    `json:"id" db:"id"`
	ChildID       string    `json:"child_id" db:"child_id"`
	Score         int       `json:"score" db:"score"`
	HasAssessment bool      `json:"has_assessment" db:"has_assessment"`
	AssessmentID  string    `json:"assessment_id,omitempty" db:"assessment_id"`
	ComputedAt    time.Time `json:"computed_at" db:"computed_at"`
}

// DailyScore is the last score recorded on a calendar day.
type DailyScore struct {
	Day   time.Time `json:"day"`
	Score int       `json:"score"`
}

// NewScoreSnapshot creates a snapshot with a generated ID.
func NewScoreSnapshot(childID string, score int, assessmentID string, computedAt time.Time) *ScoreSnapshot {
	return &ScoreSnapshot{
		ID:            uuid.New().String(),
		ChildID:       childID,
		Score:         score,
		HasAssessment: assessmentID != "",
		AssessmentID:  assessmentID,
		ComputedAt:    computedAt,
	}
}
