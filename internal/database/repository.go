package database

import (
	"context"
	"fmt"
	"time"
)

// Repository handles score history persistence
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveSnapshot stores a snapshot. Missing IDs and timestamps are filled in.
func (r *Repository) SaveSnapshot(ctx context.Context, snap *ScoreSnapshot) error {
	if snap.ChildID == "" {
		return fmt.Errorf("snapshot has no child id")
	}
	if snap.ID == "" {
		fresh := NewScoreSnapshot(snap.ChildID, snap.Score, snap.AssessmentID, snap.ComputedAt)
		snap.ID = fresh.ID
	}
	if snap.ComputedAt.IsZero() {
		snap.ComputedAt = time.Now()
	}

	stmt, err := r.db.GetPreparedStatement(stmtInsertSnapshot)
	if err != nil {
		return err
	}

	_, err = stmt.ExecContext(ctx, snap.ID, snap.ChildID, snap.Score, snap.HasAssessment,
		snap.AssessmentID, snap.ComputedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// ListSnapshots returns a child's snapshots computed at or after since, oldest first.
func (r *Repository) ListSnapshots(ctx context.Context, childID string, since time.Time) ([]ScoreSnapshot, error) {
	stmt, err := r.db.GetPreparedStatement(stmtListSnapshots)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, childID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []ScoreSnapshot
	for rows.Next() {
		var s ScoreSnapshot
		if err := rows.Scan(&s.ID, &s.ChildID, &s.Score, &s.HasAssessment, &s.AssessmentID, &s.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshots: %w", err)
	}

	return snapshots, nil
}

// DailyScores returns the latest score per calendar day since the given
// time, oldest day first. Days are taken in since's location.
func (r *Repository) DailyScores(ctx context.Context, childID string, since time.Time) ([]DailyScore, error) {
	snapshots, err := r.ListSnapshots(ctx, childID, since)
	if err != nil {
		return nil, err
	}

	loc := since.Location()
	var days []DailyScore
	for _, s := range snapshots {
		t := s.ComputedAt.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)

		// rows arrive in time order, so the last one per day wins
		if n := len(days); n > 0 && days[n-1].Day.Equal(day) {
			days[n-1].Score = s.Score
			continue
		}
		days = append(days, DailyScore{Day: day, Score: s.Score})
	}

	return days, nil
}

// DeleteChildSnapshots removes a child's history and reports how many rows went.
func (r *Repository) DeleteChildSnapshots(ctx context.Context, childID string) (int64, error) {
	return r.exec(ctx, stmtDeleteChild, childID)
}

// PruneBefore removes every snapshot computed before t.
func (r *Repository) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	return r.exec(ctx, stmtPruneBefore, t.UTC())
}

func (r *Repository) exec(ctx context.Context, name string, args ...any) (int64, error) {
	stmt, err := r.db.GetPreparedStatement(name)
	if err != nil {
		return 0, err
	}

	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to run %s: %w", name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count affected rows: %w", err)
	}
	return n, nil
}
