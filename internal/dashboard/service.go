package dashboard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/babblebear/internal/adapters"
	"github.com/ZanzyTHEbar/babblebear/internal/babble"
	"github.com/ZanzyTHEbar/babblebear/internal/database"
	"github.com/ZanzyTHEbar/babblebear/internal/monitoring"
)

const (
	weeklyWindowDays   = 7
	recentSessionLimit = 10
	defaultConcurrency = 4
)

// Backend is the part of the backend client the dashboard uses.
type Backend interface {
	ListChildren(ctx context.Context) ([]babble.Child, error)
	CreateChild(ctx context.Context, in babble.ChildInput) (*babble.Child, error)
	UpdateChild(ctx context.Context, childID string, in babble.ChildInput) (*babble.Child, error)
	ListRecordings(ctx context.Context) ([]babble.Recording, error)
	ListChildRecordings(ctx context.Context, childID string) ([]babble.Recording, error)
	CreateRecording(ctx context.Context, in adapters.NewRecording) (*babble.Recording, error)
	UploadRecording(ctx context.Context, recordingID string, audio io.Reader, filename, contentType string) error
	AnalyzeRecording(ctx context.Context, recordingID string) error
	ListAssessments(ctx context.Context, childID string) ([]babble.Assessment, error)
	GenerateAssessment(ctx context.Context, childID string) (*babble.Assessment, error)
	LatestAssessment(ctx context.Context, childID string) (*babble.Assessment, error)
}

// History stores computed scores.
type History interface {
	SaveSnapshot(ctx context.Context, snap *database.ScoreSnapshot) error
	DailyScores(ctx context.Context, childID string, since time.Time) ([]database.DailyScore, error)
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
}

// Options tunes a Service. Zero values pick defaults.
type Options struct {
	Metrics  *monitoring.Metrics
	Logger   *monitoring.Logger
	Location *time.Location
	// Concurrency bounds the per-child fan-out in Summary.
	Concurrency int
	Now         func() time.Time
}

// Service combines backend data, the score aggregator and score history.
type Service struct {
	backend     Backend
	history     History
	metrics     *monitoring.Metrics
	logger      *monitoring.Logger
	loc         *time.Location
	concurrency int
	now         func() time.Time
}

// NewService creates a dashboard service.
func NewService(backend Backend, history History, opts Options) *Service {
	s := &Service{
		backend:     backend,
		history:     history,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		loc:         opts.Location,
		concurrency: opts.Concurrency,
		now:         opts.Now,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ChildView is a child profile with its age at the time of the request.
type ChildView struct {
	babble.Child
	Age       *babble.Age `json:"age,omitempty"`
	AgeLabel  string      `json:"age_label,omitempty"`
	AgeMonths int         `json:"age_months"`
}

func (s *Service) childView(c babble.Child) ChildView {
	v := ChildView{Child: c}
	if age, err := babble.ChildAge(c.DateOfBirth, s.now().In(s.loc)); err == nil {
		v.Age = &age
		v.AgeLabel = age.String()
		v.AgeMonths = age.TotalMonths()
	}
	return v
}

// Children lists all children with their ages.
func (s *Service) Children(ctx context.Context) ([]ChildView, error) {
	children, err := s.backend.ListChildren(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]ChildView, 0, len(children))
	for _, c := range children {
		views = append(views, s.childView(c))
	}
	return views, nil
}

// CreateChild creates a child profile. The input must already be validated.
func (s *Service) CreateChild(ctx context.Context, in babble.ChildInput) (*ChildView, error) {
	child, err := s.backend.CreateChild(ctx, in)
	if err != nil {
		return nil, err
	}
	v := s.childView(*child)
	return &v, nil
}

// UpdateChild replaces a child profile. The input must already be validated.
func (s *Service) UpdateChild(ctx context.Context, childID string, in babble.ChildInput) (*ChildView, error) {
	child, err := s.backend.UpdateChild(ctx, childID, in)
	if err != nil {
		return nil, err
	}
	v := s.childView(*child)
	return &v, nil
}

// RecordingHistory is a child's recordings, newest first, with the totals
// shown above the list.
type RecordingHistory struct {
	Recordings    []babble.Recording `json:"recordings"`
	Count         int                `json:"count"`
	AnalyzedCount int                `json:"analyzed_count"`
	TotalSeconds  float64            `json:"total_seconds"`
	TotalDuration string             `json:"total_duration"`
}

// ChildRecordings lists a child's recordings, newest first.
func (s *Service) ChildRecordings(ctx context.Context, childID string) (*RecordingHistory, error) {
	recordings, err := s.backend.ListChildRecordings(ctx, childID)
	if err != nil {
		return nil, err
	}
	if recordings == nil {
		recordings = []babble.Recording{}
	}
	sortRecordingsNewestFirst(recordings)

	h := &RecordingHistory{Recordings: recordings, Count: len(recordings)}
	for _, r := range recordings {
		if r.IsAnalyzed {
			h.AnalyzedCount++
		}
		if r.Duration > 0 {
			h.TotalSeconds += r.Duration
		}
	}
	h.TotalDuration = babble.FormatDuration(h.TotalSeconds)
	return h, nil
}

// ScoreResult is a child's current babble score and its recent trend.
// ChangeFromYesterday is a percentage and is nil when yesterday has no score.
type ScoreResult struct {
	ChildID             string    `json:"child_id"`
	Score               int       `json:"score"`
	Label               string    `json:"label"`
	HasAssessment       bool      `json:"has_assessment"`
	AssessmentID        string    `json:"assessment_id,omitempty"`
	WeeklyAverage       int       `json:"weekly_average"`
	ChangeFromYesterday *float64  `json:"change_from_yesterday,omitempty"`
	ComputedAt          time.Time `json:"computed_at"`
}

// ChildScore scores the child's latest assessment, records the score and
// reports the weekly average and the change from yesterday.
func (s *Service) ChildScore(ctx context.Context, childID string) (*ScoreResult, error) {
	assessment, err := s.backend.LatestAssessment(ctx, childID)
	if err != nil {
		return nil, err
	}
	return s.scoreAssessment(ctx, childID, assessment)
}

func (s *Service) scoreAssessment(ctx context.Context, childID string, assessment *babble.Assessment) (*ScoreResult, error) {
	start := time.Now()
	now := s.now()

	score := babble.ComputeScore(assessment)
	result := &ScoreResult{
		ChildID:       childID,
		Score:         score,
		Label:         babble.ScoreLabel(score),
		HasAssessment: assessment != nil,
		WeeklyAverage: babble.DefaultScore,
		ComputedAt:    now,
	}
	if assessment != nil {
		result.AssessmentID = assessment.ID
	}

	if s.metrics != nil {
		s.metrics.RecordScore(result.HasAssessment)
	}

	// history only feeds the trend, so a failure leaves the defaults in place
	if s.history != nil {
		if err := s.history.SaveSnapshot(ctx, database.NewScoreSnapshot(childID, score, result.AssessmentID, now)); err != nil {
			slog.Warn("Failed to save score snapshot", "child_id", childID, "error", err)
		}
		if err := s.applyTrend(ctx, result, now); err != nil {
			slog.Warn("Score trend unavailable", "child_id", childID, "error", err)
		}
	}

	if s.logger != nil {
		s.logger.ScoreLogger(childID, score, result.HasAssessment, time.Since(start))
	}
	return result, nil
}

func (s *Service) applyTrend(ctx context.Context, result *ScoreResult, now time.Time) error {
	local := now.In(s.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	since := today.AddDate(0, 0, -(weeklyWindowDays - 1))

	days, err := s.history.DailyScores(ctx, result.ChildID, since)
	if err != nil {
		return fmt.Errorf("loading score history: %w", err)
	}

	scores := make([]int, 0, len(days))
	for _, d := range days {
		scores = append(scores, d.Score)
	}
	result.WeeklyAverage = babble.ComputeAverage(scores)

	yesterday := today.AddDate(0, 0, -1)
	for _, d := range days {
		if d.Day.Equal(yesterday) {
			if change, ok := babble.PercentChange(d.Score, result.Score); ok {
				result.ChangeFromYesterday = &change
			}
			break
		}
	}
	return nil
}

// Session is a recent recording as shown on the dashboard.
type Session struct {
	babble.Recording
	ChildName         string `json:"child_name"`
	FormattedDuration string `json:"formatted_duration"`
}

// Summary is the dashboard page payload.
type Summary struct {
	OverallScore   int              `json:"overall_score"`
	OverallLabel   string           `json:"overall_label"`
	Children       []ChildView      `json:"children"`
	ChildScores    []ScoreResult    `json:"child_scores"`
	RecentSessions []Session        `json:"recent_sessions"`
	TodaySessions  int              `json:"today_sessions"`
	Insights       []babble.Insight `json:"insights"`
	Warnings       []string         `json:"warnings,omitempty"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// Summary builds the dashboard page. A child whose assessment cannot be
// fetched is scored as having none and reported in Warnings; failing to list
// children fails the summary.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	var (
		children   []babble.Child
		recordings []babble.Recording
		recErr     error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		children, err = s.backend.ListChildren(gctx)
		return err
	})
	g.Go(func() error {
		// recordings only feed the session list, so a failure degrades it
		recs, err := s.backend.ListRecordings(gctx)
		if err != nil {
			recErr = err
			return nil
		}
		recordings = recs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &Summary{
		Children:    make([]ChildView, 0, len(children)),
		ChildScores: make([]ScoreResult, len(children)),
		GeneratedAt: s.now(),
	}
	if recErr != nil {
		slog.Warn("Failed to list recordings for dashboard", "error", recErr)
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("recordings unavailable: %v", recErr))
	}

	var mu sync.Mutex
	fan, fctx := errgroup.WithContext(ctx)
	fan.SetLimit(s.concurrency)
	for i, child := range children {
		summary.Children = append(summary.Children, s.childView(child))
		fan.Go(func() error {
			assessment, err := s.backend.LatestAssessment(fctx, child.ID)
			if err != nil {
				slog.Warn("Assessment unavailable, using default score", "child_id", child.ID, "error", err)
				mu.Lock()
				summary.Warnings = append(summary.Warnings, fmt.Sprintf("assessment for child %s unavailable: %v", child.ID, err))
				mu.Unlock()
				assessment = nil
			}
			result, err := s.scoreAssessment(fctx, child.ID, assessment)
			if err != nil {
				return err
			}
			summary.ChildScores[i] = *result
			return nil
		})
	}
	if err := fan.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(summary.Warnings)

	scores := make([]int, 0, len(summary.ChildScores))
	for _, r := range summary.ChildScores {
		scores = append(scores, r.Score)
	}
	summary.OverallScore = babble.ComputeAverage(scores)
	summary.OverallLabel = babble.ScoreLabel(summary.OverallScore)

	summary.RecentSessions, summary.TodaySessions = s.sessions(children, recordings)
	summary.Insights = babble.DailyInsights(s.todaysScores(summary.ChildScores, recordings))

	return summary, nil
}

func (s *Service) sessions(children []babble.Child, recordings []babble.Recording) ([]Session, int) {
	names := make(map[string]string, len(children))
	for _, c := range children {
		names[c.ID] = c.Name
	}

	sorted := make([]babble.Recording, len(recordings))
	copy(sorted, recordings)
	sortRecordingsNewestFirst(sorted)

	now := s.now()
	today := 0
	for _, r := range sorted {
		if t := r.RecordedTime(); !t.IsZero() && babble.SameDay(t, now, s.loc) {
			today++
		}
	}

	if len(sorted) > recentSessionLimit {
		sorted = sorted[:recentSessionLimit]
	}
	recent := make([]Session, 0, len(sorted))
	for _, r := range sorted {
		name := names[r.ChildID]
		if name == "" {
			name = "Unknown"
		}
		recent = append(recent, Session{
			Recording:         r,
			ChildName:         name,
			FormattedDuration: babble.FormatDuration(r.Duration),
		})
	}
	return recent, today
}

// todaysScores are the scores of the children recorded today.
func (s *Service) todaysScores(results []ScoreResult, recordings []babble.Recording) []int {
	now := s.now()
	recordedToday := make(map[string]bool)
	for _, r := range recordings {
		if t := r.RecordedTime(); !t.IsZero() && babble.SameDay(t, now, s.loc) {
			recordedToday[r.ChildID] = true
		}
	}

	var scores []int
	for _, r := range results {
		if recordedToday[r.ChildID] {
			scores = append(scores, r.Score)
		}
	}
	return scores
}

// AssessmentView is an assessment with its derived presentation fields.
type AssessmentView struct {
	babble.Assessment
	RiskLevel       string             `json:"risk_level"`
	BabbleScore     int                `json:"babble_score"`
	ScoreLabel      string             `json:"score_label"`
	Categories      map[string]float64 `json:"categories"`
	Recommendations []string           `json:"recommendations"`
}

func newAssessmentView(a babble.Assessment) AssessmentView {
	score := babble.ComputeScore(&a)
	v := AssessmentView{
		Assessment:      a,
		RiskLevel:       babble.RiskLevel(a.AutismProbability),
		BabbleScore:     score,
		ScoreLabel:      babble.ScoreLabel(score),
		Categories:      a.DominantSoundCategories.Shares,
		Recommendations: a.Recommendations(),
	}
	if v.Categories == nil {
		v.Categories = map[string]float64{}
	}
	if v.Recommendations == nil {
		v.Recommendations = []string{}
	}
	return v
}

// Assessments lists a child's assessments, newest first, with derived fields.
func (s *Service) Assessments(ctx context.Context, childID string) ([]AssessmentView, error) {
	assessments, err := s.backend.ListAssessments(ctx, childID)
	if err != nil {
		return nil, err
	}
	views := make([]AssessmentView, 0, len(assessments))
	for _, a := range assessments {
		views = append(views, newAssessmentView(a))
	}
	return views, nil
}

// GenerateAssessment asks the backend for a fresh assessment.
func (s *Service) GenerateAssessment(ctx context.Context, childID string) (*AssessmentView, error) {
	a, err := s.backend.GenerateAssessment(ctx, childID)
	if err != nil {
		return nil, err
	}
	v := newAssessmentView(*a)
	return &v, nil
}

func sortRecordingsNewestFirst(recordings []babble.Recording) {
	sort.SliceStable(recordings, func(i, j int) bool {
		return recordings[i].RecordedTime().After(recordings[j].RecordedTime())
	})
}
