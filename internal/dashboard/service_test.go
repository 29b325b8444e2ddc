package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/babblebear/internal/adapters"
	"github.com/ZanzyTHEbar/babblebear/internal/babble"
	"github.com/ZanzyTHEbar/babblebear/internal/config"
	"github.com/ZanzyTHEbar/babblebear/internal/database"
	"github.com/ZanzyTHEbar/babblebear/internal/monitoring"
	"github.com/ZanzyTHEbar/babblebear/internal/resilience"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu sync.Mutex

	children      []babble.Child
	childrenErr   error
	recordings    []babble.Recording
	recordingsErr error
	assessments   map[string][]babble.Assessment
	assessmentErr map[string]error

	createErr   error
	uploadErr   error
	analyzeErr  error
	generateErr error

	created  []adapters.NewRecording
	uploaded []string
	analyzed []string
}

func (f *fakeBackend) ListChildren(ctx context.Context) ([]babble.Child, error) {
	return f.children, f.childrenErr
}

func (f *fakeBackend) CreateChild(ctx context.Context, in babble.ChildInput) (*babble.Child, error) {
	return &babble.Child{ID: "new", Name: in.Name, DateOfBirth: in.DateOfBirth}, nil
}

func (f *fakeBackend) UpdateChild(ctx context.Context, childID string, in babble.ChildInput) (*babble.Child, error) {
	return &babble.Child{ID: childID, Name: in.Name, DateOfBirth: in.DateOfBirth}, nil
}

func (f *fakeBackend) ListRecordings(ctx context.Context) ([]babble.Recording, error) {
	return f.recordings, f.recordingsErr
}

func (f *fakeBackend) ListChildRecordings(ctx context.Context, childID string) ([]babble.Recording, error) {
	var out []babble.Recording
	for _, r := range f.recordings {
		if r.ChildID == childID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeBackend) CreateRecording(ctx context.Context, in adapters.NewRecording) (*babble.Recording, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	return &babble.Recording{ID: "rec-1", ChildID: in.ChildID, SessionName: in.SessionName}, nil
}

func (f *fakeBackend) UploadRecording(ctx context.Context, recordingID string, audio io.Reader, filename, contentType string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	data, err := io.ReadAll(audio)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, recordingID+":"+filename+":"+string(data))
	return nil
}

func (f *fakeBackend) AnalyzeRecording(ctx context.Context, recordingID string) error {
	if f.analyzeErr != nil {
		return f.analyzeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed = append(f.analyzed, recordingID)
	return nil
}

func (f *fakeBackend) ListAssessments(ctx context.Context, childID string) ([]babble.Assessment, error) {
	if err := f.assessmentErr[childID]; err != nil {
		return nil, err
	}
	return f.assessments[childID], nil
}

func (f *fakeBackend) GenerateAssessment(ctx context.Context, childID string) (*babble.Assessment, error) {
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	a := sampleAssessment(childID)
	return &a, nil
}

func (f *fakeBackend) LatestAssessment(ctx context.Context, childID string) (*babble.Assessment, error) {
	list, err := f.ListAssessments(ctx, childID)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// sampleAssessment scores 62: 100 - 30 - 17 + 5 + 4.
func sampleAssessment(childID string) babble.Assessment {
	return babble.Assessment{
		ID:                      "as-" + childID,
		ChildID:                 childID,
		AssessmentDate:          "2026-03-09T10:00:00Z",
		AutismProbability:       50,
		ConfidenceLevel:         0.5,
		TotalRecordingsAnalyzed: 2,
		DominantSoundCategories: babble.NewSoundCategories(map[string]float64{"canonical": 70, "unknown": 30}),
		RecommendedActions:      `["Read aloud daily"]`,
	}
}

func newTestHistory(t *testing.T) *database.Repository {
	t.Helper()

	db, err := database.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return database.NewRepository(db)
}

type brokenHistory struct{}

func (brokenHistory) SaveSnapshot(ctx context.Context, snap *database.ScoreSnapshot) error {
	return errors.New("disk full")
}

func (brokenHistory) DailyScores(ctx context.Context, childID string, since time.Time) ([]database.DailyScore, error) {
	return nil, errors.New("disk full")
}

func (brokenHistory) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	return 0, errors.New("disk full")
}

func newTestService(backend Backend, history History) *Service {
	return NewService(backend, history, Options{
		Metrics:  monitoring.NewMetrics(),
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	})
}

func TestChildScore(t *testing.T) {
	ctx := context.Background()

	t.Run("no assessment yields default", func(t *testing.T) {
		svc := newTestService(&fakeBackend{}, newTestHistory(t))

		result, err := svc.ChildScore(ctx, "c1")
		require.NoError(t, err)

		assert.Equal(t, babble.DefaultScore, result.Score)
		assert.Equal(t, "Good", result.Label)
		assert.False(t, result.HasAssessment)
		assert.Equal(t, babble.DefaultScore, result.WeeklyAverage)
		assert.Nil(t, result.ChangeFromYesterday)
	})

	t.Run("trend from history", func(t *testing.T) {
		history := newTestHistory(t)
		backend := &fakeBackend{assessments: map[string][]babble.Assessment{"c1": {sampleAssessment("c1")}}}
		svc := newTestService(backend, history)

		yesterday := database.NewScoreSnapshot("c1", 50, "", testNow.Add(-27*time.Hour))
		require.NoError(t, history.SaveSnapshot(ctx, yesterday))
		old := database.NewScoreSnapshot("c1", 10, "", testNow.AddDate(0, 0, -8))
		require.NoError(t, history.SaveSnapshot(ctx, old))

		result, err := svc.ChildScore(ctx, "c1")
		require.NoError(t, err)

		assert.Equal(t, 62, result.Score)
		assert.True(t, result.HasAssessment)
		assert.Equal(t, "as-c1", result.AssessmentID)
		assert.Equal(t, 56, result.WeeklyAverage)
		require.NotNil(t, result.ChangeFromYesterday)
		assert.InDelta(t, 24.0, *result.ChangeFromYesterday, 0.001)

		snaps, err := history.ListSnapshots(ctx, "c1", testNow.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, snaps, 1)
		assert.Equal(t, 62, snaps[0].Score)
		assert.True(t, snaps[0].HasAssessment)
	})

	t.Run("history failure keeps defaults", func(t *testing.T) {
		backend := &fakeBackend{assessments: map[string][]babble.Assessment{"c1": {sampleAssessment("c1")}}}
		svc := newTestService(backend, brokenHistory{})

		result, err := svc.ChildScore(ctx, "c1")
		require.NoError(t, err)

		assert.Equal(t, 62, result.Score)
		assert.True(t, result.HasAssessment)
		assert.Equal(t, babble.DefaultScore, result.WeeklyAverage)
		assert.Nil(t, result.ChangeFromYesterday)
	})

	t.Run("backend failure is returned", func(t *testing.T) {
		backend := &fakeBackend{assessmentErr: map[string]error{"c1": errors.New("boom")}}
		svc := newTestService(backend, newTestHistory(t))

		_, err := svc.ChildScore(ctx, "c1")
		assert.Error(t, err)
	})

	t.Run("records metrics", func(t *testing.T) {
		backend := &fakeBackend{assessments: map[string][]babble.Assessment{"c1": {sampleAssessment("c1")}}}
		svc := newTestService(backend, nil)

		_, err := svc.ChildScore(ctx, "c1")
		require.NoError(t, err)
		_, err = svc.ChildScore(ctx, "c2")
		require.NoError(t, err)

		assert.Equal(t, int64(2), svc.metrics.ScoresComputed)
		assert.Equal(t, int64(1), svc.metrics.ScoresAssessed)
		assert.Equal(t, int64(1), svc.metrics.ScoresDefault)
	})
}

func summaryBackend() *fakeBackend {
	return &fakeBackend{
		children: []babble.Child{
			{ID: "c1", Name: "Ada", DateOfBirth: "2025-03-10"},
			{ID: "c2", Name: "Bo", DateOfBirth: "2025-09-01"},
		},
		recordings: []babble.Recording{
			{ID: "r2", ChildID: "c2", Duration: 30, RecordedAt: "2026-03-09T18:00:00Z"},
			{ID: "r1", ChildID: "c1", Duration: 65, RecordedAt: "2026-03-10T08:00:00Z"},
			{ID: "r3", ChildID: "gone", Duration: 5, RecordedAt: "2026-03-10T07:00:00Z"},
		},
		assessments:   map[string][]babble.Assessment{"c1": {sampleAssessment("c1")}},
		assessmentErr: map[string]error{"c2": errors.New("backend unavailable")},
	}
}

func TestSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("degrades failing child to default", func(t *testing.T) {
		svc := newTestService(summaryBackend(), newTestHistory(t))

		summary, err := svc.Summary(ctx)
		require.NoError(t, err)

		require.Len(t, summary.ChildScores, 2)
		assert.Equal(t, 62, summary.ChildScores[0].Score)
		assert.Equal(t, babble.DefaultScore, summary.ChildScores[1].Score)
		assert.False(t, summary.ChildScores[1].HasAssessment)
		assert.Equal(t, 69, summary.OverallScore)
		assert.Equal(t, "Good", summary.OverallLabel)

		require.Len(t, summary.Warnings, 1)
		assert.Contains(t, summary.Warnings[0], "c2")

		require.Len(t, summary.Children, 2)
		require.NotNil(t, summary.Children[0].Age)
		assert.Equal(t, "12 months", summary.Children[0].AgeLabel)
	})

	t.Run("sessions", func(t *testing.T) {
		svc := newTestService(summaryBackend(), nil)

		summary, err := svc.Summary(ctx)
		require.NoError(t, err)

		assert.Equal(t, 2, summary.TodaySessions)
		require.Len(t, summary.RecentSessions, 3)
		assert.Equal(t, "r1", summary.RecentSessions[0].ID)
		assert.Equal(t, "Ada", summary.RecentSessions[0].ChildName)
		assert.Equal(t, "1:05", summary.RecentSessions[0].FormattedDuration)
		assert.Equal(t, "Unknown", summary.RecentSessions[1].ChildName)
		assert.Equal(t, "r2", summary.RecentSessions[2].ID)

		// only Ada was recorded today and 62 earns no banner
		require.Len(t, summary.Insights, 1)
		assert.Equal(t, "Daily Tip", summary.Insights[0].Title)
	})

	t.Run("recent sessions are capped", func(t *testing.T) {
		backend := summaryBackend()
		backend.recordings = nil
		for i := 0; i < 15; i++ {
			backend.recordings = append(backend.recordings, babble.Recording{
				ID:         "r",
				ChildID:    "c1",
				RecordedAt: testNow.Add(-time.Duration(i) * time.Minute).Format(time.RFC3339),
			})
		}
		svc := newTestService(backend, nil)

		summary, err := svc.Summary(ctx)
		require.NoError(t, err)
		assert.Len(t, summary.RecentSessions, recentSessionLimit)
		assert.Equal(t, 15, summary.TodaySessions)
	})

	t.Run("no children", func(t *testing.T) {
		svc := newTestService(&fakeBackend{}, nil)

		summary, err := svc.Summary(ctx)
		require.NoError(t, err)
		assert.Equal(t, babble.DefaultScore, summary.OverallScore)
		assert.Empty(t, summary.ChildScores)
		require.NotEmpty(t, summary.Insights)
		assert.Equal(t, "First Session", summary.Insights[0].Title)
	})

	t.Run("recordings failure is a warning", func(t *testing.T) {
		backend := summaryBackend()
		backend.recordingsErr = errors.New("timeout")
		svc := newTestService(backend, nil)

		summary, err := svc.Summary(ctx)
		require.NoError(t, err)
		assert.Empty(t, summary.RecentSessions)
		assert.Zero(t, summary.TodaySessions)
		assert.Len(t, summary.Warnings, 2)
	})

	t.Run("history failure does not fail the summary", func(t *testing.T) {
		svc := newTestService(summaryBackend(), brokenHistory{})

		summary, err := svc.Summary(ctx)
		require.NoError(t, err)
		require.Len(t, summary.ChildScores, 2)
		assert.Equal(t, 62, summary.ChildScores[0].Score)
		assert.Equal(t, babble.DefaultScore, summary.ChildScores[0].WeeklyAverage)
	})

	t.Run("children failure fails the summary", func(t *testing.T) {
		backend := summaryBackend()
		backend.childrenErr = errors.New("down")
		svc := newTestService(backend, nil)

		_, err := svc.Summary(ctx)
		assert.Error(t, err)
	})
}

func newClientService(t *testing.T, recordings string) *Service {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /children", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]babble.Child{{ID: "c1", Name: "Ada", DateOfBirth: "2025-03-10"}})
	})
	mux.HandleFunc("GET /children/{id}/autism-assessments", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	})
	mux.HandleFunc("GET /recordings", func(w http.ResponseWriter, r *http.Request) {
		if recordings == "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(recordings))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := config.Defaults().Backend
	cfg.BaseURL = server.URL
	cfg.Timeout = 2 * time.Second
	cfg.FailureThreshold = 10
	cfg.RetryAttempts = 1
	policy := resilience.FastRetryPolicy

	client, err := adapters.NewBackendClient(cfg, "test-token", adapters.Options{Retry: &policy})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return newTestService(client, nil)
}

func TestSummaryWithBackendClient(t *testing.T) {
	today := testNow.Add(-time.Hour).Format(time.RFC3339)

	tests := []struct {
		name       string
		recordings string
		wantRecent int
		wantToday  int
		wantWarn   bool
	}{
		{
			name:       "recordings listed",
			recordings: `[{"id":"r1","child_id":"c1","duration":65,"recorded_at":"` + today + `"}]`,
			wantRecent: 1,
			wantToday:  1,
		},
		{
			name:       "partially decoded recordings are dropped",
			recordings: `[{"id":"r1","child_id":"c1","duration":65,"recorded_at":"` + today + `"},{"id":7}]`,
			wantWarn:   true,
		},
		{
			name:     "recordings endpoint down",
			wantWarn: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newClientService(t, tt.recordings)

			summary, err := svc.Summary(context.Background())
			require.NoError(t, err)

			assert.Len(t, summary.RecentSessions, tt.wantRecent)
			assert.Equal(t, tt.wantToday, summary.TodaySessions)
			require.Len(t, summary.ChildScores, 1)
			assert.Equal(t, babble.DefaultScore, summary.ChildScores[0].Score)
			if tt.wantWarn {
				require.Len(t, summary.Warnings, 1)
				assert.Contains(t, summary.Warnings[0], "recordings unavailable")
			} else {
				assert.Empty(t, summary.Warnings)
			}
		})
	}
}

func TestChildRecordings(t *testing.T) {
	backend := &fakeBackend{recordings: []babble.Recording{
		{ID: "r1", ChildID: "c1", Duration: 65, RecordedAt: "2026-03-09T08:00:00Z", IsAnalyzed: true},
		{ID: "r2", ChildID: "c1", Duration: 30.4, RecordedAt: "2026-03-10T08:00:00Z"},
		{ID: "r3", ChildID: "c2", Duration: 5, RecordedAt: "2026-03-10T09:00:00Z", IsAnalyzed: true},
		{ID: "r4", ChildID: "c1", Duration: -3, RecordedAt: "2026-03-08T08:00:00Z", IsAnalyzed: true},
	}}
	svc := newTestService(backend, nil)

	tests := []struct {
		name         string
		childID      string
		wantIDs      []string
		wantAnalyzed int
		wantSeconds  float64
		wantDuration string
	}{
		{name: "totals", childID: "c1", wantIDs: []string{"r2", "r1", "r4"}, wantAnalyzed: 2, wantSeconds: 95.4, wantDuration: "1:35"},
		{name: "no recordings", childID: "c9", wantIDs: []string{}, wantDuration: "0:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history, err := svc.ChildRecordings(context.Background(), tt.childID)
			require.NoError(t, err)

			ids := make([]string, 0, len(history.Recordings))
			for _, r := range history.Recordings {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.NotNil(t, history.Recordings)
			assert.Equal(t, len(tt.wantIDs), history.Count)
			assert.Equal(t, tt.wantAnalyzed, history.AnalyzedCount)
			assert.InDelta(t, tt.wantSeconds, history.TotalSeconds, 0.001)
			assert.Equal(t, tt.wantDuration, history.TotalDuration)
		})
	}
}

func TestAssessments(t *testing.T) {
	malformed := sampleAssessment("c1")
	malformed.ID = "bad"
	malformed.DominantSoundCategories = babble.ParseSoundCategories("not json")
	malformed.RecommendedActions = ""

	backend := &fakeBackend{assessments: map[string][]babble.Assessment{
		"c1": {sampleAssessment("c1"), malformed},
	}}
	svc := newTestService(backend, nil)

	views, err := svc.Assessments(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, "moderate", views[0].RiskLevel)
	assert.Equal(t, 62, views[0].BabbleScore)
	assert.Equal(t, "Good", views[0].ScoreLabel)
	assert.Equal(t, 30.0, views[0].Categories["unknown"])
	assert.Equal(t, []string{"Read aloud daily"}, views[0].Recommendations)

	assert.Equal(t, babble.FallbackScore, views[1].BabbleScore)
	assert.NotNil(t, views[1].Categories)
	assert.Equal(t, []string{}, views[1].Recommendations)
}

func TestChildren(t *testing.T) {
	backend := &fakeBackend{children: []babble.Child{
		{ID: "c1", Name: "Ada", DateOfBirth: "2023-01-10"},
		{ID: "c2", Name: "Bo", DateOfBirth: "not a date"},
	}}
	svc := newTestService(backend, nil)

	views, err := svc.Children(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, "3 years 2 months", views[0].AgeLabel)
	assert.Equal(t, 38, views[0].AgeMonths)
	assert.Nil(t, views[1].Age)

	created, err := svc.CreateChild(context.Background(), babble.ChildInput{Name: "Cy", DateOfBirth: "2026-03-01"})
	require.NoError(t, err)
	assert.Equal(t, "9 days", created.AgeLabel)
}

func TestRecordSession(t *testing.T) {
	ctx := context.Background()

	input := func() SessionInput {
		return SessionInput{
			ChildID:         "c1",
			Audio:           strings.NewReader("RIFF"),
			Filename:        "recording.wav",
			ContentType:     "audio/wav",
			DurationSeconds: 12.4,
		}
	}

	t.Run("full flow", func(t *testing.T) {
		backend := &fakeBackend{}
		svc := newTestService(backend, nil)

		in := input()
		in.AutoAssessment = true
		result, err := svc.RecordSession(ctx, in)
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.True(t, result.AnalysisTriggered)
		assert.Equal(t, MessageAnalysisStarted, result.Message)
		require.NotNil(t, result.Assessment)
		assert.Equal(t, 62, result.Assessment.BabbleScore)
		assert.Empty(t, result.Warnings)

		require.Len(t, backend.created, 1)
		assert.Equal(t, "Session 3/10/2026, 12:00:00 PM", backend.created[0].SessionName)
		assert.Equal(t, "Recording duration: 12 seconds", backend.created[0].Notes)
		assert.Equal(t, []string{"rec-1:recording.wav:RIFF"}, backend.uploaded)
		assert.Equal(t, []string{"rec-1"}, backend.analyzed)
	})

	t.Run("analysis failure is not fatal", func(t *testing.T) {
		backend := &fakeBackend{analyzeErr: errors.New("busy"), generateErr: errors.New("no data")}
		svc := newTestService(backend, nil)

		in := input()
		in.AutoAssessment = true
		result, err := svc.RecordSession(ctx, in)
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.False(t, result.AnalysisTriggered)
		assert.Equal(t, MessageAnalysisPending, result.Message)
		assert.Nil(t, result.Assessment)
		assert.Len(t, result.Warnings, 2)
	})

	tests := []struct {
		name    string
		backend *fakeBackend
		mutate  func(*SessionInput)
	}{
		{name: "missing child", backend: &fakeBackend{}, mutate: func(in *SessionInput) { in.ChildID = "" }},
		{name: "missing audio", backend: &fakeBackend{}, mutate: func(in *SessionInput) { in.Audio = nil }},
		{name: "create fails", backend: &fakeBackend{createErr: errors.New("nope")}},
		{name: "upload fails", backend: &fakeBackend{uploadErr: errors.New("nope")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(tt.backend, nil)
			in := input()
			if tt.mutate != nil {
				tt.mutate(&in)
			}
			_, err := svc.RecordSession(ctx, in)
			assert.Error(t, err)
			assert.Empty(t, tt.backend.analyzed)
		})
	}
}

func TestHistoryPruner(t *testing.T) {
	ctx := context.Background()
	history := newTestHistory(t)

	require.NoError(t, history.SaveSnapshot(ctx, database.NewScoreSnapshot("c1", 70, "", testNow.AddDate(0, 0, -400))))
	require.NoError(t, history.SaveSnapshot(ctx, database.NewScoreSnapshot("c1", 80, "", testNow.AddDate(0, 0, -10))))

	pruner := NewHistoryPruner(history, 365, time.Hour)
	pruner.now = func() time.Time { return testNow }

	removed, err := pruner.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = pruner.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	t.Run("run stops with context", func(t *testing.T) {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			pruner.Run(runCtx)
			close(done)
		}()
		cancel()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("pruner did not stop")
		}
	})
}
