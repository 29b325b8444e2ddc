package dashboard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/ZanzyTHEbar/babblebear/internal/adapters"
	"github.com/ZanzyTHEbar/babblebear/internal/babble"
)

// Messages reported after a recorded session was uploaded.
const (
	MessageAnalysisStarted = "Recording uploaded and analysis started successfully!"
	MessageAnalysisPending = "Recording uploaded successfully! Analysis will be available shortly."
)

const sessionTimeLayout = "1/2/2006, 3:04:05 PM"

// SessionInput is one recorded audio session to hand to the backend.
type SessionInput struct {
	ChildID         string
	Audio           io.Reader
	Filename        string
	ContentType     string
	DurationSeconds float64
	AutoAssessment  bool
}

// SessionResult reports how far the record flow got.
type SessionResult struct {
	Recording         babble.Recording `json:"recording"`
	Duration          float64          `json:"duration"`
	Success           bool             `json:"success"`
	AnalysisTriggered bool             `json:"analysis_triggered"`
	Assessment        *AssessmentView  `json:"autism_assessment,omitempty"`
	Message           string           `json:"message"`
	Warnings          []string         `json:"warnings,omitempty"`
}

// RecordSession creates a recording, uploads the audio and starts the
// analysis. Failing to create or upload fails the call; failing to analyze
// or assess is reported in the result.
func (s *Service) RecordSession(ctx context.Context, in SessionInput) (*SessionResult, error) {
	if in.ChildID == "" {
		return nil, fmt.Errorf("child id is required")
	}
	if in.Audio == nil {
		return nil, fmt.Errorf("audio is required")
	}

	start := time.Now()
	now := s.now().In(s.loc)
	req := adapters.NewRecording{
		ChildID:     in.ChildID,
		SessionName: "Session " + now.Format(sessionTimeLayout),
	}
	if in.DurationSeconds > 0 {
		req.Notes = fmt.Sprintf("Recording duration: %d seconds", int(math.Round(in.DurationSeconds)))
	}

	recording, err := s.backend.CreateRecording(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("creating recording session: %w", err)
	}

	if err := s.backend.UploadRecording(ctx, recording.ID, in.Audio, in.Filename, in.ContentType); err != nil {
		return nil, fmt.Errorf("uploading audio: %w", err)
	}

	result := &SessionResult{
		Recording: *recording,
		Duration:  in.DurationSeconds,
		Success:   true,
		Message:   MessageAnalysisPending,
	}

	if err := s.backend.AnalyzeRecording(ctx, recording.ID); err != nil {
		slog.Warn("Failed to trigger analysis", "recording_id", recording.ID, "error", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("analysis not started: %v", err))
	} else {
		result.AnalysisTriggered = true
		result.Message = MessageAnalysisStarted
	}

	if in.AutoAssessment {
		assessment, err := s.GenerateAssessment(ctx, in.ChildID)
		if err != nil {
			slog.Warn("Failed to generate assessment", "child_id", in.ChildID, "error", err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("assessment not generated: %v", err))
		} else {
			result.Assessment = assessment
		}
	}

	slog.Info("Recording session processed",
		"child_id", in.ChildID,
		"recording_id", recording.ID,
		"analysis_triggered", result.AnalysisTriggered,
		"assessment", result.Assessment != nil,
		"elapsed", time.Since(start),
	)

	return result, nil
}
