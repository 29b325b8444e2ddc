package babble

import (
	"bytes"
	"encoding/json"
	"time"
)

// Child is a child profile as owned by the backend.
type Child struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	DateOfBirth   string  `json:"date_of_birth"`
	Gender        string  `json:"gender,omitempty"`
	WeightAtBirth float64 `json:"weight_at_birth,omitempty"`
	HeightAtBirth float64 `json:"height_at_birth,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

// Recording is one recorded babble session.
type Recording struct {
	ID          string  `json:"id"`
	ChildID     string  `json:"child_id"`
	SessionName string  `json:"session_name"`
	Duration    float64 `json:"duration"`
	RecordedAt  string  `json:"recorded_at"`
	IsAnalyzed  bool    `json:"is_analyzed"`
	Notes       string  `json:"notes,omitempty"`
}

// RecordedTime parses RecordedAt. The zero time is returned when it is not RFC3339.
func (r Recording) RecordedTime() time.Time {
	t, err := time.Parse(time.RFC3339, r.RecordedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Assessment is an externally computed risk assessment for a child.
type Assessment struct {
	ID                      string          `json:"id"`
	ChildID                 string          `json:"child_id"`
	AssessmentDate          string          `json:"assessment_date"`
	AutismProbability       float64         `json:"autism_probability"`
	ConfidenceLevel         float64         `json:"confidence_level"`
	TotalRecordingsAnalyzed int             `json:"total_recordings_analyzed"`
	DominantSoundCategories SoundCategories `json:"dominant_sound_categories"`
	BehavioralPatterns      string          `json:"behavioral_patterns,omitempty"`
	RecommendedActions      string          `json:"recommended_actions,omitempty"`
	Notes                   *string         `json:"notes"`
}

// Recommendations decodes RecommendedActions, which the backend sends as a
// JSON-encoded list of strings. Undecodable input yields nil.
func (a Assessment) Recommendations() []string {
	if a.RecommendedActions == "" {
		return nil
	}
	var actions []string
	if err := json.Unmarshal([]byte(a.RecommendedActions), &actions); err != nil {
		return nil
	}
	return actions
}

// SoundCategories maps a sound category to its percentage share.
//
// The backend encodes the mapping as a JSON string holding a JSON object.
// A bare object is accepted too. Anything else leaves the value Malformed
// rather than failing the surrounding decode.
type SoundCategories struct {
	Shares    map[string]float64
	Malformed bool
	raw       []byte
}

// NewSoundCategories builds well-formed categories from shares.
func NewSoundCategories(shares map[string]float64) SoundCategories {
	return SoundCategories{Shares: shares}
}

// ParseSoundCategories parses the string-encoded form the backend sends.
func ParseSoundCategories(encoded string) SoundCategories {
	var sc SoundCategories
	sc.parseObject([]byte(encoded))
	return sc
}

// UnmarshalJSON never returns an error; see Malformed.
func (s *SoundCategories) UnmarshalJSON(data []byte) error {
	*s = SoundCategories{raw: append([]byte(nil), data...)}

	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		return nil
	case len(trimmed) > 0 && trimmed[0] == '"':
		var encoded string
		if err := json.Unmarshal(trimmed, &encoded); err != nil {
			s.Malformed = true
			return nil
		}
		s.parseObject([]byte(encoded))
	default:
		s.parseObject(trimmed)
	}
	return nil
}

// MarshalJSON re-emits the backend representation for malformed values so
// the original payload is not lost.
func (s SoundCategories) MarshalJSON() ([]byte, error) {
	if s.Malformed {
		if len(s.raw) > 0 {
			return s.raw, nil
		}
		return []byte("null"), nil
	}
	if s.Shares == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.Shares)
}

// Share returns the percentage for category, or 0 when it is missing.
func (s SoundCategories) Share(category string) float64 {
	return s.Shares[category]
}

func (s *SoundCategories) parseObject(data []byte) {
	var shares map[string]float64
	if err := json.Unmarshal(data, &shares); err != nil || shares == nil {
		s.Malformed = true
		s.Shares = nil
		return
	}
	s.Shares = shares
}
