package babble

import (
	"strings"
	"time"
)

// Genders accepted for a child profile.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// ChildInput is the writable part of a child profile.
type ChildInput struct {
	Name          string  `json:"name"`
	DateOfBirth   string  `json:"date_of_birth"`
	Gender        string  `json:"gender,omitempty"`
	WeightAtBirth float64 `json:"weight_at_birth,omitempty"`
	HeightAtBirth float64 `json:"height_at_birth,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

// Normalize trims free text and lowercases the gender.
func (in *ChildInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.DateOfBirth = strings.TrimSpace(in.DateOfBirth)
	in.Gender = strings.ToLower(strings.TrimSpace(in.Gender))
	in.Notes = strings.TrimSpace(in.Notes)
}

// Validate returns one message per invalid field, or nil.
func (in ChildInput) Validate(now time.Time) map[string]string {
	problems := make(map[string]string)

	if in.Name == "" {
		problems["name"] = "name is required"
	} else if len(in.Name) > 100 {
		problems["name"] = "name must be at most 100 characters"
	}

	if in.DateOfBirth == "" {
		problems["date_of_birth"] = "date_of_birth is required"
	} else if _, err := ChildAge(in.DateOfBirth, now); err != nil {
		problems["date_of_birth"] = "date_of_birth must be a YYYY-MM-DD date that is not in the future"
	}

	switch in.Gender {
	case "", GenderMale, GenderFemale:
	default:
		problems["gender"] = "gender must be male or female"
	}

	if in.WeightAtBirth < 0 {
		problems["weight_at_birth"] = "weight_at_birth must not be negative"
	}
	if in.HeightAtBirth < 0 {
		problems["height_at_birth"] = "height_at_birth must not be negative"
	}

	if len(problems) == 0 {
		return nil
	}
	return problems
}
