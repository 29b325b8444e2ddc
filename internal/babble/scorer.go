package babble

import "math"

const (
	// DefaultScore is reported when a child has no assessment yet.
	DefaultScore = 75
	// FallbackScore is reported when the assessment cannot be interpreted.
	FallbackScore = 65

	unknownCategory = "unknown"

	probabilityWeight = 0.6
	confidenceWeight  = 10
	recordingWeight   = 2
	recordingBoostCap = 10

	lightPenaltyLimit    = 20
	moderatePenaltyLimit = 50
)

// ComputeScore derives the 0-100 babble score for one assessment.
// A nil assessment yields DefaultScore and malformed sound categories yield
// FallbackScore.
func ComputeScore(a *Assessment) int {
	if a == nil {
		return DefaultScore
	}
	if a.DominantSoundCategories.Malformed {
		return FallbackScore
	}

	unknown := a.DominantSoundCategories.Share(unknownCategory)

	raw := 100 - a.AutismProbability*probabilityWeight
	raw -= unknownPenalty(unknown)
	raw += a.ConfidenceLevel * confidenceWeight
	raw += math.Min(float64(a.TotalRecordingsAnalyzed)*recordingWeight, recordingBoostCap)

	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return FallbackScore
	}
	return int(math.Round(clip(raw, 0, 100)))
}

// unknownPenalty grows with the share of vocalizations the classifier could
// not place. Each band includes its upper bound.
func unknownPenalty(u float64) float64 {
	switch {
	case u <= 0:
		return 0
	case u <= lightPenaltyLimit:
		return u * 0.2
	case u <= moderatePenaltyLimit:
		return u*0.4 + 5
	default:
		return u*0.6 + 15
	}
}

// ComputeAverage is the rounded mean of scores, or DefaultScore for none.
func ComputeAverage(scores []int) int {
	if len(scores) == 0 {
		return DefaultScore
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return int(math.Round(float64(sum) / float64(len(scores))))
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
