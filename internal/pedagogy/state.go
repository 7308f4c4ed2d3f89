package pedagogy

import (
	"time"

	"github.com/baobabted/AI-Coding-Tutor/internal/models"
)

// Level bounds for effective skill levels.
const (
	MinLevel = 1.0
	MaxLevel = 5.0
)

// StudentState is the per-connection view of a student used for hint-level
// selection and continuity detection. Mutated by Absorb after each answered
// turn and flushed back to the user row by the pipeline.
type StudentState struct {
	UserID                    string
	EffectiveProgrammingLevel float64
	EffectiveMathsLevel       float64
	LastEmbedding             []float64
	LastAt                    time.Time
}

// NewStudentState builds the state from a user row, falling back to the
// self-reported integer levels when no effective level has been learned yet.
func NewStudentState(user *models.User) *StudentState {
	s := &StudentState{
		UserID:                    user.ID.String(),
		EffectiveProgrammingLevel: clampLevel(float64(user.ProgrammingLevel)),
		EffectiveMathsLevel:       clampLevel(float64(user.MathsLevel)),
	}
	if user.EffectiveProgrammingLevel != nil {
		s.EffectiveProgrammingLevel = clampLevel(*user.EffectiveProgrammingLevel)
	}
	if user.EffectiveMathsLevel != nil {
		s.EffectiveMathsLevel = clampLevel(*user.EffectiveMathsLevel)
	}
	if len(user.LastEmbedding) > 0 {
		s.LastEmbedding = user.LastEmbedding
	}
	if user.LastEmbeddingAt != nil {
		s.LastAt = *user.LastEmbeddingAt
	}
	return s
}

func clampLevel(v float64) float64 {
	if v < MinLevel {
		return MinLevel
	}
	if v > MaxLevel {
		return MaxLevel
	}
	return v
}
