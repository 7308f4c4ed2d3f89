package frontend

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/baobabted/AI-Coding-Tutor/internal/models"
)

func TestSessionPreview(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "New conversation", sessionPreview(""))
	assert.Equal(t, "How do maps work?", sessionPreview("How do maps work?"))

	long := strings.Repeat("a", 120)
	assert.Equal(t, strings.Repeat("a", 80), sessionPreview(long))

	// Truncation counts runes, not bytes.
	wide := strings.Repeat("ü", 120)
	assert.Equal(t, strings.Repeat("ü", 80), sessionPreview(wide))
}

func TestUsageResponse(t *testing.T) {
	t.Parallel()

	usage := &models.DailyTokenUsage{
		Date:             time.Date(2026, 8, 25, 14, 30, 0, 0, time.Local),
		InputTokensUsed:  1200,
		OutputTokensUsed: 300,
	}

	out := usageResponse(usage, 100000, 50000)
	assert.Equal(t, "2026-08-25", out.Date)
	assert.Equal(t, 1200, out.InputTokensUsed)
	assert.Equal(t, 300, out.OutputTokensUsed)
	assert.Equal(t, 100000, out.DailyInputLimit)
	assert.Equal(t, 50000, out.DailyOutputLimit)
	assert.InDelta(t, 1.2, out.UsagePercentage, 1e-9)
}

func TestUsagePercentage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                  string
		inputUsed, outputUsed int
		inputLim, outputLim   int
		want                  float64
	}{
		{"NoUsage", 0, 0, 100000, 50000, 0},
		{"InputDominates", 50000, 10000, 100000, 50000, 50},
		{"OutputDominates", 10000, 40000, 100000, 50000, 80},
		{"OneDecimal", 333, 0, 100000, 50000, 0.3},
		{"CappedAtHundred", 200000, 0, 100000, 50000, 100},
		{"ZeroLimits", 500, 500, 0, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := usagePercentage(tc.inputUsed, tc.outputUsed, tc.inputLim, tc.outputLim)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}
