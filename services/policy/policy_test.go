package policy

import (
	"strings"
	"testing"
	"time"

	"shutterbook/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var baseNow = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func TestNormalizedHours(t *testing.T) {
	tests := []struct {
		name string
		qty  float64
		unit models.DurationUnit
		want float64
	}{
		{"hours", 3, models.UnitHour, 3},
		{"half day", 1, models.UnitHalfDay, 4},
		{"day", 2, models.UnitDay, 16},
		{"session", 2, models.UnitSession, 48},
		{"package", 1, models.UnitPackage, 24},
		{"unknown unit falls back to hours", 3, models.DurationUnit("unknown_unit"), 3},
		{"empty unit falls back to hours", 1.5, "", 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizedHours(tt.qty, tt.unit))
		})
	}
}

func TestKnownUnit(t *testing.T) {
	assert.True(t, KnownUnit(models.UnitSession))
	assert.False(t, KnownUnit("fortnight"))
}

func TestEndTime(t *testing.T) {
	start := baseNow
	assert.Equal(t, start.Add(3*time.Hour), EndTime(start, 3, models.UnitHour))
	assert.Equal(t, start.Add(90*time.Minute), EndTime(start, 1.5, models.UnitHour))
	assert.Equal(t, start.Add(4*time.Hour), EndTime(start, 1, models.UnitHalfDay))
}

func TestEvaluateCancellation_Flexible(t *testing.T) {
	t.Run("30 hours before start is a full refund", func(t *testing.T) {
		d := EvaluateCancellation(models.PolicyFlexible, baseNow.Add(30*time.Hour), baseNow, "")
		assert.True(t, d.Refundable)
		assert.Equal(t, 100, d.Percentage)
		assert.NotEmpty(t, d.Reason)
	})

	t.Run("exactly 24 hours is still a full refund", func(t *testing.T) {
		d := EvaluateCancellation(models.PolicyFlexible, baseNow.Add(24*time.Hour), baseNow, "")
		assert.True(t, d.Refundable)
		assert.Equal(t, 100, d.Percentage)
	})

	t.Run("10 hours before start is not refundable", func(t *testing.T) {
		d := EvaluateCancellation(models.PolicyFlexible, baseNow.Add(10*time.Hour), baseNow, "")
		assert.False(t, d.Refundable)
		assert.Equal(t, 0, d.Percentage)
	})
}

func TestEvaluateCancellation_Moderate(t *testing.T) {
	tests := []struct {
		name       string
		start      time.Time
		refundable bool
		percentage int
	}{
		{"10 days before start", baseNow.Add(10 * 24 * time.Hour), true, 100},
		{"exactly 7 days before start", baseNow.Add(7 * 24 * time.Hour), true, 100},
		{"3 days before start", baseNow.Add(3 * 24 * time.Hour), true, 50},
		{"partial day counts as a full day", baseNow.Add(6*24*time.Hour + time.Hour), true, 100},
		{"next morning", time.Date(2026, time.March, 11, 8, 0, 0, 0, time.UTC), true, 50},
		{"same day", baseNow.Add(5 * time.Hour), false, 0},
		{"already started", baseNow.Add(-time.Hour), false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := EvaluateCancellation(models.PolicyModerate, tt.start, baseNow, "")
			assert.Equal(t, tt.refundable, d.Refundable)
			assert.Equal(t, tt.percentage, d.Percentage)
		})
	}
}

func TestEvaluateCancellation_Strict(t *testing.T) {
	start := baseNow.Add(30 * 24 * time.Hour)

	t.Run("empty justification", func(t *testing.T) {
		d := EvaluateCancellation(models.PolicyStrict, start, baseNow, "")
		assert.False(t, d.Refundable)
		assert.Equal(t, 0, d.Percentage)
	})

	t.Run("short justification", func(t *testing.T) {
		d := EvaluateCancellation(models.PolicyStrict, start, baseNow, "sick")
		assert.False(t, d.Refundable)
	})

	t.Run("whitespace does not count towards the length", func(t *testing.T) {
		d := EvaluateCancellation(models.PolicyStrict, start, baseNow, "  sick  "+strings.Repeat(" ", 30))
		assert.False(t, d.Refundable)
	})

	// Force-majeure anomaly: the exception is approved but pays out 0%.
	t.Run("25 character justification is refundable at zero percent", func(t *testing.T) {
		justification := "flooded venue, road shut"
		justification += "!"
		assert.Len(t, justification, 25)

		d := EvaluateCancellation(models.PolicyStrict, start, baseNow, justification)
		assert.True(t, d.Refundable)
		assert.Equal(t, 0, d.Percentage)
	})
}

func TestEvaluateCancellation_UnknownTierUsesFlexible(t *testing.T) {
	for _, tier := range []models.PolicyTier{"", "super_flexible"} {
		far := EvaluateCancellation(tier, baseNow.Add(48*time.Hour), baseNow, "")
		assert.Equal(t, Decision{Refundable: true, Percentage: 100, Reason: far.Reason}, far)

		near := EvaluateCancellation(tier, baseNow.Add(2*time.Hour), baseNow, "")
		assert.False(t, near.Refundable)
	}
}

func TestEvaluateCancellation_IsDeterministic(t *testing.T) {
	tiers := []models.PolicyTier{models.PolicyFlexible, models.PolicyModerate, models.PolicyStrict, "unknown"}
	offsets := []time.Duration{-time.Hour, 0, 5 * time.Hour, 23 * time.Hour, 25 * time.Hour, 72 * time.Hour, 200 * time.Hour}
	justifications := []string{"", "short", strings.Repeat("x", 20)}

	for _, tier := range tiers {
		for _, off := range offsets {
			for _, j := range justifications {
				first := EvaluateCancellation(tier, baseNow.Add(off), baseNow, j)
				second := EvaluateCancellation(tier, baseNow.Add(off), baseNow, j)
				assert.Equal(t, first, second)
				assert.GreaterOrEqual(t, first.Percentage, 0)
				assert.LessOrEqual(t, first.Percentage, 100)
			}
		}
	}
}

func TestEvaluate_Settleable(t *testing.T) {
	res := models.Reservation{
		ID:          "res-1",
		Start:       baseNow.Add(3 * 24 * time.Hour),
		PolicyTier:  models.PolicyModerate,
		TotalAmount: decimal.NewFromInt(400),
	}
	d := Evaluate(res, baseNow, "")
	assert.True(t, d.Refundable)
	assert.Equal(t, 50, d.Percentage)
}
