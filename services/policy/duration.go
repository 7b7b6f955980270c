package policy

import (
	"time"

	"shutterbook/models"
)

// hoursPerUnit is the fixed conversion table for booking durations.
var hoursPerUnit = map[models.DurationUnit]float64{
	models.UnitHour:    1,
	models.UnitHalfDay: 4,
	models.UnitDay:     8,
	models.UnitSession: 24,
	models.UnitPackage: 24,
}

// KnownUnit reports whether unit is in the conversion table. Callers use it to
// log the hours fallback as a data-quality warning.
func KnownUnit(unit models.DurationUnit) bool {
	_, ok := hoursPerUnit[unit]
	return ok
}

// NormalizedHours converts (quantity, unit) into hours. Unknown units count as hours.
func NormalizedHours(quantity float64, unit models.DurationUnit) float64 {
	factor, ok := hoursPerUnit[unit]
	if !ok {
		factor = 1
	}
	return quantity * factor
}

// EndTime is start plus the normalized duration.
func EndTime(start time.Time, quantity float64, unit models.DurationUnit) time.Time {
	hours := NormalizedHours(quantity, unit)
	return start.Add(time.Duration(hours * float64(time.Hour)))
}
