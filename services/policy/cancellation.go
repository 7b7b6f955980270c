package policy

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"shutterbook/models"
)

const (
	// flexibleNoticeHours is the minimum notice for a full refund on the flexible tier.
	flexibleNoticeHours = 24
	// moderateFullRefundDays and moderateHalfRefundDays bound the moderate tier.
	moderateFullRefundDays = 7
	moderateHalfRefundDays = 1
	// forceMajeureMinChars is the minimum justification length that waives the strict tier.
	forceMajeureMinChars = 20
)

// Decision is the outcome of evaluating a cancellation against a policy tier.
type Decision struct {
	Refundable bool   `json:"refundable"`
	Percentage int    `json:"percentage"`
	Reason     string `json:"reason"`
}

// EvaluateCancellation maps a tier, the time left before the service, and the
// customer's justification onto a refund decision. It has no side effects.
//
// An approved strict-tier force-majeure exception is refundable with 0%: the
// cancellation is allowed but no money goes back.
func EvaluateCancellation(tier models.PolicyTier, serviceStart, now time.Time, justification string) Decision {
	until := serviceStart.Sub(now)
	hoursUntil := until.Hours()
	daysUntil := daysUntilStart(serviceStart, now)

	switch tier {
	case models.PolicyModerate:
		switch {
		case daysUntil >= moderateFullRefundDays:
			return Decision{Refundable: true, Percentage: 100, Reason: fmt.Sprintf("moderate policy: %d days notice, full refund", daysUntil)}
		case daysUntil >= moderateHalfRefundDays:
			return Decision{Refundable: true, Percentage: 50, Reason: fmt.Sprintf("moderate policy: %d days notice, 50%% refund", daysUntil)}
		default:
			return Decision{Refundable: false, Percentage: 0, Reason: "moderate policy: less than one day notice"}
		}
	case models.PolicyStrict:
		if utf8.RuneCountInString(strings.TrimSpace(justification)) >= forceMajeureMinChars {
			return Decision{Refundable: true, Percentage: 0, Reason: "strict policy: force majeure exception accepted, no refund"}
		}
		return Decision{Refundable: false, Percentage: 0, Reason: "strict policy: cancellation requires a force majeure justification"}
	default:
		// Flexible, and the fallback for unknown or missing tiers.
		if hoursUntil >= flexibleNoticeHours {
			return Decision{Refundable: true, Percentage: 100, Reason: "flexible policy: at least 24 hours notice, full refund"}
		}
		return Decision{Refundable: false, Percentage: 0, Reason: "flexible policy: less than 24 hours notice"}
	}
}

// Evaluate runs EvaluateCancellation for any settleable entity.
func Evaluate(s models.Settleable, now time.Time, justification string) Decision {
	return EvaluateCancellation(s.CancellationTier(), s.ServiceStart(), now, justification)
}

// daysUntilStart counts partial days as full days, except that a start later on
// the same calendar day (in the start's location) leaves zero days.
func daysUntilStart(start, now time.Time) int {
	until := start.Sub(now)
	if until <= 0 {
		return 0
	}
	local := now.In(start.Location())
	if local.Year() == start.Year() && local.YearDay() == start.YearDay() {
		return 0
	}
	return int(math.Ceil(until.Hours() / 24))
}
