package risk

import (
	"time"

	"github.com/jlindqvist/scalpd/internal/domain"
)

// periodKind identifies one of the three rolling windows.
type periodKind int

const (
	periodDaily periodKind = iota
	periodWeekly
	periodMonthly
)

func (k periodKind) String() string {
	switch k {
	case periodDaily:
		return "daily"
	case periodWeekly:
		return "weekly"
	case periodMonthly:
		return "monthly"
	}
	return "unknown"
}

const dateLayout = "2006-01-02"

// periodStart returns the wall-clock start date of the window containing now:
// the day itself, the Monday of the week, or the first of the month.
func periodStart(kind periodKind, now time.Time) string {
	switch kind {
	case periodWeekly:
		// Monday-anchored weeks; Go's Weekday has Sunday == 0.
		offset := (int(now.Weekday()) + 6) % 7
		return now.AddDate(0, 0, -offset).Format(dateLayout)
	case periodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format(dateLayout)
	default:
		return now.Format(dateLayout)
	}
}

// freshPeriod starts a new window at now with the given balance snapshot.
func freshPeriod(kind periodKind, now time.Time, balance float64) domain.PeriodState {
	return domain.PeriodState{
		StartDate:       periodStart(kind, now),
		StartingBalance: balance,
	}
}

// needsRoll reports whether the period's recorded start predates the window
// containing now. An unparseable start date forces a roll.
func needsRoll(p domain.PeriodState, kind periodKind, now time.Time) bool {
	if p.StartDate == "" {
		return true
	}
	if _, err := time.Parse(dateLayout, p.StartDate); err != nil {
		return true
	}
	return p.StartDate != periodStart(kind, now)
}
