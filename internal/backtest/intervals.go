package backtest

import "time"

// WeekInterval is a half-open [Start, End) slice of the replay range.
type WeekInterval struct {
	Start time.Time
	End   time.Time
}

// SplitIntoWeeks cuts [from, to) at every Monday 00:00 UTC. The first and last intervals may be partial.
func SplitIntoWeeks(from, to time.Time) []WeekInterval {
	var intervals []WeekInterval
	for start := from.UTC(); start.Before(to); {
		end := findNextMonday(start)
		if end.After(to) {
			end = to.UTC()
		}
		intervals = append(intervals, WeekInterval{Start: start, End: end})
		start = end
	}
	return intervals
}

// findNextMonday returns the first Monday midnight strictly after t.
func findNextMonday(t time.Time) time.Time {
	day := t.Truncate(24 * time.Hour)
	daysUntilMonday := (8 - int(day.Weekday())) % 7
	if daysUntilMonday == 0 {
		daysUntilMonday = 7
	}
	return day.AddDate(0, 0, daysUntilMonday)
}

// DivideIntoSteps returns the start of every step in [from, to).
func DivideIntoSteps(from, to time.Time, step time.Duration) []time.Time {
	if step <= 0 || !from.Before(to) {
		return nil
	}
	steps := make([]time.Time, 0, int(to.Sub(from)/step)+1)
	for ; from.Before(to); from = from.Add(step) {
		steps = append(steps, from)
	}
	return steps
}
