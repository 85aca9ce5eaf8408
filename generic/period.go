package generic

// =============================================================================
// PERIOD - An inclusive range of calendar days
// =============================================================================

// Period is the inclusive day range [Start, End] covered by a leave.
// Balances are kept per calendar year, so a Period used for a request must
// fall inside a single year (see SingleYear).
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Validate rejects periods whose end precedes their start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return Validation("start and end dates are required")
	}
	if p.End.Before(p.Start) {
		return Validation("invalid period: end %s before start %s", p.End, p.Start)
	}
	return nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	current := p.Start
	for current.BeforeOrEqual(p.End) {
		days = append(days, current)
		current = current.AddDays(1)
	}
	return days
}

// Length is the number of calendar days in the period.
func (p Period) Length() int {
	return len(p.Days())
}

// SingleYear reports whether the period starts and ends in the same year.
func (p Period) SingleYear() bool {
	return p.Start.Year() == p.End.Year()
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// CalendarYear returns Jan 1 - Dec 31 of the given year.
func CalendarYear(year int) Period {
	return Period{Start: NewTimePoint(year, 1, 1), End: NewTimePoint(year, 12, 31)}
}
