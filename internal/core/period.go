package core

// Budget period windows are half-open [start, end) ranges anchored at the
// budget's start date. Window k starts at the start date shifted by k periods,
// so consecutive windows tile the timeline without gaps or overlap, including
// around month ends where calendar arithmetic normalizes (Jan 31 + 1 month).

// shift returns the budget start date moved forward by k periods.
func (b Budget) shift(k int) Date {
	switch b.Period {
	case Daily:
		return b.StartDate.AddDays(k)
	case Weekly:
		return b.StartDate.AddDays(7 * k)
	case Monthly:
		return Date{Time: b.StartDate.AddDate(0, k, 0)}
	case Quarterly:
		return Date{Time: b.StartDate.AddDate(0, 3*k, 0)}
	default: // Yearly
		return Date{Time: b.StartDate.AddDate(k, 0, 0)}
	}
}

// windowIndexGuess estimates which window contains asOf. The estimate can be
// off by one around normalized month ends and is corrected by PeriodWindow.
func (b Budget) windowIndexGuess(asOf Date) int {
	switch b.Period {
	case Daily:
		return asOf.DaysSince(b.StartDate)
	case Weekly:
		return asOf.DaysSince(b.StartDate) / 7
	case Monthly:
		return monthsBetween(b.StartDate, asOf)
	case Quarterly:
		return monthsBetween(b.StartDate, asOf) / 3
	default: // Yearly
		return asOf.Year() - b.StartDate.Year()
	}
}

func monthsBetween(from, to Date) int {
	return (to.Year()-from.Year())*12 + int(to.Time.Month()) - int(from.Time.Month())
}

// PeriodWindow returns the half-open [start, end) period window containing
// asOf. It fails with ErrOutOfRange when asOf precedes the budget start date
// or follows its end date.
func (b Budget) PeriodWindow(asOf Date) (start, end Date, err error) {
	if asOf.Before(b.StartDate) {
		return Date{}, Date{}, ErrOutOfRange
	}
	if !b.EndDate.IsZero() && asOf.After(b.EndDate) {
		return Date{}, Date{}, ErrOutOfRange
	}

	k := b.windowIndexGuess(asOf)
	if k < 0 {
		k = 0
	}
	for asOf.Before(b.shift(k)) {
		k--
	}
	for !asOf.Before(b.shift(k + 1)) {
		k++
	}
	return b.shift(k), b.shift(k + 1), nil
}

// Overlaps reports whether two budget validity ranges intersect, treating a
// zero end date as open-ended. Used to enforce that budgets for the same
// (user, category) pair never overlap.
func (b Budget) Overlaps(other Budget) bool {
	if !b.EndDate.IsZero() && b.EndDate.Before(other.StartDate) {
		return false
	}
	if !other.EndDate.IsZero() && other.EndDate.Before(b.StartDate) {
		return false
	}
	return true
}
