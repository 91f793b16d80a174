package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func budget(period BudgetPeriod, start Date) Budget {
	return Budget{
		Period:    period,
		Amount:    decimal.NewFromInt(100),
		StartDate: start,
	}
}

func TestPeriodWindow(t *testing.T) {
	tests := []struct {
		name      string
		budget    Budget
		asOf      Date
		wantStart Date
		wantEnd   Date
	}{
		{
			name:      "daily first window",
			budget:    budget(Daily, NewDate(2024, 1, 1)),
			asOf:      NewDate(2024, 1, 1),
			wantStart: NewDate(2024, 1, 1),
			wantEnd:   NewDate(2024, 1, 2),
		},
		{
			name:      "daily later window",
			budget:    budget(Daily, NewDate(2024, 1, 1)),
			asOf:      NewDate(2024, 3, 15),
			wantStart: NewDate(2024, 3, 15),
			wantEnd:   NewDate(2024, 3, 16),
		},
		{
			name:      "weekly mid-window",
			budget:    budget(Weekly, NewDate(2024, 1, 1)),
			asOf:      NewDate(2024, 1, 10),
			wantStart: NewDate(2024, 1, 8),
			wantEnd:   NewDate(2024, 1, 15),
		},
		{
			name:      "monthly anchored on the first",
			budget:    budget(Monthly, NewDate(2024, 1, 1)),
			asOf:      NewDate(2024, 1, 20),
			wantStart: NewDate(2024, 1, 1),
			wantEnd:   NewDate(2024, 2, 1),
		},
		{
			name:      "monthly second window",
			budget:    budget(Monthly, NewDate(2024, 1, 15)),
			asOf:      NewDate(2024, 2, 20),
			wantStart: NewDate(2024, 2, 15),
			wantEnd:   NewDate(2024, 3, 15),
		},
		{
			name:      "quarterly",
			budget:    budget(Quarterly, NewDate(2024, 1, 1)),
			asOf:      NewDate(2024, 5, 10),
			wantStart: NewDate(2024, 4, 1),
			wantEnd:   NewDate(2024, 7, 1),
		},
		{
			name:      "yearly",
			budget:    budget(Yearly, NewDate(2022, 6, 1)),
			asOf:      NewDate(2024, 5, 31),
			wantStart: NewDate(2023, 6, 1),
			wantEnd:   NewDate(2024, 6, 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := tt.budget.PeriodWindow(tt.asOf)
			if err != nil {
				t.Fatalf("PeriodWindow(%s) error: %v", tt.asOf, err)
			}
			if !start.Equal(tt.wantStart) || !end.Equal(tt.wantEnd) {
				t.Errorf("PeriodWindow(%s) = [%s, %s), want [%s, %s)",
					tt.asOf, start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

// Windows anchored on Jan 31 normalize across short months; they must stay
// contiguous and non-overlapping.
func TestPeriodWindowMonthEndAnchor(t *testing.T) {
	b := budget(Monthly, NewDate(2024, 1, 31))

	// Every date from the anchor onward must land in exactly one window.
	day := b.StartDate
	_, prevEnd, err := b.PeriodWindow(day)
	if err != nil {
		t.Fatalf("PeriodWindow(%s) error: %v", day, err)
	}
	for day = b.StartDate; day.Before(NewDate(2024, 8, 1)); day = day.AddDays(1) {
		start, end, err := b.PeriodWindow(day)
		if err != nil {
			t.Fatalf("PeriodWindow(%s) error: %v", day, err)
		}
		if day.Before(start) || !day.Before(end) {
			t.Fatalf("date %s outside returned window [%s, %s)", day, start, end)
		}
		if start.After(prevEnd) {
			t.Fatalf("gap between windows: previous end %s, next start %s", prevEnd, start)
		}
		if end.After(prevEnd) {
			prevEnd = end
		}
	}
}

func TestPeriodWindowOutOfRange(t *testing.T) {
	b := budget(Monthly, NewDate(2024, 1, 1))
	if _, _, err := b.PeriodWindow(NewDate(2023, 12, 31)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("before start: got %v, want ErrOutOfRange", err)
	}

	b.EndDate = NewDate(2024, 6, 30)
	if _, _, err := b.PeriodWindow(NewDate(2024, 7, 1)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("after end: got %v, want ErrOutOfRange", err)
	}
	if _, _, err := b.PeriodWindow(NewDate(2024, 6, 30)); err != nil {
		t.Errorf("on end date: got %v, want nil", err)
	}
}

func TestBudgetOverlaps(t *testing.T) {
	openEnded := budget(Monthly, NewDate(2024, 1, 1))
	bounded := budget(Monthly, NewDate(2024, 6, 1))
	bounded.EndDate = NewDate(2024, 12, 31)

	if !openEnded.Overlaps(bounded) {
		t.Error("open-ended budget should overlap a later bounded one")
	}

	early := budget(Monthly, NewDate(2023, 1, 1))
	early.EndDate = NewDate(2023, 12, 31)
	if early.Overlaps(bounded) {
		t.Error("disjoint ranges reported as overlapping")
	}
	if early.Overlaps(openEnded) {
		t.Error("range ending the day before another starts reported as overlapping")
	}

	// An end date equal to another budget's start date is a shared day.
	touching := budget(Monthly, NewDate(2023, 1, 1))
	touching.EndDate = NewDate(2024, 1, 1)
	if !touching.Overlaps(openEnded) {
		t.Error("ranges sharing a day not reported as overlapping")
	}
}
