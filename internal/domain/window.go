package domain

import (
	"fmt"
	"time"
)

// Window is a closed date range [Start, End] parameterizing an ingestion run.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow validates and builds a window from two dates.
func NewWindow(start, end time.Time) (Window, error) {
	start = truncateDay(start)
	end = truncateDay(end)
	if end.Before(start) {
		return Window{}, fmt.Errorf("%w: window end %s before start %s",
			ErrInvalidInput, end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return Window{Start: start, End: end}, nil
}

// WindowFromDaysBack covers the daysBack days ending at now (inclusive).
func WindowFromDaysBack(now time.Time, daysBack int) Window {
	if daysBack < 0 {
		daysBack = 0
	}
	end := truncateDay(now)
	return Window{Start: end.AddDate(0, 0, -daysBack), End: end}
}

// Days returns every day of the window, oldest first.
func (w Window) Days() []time.Time {
	var days []time.Time
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Contains reports whether day falls inside the window.
func (w Window) Contains(day time.Time) bool {
	d := truncateDay(day)
	return !d.Before(w.Start) && !d.After(w.End)
}

func (w Window) String() string {
	return w.Start.Format(time.DateOnly) + ".." + w.End.Format(time.DateOnly)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
