package advent

import (
	"fmt"
	"time"
)

// Season bounds used when no explicit window is configured.
const (
	seasonStartMonth = time.December
	seasonStartDay   = 26
	seasonEndMonth   = time.January
	seasonEndDay     = 11
)

// Window is an inclusive range of calendar dates.
type Window struct {
	Start Date
	End   Date
}

func NewWindow(start, end Date) (Window, error) {
	if start.IsZero() || end.IsZero() {
		return Window{}, fmt.Errorf("advent window: start and end are required")
	}
	if end.Before(start) {
		return Window{}, fmt.Errorf("advent window: end %s is before start %s", end, start)
	}
	return Window{Start: start, End: end}, nil
}

// SeasonWindow returns the Dec 26 - Jan 11 season that contains today, or
// the next one when today falls outside any season.
func SeasonWindow(today Date) Window {
	year := today.Year
	if today.Month == seasonEndMonth && today.Day <= seasonEndDay {
		year--
	}
	return Window{
		Start: NewDate(year, seasonStartMonth, seasonStartDay),
		End:   NewDate(year+1, seasonEndMonth, seasonEndDay),
	}
}

func (w Window) Contains(d Date) bool {
	return !d.Before(w.Start) && !d.After(w.End)
}

// Human renders the window for user-facing texts, e.g. "26.12.2025 - 11.01.2026".
func (w Window) Human() string {
	return w.Start.Display() + " - " + w.End.Display()
}

func (w Window) String() string { return w.Start.String() + ".." + w.End.String() }
