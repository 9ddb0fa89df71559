package advent

import (
	"testing"
	"time"
)

func TestWindowContainsIsInclusive(t *testing.T) {
	t.Parallel()

	w, err := NewWindow(NewDate(2025, time.December, 26), NewDate(2026, time.January, 11))
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}

	tests := []struct {
		d    Date
		want bool
	}{
		{NewDate(2025, time.December, 25), false},
		{NewDate(2025, time.December, 26), true},
		{NewDate(2025, time.December, 31), true},
		{NewDate(2026, time.January, 1), true},
		{NewDate(2026, time.January, 11), true},
		{NewDate(2026, time.January, 12), false},
	}
	for _, tt := range tests {
		if got := w.Contains(tt.d); got != tt.want {
			t.Fatalf("Contains(%v)=%v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestNewWindowRejectsReversedRange(t *testing.T) {
	t.Parallel()

	if _, err := NewWindow(NewDate(2026, time.January, 11), NewDate(2025, time.December, 26)); err == nil {
		t.Fatalf("expected error for end before start")
	}
	if _, err := NewWindow(Date{}, NewDate(2025, time.December, 26)); err == nil {
		t.Fatalf("expected error for missing start")
	}
}

func TestSeasonWindow(t *testing.T) {
	t.Parallel()

	want2025 := Window{Start: NewDate(2025, time.December, 26), End: NewDate(2026, time.January, 11)}
	tests := []struct {
		name  string
		today Date
		want  Window
	}{
		{"before season", NewDate(2025, time.October, 1), want2025},
		{"first day", NewDate(2025, time.December, 26), want2025},
		{"after new year", NewDate(2026, time.January, 5), want2025},
		{"last day", NewDate(2026, time.January, 11), want2025},
		{"after season", NewDate(2026, time.January, 12), Window{Start: NewDate(2026, time.December, 26), End: NewDate(2027, time.January, 11)}},
	}
	for _, tt := range tests {
		if got := SeasonWindow(tt.today); got != tt.want {
			t.Fatalf("%s: SeasonWindow(%v)=%v, want %v", tt.name, tt.today, got, tt.want)
		}
	}
}
