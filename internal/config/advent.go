package config

import (
	"fmt"
	"strings"
	"time"

	"adventbot/internal/advent"
)

const (
	DefaultSendAt           = "10:00"
	DefaultTimezone         = "Europe/Moscow"
	DefaultBroadcastTimeout = 10 * time.Minute
)

// CatchUp reports whether a missed daily broadcast runs at startup.
func (a AdventConfig) CatchUp() bool {
	return a.CatchUpOnStart == nil || *a.CatchUpOnStart
}

func (a AdventConfig) SendAtOrDefault() string {
	if s := strings.TrimSpace(a.SendAt); s != "" {
		return s
	}
	return DefaultSendAt
}

func (a AdventConfig) RatePerSecOrDefault() int {
	if a.SendRatePerSec > 0 {
		return a.SendRatePerSec
	}
	return advent.DefaultSendRatePerSec
}

// Window resolves the configured window. With neither bound set, the season
// containing today is used. Setting only one bound is an error.
func (a AdventConfig) Window(today advent.Date) (advent.Window, error) {
	start, end := strings.TrimSpace(a.Start), strings.TrimSpace(a.End)
	if start == "" && end == "" {
		return advent.SeasonWindow(today), nil
	}
	if start == "" || end == "" {
		return advent.Window{}, fmt.Errorf("advent: start and end must be set together")
	}
	s, err := advent.ParseDate(start)
	if err != nil {
		return advent.Window{}, fmt.Errorf("advent.start: %w", err)
	}
	e, err := advent.ParseDate(end)
	if err != nil {
		return advent.Window{}, fmt.Errorf("advent.end: %w", err)
	}
	return advent.NewWindow(s, e)
}

// SendAtClock parses SendAt ("HH:MM") into hour and minute.
func (a AdventConfig) SendAtClock() (hour, minute int, err error) {
	s := a.SendAtOrDefault()
	t, perr := time.Parse("15:04", s)
	if perr != nil {
		return 0, 0, fmt.Errorf("advent.send_at: invalid time %q (want HH:MM)", s)
	}
	return t.Hour(), t.Minute(), nil
}

func (a AdventConfig) BroadcastTimeoutOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("advent.broadcast_timeout", a.BroadcastTimeout, DefaultBroadcastTimeout)
}

// Location loads the scheduler time zone, defaulting to Europe/Moscow.
func (s SchedulerConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(s.Timezone)
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}
