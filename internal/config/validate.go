package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"adventbot/internal/advent"
)

var ErrInvalidConfig = errors.New("invalid config")

// Validate checks everything that can be checked without network access.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: empty", ErrInvalidConfig)
	}
	var errs []error

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	for _, id := range cfg.Telegram.AdminUserIDs {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("telegram.admin_user_ids: invalid id %d", id))
		}
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		errs = append(errs, err)
		loc = time.UTC
	}
	if _, err := cfg.Advent.Window(advent.DateOf(time.Now().In(loc))); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := cfg.Advent.SendAtClock(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Advent.SendRatePerSec < 0 {
		errs = append(errs, errors.New("advent.send_rate_per_sec must be >= 0"))
	}
	if _, err := cfg.Advent.BroadcastTimeoutOrDefault(); err != nil {
		errs = append(errs, err)
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
