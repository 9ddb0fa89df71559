package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Advent    AdventConfig    `json:"advent"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs is the allow-list for /admin_* commands.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the daily trigger.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone is an IANA name (e.g. "Europe/Moscow"). It is used both for
	// cron triggering and for deciding what "today" is.
	Timezone string `json:"timezone,omitempty"`
}

// AdventConfig describes the delivery window and pacing.
//
// Start and End are inclusive ISO dates ("2025-12-26"). When both are empty
// the season containing the current date is used (Dec 26 - Jan 11).
type AdventConfig struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`

	// SendAt is the local wall-clock time of the daily broadcast, "HH:MM".
	SendAt string `json:"send_at,omitempty"`

	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`

	// CatchUpOnStart runs the daily broadcast once at startup when the bot
	// was down at SendAt. Pointer so "omitted" defaults to true.
	CatchUpOnStart *bool `json:"catch_up_on_start,omitempty"`

	// BroadcastTimeout bounds a single broadcast pass (Go duration string).
	BroadcastTimeout string `json:"broadcast_timeout,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
