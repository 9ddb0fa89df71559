package storage

import (
	"fmt"
	"strings"

	logx "adventbot/pkg/logx"
)

const (
	DefaultFileDir    = "./data"
	DefaultSQLitePath = "./data/adventbot.db"
)

// Open initializes the configured store. An empty driver selects "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	path := strings.TrimSpace(cfg.Path)

	switch driver {
	case "", "file":
		if path == "" {
			path = DefaultFileDir
		}
		return openFile(path, log.With(logx.String("driver", "file")))
	case "sqlite", "sqlite3":
		if path == "" {
			path = DefaultSQLitePath
		}
		return openSQLite(path, cfg.BusyTimeout, log.With(logx.String("driver", "sqlite")))
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Driver)
	}
}
