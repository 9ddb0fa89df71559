package app

import (
	"context"
	"time"

	"adventbot/internal/config"
	telegram "adventbot/internal/transport/telegram/adapter"
	logx "adventbot/pkg/logx"
)

// WhoAmI connects with the configured token and returns the bot identity.
func WhoAmI(ctx context.Context, cfgPath string) (int64, string, error) {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return 0, "", err
	}
	ad, err := telegram.New(ctx, telegram.Config{
		Token:             cfg.Telegram.Token,
		PollTimeout:       time.Second,
		BootstrapAttempts: 1,
	}, logx.NewConsole("warn"))
	if err != nil {
		return 0, "", err
	}
	id, username := ad.WhoAmI()
	return id, username, nil
}
