package app

import (
	"context"
	"strings"
	"time"

	"adventbot/internal/bot"
	"adventbot/internal/config"
	logx "adventbot/pkg/logx"
)

// registerDaily (re)schedules the daily broadcast at advent.send_at.
func (a *App) registerDaily(cfg *config.Config) error {
	timeout, err := cfg.Advent.BroadcastTimeoutOrDefault()
	if err != nil {
		return err
	}
	return a.sched.AddDaily(bot.DailyJobName, cfg.Advent.SendAtOrDefault(), timeout, a.runDaily)
}

func (a *App) runDaily(ctx context.Context) error {
	now := time.Now()
	a.refreshSeason(now)
	_, err := a.engine.RunDailyBroadcast(ctx, now)
	return err
}

// refreshSeason moves a season-derived window (no explicit bounds) forward
// once the previous season is over.
func (a *App) refreshSeason(now time.Time) {
	cfg := a.cfgm.Get()
	if strings.TrimSpace(cfg.Advent.Start) != "" || strings.TrimSpace(cfg.Advent.End) != "" {
		return
	}
	w, err := cfg.Advent.Window(a.engine.Today(now))
	if err != nil || w == a.engine.Window() {
		return
	}
	a.engine.SetWindow(w)
	a.log.Info("advent window updated", logx.String("window", w.String()))
}

// catchUp runs one daily pass at startup when today's send time has already
// passed inside the window. The pass is idempotent, so subscribers who
// already got today's entry are skipped.
func (a *App) catchUp(ctx context.Context, cfg *config.Config, now time.Time) {
	h, m, err := cfg.Advent.SendAtClock()
	if err != nil {
		return
	}
	a.refreshSeason(now)
	if !shouldCatchUp(now.In(a.engine.Location()), h, m, a.engine.IsWindowActive(now)) {
		return
	}
	timeout, err := cfg.Advent.BroadcastTimeoutOrDefault()
	if err != nil {
		timeout = config.DefaultBroadcastTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.log.Info("running catch-up broadcast", logx.String("send_at", cfg.Advent.SendAtOrDefault()))
	rep, err := a.engine.RunDailyBroadcast(ctx, now)
	if err != nil {
		a.log.Warn("catch-up broadcast failed", logx.Err(err))
		return
	}
	a.log.Info("catch-up broadcast done", logx.Int("sent", rep.Sent()), logx.Int("already_delivered", rep.AlreadyDelivered()))
}

// shouldCatchUp reports whether local is at or after hour:minute of its own
// day while the window is active.
func shouldCatchUp(local time.Time, hour, minute int, active bool) bool {
	if !active {
		return false
	}
	sendAt := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, local.Location())
	return !local.Before(sendAt)
}

