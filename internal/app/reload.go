package app

import (
	"context"
	"strings"
	"time"

	"adventbot/internal/config"
	logx "adventbot/pkg/logx"
)

// reloadLoop applies hot-reloaded configs published by the config manager.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RequiresRestart(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config change requires restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	// log target first so Apply doesn't enable a sink without a chat
	a.logs.SetTelegramTarget(logChatID(newCfg), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.router.SetAdmins(newCfg.Telegram.AdminUserIDs)

	if loc, err := newCfg.Scheduler.Location(); err == nil {
		a.engine.SetLocation(loc)
	}
	if w, err := newCfg.Advent.Window(a.engine.Today(time.Now())); err == nil {
		a.engine.SetWindow(w)
	}
	a.engine.SetRate(newCfg.Advent.RatePerSecOrDefault())
	if d, err := newCfg.Advent.BroadcastTimeoutOrDefault(); err == nil {
		a.bot.SetBroadcastTimeout(d)
	}

	// Apply restarts cron on a zone change; re-registering replaces the job
	// when send_at or the timeout changed.
	a.sched.Apply(mapSchedulerConfig(newCfg))
	if err := a.registerDaily(newCfg); err != nil {
		a.log.Error("daily schedule not updated", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
