package app

import (
	"context"
	"fmt"
	"time"

	"adventbot/internal/advent"
	"adventbot/internal/bot"
	"adventbot/internal/config"
	"adventbot/internal/eventbus"
	rtsup "adventbot/internal/runtime/supervisor"
	"adventbot/internal/storage"
	"adventbot/internal/task/scheduler"
	kit "adventbot/internal/transport"
	telegram "adventbot/internal/transport/telegram/adapter"
	"adventbot/internal/transport/telegram/router"
	logx "adventbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	engine  *advent.Engine
	sched   *scheduler.Service
	router  *router.Router
	bot     *bot.Bot

	updates chan kit.Update
}

// New loads the config and wires every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	// Telegram logging needs the adapter, which needs a logger: bootstrap
	// with the Telegram sink off, then enable it once the sender exists.
	bootCfg := mapLogConfig(cfg)
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg)
	log := root.With(logx.String("comp", "app"))

	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: eventbus.New(), updates: make(chan kit.Update, 256)}
	if err := a.wire(ctx, cfg, root); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, cfg *config.Config, root logx.Logger) error {
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	a.adapter, err = telegram.New(ctx, telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, root.With(logx.String("comp", "telegram")))
	if err != nil {
		return err
	}
	a.logs.SetSender(a.adapter)
	a.logs.SetTelegramTarget(logChatID(cfg), cfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(cfg))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}
	window, err := cfg.Advent.Window(advent.DateOf(time.Now().In(loc)))
	if err != nil {
		return err
	}
	a.engine = advent.NewEngine(a.store, a.store, a.adapter, advent.Options{
		Window:     window,
		Location:   loc,
		RatePerSec: cfg.Advent.RatePerSecOrDefault(),
		Bus:        a.bus,
		Logger:     root.With(logx.String("comp", "delivery")),
	})

	a.sched = scheduler.New(mapSchedulerConfig(cfg), root.With(logx.String("comp", "scheduler")), a.bus)

	a.router = router.New(a.adapter, root.With(logx.String("comp", "commands")), bot.RouterOptions())
	a.router.SetAdmins(cfg.Telegram.AdminUserIDs)

	broadcastTimeout, err := cfg.Advent.BroadcastTimeoutOrDefault()
	if err != nil {
		return err
	}
	a.bot = bot.New(bot.Deps{
		Store:            a.store,
		Engine:           a.engine,
		Router:           a.router,
		Scheduler:        a.sched,
		Bus:              a.bus,
		Logger:           root.With(logx.String("comp", "bot")),
		BroadcastTimeout: broadcastTimeout,
	})

	id, username := a.adapter.WhoAmI()
	a.log.Info("wired",
		logx.Int64("bot_id", id),
		logx.String("bot_username", username),
		logx.String("storage", a.store.Driver()),
		logx.String("window", window.String()),
		logx.String("tz", loc.String()),
		logx.String("send_at", cfg.Advent.SendAtOrDefault()),
		logx.Int("admins", len(cfg.Telegram.AdminUserIDs)),
	)
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	a.bot.Register(runCtx)
	if err := a.registerDaily(a.cfgm.Get()); err != nil {
		return err
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.sched.Start(runCtx)

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go("bot.broadcast_watch", a.bot.WatchBroadcasts)
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	if cfg := a.cfgm.Get(); cfg.Advent.CatchUp() {
		a.sup.Go0("advent.catch_up", func(c context.Context) { a.catchUp(c, cfg, time.Now()) })
	}

	a.log.Info("app started")
	return nil
}

// logEvents mirrors bus events at debug level.
func (a *App) logEvents(ctx context.Context) {
	events, unsubscribe := a.bus.Subscribe(64)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		// never started
		_ = a.store.Close()
		return a.logs.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "adapter", 3*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step with an upper bound so a stuck component
// cannot stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
			logx.Err(stepCtx.Err()),
		)
	}
}
