// Package bot implements the advent bot's Telegram commands on top of the
// delivery engine and the stores.
package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"adventbot/internal/advent"
	"adventbot/internal/eventbus"
	"adventbot/internal/storage"
	"adventbot/internal/transport/telegram/router"
	logx "adventbot/pkg/logx"
)

// DailyJobName is the scheduler name of the daily broadcast.
const DailyJobName = "advent.daily"

// NextRunner reports when a named schedule fires next.
type NextRunner interface {
	NextRun(name string) time.Time
}

type Deps struct {
	Store     storage.Store
	Engine    *advent.Engine
	Router    *router.Router
	Scheduler NextRunner
	Bus       eventbus.Bus
	Logger    logx.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// BroadcastTimeout bounds /admin_broadcast_today; 0 means 10m.
	BroadcastTimeout time.Duration
}

type Bot struct {
	store  storage.Store
	engine *advent.Engine
	router *router.Router
	sched  NextRunner
	bus    eventbus.Bus
	now    func() time.Time

	mu               sync.RWMutex
	log              logx.Logger
	broadcastTimeout time.Duration

	last atomic.Pointer[advent.Summary]
}

func New(d Deps) *Bot {
	b := &Bot{
		store:  d.Store,
		engine: d.Engine,
		router: d.Router,
		sched:  d.Scheduler,
		bus:    d.Bus,
		now:    d.Now,
		log:    d.Logger,
	}
	if b.now == nil {
		b.now = time.Now
	}
	b.SetBroadcastTimeout(d.BroadcastTimeout)
	return b
}

func (b *Bot) SetBroadcastTimeout(d time.Duration) {
	if d <= 0 {
		d = 10 * time.Minute
	}
	b.mu.Lock()
	b.broadcastTimeout = d
	b.mu.Unlock()
}

func (b *Bot) SetLogger(log logx.Logger) {
	b.mu.Lock()
	b.log = log
	b.mu.Unlock()
}

func (b *Bot) logger() logx.Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.log
}

// Register installs the command set on the router.
func (b *Bot) Register(ctx context.Context) {
	b.router.SetCommands(ctx, b.Commands())
}

// RouterOptions carries the router replies in the bot's language.
func RouterOptions() router.Options {
	return router.Options{
		UnknownText:   textUnknown,
		ForbiddenText: textForbidden,
		BusyText:      textBusy,
	}
}

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "Подписаться и узнать о боте", Handle: b.cmdStart},
		{Name: "subscribe", Description: "Подписаться на ежедневные адвенты", Handle: b.cmdSubscribe},
		{Name: "unsubscribe", Description: "Отписаться", Handle: b.cmdUnsubscribe},
		{Name: "today", Description: "Сегодняшний адвент", Handle: b.cmdToday},
		{Name: "help", Description: "Список команд", Handle: b.cmdHelp},

		{Name: "admin_help", Description: "Админ-команды", Access: router.AccessAdmin, Handle: b.cmdAdminHelp},
		{
			Name: "admin_add_day", Usage: "/admin_add_day YYYY-MM-DD | Заголовок | Описание",
			Description: "добавить/обновить день", Access: router.AccessAdmin, Handle: b.cmdAddDay,
		},
		{Name: "admin_list_days", Description: "список всех дней", Access: router.AccessAdmin, Handle: b.cmdListDays},
		{
			Name: "admin_show_day", Usage: "/admin_show_day YYYY-MM-DD",
			Description: "показать адвент за конкретный день", Access: router.AccessAdmin, Handle: b.cmdShowDay,
		},
		{
			Name: "admin_delete_day", Usage: "/admin_delete_day YYYY-MM-DD",
			Description: "удалить адвент за конкретный день", Access: router.AccessAdmin, Handle: b.cmdDeleteDay,
		},
		{
			Name: "admin_broadcast_today", Description: "разослать сегодняшний адвент всем подписчикам сейчас",
			Access: router.AccessAdmin, Timeout: -1, Handle: b.cmdBroadcastToday,
		},
		{Name: "admin_status", Description: "состояние бота", Access: router.AccessAdmin, Handle: b.cmdStatus},
	}
}

// WatchBroadcasts keeps the latest broadcast summary for /admin_status. It
// returns when ctx is done.
func (b *Bot) WatchBroadcasts(ctx context.Context) error {
	if b.bus == nil {
		<-ctx.Done()
		return nil
	}
	events, unsubscribe := b.bus.Subscribe(16)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type != advent.EventBroadcastFinished {
				continue
			}
			if s, ok := ev.Data.(advent.Summary); ok {
				b.last.Store(&s)
			}
		}
	}
}

// LastBroadcast returns the summary of the most recent pass, if any.
func (b *Bot) LastBroadcast() (advent.Summary, bool) {
	if p := b.last.Load(); p != nil {
		return *p, true
	}
	return advent.Summary{}, false
}
