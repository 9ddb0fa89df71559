package advent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"adventbot/internal/eventbus"
	"adventbot/internal/transport"
	logx "adventbot/pkg/logx"
)

// EventBroadcastFinished is published on the bus after every broadcast pass
// with a Summary as Data.
const EventBroadcastFinished = "broadcast.finished"

// DefaultSendRatePerSec stays below Telegram's ~30 msg/s bulk limit.
const DefaultSendRatePerSec = 20

// Sender is the part of transport.Adapter the engine needs.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Options struct {
	Window   Window
	Location *time.Location
	// RatePerSec paces sends within a pass; <= 0 uses DefaultSendRatePerSec.
	RatePerSec int
	Bus        eventbus.Bus
	Logger     logx.Logger
}

// Engine decides which subscribers receive which day's entry and sends it.
//
// Broadcast passes are serialized: a second pass waits for the running one.
// Window, location and rate can be changed at any time; a running pass keeps
// the values it started with.
type Engine struct {
	content ContentStore
	subs    SubscriberStore
	sender  Sender
	bus     eventbus.Bus

	mu      sync.RWMutex
	window  Window
	loc     *time.Location
	limiter *rate.Limiter
	log     logx.Logger

	runMu sync.Mutex
}

func NewEngine(content ContentStore, subs SubscriberStore, sender Sender, opts Options) *Engine {
	e := &Engine{
		content: content,
		subs:    subs,
		sender:  sender,
		bus:     opts.Bus,
		log:     opts.Logger,
	}
	e.SetWindow(opts.Window)
	e.SetLocation(opts.Location)
	e.SetRate(opts.RatePerSec)
	return e
}

func (e *Engine) SetWindow(w Window) {
	e.mu.Lock()
	e.window = w
	e.mu.Unlock()
}

func (e *Engine) Window() Window {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.window
}

// SetLocation sets the zone "today" is computed in. nil means UTC.
func (e *Engine) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	e.mu.Lock()
	e.loc = loc
	e.mu.Unlock()
}

func (e *Engine) Location() *time.Location {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loc
}

func (e *Engine) SetRate(perSec int) {
	if perSec <= 0 {
		perSec = DefaultSendRatePerSec
	}
	e.mu.Lock()
	e.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	e.mu.Unlock()
}

func (e *Engine) SetLogger(log logx.Logger) {
	e.mu.Lock()
	e.log = log
	e.mu.Unlock()
}

func (e *Engine) logger() logx.Logger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.log
}

// Today returns the calendar date of now in the engine's zone.
func (e *Engine) Today(now time.Time) Date {
	return DateOf(now.In(e.Location()))
}

// IsWindowActive reports whether today (in the engine's zone) lies within
// the inclusive advent window.
func (e *Engine) IsWindowActive(now time.Time) bool {
	return e.Window().Contains(e.Today(now))
}

// DeliverToOne sends the entry for d to sub and records the delivery.
// A failed send leaves the subscriber untouched.
func (e *Engine) DeliverToOne(ctx context.Context, sub Subscriber, d Date) Outcome {
	text, ok, err := e.FormatEntry(ctx, d)
	if err != nil {
		return skipped(sub.ID, ReasonStoreError, err)
	}
	if !ok {
		return skipped(sub.ID, ReasonNoEntry, nil)
	}
	return e.deliver(ctx, sub, d, text)
}

func (e *Engine) deliver(ctx context.Context, sub Subscriber, d Date, text string) Outcome {
	opt := &transport.SendOptions{ParseMode: ParseModeMarkdown}
	if _, err := e.sender.SendText(ctx, transport.ChatTarget{ChatID: sub.ID}, text, opt); err != nil {
		return skipped(sub.ID, ReasonSendFailed, err)
	}
	if err := e.subs.MarkDelivered(ctx, sub.ID, d); err != nil {
		o := sent(sub.ID)
		o.Err = fmt.Errorf("mark delivered: %w", err)
		return o
	}
	return sent(sub.ID)
}

// RunDailyBroadcast delivers today's entry to every subscribed user that has
// not received it yet. It is a no-op outside the window or when no entry
// exists for today, and idempotent within a day.
func (e *Engine) RunDailyBroadcast(ctx context.Context, now time.Time) (Report, error) {
	return e.run(ctx, KindDaily, now)
}

// RunManualBroadcast is RunDailyBroadcast without the already-delivered
// filter: every subscribed user gets today's entry again.
func (e *Engine) RunManualBroadcast(ctx context.Context, now time.Time) (Report, error) {
	return e.run(ctx, KindManual, now)
}

func (e *Engine) run(ctx context.Context, kind Kind, now time.Time) (rep Report, err error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.mu.RLock()
	window, limiter, log := e.window, e.limiter, e.log
	e.mu.RUnlock()

	rep = Report{
		RunID:   uuid.NewString(),
		Kind:    kind,
		Date:    e.Today(now),
		Started: time.Now(),
	}
	log = log.With(
		logx.String("run_id", rep.RunID),
		logx.String("kind", string(kind)),
		logx.String("date", rep.Date.String()),
	)
	defer func() {
		rep.Finished = time.Now()
		e.finish(log, rep, err)
	}()

	if !window.Contains(rep.Date) {
		rep.Skipped = ReasonWindowInactive
		return rep, nil
	}

	text, ok, err := e.FormatEntry(ctx, rep.Date)
	if err != nil {
		return rep, fmt.Errorf("load entry %s: %w", rep.Date, err)
	}
	if !ok {
		rep.Skipped = ReasonNoEntry
		return rep, nil
	}

	subs, err := e.subs.ListSubscribed(ctx)
	if err != nil {
		return rep, fmt.Errorf("list subscribers: %w", err)
	}

	rep.Outcomes = make([]Outcome, 0, len(subs))
	for i, sub := range subs {
		if kind == KindDaily && sub.LastDelivered == rep.Date {
			rep.Outcomes = append(rep.Outcomes, skipped(sub.ID, ReasonAlreadyDelivered, nil))
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			for _, rest := range subs[i:] {
				rep.Outcomes = append(rep.Outcomes, skipped(rest.ID, ReasonCanceled, ctx.Err()))
			}
			if cerr := ctx.Err(); cerr != nil {
				err = cerr
			}
			return rep, fmt.Errorf("broadcast interrupted: %w", err)
		}

		o := e.deliver(ctx, sub, rep.Date, text)
		switch {
		case !o.Sent:
			log.Warn("delivery failed", logx.Int64("chat_id", sub.ID), logx.Err(o.Err))
		case o.Err != nil:
			log.Warn("delivered but not recorded", logx.Int64("chat_id", sub.ID), logx.Err(o.Err))
		}
		rep.Outcomes = append(rep.Outcomes, o)
	}
	return rep, nil
}

func (e *Engine) finish(log logx.Logger, rep Report, err error) {
	s := rep.Summary()
	fields := []logx.Field{
		logx.String("skipped", string(s.Skipped)),
		logx.Int("recipients", s.Recipients),
		logx.Int("sent", s.Sent),
		logx.Int("failed", s.Failed),
		logx.Int("already_delivered", s.AlreadyDelivered),
		logx.Int64("duration_ms", s.DurationMS),
	}
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		log.Warn("broadcast canceled", append(fields, logx.Err(err))...)
	case err != nil:
		log.Error("broadcast failed", append(fields, logx.Err(err))...)
	case rep.Kind == KindDaily && !rep.Ran():
		log.Debug("broadcast skipped", fields...)
	default:
		log.Info("broadcast finished", fields...)
	}

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: EventBroadcastFinished, Data: s})
	}
}
