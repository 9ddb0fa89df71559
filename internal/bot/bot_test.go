package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"adventbot/internal/advent"
	"adventbot/internal/eventbus"
	"adventbot/internal/storage"
	"adventbot/internal/transport"
	"adventbot/internal/transport/telegram/router"
	logx "adventbot/pkg/logx"
)

const adminID = 100

type sentMsg struct {
	chat int64
	text string
	mode string
}

type fakeAdapter struct {
	mu     sync.Mutex
	sent   []sentMsg
	failOn map[int64]bool
	// delay slows sends to everyone but the admin chat.
	delay time.Duration
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if f.delay > 0 && to.ChatID != adminID {
		select {
		case <-ctx.Done():
		case <-time.After(f.delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[to.ChatID] {
		return transport.MessageRef{}, errors.New("forbidden: bot was blocked by the user")
	}
	m := sentMsg{chat: to.ChatID, text: text}
	if opt != nil {
		m.mode = opt.ParseMode
	}
	f.sent = append(f.sent, m)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) last(t *testing.T) sentMsg {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatalf("nothing sent")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeAdapter) to(chat int64) []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, m := range f.sent {
		if m.chat == chat {
			out = append(out, m)
		}
	}
	return out
}

type fixedNext time.Time

func (n fixedNext) NextRun(string) time.Time { return time.Time(n) }

type env struct {
	bot    *Bot
	store  storage.Store
	ad     *fakeAdapter
	router *router.Router
	loc    *time.Location
}

// newEnv builds a bot over a file store with "now" at 2025-12-26 12:00 in
// Europe/Moscow, inside the 2025-12-26..2026-01-11 window.
func newEnv(t *testing.T) *env {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ad := &fakeAdapter{failOn: map[int64]bool{}}
	bus := eventbus.New()
	w, _ := advent.NewWindow(advent.NewDate(2025, time.December, 26), advent.NewDate(2026, time.January, 11))
	eng := advent.NewEngine(st, st, ad, advent.Options{Window: w, Location: loc, RatePerSec: 1000, Bus: bus, Logger: logx.Nop()})

	r := router.New(ad, logx.Nop(), RouterOptions())
	r.SetAdmins([]int64{adminID})

	now := time.Date(2025, time.December, 26, 12, 0, 0, 0, loc)
	b := New(Deps{
		Store:     st,
		Engine:    eng,
		Router:    r,
		Scheduler: fixedNext(time.Date(2025, time.December, 27, 10, 0, 0, 0, loc)),
		Bus:       bus,
		Logger:    logx.Nop(),
		Now:       func() time.Time { return now },
	})
	b.Register(context.Background())
	return &env{bot: b, store: st, ad: ad, router: r, loc: loc}
}

func (e *env) setNow(t time.Time) { e.bot.now = func() time.Time { return t } }

func (e *env) call(t *testing.T, h router.HandlerFunc, from int64, payload string) {
	t.Helper()
	req := &router.Request{
		Chat:    transport.ChatTarget{ChatID: from},
		FromID:  from,
		Payload: payload,
		IsAdmin: e.router.IsAdmin(from),
		Adapter: e.ad,
		Logger:  logx.Nop(),
	}
	if err := h(context.Background(), req); err != nil {
		t.Fatalf("handler: %v", err)
	}
}

func TestSubscribeFlow(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	e.call(t, e.bot.cmdStart, 1, "")
	if got := e.ad.last(t).text; !strings.Contains(got, "С 26 декабря по 11 января") {
		t.Fatalf("welcome=%q", got)
	}
	e.call(t, e.bot.cmdUnsubscribe, 1, "")
	if got := e.ad.last(t).text; got != textUnsubscribed {
		t.Fatalf("reply=%q", got)
	}
	s, ok, err := e.store.GetSubscriber(ctx, 1)
	if err != nil || !ok || s.Subscribed {
		t.Fatalf("subscriber=%+v ok=%v err=%v", s, ok, err)
	}
	e.call(t, e.bot.cmdSubscribe, 1, "")
	if s, _, _ := e.store.GetSubscriber(ctx, 1); !s.Subscribed {
		t.Fatalf("expected subscribed")
	}
}

func TestAddShowListDelete(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	e.call(t, e.bot.cmdAddDay, adminID, "2025-12-26 | Game Night | Play charades | twice")
	if got := e.ad.last(t).text; got != "Адвент на 2025-12-26 сохранён.\nЗаголовок: Game Night" {
		t.Fatalf("reply=%q", got)
	}

	e.call(t, e.bot.cmdShowDay, adminID, "2025-12-26")
	m := e.ad.last(t)
	if m.text != "*Game Night* (26.12.2025)\n\nPlay charades | twice" || m.mode != advent.ParseModeMarkdown {
		t.Fatalf("show=%+v", m)
	}

	e.call(t, e.bot.cmdAddDay, adminID, "2025-12-27 | Cocoa | Recipe")
	e.call(t, e.bot.cmdListDays, adminID, "")
	if got := e.ad.last(t).text; got != "2025-12-26: Game Night\n2025-12-27: Cocoa" {
		t.Fatalf("list=%q", got)
	}

	e.call(t, e.bot.cmdDeleteDay, adminID, "2025-12-27")
	if got := e.ad.last(t).text; got != "Адвент на дату 2025-12-27 удалён." {
		t.Fatalf("delete=%q", got)
	}
	e.call(t, e.bot.cmdDeleteDay, adminID, "2025-12-27")
	if got := e.ad.last(t).text; got != "Адвента на дату 2025-12-27 не было." {
		t.Fatalf("delete again=%q", got)
	}
	e.call(t, e.bot.cmdShowDay, adminID, "2025-12-27")
	if got := e.ad.last(t).text; got != "Адвента на дату 2025-12-27 нет." {
		t.Fatalf("show missing=%q", got)
	}

	audit, err := e.store.RecentAudit(context.Background(), 10)
	if err != nil || len(audit) != 4 || audit[0].Action != "delete_day" || audit[0].ActorID != adminID {
		t.Fatalf("audit=%+v err=%v", audit, err)
	}
}

func TestMalformedAdminInputLeavesStoreUnchanged(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	tests := []struct {
		h       router.HandlerFunc
		payload string
		want    string
	}{
		{h: e.bot.cmdAddDay, payload: "", want: textUsageAddDay},
		{h: e.bot.cmdAddDay, payload: "2025-12-26 | only title", want: textUsageAddDay},
		{h: e.bot.cmdAddDay, payload: "26.12.2025 | t | d", want: textUsageAddDay},
		{h: e.bot.cmdAddDay, payload: "2025-13-01 | t | d", want: textUsageAddDay},
		{h: e.bot.cmdShowDay, payload: "tomorrow", want: textUsageShowDay},
		{h: e.bot.cmdDeleteDay, payload: "2025-12-26 extra", want: textUsageDeleteDay},
	}
	for _, tc := range tests {
		e.call(t, tc.h, adminID, tc.payload)
		if got := e.ad.last(t).text; got != tc.want {
			t.Fatalf("payload %q: reply=%q", tc.payload, got)
		}
	}
	entries, err := e.store.ListEntries(context.Background())
	if err != nil || len(entries) != 0 {
		t.Fatalf("entries=%+v err=%v", entries, err)
	}
}

func TestTodayRespectsWindowForNonAdmins(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	e.call(t, e.bot.cmdToday, 1, "")
	if got := e.ad.last(t).text; got != textNoEntryToday {
		t.Fatalf("no entry=%q", got)
	}

	if _, err := e.store.SetEntry(ctx, advent.NewDate(2025, time.December, 26), "Game Night", "Play charades"); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}
	e.call(t, e.bot.cmdToday, 1, "")
	if got := e.ad.last(t).text; got != "*Game Night* (26.12.2025)\n\nPlay charades" {
		t.Fatalf("today=%q", got)
	}

	// 2025-12-20 is outside the window.
	if _, err := e.store.SetEntry(ctx, advent.NewDate(2025, time.December, 20), "Early", "Preview"); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}
	e.setNow(time.Date(2025, time.December, 20, 12, 0, 0, 0, e.loc))
	e.call(t, e.bot.cmdToday, 1, "")
	if got := e.ad.last(t).text; got != "Адвент-бот активен только с 26 декабря по 11 января." {
		t.Fatalf("inactive=%q", got)
	}
	e.call(t, e.bot.cmdToday, adminID, "")
	if got := e.ad.last(t).text; !strings.HasPrefix(got, "*Early*") {
		t.Fatalf("admin preview=%q", got)
	}
}

func TestBroadcastToday(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	e.call(t, e.bot.cmdBroadcastToday, adminID, "")
	if got := e.ad.last(t).text; got != textBroadcastNoEntry {
		t.Fatalf("no entry=%q", got)
	}

	d := advent.NewDate(2025, time.December, 26)
	if _, err := e.store.SetEntry(ctx, d, "Game Night", "Play charades"); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}
	for _, id := range []int64{1, 2, 3} {
		if _, err := e.store.Upsert(ctx, id, nil); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if err := e.store.MarkDelivered(ctx, 1, d); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	e.ad.failOn[3] = true

	e.call(t, e.bot.cmdBroadcastToday, adminID, "")
	if got := e.ad.last(t).text; got != "Отправил сегодняшний адвент 2 подписчикам.\nНе доставлено: 1." {
		t.Fatalf("done=%q", got)
	}
	// manual broadcast ignores the already-delivered marker
	if n := len(e.ad.to(1)); n != 1 {
		t.Fatalf("user 1 got %d messages", n)
	}

	e.setNow(time.Date(2026, time.January, 12, 12, 0, 0, 0, e.loc))
	e.call(t, e.bot.cmdBroadcastToday, adminID, "")
	if got := e.ad.last(t).text; got != "Сейчас бот вне периода адвента (26 декабря — 11 января)." {
		t.Fatalf("inactive=%q", got)
	}
}

func TestBroadcastTimeoutStillRepliesToAdmin(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	d := advent.NewDate(2025, time.December, 26)
	if _, err := e.store.SetEntry(ctx, d, "Game Night", "Play charades"); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}
	for _, id := range []int64{1, 2, 3, 4, 5} {
		if _, err := e.store.Upsert(ctx, id, nil); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	e.ad.delay = 100 * time.Millisecond
	e.bot.SetBroadcastTimeout(250 * time.Millisecond)

	req := &router.Request{
		Chat:    transport.ChatTarget{ChatID: adminID},
		FromID:  adminID,
		IsAdmin: true,
		Adapter: e.ad,
		Logger:  logx.Nop(),
	}
	if err := e.bot.cmdBroadcastToday(ctx, req); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want deadline exceeded", err)
	}

	replies := e.ad.to(adminID)
	if len(replies) != 1 {
		t.Fatalf("admin got %d replies, want 1", len(replies))
	}
	if !strings.HasPrefix(replies[0].text, "Рассылка прервана: отправлено ") || !strings.Contains(replies[0].text, "не доставлено ") {
		t.Fatalf("reply=%q", replies[0].text)
	}
	delivered := 0
	for _, id := range []int64{1, 2, 3, 4, 5} {
		delivered += len(e.ad.to(id))
	}
	if delivered == 0 || delivered == 5 {
		t.Fatalf("delivered=%d, want a partial pass", delivered)
	}
}

func TestStatusShowsStateAndLastBroadcast(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.bot.WatchBroadcasts(ctx) }()

	d := advent.NewDate(2025, time.December, 26)
	if _, err := e.store.SetEntry(ctx, d, "Game Night", "Play charades"); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}
	if _, err := e.store.Upsert(ctx, 1, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// wait until the watcher is subscribed before broadcasting
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := e.bot.engine.RunDailyBroadcast(ctx, e.bot.now()); err != nil {
			t.Fatalf("RunDailyBroadcast: %v", err)
		}
		if _, ok := e.bot.LastBroadcast(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("broadcast summary never observed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	text, err := e.bot.statusText(ctx)
	if err != nil {
		t.Fatalf("statusText: %v", err)
	}
	for _, want := range []string{
		"Период: 26.12.2025 - 11.01.2026 (активно)",
		"Сегодня: 26.12.2025, адвент «Game Night»",
		"Следующая рассылка: 27.12.2025 10:00 MSK",
		"Подписчики: 1 из 1",
		"Хранилище: file",
		"Последняя рассылка (daily, 2025-12-26)",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("status missing %q:\n%s", want, text)
		}
	}
}

func TestNonAdminCannotMutateThroughRouter(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update, 4)
	done := make(chan struct{})
	go func() {
		_ = e.router.Run(ctx, updates)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ChatID: 5, FromID: 5, Text: "/admin_add_day 2025-12-26 | Hack | nope",
	}}
	deadline := time.Now().Add(2 * time.Second)
	for len(e.ad.to(5)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no refusal sent")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := e.ad.to(5)[0].text; got != textForbidden {
		t.Fatalf("reply=%q", got)
	}
	entries, err := e.store.ListEntries(context.Background())
	if err != nil || len(entries) != 0 {
		t.Fatalf("entries=%+v err=%v", entries, err)
	}
}

func TestHelpListsAdminCommandsOnlyForAdmins(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	e.call(t, e.bot.cmdHelp, 1, "")
	if got := e.ad.last(t).text; strings.Contains(got, "admin_") || !strings.Contains(got, "/today") {
		t.Fatalf("public help=%q", got)
	}
	e.call(t, e.bot.cmdAdminHelp, adminID, "")
	got := e.ad.last(t).text
	if !strings.Contains(got, "/admin_add_day YYYY-MM-DD | Заголовок | Описание — добавить/обновить день") {
		t.Fatalf("admin help=%q", got)
	}
}
