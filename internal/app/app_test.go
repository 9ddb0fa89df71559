package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"adventbot/internal/advent"
	"adventbot/internal/bot"
	"adventbot/internal/config"
	"adventbot/internal/eventbus"
	"adventbot/internal/storage"
	"adventbot/internal/task/scheduler"
	kit "adventbot/internal/transport"
	"adventbot/internal/transport/telegram/router"
	logx "adventbot/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      *config.StorageConfig
		want    storage.Config
		wantErr bool
	}{
		{name: "omitted", in: nil, want: storage.Config{Driver: "file"}},
		{name: "file", in: &config.StorageConfig{Driver: "file", Path: "./d"}, want: storage.Config{Driver: "file", Path: "./d"}},
		{
			name: "sqlite default busy",
			in:   &config.StorageConfig{Driver: "SQLite", Path: "a.db"},
			want: storage.Config{Driver: "sqlite", Path: "a.db", BusyTimeout: time.Second},
		},
		{
			name: "sqlite busy",
			in:   &config.StorageConfig{Driver: "sqlite3", Path: "a.db", BusyTimeout: "5s"},
			want: storage.Config{Driver: "sqlite", Path: "a.db", BusyTimeout: 5 * time.Second},
		},
		{name: "bad busy", in: &config.StorageConfig{Driver: "sqlite", BusyTimeout: "soon"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "postgres"}, wantErr: true},
	}
	for _, tc := range tests {
		got, err := mapStorageConfig(&config.Config{Storage: tc.in})
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%s: got %+v, %v; want %+v", tc.name, got, err, tc.want)
		}
	}
}

func TestShouldCatchUp(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	at := func(h, m int) time.Time { return time.Date(2025, time.December, 27, h, m, 0, 0, loc) }

	tests := []struct {
		now    time.Time
		active bool
		want   bool
	}{
		{now: at(9, 59), active: true, want: false},
		{now: at(10, 0), active: true, want: true},
		{now: at(23, 30), active: true, want: true},
		{now: at(12, 0), active: false, want: false},
	}
	for _, tc := range tests {
		if got := shouldCatchUp(tc.now, 10, 0, tc.active); got != tc.want {
			t.Fatalf("shouldCatchUp(%v, active=%v)=%v", tc.now, tc.active, got)
		}
	}
}

func TestLogChatID(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]int64{"": 0, " -1001234 ": -1001234, "@chan": 0} {
		cfg := &config.Config{Telegram: config.TelegramConfig{GroupLog: in}}
		if got := logChatID(cfg); got != want {
			t.Fatalf("logChatID(%q)=%d, want %d", in, got, want)
		}
	}
}

type nopAdapter struct {
	mu   sync.Mutex
	sent []int64
}

func (n *nopAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (n *nopAdapter) Stop(context.Context) error                     { return nil }
func (n *nopAdapter) SendText(_ context.Context, to kit.ChatTarget, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, to.ChatID)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

// newTestApp wires an App without a Telegram connection.
func newTestApp(t *testing.T, cfgYAML string) (*App, *nopAdapter) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfgYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfgm := config.NewConfigManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "data")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	w, err := cfg.Advent.Window(advent.DateOf(time.Now().In(loc)))
	if err != nil {
		t.Fatalf("window: %v", err)
	}

	ad := &nopAdapter{}
	bus := eventbus.New()
	logs, root := logx.New(logx.Config{Level: "error"})
	t.Cleanup(func() { _ = logs.Close() })

	a := &App{cfgm: cfgm, log: root, logs: logs, bus: bus, store: st}
	a.engine = advent.NewEngine(st, st, ad, advent.Options{Window: w, Location: loc, RatePerSec: 1000, Bus: bus, Logger: logx.Nop()})
	a.sched = scheduler.New(mapSchedulerConfig(cfg), logx.Nop(), bus)
	a.router = router.New(ad, logx.Nop(), bot.RouterOptions())
	a.router.SetAdmins(cfg.Telegram.AdminUserIDs)
	a.bot = bot.New(bot.Deps{Store: st, Engine: a.engine, Router: a.router, Scheduler: a.sched, Bus: bus, Logger: logx.Nop()})
	return a, ad
}

const baseConfig = `
telegram:
  token: "123:abc"
  admin_user_ids: [1]
scheduler:
  enabled: true
  timezone: Europe/Moscow
advent:
  start: "2025-12-26"
  end: "2026-01-11"
  send_at: "10:00"
`

func TestApplyConfigUpdatesComponents(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, baseConfig)
	a.sched.Start(context.Background())
	defer a.sched.Stop(context.Background())
	if err := a.registerDaily(a.cfgm.Get()); err != nil {
		t.Fatalf("registerDaily: %v", err)
	}

	newCfg, err := config.Decode("config.yaml", []byte(`
telegram:
  token: "123:abc"
  admin_user_ids: [2]
scheduler:
  enabled: true
  timezone: Asia/Tbilisi
advent:
  start: "2026-12-26"
  end: "2027-01-11"
  send_at: "09:30"
`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	a.applyConfig(a.cfgm.Get(), newCfg)

	if a.router.IsAdmin(1) || !a.router.IsAdmin(2) {
		t.Fatalf("admins not applied")
	}
	if got := a.engine.Location().String(); got != "Asia/Tbilisi" {
		t.Fatalf("engine location=%s", got)
	}
	if got := a.engine.Window().String(); got != "2026-12-26..2027-01-11" {
		t.Fatalf("window=%s", got)
	}
	snap := a.sched.Snapshot()
	if snap.Timezone != "Asia/Tbilisi" || len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "30 9 * * *" {
		t.Fatalf("scheduler=%+v", snap)
	}
	next := a.sched.NextRun(bot.DailyJobName).In(a.sched.Location())
	if next.Hour() != 9 || next.Minute() != 30 {
		t.Fatalf("next run=%v", next)
	}
}

func TestCatchUpDeliversOnce(t *testing.T) {
	t.Parallel()

	a, ad := newTestApp(t, baseConfig)
	ctx := context.Background()
	loc := a.engine.Location()

	d := advent.NewDate(2025, time.December, 27)
	if _, err := a.store.SetEntry(ctx, d, "Cocoa", "Recipe"); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}
	for _, id := range []int64{10, 11} {
		if _, err := a.store.Upsert(ctx, id, nil); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if err := a.store.MarkDelivered(ctx, 11, d); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	cfg := a.cfgm.Get()
	a.catchUp(ctx, cfg, time.Date(2025, time.December, 27, 8, 0, 0, 0, loc))
	if len(ad.sent) != 0 {
		t.Fatalf("catch-up before send time sent %v", ad.sent)
	}
	a.catchUp(ctx, cfg, time.Date(2025, time.December, 27, 15, 0, 0, 0, loc))
	a.catchUp(ctx, cfg, time.Date(2025, time.December, 27, 16, 0, 0, 0, loc))
	if len(ad.sent) != 1 || ad.sent[0] != 10 {
		t.Fatalf("sent=%v, want only subscriber 10 once", ad.sent)
	}
}
