package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"adventbot/internal/eventbus"
	logx "adventbot/pkg/logx"
)

func TestParseHHMM(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{in: "10:00", h: 10, m: 0},
		{in: " 09:05 ", h: 9, m: 5},
		{in: "23:59", h: 23, m: 59},
		{in: "24:00", wantErr: true},
		{in: "10:60", wantErr: true},
		{in: "10:5", wantErr: true},
		{in: "1000", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		h, m, err := parseHHMM(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseHHMM(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || h != tc.h || m != tc.m {
			t.Fatalf("parseHHMM(%q)=(%d,%d,%v), want (%d,%d)", tc.in, h, m, err, tc.h, tc.m)
		}
	}
}

func TestAddDailyNextRunInZone(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Timezone: "Europe/Moscow"}, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.AddDaily("daily", "10:00", time.Minute, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	next := s.NextRun("daily").In(s.Location())
	if next.IsZero() {
		t.Fatalf("expected next run")
	}
	if next.Hour() != 10 || next.Minute() != 0 {
		t.Fatalf("next=%v, want 10:00 Moscow", next)
	}
	if s.Location().String() != "Europe/Moscow" {
		t.Fatalf("location=%s", s.Location())
	}
}

func TestAddReplacesSameName(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	noop := func(context.Context) error { return nil }
	if err := s.AddDaily("daily", "10:00", 0, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if err := s.AddDaily("daily", "11:30", 0, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "30 11 * * *" {
		t.Fatalf("schedules=%+v", snap.Schedules)
	}
	if !s.Remove("daily") || s.Remove("daily") {
		t.Fatalf("Remove should report existence once")
	}
}

func TestAddCronRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := s.AddCron("x", "not a spec", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error")
	}
	if err := s.AddDaily("x", "25:00", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error")
	}
	if len(s.Snapshot().Schedules) != 0 {
		t.Fatalf("invalid schedules must not be registered")
	}
}

func TestDisabledKeepsDefinitions(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: false}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.AddDaily("daily", "10:00", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if !s.NextRun("daily").IsZero() {
		t.Fatalf("disabled scheduler must not trigger")
	}
	s.Apply(Config{Enabled: true})
	if s.NextRun("daily").IsZero() {
		t.Fatalf("enabling should schedule existing definitions")
	}
}

func TestJobRunRecordsHistoryAndEvent(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	s := New(Config{Enabled: true}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var runs atomic.Int32
	boom := errors.New("boom")
	if err := s.AddCron("every-second", "* * * * * *", time.Second, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("job context has no deadline")
		}
		runs.Add(1)
		return boom
	}); err != nil {
		t.Fatalf("AddCron: %v", err)
	}

	select {
	case ev := <-events:
		item, ok := ev.Data.(HistoryItem)
		if ev.Type != EventJobFinished || !ok || item.Name != "every-second" || item.Err != "boom" {
			t.Fatalf("event=%+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not run")
	}
	if runs.Load() == 0 {
		t.Fatalf("runs=0")
	}
	if h := s.Snapshot().History; len(h) == 0 || h[0].Name != "every-second" {
		t.Fatalf("history=%+v", h)
	}
}

func TestStopCancelsRunningJob(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), nil)
	s.Start(context.Background())

	started := make(chan struct{})
	canceled := make(chan struct{})
	var once atomic.Bool
	if err := s.AddCron("long", "* * * * * *", 0, func(ctx context.Context) error {
		if !once.CompareAndSwap(false, true) {
			return nil
		}
		close(started)
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	}); err != nil {
		t.Fatalf("AddCron: %v", err)
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not start")
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatalf("job context was not canceled")
	}
}
