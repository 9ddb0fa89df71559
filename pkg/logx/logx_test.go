package logx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type captureSender struct {
	mu   sync.Mutex
	msgs []string
	done chan struct{}
}

func (c *captureSender) SendLog(_ context.Context, chatID int64, threadID int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, text)
	if len(c.msgs) == 1 {
		close(c.done)
	}
	return nil
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	l.Info("nothing", String("k", "v"))
	l.With(Int("n", 1)).Error("still nothing", Err(errors.New("x")))
}

func TestServiceConsoleAndApply(t *testing.T) {
	t.Parallel()

	var out syncBuffer
	svc, log := newService(Config{Level: "info", Console: true}, &out)
	defer svc.Close()

	comp := log.With(String("comp", "test"))
	comp.Debug("hidden")
	comp.Info("visible", Int64("chat_id", 42))

	got := out.String()
	if strings.Contains(got, "hidden") {
		t.Fatalf("debug entry leaked at info level: %q", got)
	}
	if !strings.Contains(got, "visible") || !strings.Contains(got, "chat_id") || !strings.Contains(got, "42") || !strings.Contains(got, "comp") {
		t.Fatalf("unexpected console output: %q", got)
	}

	svc.Apply(Config{Level: "debug", Console: true})
	comp.Debug("now shown")
	if !strings.Contains(out.String(), "now shown") {
		t.Fatalf("derived logger did not follow Apply")
	}
}

func TestTelegramSinkRespectsMinLevel(t *testing.T) {
	t.Parallel()

	var out syncBuffer
	svc, log := newService(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	}, &out)
	defer svc.Close()

	sender := &captureSender{done: make(chan struct{})}
	svc.SetSender(sender)
	svc.SetTelegramTarget(-100123, 7)

	log.Info("below threshold")
	log.Warn("send failed", Int64("chat_id", 5))

	select {
	case <-sender.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("no telegram log delivered")
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.msgs) != 1 {
		t.Fatalf("msgs=%q", sender.msgs)
	}
	if !strings.HasPrefix(sender.msgs[0], "[WARN] send failed") || !strings.Contains(sender.msgs[0], "- chat_id=5") {
		t.Fatalf("unexpected message %q", sender.msgs[0])
	}
}

func TestFormatTelegramEntry(t *testing.T) {
	t.Parallel()

	line := []byte(`{"level":"error","time":"t","message":"boom","caller":"x.go:1","err":"bad"}`)
	got := formatTelegramEntry(line)
	want := "[ERROR] boom\n- caller=x.go:1\n- err=bad"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := formatTelegramEntry([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("plain: %q", got)
	}
}

func TestTruncateKeepsUTF8(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("адвент", 10)
	for n := 4; n < 30; n++ {
		got := truncate(s, n)
		if !utf8.ValidString(got) || len(got) > n {
			t.Fatalf("truncate(%d)=%q", n, got)
		}
	}
	if truncate("short", 10) != "short" {
		t.Fatalf("short string changed")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]Level{"DEBUG": LevelDebug, "warning": LevelWarn, " error ": LevelError, "": LevelInfo, "nope": LevelInfo}
	for in, want := range tests {
		if got := ParseLevel(in, LevelInfo); got != want {
			t.Fatalf("ParseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}
