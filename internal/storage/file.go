package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"adventbot/internal/advent"
	logx "adventbot/pkg/logx"
)

const (
	usersFile = "users.json"
	daysFile  = "advent_days.json"
	auditFile = "audit.jsonl"
)

// fileStore keeps each collection in its own JSON document:
//
//	users.json        {"<chat_id>": {"chat_id": 1, "is_subscribed": true, "last_sent_date": "2025-12-26"}}
//	advent_days.json  {"2025-12-26": {"title": "...", "description": "..."}}
//	audit.jsonl       one AuditEntry per line
//
// Documents are re-read on every call so hand edits are picked up, and
// rewritten atomically (temp file + rename) with the previous version kept
// as <name>.bak.
type fileStore struct {
	dir string
	log logx.Logger

	mu     sync.Mutex
	audit  *os.File
	closed bool
}

type userRecord struct {
	ChatID       int64   `json:"chat_id"`
	IsSubscribed *bool   `json:"is_subscribed,omitempty"`
	LastSentDate *string `json:"last_sent_date"`
}

type dayRecord struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func openFile(dir string, log logx.Logger) (*fileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	af, err := os.OpenFile(filepath.Join(dir, auditFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	s := &fileStore{dir: dir, log: log, audit: af}

	// Fail at startup rather than on the first broadcast.
	if _, err := s.loadUsers(); err != nil {
		_ = af.Close()
		return nil, err
	}
	if _, err := s.loadDays(); err != nil {
		_ = af.Close()
		return nil, err
	}
	log.Info("file storage opened", logx.String("dir", dir))
	return s, nil
}

func (s *fileStore) Driver() string { return "file" }

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.audit.Close()
}

// lock acquires the store mutex; the caller must unlock when err is nil.
func (s *fileStore) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// ---- content ----

func (s *fileStore) SetEntry(ctx context.Context, d advent.Date, title, description string) (advent.Entry, error) {
	if err := s.lock(ctx); err != nil {
		return advent.Entry{}, err
	}
	defer s.mu.Unlock()

	days, err := s.loadDays()
	if err != nil {
		return advent.Entry{}, err
	}
	days[d.String()] = dayRecord{Title: title, Description: description}
	if err := s.writeDocument(daysFile, days); err != nil {
		return advent.Entry{}, err
	}
	return advent.Entry{Date: d, Title: title, Description: description}, nil
}

func (s *fileStore) GetEntry(ctx context.Context, d advent.Date) (advent.Entry, bool, error) {
	if err := s.lock(ctx); err != nil {
		return advent.Entry{}, false, err
	}
	defer s.mu.Unlock()

	days, err := s.loadDays()
	if err != nil {
		return advent.Entry{}, false, err
	}
	r, ok := days[d.String()]
	if !ok {
		return advent.Entry{}, false, nil
	}
	return advent.Entry{Date: d, Title: r.Title, Description: r.Description}, true, nil
}

func (s *fileStore) ListEntries(ctx context.Context) ([]advent.Entry, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	days, err := s.loadDays()
	if err != nil {
		return nil, err
	}
	out := make([]advent.Entry, 0, len(days))
	for key, r := range days {
		d, _ := advent.ParseDate(key) // keys were validated by loadDays
		out = append(out, advent.Entry{Date: d, Title: r.Title, Description: r.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *fileStore) DeleteEntry(ctx context.Context, d advent.Date) (bool, error) {
	if err := s.lock(ctx); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	days, err := s.loadDays()
	if err != nil {
		return false, err
	}
	if _, ok := days[d.String()]; !ok {
		return false, nil
	}
	delete(days, d.String())
	if err := s.writeDocument(daysFile, days); err != nil {
		return false, err
	}
	return true, nil
}

// ---- subscribers ----

func (s *fileStore) Upsert(ctx context.Context, id int64, subscribed *bool) (advent.Subscriber, error) {
	if err := s.lock(ctx); err != nil {
		return advent.Subscriber{}, err
	}
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return advent.Subscriber{}, err
	}
	sub, ok := users[id]
	if !ok {
		sub = advent.Subscriber{ID: id, Subscribed: true}
	}
	if subscribed != nil {
		sub.Subscribed = *subscribed
	}
	users[id] = sub
	if err := s.writeUsers(users); err != nil {
		return advent.Subscriber{}, err
	}
	return sub, nil
}

func (s *fileStore) MarkDelivered(ctx context.Context, id int64, d advent.Date) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return err
	}
	sub, ok := users[id]
	if !ok {
		sub = advent.Subscriber{ID: id, Subscribed: true}
	}
	sub.LastDelivered = d
	users[id] = sub
	return s.writeUsers(users)
}

func (s *fileStore) ListSubscribed(ctx context.Context) ([]advent.Subscriber, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return nil, err
	}
	out := make([]advent.Subscriber, 0, len(users))
	for _, sub := range users {
		if sub.Subscribed {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) GetSubscriber(ctx context.Context, id int64) (advent.Subscriber, bool, error) {
	if err := s.lock(ctx); err != nil {
		return advent.Subscriber{}, false, err
	}
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return advent.Subscriber{}, false, err
	}
	sub, ok := users[id]
	return sub, ok, nil
}

func (s *fileStore) CountSubscribers(ctx context.Context) (int, int, error) {
	if err := s.lock(ctx); err != nil {
		return 0, 0, err
	}
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return 0, 0, err
	}
	n := 0
	for _, sub := range users {
		if sub.Subscribed {
			n++
		}
	}
	return len(users), n, nil
}

// ---- audit ----

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return json.NewEncoder(s.audit).Encode(e)
}

func (s *fileStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, auditFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Lines of any length are read whole; undecodable ones are skipped.
	var all []AuditEntry
	rd := bufio.NewReader(f)
	for {
		line, err := rd.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var e AuditEntry
			if json.Unmarshal(line, &e) == nil {
				all = append(all, e)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

// ---- documents ----

func (s *fileStore) loadDays() (map[string]dayRecord, error) {
	days := map[string]dayRecord{}
	if err := s.readDocument(daysFile, &days); err != nil {
		return nil, err
	}
	for key := range days {
		if _, err := advent.ParseDate(key); err != nil {
			return nil, fmt.Errorf("%w: %s: bad date key %q", ErrCorrupt, daysFile, key)
		}
	}
	return days, nil
}

func (s *fileStore) loadUsers() (map[int64]advent.Subscriber, error) {
	raw := map[string]userRecord{}
	if err := s.readDocument(usersFile, &raw); err != nil {
		return nil, err
	}
	users := make(map[int64]advent.Subscriber, len(raw))
	for key, r := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad chat id %q", ErrCorrupt, usersFile, key)
		}
		sub := advent.Subscriber{ID: id, Subscribed: r.IsSubscribed == nil || *r.IsSubscribed}
		if r.LastSentDate != nil && *r.LastSentDate != "" {
			d, err := advent.ParseDate(*r.LastSentDate)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: chat %d: %v", ErrCorrupt, usersFile, id, err)
			}
			sub.LastDelivered = d
		}
		users[id] = sub
	}
	return users, nil
}

func (s *fileStore) writeUsers(users map[int64]advent.Subscriber) error {
	raw := make(map[string]userRecord, len(users))
	for id, sub := range users {
		subscribed := sub.Subscribed
		r := userRecord{ChatID: id, IsSubscribed: &subscribed}
		if !sub.LastDelivered.IsZero() {
			v := sub.LastDelivered.String()
			r.LastSentDate = &v
		}
		raw[strconv.FormatInt(id, 10)] = r
	}
	return s.writeDocument(usersFile, raw)
}

// readDocument decodes name into v. A missing or blank file leaves v as is.
func (s *fileStore) readDocument(name string, v any) error {
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	return nil
}

func (s *fileStore) writeDocument(name string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}

	if prev, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", prev, 0o600); err != nil {
			s.log.Warn("backup failed", logx.String("file", name), logx.Err(err))
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
