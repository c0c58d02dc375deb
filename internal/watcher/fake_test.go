package watcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"attackwatch/internal/model"
	"attackwatch/internal/storage"
)

// memStore is a transactional in-memory record store. Writes made through a
// tx are staged and only applied on Commit.
type memStore struct {
	mu        sync.Mutex
	records   map[model.Kind][]model.Record
	processed map[model.Kind]map[int64]bool
	cooldown  map[model.GroupKey]time.Time

	failFetch    model.Kind
	failMark     model.Kind
	failLookup   bool
	failCooldown bool
	failCommit   bool

	commits   int
	rollbacks int
}

func newMemStore() *memStore {
	return &memStore{
		records: map[model.Kind][]model.Record{},
		processed: map[model.Kind]map[int64]bool{
			model.KindLog:     {},
			model.KindTraffic: {},
		},
		cooldown: map[model.GroupKey]time.Time{},
	}
}

func (m *memStore) addLog(id int64, user, attackType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[model.KindLog] = append(m.records[model.KindLog], model.LogDetection{LogID: id, UserID: user, AttackType: attackType})
}

func (m *memStore) addTraffic(id int64, user string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[model.KindTraffic] = append(m.records[model.KindTraffic], model.TrafficDetection{TrafficID: id, UserID: user})
}

func (m *memStore) isProcessed(kind model.Kind, id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[kind][id]
}

func (m *memStore) unprocessed(kind model.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records[kind] {
		if !m.processed[kind][r.ID()] {
			n++
		}
	}
	return n
}

func (m *memStore) lastNotified(key model.GroupKey) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.cooldown[key]
	return ts, ok
}

func (m *memStore) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits, m.rollbacks
}

func (m *memStore) setCooldown(key model.GroupKey, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldown[key] = at
}

func (m *memStore) Init(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

func (m *memStore) Begin(context.Context) (storage.Tx, error) {
	return &memTx{
		store:    m,
		marks:    map[model.Kind][]int64{},
		cooldown: map[model.GroupKey]time.Time{},
	}, nil
}

func (m *memStore) InsertLogDetection(_ context.Context, d model.LogDetection) (int64, error) {
	m.addLog(d.LogID, d.UserID, d.AttackType)
	return d.LogID, nil
}

func (m *memStore) InsertTrafficDetection(_ context.Context, d model.TrafficDetection) (int64, error) {
	m.addTraffic(d.TrafficID, d.UserID)
	return d.TrafficID, nil
}

func (m *memStore) CountUnprocessed(context.Context) (map[model.Kind]int, error) {
	out := map[model.Kind]int{}
	for _, kind := range model.Kinds {
		out[kind] = m.unprocessed(kind)
	}
	return out, nil
}

type memTx struct {
	store    *memStore
	marks    map[model.Kind][]int64
	cooldown map[model.GroupKey]time.Time
	done     bool
}

func (t *memTx) FetchUnprocessed(ctx context.Context, kind model.Kind) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &storage.StoreError{Op: "fetch", Kind: kind, Err: err}
	}
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFetch == kind {
		return nil, &storage.StoreError{Op: "fetch", Kind: kind, Err: errors.New("injected")}
	}
	out := []model.Record{}
	for _, r := range m.records[kind] {
		if !m.processed[kind][r.ID()] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (t *memTx) MarkProcessed(ctx context.Context, kind model.Kind, ids []int64) error {
	if err := ctx.Err(); err != nil {
		return &storage.StoreError{Op: "mark", Kind: kind, Err: err}
	}
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMark == kind {
		return &storage.StoreError{Op: "mark", Kind: kind, Err: errors.New("injected")}
	}
	t.marks[kind] = append(t.marks[kind], ids...)
	return nil
}

func (t *memTx) LastNotified(ctx context.Context, key model.GroupKey) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, &storage.StoreError{Op: "cooldown lookup", Err: err}
	}
	t.store.mu.Lock()
	fail := t.store.failLookup
	t.store.mu.Unlock()
	if fail {
		return time.Time{}, false, &storage.StoreError{Op: "cooldown lookup", Err: errors.New("injected")}
	}
	if ts, ok := t.cooldown[key]; ok {
		return ts, true, nil
	}
	ts, ok := t.store.lastNotified(key)
	return ts, ok, nil
}

func (t *memTx) UpsertCooldown(ctx context.Context, key model.GroupKey, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return &storage.StoreError{Op: "cooldown upsert", Err: err}
	}
	t.store.mu.Lock()
	fail := t.store.failCooldown
	t.store.mu.Unlock()
	if fail {
		return &storage.StoreError{Op: "cooldown upsert", Err: errors.New("injected")}
	}
	t.cooldown[key] = at
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return errors.New("tx done")
	}
	t.done = true
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommit {
		return &storage.StoreError{Op: "commit", Err: errors.New("injected")}
	}
	for kind, ids := range t.marks {
		for _, id := range ids {
			m.processed[kind][id] = true
		}
	}
	for k, v := range t.cooldown {
		m.cooldown[k] = v
	}
	m.commits++
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks++
	return nil
}

// fakeSink records payloads and fails for the configured actors.
type fakeSink struct {
	mu      sync.Mutex
	sent    []model.AlertPayload
	failFor map[string]bool
	delay   time.Duration
	// afterSend runs once a payload has been accepted.
	afterSend func()
}

func (s *fakeSink) Send(ctx context.Context, p model.AlertPayload) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, p)
	if s.failFor[p.UserID] {
		return fmt.Errorf("sink rejected %s", p.UserID)
	}
	if s.afterSend != nil {
		s.afterSend()
	}
	return nil
}

func (s *fakeSink) payloads() []model.AlertPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AlertPayload, len(s.sent))
	copy(out, s.sent)
	return out
}

type recordedEvent struct {
	subject string
	payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) Publish(subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{subject: subject, payload: payload})
	return nil
}

func (p *fakePublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.subject)
	}
	return out
}
