package store

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-transfers/internal/apperr"
)

// Memory is an in-process Store. Callbacks run synchronously on the writing
// goroutine after the write is applied.
type Memory struct {
	mu       sync.Mutex
	records  map[string]map[string]json.RawMessage
	children map[string]map[string]struct{}
	subs     map[string]map[int]*memorySubscription
	nextSub  int
}

func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]map[string]json.RawMessage),
		children: make(map[string]map[string]struct{}),
		subs:     make(map[string]map[int]*memorySubscription),
	}
}

func (m *Memory) Read(ctx context.Context, path string) (Snapshot, error) {
	if err := checkPath(path); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(path), nil
}

func (m *Memory) snapshotLocked(path string) Snapshot {
	if rec, ok := m.records[path]; ok {
		return recordSnapshot(path, copyFields(rec))
	}
	kids := m.children[path]
	if len(kids) == 0 {
		return Snapshot{Path: path}
	}
	children := make(map[string]map[string]json.RawMessage, len(kids))
	for key := range kids {
		if rec, ok := m.records[path+"/"+key]; ok {
			children[key] = copyFields(rec)
		}
	}
	return collectionSnapshot(path, children)
}

func (m *Memory) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}

	sub := &memorySubscription{fn: fn, done: make(chan struct{})}
	sub.idle = sync.NewCond(&sub.mu)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.subs[path] == nil {
		m.subs[path] = make(map[int]*memorySubscription)
	}
	m.subs[path][id] = sub
	snap := m.snapshotLocked(path)
	m.mu.Unlock()

	sub.detach = func() {
		m.mu.Lock()
		delete(m.subs[path], id)
		m.mu.Unlock()
	}

	sub.deliver(snap)

	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				sub.Close()
			case <-sub.done:
			}
		}()
	}

	return sub, nil
}

func (m *Memory) Write(ctx context.Context, path string, value any) error {
	if err := checkPath(path); err != nil {
		return err
	}
	fields, err := encodeRecord(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.records[path] = fields
	m.linkLocked(path)
	m.mu.Unlock()

	m.notify(path)
	return nil
}

func (m *Memory) Merge(ctx context.Context, path string, partial map[string]any) error {
	if err := checkPath(path); err != nil {
		return err
	}
	fields, err := encodePartial(partial)
	if err != nil {
		return err
	}

	m.mu.Lock()
	rec := copyFields(m.records[path])
	if rec == nil {
		rec = make(map[string]json.RawMessage, len(fields))
	}
	for k, v := range fields {
		rec[k] = v
	}
	m.records[path] = rec
	m.linkLocked(path)
	m.mu.Unlock()

	m.notify(path)
	return nil
}

func (m *Memory) MergeIf(ctx context.Context, path, field string, expected any, partial map[string]any) error {
	if err := checkPath(path); err != nil {
		return err
	}
	want, err := json.Marshal(expected)
	if err != nil {
		return err
	}
	fields, err := encodePartial(partial)
	if err != nil {
		return err
	}

	m.mu.Lock()
	cur, ok := m.records[path]
	if !ok {
		m.mu.Unlock()
		return apperr.NotFound("record %s", path)
	}
	if !bytes.Equal(cur[field], want) {
		m.mu.Unlock()
		return ErrPreconditionFailed
	}
	rec := copyFields(cur)
	for k, v := range fields {
		rec[k] = v
	}
	m.records[path] = rec
	m.mu.Unlock()

	m.notify(path)
	return nil
}

func (m *Memory) Append(ctx context.Context, path string, value any) (string, error) {
	if err := checkPath(path); err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", apperr.Store("generate id", err)
	}
	key := id.String()
	if err := m.Write(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := checkPath(path); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.records, path)
	for key := range m.children[path] {
		delete(m.records, path+"/"+key)
	}
	delete(m.children, path)
	if parent, key := split(path); parent != "" {
		delete(m.children[parent], key)
	}
	m.mu.Unlock()

	m.notify(path)
	return nil
}

func (m *Memory) linkLocked(path string) {
	parent, key := split(path)
	if parent == "" {
		return
	}
	if m.children[parent] == nil {
		m.children[parent] = make(map[string]struct{})
	}
	m.children[parent][key] = struct{}{}
}

type pendingCall struct {
	sub  *memorySubscription
	snap Snapshot
}

func (m *Memory) notify(path string) {
	m.mu.Lock()
	var calls []pendingCall
	for _, p := range lineage(path) {
		if len(m.subs[p]) == 0 {
			continue
		}
		snap := m.snapshotLocked(p)
		for _, sub := range m.subs[p] {
			calls = append(calls, pendingCall{sub: sub, snap: snap})
		}
	}
	m.mu.Unlock()

	for _, c := range calls {
		c.sub.deliver(c.snap)
	}
}

func copyFields(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// memorySubscription counts running callbacks so Close can wait for them.
// Close must not be called from inside the subscription's own callback.
type memorySubscription struct {
	fn     func(Snapshot)
	detach func()
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	idle     *sync.Cond
	inFlight int
	closed   bool
}

func (s *memorySubscription) deliver(snap Snapshot) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.inFlight++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		if s.inFlight == 0 {
			s.idle.Broadcast()
		}
		s.mu.Unlock()
	}()
	s.fn(snap)
}

func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.detach()

		s.mu.Lock()
		s.closed = true
		for s.inFlight > 0 {
			s.idle.Wait()
		}
		s.mu.Unlock()

		close(s.done)
	})
}
