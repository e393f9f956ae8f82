package server

import (
	"sync"

	"github.com/blockberries/relay/types"
)

// feed fans committed record batches out to subscribers. Publishing
// never blocks: each subscriber owns an unbounded queue that its stream
// goroutine drains.
type feed struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
	done   chan struct{}
}

type subscription struct {
	mu     sync.Mutex
	queue  []types.RecordBatch
	notify chan struct{}
}

func newFeed() *feed {
	return &feed{subs: make(map[*subscription]struct{}), done: make(chan struct{})}
}

func (f *feed) subscribe() (*subscription, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false
	}
	sub := &subscription{notify: make(chan struct{}, 1)}
	f.subs[sub] = struct{}{}
	return sub, true
}

func (f *feed) unsubscribe(sub *subscription) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
}

func (f *feed) publish(batch types.RecordBatch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		sub.push(batch)
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
}

func (s *subscription) push(batch types.RecordBatch) {
	s.mu.Lock()
	s.queue = append(s.queue, batch)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) drain() []types.RecordBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	return q
}
