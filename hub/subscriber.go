package hub

import (
	"sync"
	"time"

	"github.com/pithecene-io/crucible/types"
)

// Subscription is one observer's attachment to a project's event
// stream. Events are consumed from Events(); the observer calls Ack()
// to answer heartbeats.
//
// Delivery never blocks the publisher: pushes land in a bounded queue
// drained by a dedicated pump goroutine. On overflow the oldest
// non-terminal event is dropped; terminal events are never dropped.
type Subscription struct {
	// ID identifies the subscription for unsubscribe calls.
	ID string

	projectID string
	out       chan types.EventEnvelope

	mu           sync.Mutex
	queue        []types.EventEnvelope
	capacity     int
	closed       bool
	lastDelivery time.Time
	missedBeats  int

	wake chan struct{}
	done chan struct{}

	onDrop func()
}

func newSubscription(id, projectID string, capacity int, onDrop func()) *Subscription {
	s := &Subscription{
		ID:           id,
		projectID:    projectID,
		out:          make(chan types.EventEnvelope),
		capacity:     capacity,
		lastDelivery: time.Now(),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		onDrop:       onDrop,
	}
	go s.pump()
	return s
}

// Events returns the delivery channel. Closed on unsubscribe/eviction.
func (s *Subscription) Events() <-chan types.EventEnvelope {
	return s.out
}

// Ack answers outstanding heartbeats, resetting the strike counter.
func (s *Subscription) Ack() {
	s.mu.Lock()
	s.missedBeats = 0
	s.mu.Unlock()
}

// push enqueues an event without blocking. Returns immediately even if
// the observer is slow or gone.
func (s *Subscription) push(e types.EventEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.lastDelivery = time.Now()

	if len(s.queue) >= s.capacity {
		if !s.dropOldestNonTerminalLocked() {
			// Queue is all terminal events. Never drop those; an
			// incoming non-terminal event loses instead.
			if !e.Kind.IsTerminal() {
				if s.onDrop != nil {
					s.onDrop()
				}
				return
			}
			// Terminal incoming and terminal queue: grow past capacity.
		}
	}

	s.queue = append(s.queue, e)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dropOldestNonTerminalLocked removes the oldest non-terminal queued
// event. Returns false when every queued event is terminal.
func (s *Subscription) dropOldestNonTerminalLocked() bool {
	for i, e := range s.queue {
		if !e.Kind.IsTerminal() {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			if s.onDrop != nil {
				s.onDrop()
			}
			return true
		}
	}
	return false
}

// pump drains the queue into the out channel in order.
func (s *Subscription) pump() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				close(s.out)
				return
			}
			select {
			case <-s.wake:
			case <-s.done:
				// Re-check the queue so a close after final pushes
				// still flushes everything.
			}
			continue
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.done:
			// Observer detached mid-delivery; stop.
			close(s.out)
			return
		}
	}
}

// idleSince reports whether no event has been delivered within d.
func (s *Subscription) idleSince(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastDelivery) >= d
}

// strike adds a missed heartbeat and reports whether the subscription
// has exceeded the allowed strikes.
func (s *Subscription) strike(maxMissed int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missedBeats++
	return s.missedBeats > maxMissed
}

// close marks the subscription closed; the pump exits once the queue
// is drained.
func (s *Subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
