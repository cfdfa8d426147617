// Package hub implements the event distribution layer: a
// publish/subscribe broadcaster fanning run lifecycle events out to all
// observers subscribed to a project, with bounded replay for
// reconnecting subscribers and heartbeat-based eviction of dead ones.
//
// Sharded by project id so unrelated projects never contend on a lock.
// Fan-out is non-blocking per subscriber: a slow or disconnected
// observer never delays publication to others.
package hub

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/crucible/metrics"
	"github.com/pithecene-io/crucible/types"
)

const shardCount = 16

// Config tunes the hub. Zero values take the defaults below.
type Config struct {
	// RingSize is the per-run replay buffer capacity.
	RingSize int
	// SubscriberQueue is the per-subscriber bounded queue capacity.
	SubscriberQueue int
	// HeartbeatInterval is the idle keepalive interval.
	HeartbeatInterval time.Duration
	// MaxMissedHeartbeats is the strike count before eviction.
	MaxMissedHeartbeats int
}

// Defaults for zero Config fields.
const (
	DefaultRingSize            = 100
	DefaultSubscriberQueue     = 32
	DefaultHeartbeatInterval   = 15 * time.Second
	DefaultMaxMissedHeartbeats = 4
)

// Hub is the process-wide event broadcaster.
type Hub struct {
	config    Config
	collector *metrics.Collector

	shards [shardCount]shard

	stopOnce sync.Once
	stop     chan struct{}
}

type shard struct {
	mu       sync.Mutex
	projects map[string]*projectState
}

type projectState struct {
	rings     map[string]*ring // keyed by run id
	latestRun string
	subs      map[string]*Subscription
}

// New creates a hub and starts its heartbeat loop.
// collector may be nil.
func New(config Config, collector *metrics.Collector) *Hub {
	if config.RingSize <= 0 {
		config.RingSize = DefaultRingSize
	}
	if config.SubscriberQueue <= 0 {
		config.SubscriberQueue = DefaultSubscriberQueue
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.MaxMissedHeartbeats <= 0 {
		config.MaxMissedHeartbeats = DefaultMaxMissedHeartbeats
	}

	h := &Hub{config: config, collector: collector, stop: make(chan struct{})}
	for i := range h.shards {
		h.shards[i].projects = make(map[string]*projectState)
	}
	go h.heartbeatLoop()
	return h
}

func (h *Hub) shardFor(projectID string) *shard {
	f := fnv.New32a()
	_, _ = f.Write([]byte(projectID))
	return &h.shards[f.Sum32()%shardCount]
}

func (sh *shard) project(projectID string) *projectState {
	p, ok := sh.projects[projectID]
	if !ok {
		p = &projectState{
			rings: make(map[string]*ring),
			subs:  make(map[string]*Subscription),
		}
		sh.projects[projectID] = p
	}
	return p
}

// Publish appends the event to its run's ring buffer, assigns the next
// per-run sequence number, and delivers to every live subscription for
// the project. Returns the assigned sequence number.
func (h *Hub) Publish(e types.EventEnvelope) int64 {
	sh := h.shardFor(e.ProjectID)

	sh.mu.Lock()
	p := sh.project(e.ProjectID)
	r, ok := p.rings[e.RunID]
	if !ok {
		r = newRing(h.config.RingSize)
		p.rings[e.RunID] = r
	}
	p.latestRun = e.RunID
	stored := r.append(e)

	subs := make([]*Subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	sh.mu.Unlock()

	h.collector.IncEventsPublished()
	for _, s := range subs {
		s.push(stored)
	}
	return stored.Seq
}

// Subscribe registers an observer on a project's event stream.
//
// When sinceSeq is non-nil, events after *sinceSeq still held in the
// latest run's ring buffer are replayed in order before live delivery
// begins. If the requested history has aged out, a single gap event is
// delivered instead, telling the observer to fetch a full snapshot.
func (h *Hub) Subscribe(observerID, projectID string, sinceSeq *int64) *Subscription {
	id := fmt.Sprintf("%s/%s", observerID, uuid.New().String())
	sub := newSubscription(id, projectID, h.config.SubscriberQueue, h.collector.IncEventsDropped)

	sh := h.shardFor(projectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p := sh.project(projectID)

	// Replay under the shard lock so no published event can slip
	// between replay and live registration.
	if sinceSeq != nil && p.latestRun != "" {
		r := p.rings[p.latestRun]
		events, ok := r.from(*sinceSeq + 1)
		if !ok {
			sub.push(types.EventEnvelope{
				RunID:     p.latestRun,
				ProjectID: projectID,
				Kind:      types.EventGap,
				Payload:   map[string]any{"oldest_seq": r.oldestSeq()},
				Ts:        time.Now().UTC(),
			})
		} else {
			for _, e := range events {
				sub.push(e)
				h.collector.IncEventsReplayed()
			}
		}
	}

	p.subs[sub.ID] = sub
	return sub
}

// Unsubscribe detaches the subscription and releases its resources.
func (h *Hub) Unsubscribe(sub *Subscription) {
	sh := h.shardFor(sub.projectID)
	sh.mu.Lock()
	if p, ok := sh.projects[sub.projectID]; ok {
		delete(p.subs, sub.ID)
	}
	sh.mu.Unlock()
	sub.close()
}

// ReleaseRun frees a run's ring buffer once its retention window ends.
func (h *Hub) ReleaseRun(projectID, runID string) {
	sh := h.shardFor(projectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	p, ok := sh.projects[projectID]
	if !ok {
		return
	}
	delete(p.rings, runID)
	if p.latestRun == runID {
		p.latestRun = ""
	}
	if len(p.rings) == 0 && len(p.subs) == 0 {
		delete(sh.projects, projectID)
	}
}

// Close stops the heartbeat loop and detaches every subscription.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })

	for i := range h.shards {
		sh := &h.shards[i]
		sh.mu.Lock()
		var all []*Subscription
		for _, p := range sh.projects {
			for _, s := range p.subs {
				all = append(all, s)
			}
			p.subs = make(map[string]*Subscription)
		}
		sh.mu.Unlock()
		for _, s := range all {
			s.close()
		}
	}
}

// heartbeatLoop pings idle subscriptions and evicts those that miss
// too many acknowledgments in a row.
func (h *Hub) heartbeatLoop() {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.beat()
		}
	}
}

func (h *Hub) beat() {
	for i := range h.shards {
		sh := &h.shards[i]

		sh.mu.Lock()
		type pinged struct {
			p   *projectState
			sub *Subscription
		}
		var idle []pinged
		for _, p := range sh.projects {
			for _, s := range p.subs {
				if s.idleSince(h.config.HeartbeatInterval) {
					idle = append(idle, pinged{p, s})
				}
			}
		}
		var evicted []*Subscription
		for _, ps := range idle {
			if ps.sub.strike(h.config.MaxMissedHeartbeats) {
				delete(ps.p.subs, ps.sub.ID)
				evicted = append(evicted, ps.sub)
				continue
			}
			ps.sub.push(types.EventEnvelope{
				ProjectID: ps.sub.projectID,
				Kind:      types.EventHeartbeat,
				Ts:        time.Now().UTC(),
			})
		}
		sh.mu.Unlock()

		for _, s := range evicted {
			s.close()
			h.collector.IncSubscriberEvicted()
		}
	}
}
