package hub

import "github.com/pithecene-io/crucible/types"

// ring is a bounded per-run event buffer supporting replay to late or
// reconnecting subscribers. It owns the run's sequence counter: seq
// numbers start at 1 and are assigned at append time, so they are
// gapless by construction.
type ring struct {
	buf     []types.EventEnvelope
	start   int // index of the oldest retained event
	count   int
	nextSeq int64
}

func newRing(size int) *ring {
	return &ring{buf: make([]types.EventEnvelope, size), nextSeq: 1}
}

// append assigns the next sequence number to e, retains it (evicting
// the oldest event when full), and returns the stored envelope.
func (r *ring) append(e types.EventEnvelope) types.EventEnvelope {
	e.Seq = r.nextSeq
	r.nextSeq++

	if r.count == len(r.buf) {
		r.buf[r.start] = e
		r.start = (r.start + 1) % len(r.buf)
		return e
	}
	r.buf[(r.start+r.count)%len(r.buf)] = e
	r.count++
	return e
}

// oldestSeq returns the lowest retained sequence number, or 0 when empty.
func (r *ring) oldestSeq() int64 {
	if r.count == 0 {
		return 0
	}
	return r.buf[r.start].Seq
}

// latestSeq returns the highest assigned sequence number, or 0.
func (r *ring) latestSeq() int64 {
	return r.nextSeq - 1
}

// from returns all retained events with Seq >= seq, in order.
// ok is false when seq has aged out of the buffer (a gap): the caller
// must signal the subscriber to fetch a full snapshot instead.
func (r *ring) from(seq int64) (events []types.EventEnvelope, ok bool) {
	if seq > r.latestSeq() {
		// Nothing to replay; the subscriber is already current.
		return nil, true
	}
	if r.count == 0 || seq < r.oldestSeq() {
		return nil, false
	}

	out := make([]types.EventEnvelope, 0, r.count)
	for i := 0; i < r.count; i++ {
		e := r.buf[(r.start+i)%len(r.buf)]
		if e.Seq >= seq {
			out = append(out, e)
		}
	}
	return out, true
}
