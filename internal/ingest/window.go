// Package ingest holds the deduplication and ordering window and the
// runner that fans the two transports into the engine's admission path.
package ingest

import (
	"sort"
	"time"

	"github.com/tidwall/btree"

	"clob-market-engine/internal/domain"
)

// Diag classifies how an event left the window.
type Diag int

const (
	// DiagNone: the event arrived in order.
	DiagNone Diag = iota
	// DiagSequenceGap: the event was force-admitted past a gap that
	// never healed, either after the gap wait or because it sat beyond
	// the horizon at a sweep.
	DiagSequenceGap
	// DiagOverflow: the event was force-flushed because the pending
	// buffer exceeded its bound.
	DiagOverflow
)

// Admission is an event released by the window together with its
// diagnostic.
type Admission struct {
	Event *domain.CanonicalEvent
	Diag  Diag
}

// Config bounds the window.
type Config struct {
	// Horizon is the number of blocks ahead of the highest admitted
	// sequence a buffered event may lead by before the next sweep
	// stops waiting for the gap below it to heal.
	Horizon uint64
	// GapWait is how long a buffered event waits for its predecessors
	// before being force-admitted.
	GapWait time.Duration
	// MaxPending bounds the per-stream pending buffer.
	MaxPending int
}

// DefaultConfig returns the default window bounds.
func DefaultConfig() Config {
	return Config{
		Horizon:    64,
		GapWait:    2 * time.Second,
		MaxPending: 1024,
	}
}

// Stats are cumulative window counters.
type Stats struct {
	Admitted   uint64
	Duplicates uint64
	Gaps       uint64
	Overflows  uint64
}

// streamKey identifies an independent sequence stream. Intra-block
// indices are dense per (chain, pool, kind), so ordering state is
// tracked per stream; pools deployed under the same ID on two chains
// never share sequence state.
type streamKey struct {
	chainID int64
	poolID  string
	kind    domain.EventKind
}

// pendingEvent is a buffered out-of-order event.
type pendingEvent struct {
	event    *domain.CanonicalEvent
	deadline time.Time
}

func pendingLess(a, b *pendingEvent) bool {
	return a.event.Seq.Cmp(b.event.Seq) < 0
}

// stream is per-stream ordering state.
type stream struct {
	highest     domain.SequenceKey
	hasAdmitted bool
	pending     *btree.BTreeG[*pendingEvent]
}

func newStream() *stream {
	return &stream{
		pending: btree.NewBTreeG(pendingLess),
	}
}

// Window deduplicates and orders the merged event stream. It is not
// safe for concurrent use; the engine serializes all calls.
type Window struct {
	cfg     Config
	streams map[streamKey]*stream
	stats   Stats
}

// NewWindow creates a window with the given bounds. Zero fields fall
// back to defaults.
func NewWindow(cfg Config) *Window {
	def := DefaultConfig()
	if cfg.Horizon == 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.GapWait == 0 {
		cfg.GapWait = def.GapWait
	}
	if cfg.MaxPending == 0 {
		cfg.MaxPending = def.MaxPending
	}
	return &Window{
		cfg:     cfg,
		streams: make(map[streamKey]*stream),
	}
}

// isSuccessor reports whether seq immediately follows the stream's
// highest admitted key: the next index in the same block, or index 0
// of any later block. An empty stream accepts any index-0 key.
func (st *stream) isSuccessor(seq domain.SequenceKey) bool {
	if !st.hasAdmitted {
		return seq.Index == 0
	}
	if seq.Block == st.highest.Block {
		return seq.Index == st.highest.Index+1
	}
	return seq.Block > st.highest.Block && seq.Index == 0
}

// admit records seq as the new highest and appends to out.
func (w *Window) admit(st *stream, ev *domain.CanonicalEvent, diag Diag, out []Admission) []Admission {
	st.highest = ev.Seq
	st.hasAdmitted = true
	w.stats.Admitted++
	switch diag {
	case DiagSequenceGap:
		w.stats.Gaps++
	case DiagOverflow:
		w.stats.Overflows++
	}
	return append(out, Admission{Event: ev, Diag: diag})
}

// drain admits buffered events that have become immediate successors.
func (w *Window) drain(st *stream, out []Admission) []Admission {
	for {
		min, ok := st.pending.Min()
		if !ok || !st.isSuccessor(min.event.Seq) {
			break
		}
		st.pending.Delete(min)
		out = w.admit(st, min.event, DiagNone, out)
	}
	return out
}

// Offer presents one event to the window and returns the events it
// releases, in order. A duplicate or buffered event releases nothing.
func (w *Window) Offer(ev *domain.CanonicalEvent, now time.Time) []Admission {
	key := streamKey{chainID: ev.ChainID, poolID: ev.PoolID, kind: ev.Kind}
	st, ok := w.streams[key]
	if !ok {
		st = newStream()
		w.streams[key] = st
	}

	// Dedup: at or below the highest admitted key, or already buffered
	if st.hasAdmitted && ev.Seq.Cmp(st.highest) <= 0 {
		w.stats.Duplicates++
		return nil
	}
	probe := &pendingEvent{event: ev}
	if _, dup := st.pending.Get(probe); dup {
		w.stats.Duplicates++
		return nil
	}

	var out []Admission

	switch {
	case st.isSuccessor(ev.Seq):
		out = w.admit(st, ev, DiagNone, out)
		out = w.drain(st, out)

	default:
		st.pending.Set(&pendingEvent{event: ev, deadline: now.Add(w.cfg.GapWait)})
		if st.pending.Len() > w.cfg.MaxPending {
			// Force-flush the oldest entry to bound the buffer
			if min, ok := st.pending.Min(); ok {
				st.pending.Delete(min)
				diag := DiagOverflow
				if st.isSuccessor(min.event.Seq) {
					diag = DiagNone
				}
				out = w.admit(st, min.event, diag, out)
				out = w.drain(st, out)
			}
		}
	}

	return out
}

// Tick releases buffered events whose gap wait expired or that lead
// the stream by more than the horizon, in order. Expiring an entry
// also releases everything buffered below it.
func (w *Window) Tick(now time.Time) []Admission {
	var out []Admission
	for _, key := range w.sortedKeys() {
		st := w.streams[key]
		for {
			min, ok := st.pending.Min()
			if !ok {
				break
			}
			if st.isSuccessor(min.event.Seq) {
				st.pending.Delete(min)
				out = w.admit(st, min.event, DiagNone, out)
				continue
			}
			if !w.expired(st, now) {
				break
			}
			st.pending.Delete(min)
			out = w.admit(st, min.event, DiagSequenceGap, out)
		}
	}
	return out
}

// expired reports whether any pending entry's deadline has passed or
// sits beyond the horizon. Once one entry expires the gap below it is
// declared dead, so the whole prefix up to that entry is released.
func (w *Window) expired(st *stream, now time.Time) bool {
	expired := false
	st.pending.Scan(func(p *pendingEvent) bool {
		if !p.deadline.After(now) {
			expired = true
			return false
		}
		if st.hasAdmitted && p.event.Seq.Block > st.highest.Block+w.cfg.Horizon {
			expired = true
			return false
		}
		return true
	})
	return expired
}

// FlushAll releases every buffered event in order, used on shutdown.
func (w *Window) FlushAll() []Admission {
	var out []Admission
	for _, key := range w.sortedKeys() {
		st := w.streams[key]
		for {
			min, ok := st.pending.Min()
			if !ok {
				break
			}
			st.pending.Delete(min)
			diag := DiagSequenceGap
			if st.isSuccessor(min.event.Seq) {
				diag = DiagNone
			}
			out = w.admit(st, min.event, diag, out)
		}
	}
	return out
}

// ResetPool discards all ordering state for a pool, used when the
// pool's book is rebuilt from a full pull cycle.
func (w *Window) ResetPool(poolID string) {
	for key := range w.streams {
		if key.poolID == poolID {
			delete(w.streams, key)
		}
	}
}

// Pending returns the total number of buffered events.
func (w *Window) Pending() int {
	n := 0
	for _, st := range w.streams {
		n += st.pending.Len()
	}
	return n
}

// Stats returns cumulative counters.
func (w *Window) Stats() Stats {
	return w.stats
}

// sortedKeys returns stream keys in deterministic order.
func (w *Window) sortedKeys() []streamKey {
	keys := make([]streamKey, 0, len(w.streams))
	for key := range w.streams {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].chainID != keys[j].chainID {
			return keys[i].chainID < keys[j].chainID
		}
		if keys[i].poolID != keys[j].poolID {
			return keys[i].poolID < keys[j].poolID
		}
		return keys[i].kind < keys[j].kind
	})
	return keys
}
