package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clob-market-engine/internal/domain"
)

func tickEvent(pool string, block uint64, index uint32) *domain.CanonicalEvent {
	return &domain.CanonicalEvent{
		Kind:   domain.EventTickUpdate,
		PoolID: pool,
		Seq:    domain.SequenceKey{Block: block, Index: index},
		Tick: &domain.TickUpdate{
			Tick:   250120,
			Side:   domain.SideBid,
			Volume: 40,
		},
	}
}

func tradeEvent(pool string, block uint64, index uint32) *domain.CanonicalEvent {
	return &domain.CanonicalEvent{
		Kind:   domain.EventTrade,
		PoolID: pool,
		Seq:    domain.SequenceKey{Block: block, Index: index},
	}
}

func seqs(adms []Admission) []domain.SequenceKey {
	out := make([]domain.SequenceKey, len(adms))
	for i, a := range adms {
		out[i] = a.Event.Seq
	}
	return out
}

func TestWindow_InOrderAdmission(t *testing.T) {
	w := NewWindow(Config{})
	now := time.Now()

	out := w.Offer(tickEvent("pool-1", 100, 0), now)
	require.Len(t, out, 1)
	assert.Equal(t, DiagNone, out[0].Diag)

	out = w.Offer(tickEvent("pool-1", 100, 1), now)
	require.Len(t, out, 1)

	// Index 0 of a later block follows directly
	out = w.Offer(tickEvent("pool-1", 103, 0), now)
	require.Len(t, out, 1)
	assert.Equal(t, DiagNone, out[0].Diag)
}

func TestWindow_OutOfOrderConvergence(t *testing.T) {
	w := NewWindow(Config{})
	now := time.Now()

	// Arrival order 0, 2, 1 converges to admission order 0, 1, 2
	out := w.Offer(tickEvent("pool-1", 100, 0), now)
	require.Len(t, out, 1)

	out = w.Offer(tickEvent("pool-1", 100, 2), now)
	assert.Empty(t, out)
	assert.Equal(t, 1, w.Pending())

	out = w.Offer(tickEvent("pool-1", 100, 1), now)
	require.Len(t, out, 2)
	assert.Equal(t, []domain.SequenceKey{
		{Block: 100, Index: 1},
		{Block: 100, Index: 2},
	}, seqs(out))
	assert.Equal(t, 0, w.Pending())
}

func TestWindow_DuplicatesDropped(t *testing.T) {
	w := NewWindow(Config{})
	now := time.Now()

	w.Offer(tickEvent("pool-1", 100, 0), now)
	w.Offer(tickEvent("pool-1", 100, 1), now)

	// Below the highest admitted key
	assert.Empty(t, w.Offer(tickEvent("pool-1", 100, 0), now))
	assert.Empty(t, w.Offer(tickEvent("pool-1", 100, 1), now))

	// Duplicate of a buffered event
	assert.Empty(t, w.Offer(tickEvent("pool-1", 100, 3), now))
	assert.Empty(t, w.Offer(tickEvent("pool-1", 100, 3), now))

	assert.Equal(t, uint64(3), w.Stats().Duplicates)
}

func TestWindow_StreamsAreIndependent(t *testing.T) {
	w := NewWindow(Config{})
	now := time.Now()

	// The tick and trade streams each have their own dense index
	require.Len(t, w.Offer(tickEvent("pool-1", 100, 0), now), 1)
	require.Len(t, w.Offer(tradeEvent("pool-1", 100, 0), now), 1)
	require.Len(t, w.Offer(tickEvent("pool-2", 100, 0), now), 1)

	// A gap in one stream does not block the others
	assert.Empty(t, w.Offer(tickEvent("pool-1", 100, 2), now))
	require.Len(t, w.Offer(tradeEvent("pool-1", 100, 1), now), 1)
}

func TestWindow_FirstEventMustStartStream(t *testing.T) {
	w := NewWindow(Config{})
	now := time.Now()

	// Index > 0 with no admitted prefix waits for its predecessors
	out := w.Offer(tickEvent("pool-1", 100, 2), now)
	assert.Empty(t, out)

	out = w.Offer(tickEvent("pool-1", 100, 0), now)
	require.Len(t, out, 1)

	out = w.Offer(tickEvent("pool-1", 100, 1), now)
	require.Len(t, out, 2)
	assert.Equal(t, domain.SequenceKey{Block: 100, Index: 2}, out[1].Event.Seq)
}

func TestWindow_GapWaitForceAdmits(t *testing.T) {
	w := NewWindow(Config{GapWait: time.Second})
	now := time.Now()

	w.Offer(tickEvent("pool-1", 100, 0), now)
	w.Offer(tickEvent("pool-1", 100, 2), now)
	w.Offer(tickEvent("pool-1", 100, 3), now)

	// Before the deadline nothing is released
	assert.Empty(t, w.Tick(now.Add(500*time.Millisecond)))

	// After the deadline the gap is declared dead and the buffered
	// suffix is admitted in order
	out := w.Tick(now.Add(1500 * time.Millisecond))
	require.Len(t, out, 2)
	assert.Equal(t, []domain.SequenceKey{
		{Block: 100, Index: 2},
		{Block: 100, Index: 3},
	}, seqs(out))
	assert.Equal(t, DiagSequenceGap, out[0].Diag)
	assert.Equal(t, DiagNone, out[1].Diag)

	// The skipped predecessor arriving late is now a duplicate
	assert.Empty(t, w.Offer(tickEvent("pool-1", 100, 1), now))
	assert.Equal(t, uint64(1), w.Stats().Gaps)
}

func TestWindow_BeyondHorizonAdmittedAtNextSweep(t *testing.T) {
	w := NewWindow(Config{Horizon: 10, GapWait: time.Hour})
	now := time.Now()

	w.Offer(tickEvent("pool-1", 100, 0), now)
	w.Offer(tickEvent("pool-1", 105, 1), now) // buffered, within horizon

	// Block 120 is past 100+10: buffered, not admitted on arrival
	assert.Empty(t, w.Offer(tickEvent("pool-1", 120, 3), now))
	assert.Equal(t, 2, w.Pending())

	// The sweep stops waiting for a gap that large even though no gap
	// wait has expired: everything buffered below flushes first, then
	// the far event is admitted past the gap
	out := w.Tick(now.Add(time.Millisecond))
	require.Len(t, out, 2)
	assert.Equal(t, domain.SequenceKey{Block: 105, Index: 1}, out[0].Event.Seq)
	assert.Equal(t, DiagSequenceGap, out[0].Diag)
	assert.Equal(t, domain.SequenceKey{Block: 120, Index: 3}, out[1].Event.Seq)
	assert.Equal(t, DiagSequenceGap, out[1].Diag)
	assert.Equal(t, 0, w.Pending())
}

func TestWindow_BeyondHorizonGapHealsBeforeSweep(t *testing.T) {
	w := NewWindow(Config{Horizon: 10, GapWait: time.Hour})
	now := time.Now()

	w.Offer(tickEvent("pool-1", 100, 0), now)
	assert.Empty(t, w.Offer(tickEvent("pool-1", 120, 2), now))

	// The far block's earlier indices arrive before any sweep: the gap
	// heals and nothing is admitted out of order
	require.Len(t, w.Offer(tickEvent("pool-1", 120, 0), now), 1)
	out := w.Offer(tickEvent("pool-1", 120, 1), now)
	require.Len(t, out, 2)
	assert.Equal(t, []domain.SequenceKey{
		{Block: 120, Index: 1},
		{Block: 120, Index: 2},
	}, seqs(out))
	assert.Equal(t, DiagNone, out[0].Diag)
	assert.Equal(t, DiagNone, out[1].Diag)
	assert.Equal(t, uint64(0), w.Stats().Gaps)
}

func TestWindow_ChainsAreIndependentStreams(t *testing.T) {
	w := NewWindow(Config{})
	now := time.Now()

	a := tickEvent("pool-1", 100, 0)
	a.ChainID = 1
	b := tickEvent("pool-1", 100, 0)
	b.ChainID = 8453

	require.Len(t, w.Offer(a, now), 1)

	// The same (pool, kind, seq) on another chain is its own stream,
	// not a duplicate
	require.Len(t, w.Offer(b, now), 1)
	assert.Equal(t, uint64(0), w.Stats().Duplicates)

	// A gap on one chain does not block the other
	a2 := tickEvent("pool-1", 100, 2)
	a2.ChainID = 1
	b2 := tickEvent("pool-1", 100, 1)
	b2.ChainID = 8453
	assert.Empty(t, w.Offer(a2, now))
	require.Len(t, w.Offer(b2, now), 1)

	// ResetPool drops the pool's streams on every chain
	w.ResetPool("pool-1")
	assert.Equal(t, 0, w.Pending())
	require.Len(t, w.Offer(b, now), 1)
}

func TestWindow_OverflowForceFlushesOldest(t *testing.T) {
	w := NewWindow(Config{MaxPending: 2})
	now := time.Now()

	w.Offer(tickEvent("pool-1", 100, 0), now)
	assert.Empty(t, w.Offer(tickEvent("pool-1", 100, 2), now))
	assert.Empty(t, w.Offer(tickEvent("pool-1", 100, 3), now))

	// Third buffered event exceeds the bound: the oldest flushes and
	// pulls its successors with it
	out := w.Offer(tickEvent("pool-1", 100, 4), now)
	require.Len(t, out, 3)
	assert.Equal(t, DiagOverflow, out[0].Diag)
	assert.Equal(t, []domain.SequenceKey{
		{Block: 100, Index: 2},
		{Block: 100, Index: 3},
		{Block: 100, Index: 4},
	}, seqs(out))
	assert.Equal(t, uint64(1), w.Stats().Overflows)
}

func TestWindow_FlushAll(t *testing.T) {
	w := NewWindow(Config{})
	now := time.Now()

	w.Offer(tickEvent("pool-1", 100, 0), now)
	w.Offer(tickEvent("pool-1", 100, 2), now)
	w.Offer(tradeEvent("pool-1", 100, 1), now)

	out := w.FlushAll()
	require.Len(t, out, 2)
	assert.Equal(t, domain.SequenceKey{Block: 100, Index: 2}, out[0].Event.Seq)
	assert.Equal(t, DiagSequenceGap, out[0].Diag)
	assert.Equal(t, domain.EventTrade, out[1].Event.Kind)
	assert.Equal(t, 0, w.Pending())
}

func TestWindow_ResetPool(t *testing.T) {
	w := NewWindow(Config{})
	now := time.Now()

	w.Offer(tickEvent("pool-1", 100, 0), now)
	w.Offer(tickEvent("pool-1", 100, 2), now)
	w.Offer(tickEvent("pool-2", 100, 0), now)

	w.ResetPool("pool-1")
	assert.Equal(t, 0, w.Pending())

	// The stream starts over: a previously admitted key is accepted again
	out := w.Offer(tickEvent("pool-1", 100, 0), now)
	require.Len(t, out, 1)

	// Other pools keep their state
	assert.Empty(t, w.Offer(tickEvent("pool-2", 100, 0), now))
}

func TestWindow_AdmissionIdempotence(t *testing.T) {
	// Offering the same shuffled batch twice admits each event once
	w := NewWindow(Config{})
	now := time.Now()

	batch := []*domain.CanonicalEvent{
		tickEvent("pool-1", 100, 1),
		tickEvent("pool-1", 100, 0),
		tickEvent("pool-1", 100, 2),
		tickEvent("pool-1", 101, 0),
	}

	var admitted []Admission
	for i := 0; i < 2; i++ {
		for _, ev := range batch {
			admitted = append(admitted, w.Offer(ev, now)...)
		}
	}

	require.Len(t, admitted, 4)
	assert.Equal(t, []domain.SequenceKey{
		{Block: 100, Index: 0},
		{Block: 100, Index: 1},
		{Block: 100, Index: 2},
		{Block: 101, Index: 0},
	}, seqs(admitted))
	assert.Equal(t, uint64(4), w.Stats().Duplicates)
}
