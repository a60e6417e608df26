package publish

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clob-market-engine/internal/domain"
)

func snap(poolID string, block uint64, index uint32) *domain.MarketSnapshot {
	spread := int64(5)
	return &domain.MarketSnapshot{
		PoolID:      poolID,
		BestBid:     &domain.PriceLevel{Tick: 250120, Side: domain.SideBid, Volume: 40},
		BestAsk:     &domain.PriceLevel{Tick: 250125, Side: domain.SideAsk, Volume: 25},
		SpreadTicks: &spread,
		AsOfSeq:     domain.SequenceKey{Block: block, Index: index},
		Status:      domain.StatusLive,
		ComputedAt:  time.Now(),
	}
}

func TestPublisher_GetLatest(t *testing.T) {
	p := NewPublisher()

	assert.Nil(t, p.Get("pool-1"))

	p.Publish(snap("pool-1", 100, 0))
	p.Publish(snap("pool-1", 100, 1))

	got := p.Get("pool-1")
	require.NotNil(t, got)
	assert.Equal(t, domain.SequenceKey{Block: 100, Index: 1}, got.AsOfSeq)

	assert.Nil(t, p.Get("pool-2"))
	assert.ElementsMatch(t, []string{"pool-1"}, p.Pools())
}

func TestPublisher_SubscribeReceivesPublications(t *testing.T) {
	p := NewPublisher()

	ch, cancel := p.Subscribe()
	defer cancel()

	p.Publish(snap("pool-1", 100, 0))
	p.Publish(snap("pool-2", 101, 0))

	first := <-ch
	assert.Equal(t, "pool-1", first.PoolID)
	second := <-ch
	assert.Equal(t, "pool-2", second.PoolID)
}

func TestPublisher_CancelClosesChannel(t *testing.T) {
	p := NewPublisher()

	ch, cancel := p.Subscribe()
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic
	p.Publish(snap("pool-1", 100, 0))
}

func TestPublisher_ReadersSeeCompleteSnapshots(t *testing.T) {
	// Concurrent readers must never observe a half-updated snapshot:
	// each value read is internally consistent (spread matches the
	// bid/ask ticks it was published with).
	p := NewPublisher()
	done := make(chan struct{})

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				s := p.Get("pool-1")
				if s == nil {
					continue
				}
				if s.BestBid == nil || s.BestAsk == nil || s.SpreadTicks == nil {
					t.Error("incomplete snapshot observed")
					return
				}
				if *s.SpreadTicks != s.BestAsk.Tick-s.BestBid.Tick {
					t.Error("snapshot fields out of sync")
					return
				}
			}
		}()
	}

	for i := 0; i < 5000; i++ {
		s := snap("pool-1", 100, uint32(i))
		s.BestBid.Tick = 250100 + int64(i%20)
		s.BestAsk.Tick = 250125 + int64(i%20)
		spread := s.BestAsk.Tick - s.BestBid.Tick
		s.SpreadTicks = &spread
		p.Publish(s)
	}

	close(done)
	wg.Wait()
}

func TestPublisher_SlowSubscriberDoesNotBlock(t *testing.T) {
	p := NewPublisher()

	_, cancel := p.Subscribe()
	defer cancel()

	// Far more publications than the subscriber buffer holds; Publish
	// must not block even though nothing drains the channel
	donech := make(chan struct{})
	go func() {
		for i := 0; i < DefaultSubscriberBuffer*4; i++ {
			p.Publish(snap("pool-1", 100, uint32(i)))
		}
		close(donech)
	}()

	select {
	case <-donech:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	// The latest snapshot is still the one visible
	got := p.Get("pool-1")
	require.NotNil(t, got)
	assert.Equal(t, uint32(DefaultSubscriberBuffer*4-1), got.AsOfSeq.Index)
}
