// Package publish exposes the canonical market snapshots. Each pool
// has a single atomically-swapped pointer: writers construct a fresh
// snapshot and swap it in whole, readers always observe a complete,
// internally consistent value.
package publish

import (
	"sync"
	"sync/atomic"

	"clob-market-engine/internal/domain"
)

// DefaultSubscriberBuffer is the channel capacity handed to subscribers.
const DefaultSubscriberBuffer = 256

// Publisher holds the latest snapshot per pool and notifies
// subscribers on every publication.
type Publisher struct {
	mu    sync.RWMutex
	pools map[string]*atomic.Pointer[domain.MarketSnapshot]

	subMu sync.RWMutex
	subs  map[int]chan *domain.MarketSnapshot
	nextID int
}

// NewPublisher creates an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{
		pools: make(map[string]*atomic.Pointer[domain.MarketSnapshot]),
		subs:  make(map[int]chan *domain.MarketSnapshot),
	}
}

// Publish atomically replaces the pool's snapshot and notifies
// subscribers. The snapshot must not be mutated after publication.
func (p *Publisher) Publish(snap *domain.MarketSnapshot) {
	p.slot(snap.PoolID).Store(snap)

	p.subMu.RLock()
	for _, ch := range p.subs {
		// Snapshots supersede one another, so a full subscriber
		// misses intermediate values rather than blocking the
		// admission path.
		select {
		case ch <- snap:
		default:
		}
	}
	p.subMu.RUnlock()
}

// Get returns the latest snapshot for a pool, or nil if none has been
// published.
func (p *Publisher) Get(poolID string) *domain.MarketSnapshot {
	p.mu.RLock()
	slot, ok := p.pools[poolID]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	return slot.Load()
}

// Pools returns the IDs of all pools with a published snapshot.
func (p *Publisher) Pools() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.pools))
	for id := range p.pools {
		ids = append(ids, id)
	}
	return ids
}

// Subscribe returns a channel receiving every subsequent publication
// and a cancel function that closes it.
func (p *Publisher) Subscribe() (<-chan *domain.MarketSnapshot, func()) {
	ch := make(chan *domain.MarketSnapshot, DefaultSubscriberBuffer)

	p.subMu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.subMu.Unlock()

	cancel := func() {
		p.subMu.Lock()
		if _, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
		p.subMu.Unlock()
	}
	return ch, cancel
}

// slot returns the pool's pointer, creating it on first publication.
func (p *Publisher) slot(poolID string) *atomic.Pointer[domain.MarketSnapshot] {
	p.mu.RLock()
	slot, ok := p.pools[poolID]
	p.mu.RUnlock()
	if ok {
		return slot
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if slot, ok = p.pools[poolID]; ok {
		return slot
	}
	slot = &atomic.Pointer[domain.MarketSnapshot]{}
	p.pools[poolID] = slot
	return slot
}
