package book

import (
	"time"

	"github.com/shopspring/decimal"

	"clob-market-engine/internal/domain"
)

// DefaultTapeWindow is the rolling window used for volume aggregation.
const DefaultTapeWindow = 24 * time.Hour

// pruneGrace is how long entries outside the rolling window are
// retained before lazy pruning drops them; they stay visible to
// Recent for diagnostics in the meantime.
const pruneGrace = 5 * time.Minute

// Tape is the append-only trade log for a single pool, ordered by
// admission (non-decreasing sequence key). Timestamps are the
// authoritative field for the rolling window and may tie.
//
// Tape is not safe for concurrent use; all mutation goes through the
// engine's serialized admission path.
type Tape struct {
	trades []domain.Trade
	window time.Duration
}

// NewTape creates a tape with the given rolling window. A zero window
// defaults to DefaultTapeWindow.
func NewTape(window time.Duration) *Tape {
	if window == 0 {
		window = DefaultTapeWindow
	}
	return &Tape{window: window}
}

// Append admits a trade. The tape never reorders on append: admission
// order already guarantees non-decreasing sequence keys.
func (t *Tape) Append(tr domain.Trade) {
	t.trades = append(t.trades, tr)
}

// LatestPrice returns the price of the most recently admitted trade.
// ok is false when the tape is empty.
func (t *Tape) LatestPrice() (decimal.Decimal, bool) {
	if len(t.trades) == 0 {
		return decimal.Decimal{}, false
	}
	return t.trades[len(t.trades)-1].Price, true
}

// VolumeWithin sums trade volumes with timestamp in [now − window, now].
// Pruning of entries outside window+grace happens lazily here, so
// repeated calls at the same now are idempotent.
func (t *Tape) VolumeWithin(now time.Time) decimal.Decimal {
	nowMs := now.UnixMilli()
	cutoff := nowMs - t.window.Milliseconds()
	t.prune(nowMs)

	sum := decimal.Zero
	for i := range t.trades {
		ts := t.trades[i].Timestamp
		if ts < cutoff || ts > nowMs {
			continue
		}
		sum = sum.Add(t.trades[i].Volume)
	}
	return sum
}

// Recent returns up to n most recent trades, newest last. Entries
// already outside the rolling window may still appear until pruned.
func (t *Tape) Recent(n int) []domain.Trade {
	if n <= 0 || len(t.trades) == 0 {
		return nil
	}
	if n > len(t.trades) {
		n = len(t.trades)
	}
	out := make([]domain.Trade, n)
	copy(out, t.trades[len(t.trades)-n:])
	return out
}

// Len returns the number of retained trades.
func (t *Tape) Len() int {
	return len(t.trades)
}

// prune drops entries older than window+grace. Timestamps are
// non-decreasing up to admission-order ties, so a single forward scan
// finds the retention boundary.
func (t *Tape) prune(nowMs int64) {
	dropBefore := nowMs - t.window.Milliseconds() - pruneGrace.Milliseconds()
	i := 0
	for i < len(t.trades) && t.trades[i].Timestamp < dropBefore {
		i++
	}
	if i > 0 {
		t.trades = append(t.trades[:0:0], t.trades[i:]...)
	}
}
