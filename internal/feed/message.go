// Package feed implements the push side of the event pipeline: a
// WebSocket client for the low-latency event feed with automatic
// reconnect and resubscription.
package feed

// Message kinds carried on the feed.
const (
	TypeTick         = "tick"
	TypeTrade        = "trade"
	TypeOrderPlaced  = "order_placed"
	TypeOrderMatched = "order_matched"
)

// EventMessage is a raw event frame pushed by the feed. Numeric
// amounts arrive as strings and are parsed during normalization. The
// push feed flags trade direction with isBuy instead of the pull
// side's side string.
type EventMessage struct {
	Type    string `json:"type"`
	Pool    string `json:"pool"`
	Chain   int64  `json:"chain"`
	Block   uint64 `json:"block"`
	Index   uint32 `json:"index"`
	Tick    int64  `json:"tick,omitempty"`
	IsBuy   *bool  `json:"isBuy,omitempty"`
	Volume  string `json:"volume,omitempty"`
	Price   string `json:"price,omitempty"`
	Size    string `json:"size,omitempty"`
	OrderID string `json:"orderId,omitempty"`
	Ts      int64  `json:"ts,omitempty"` // unix ms
}

// controlFrame is a non-event frame: subscribe requests and their acks.
type controlFrame struct {
	Op    string   `json:"op"`
	Pools []string `json:"pools,omitempty"`
}
