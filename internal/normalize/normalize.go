// Package normalize converts raw transport payloads, indexing service
// rows and feed frames, into canonical events. Conversion is total:
// every input either yields exactly one event or an error, and no
// function here mutates shared state.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/feed"
	"clob-market-engine/internal/indexer"
)

// ErrUnrecognizedEventKind is returned for payloads whose kind or side
// flag does not map to a canonical variant.
var ErrUnrecognizedEventKind = errors.New("unrecognized event kind")

// parseSide maps the pull transport's side string ("bid"/"ask") to the
// canonical side.
func parseSide(s string) (domain.Side, error) {
	switch s {
	case "bid":
		return domain.SideBid, nil
	case "ask":
		return domain.SideAsk, nil
	}
	return "", fmt.Errorf("%w: side %q", ErrUnrecognizedEventKind, s)
}

// sideFromIsBuy maps the push transport's isBuy flag to the canonical
// side. A buy rests on or takes from the bid side.
func sideFromIsBuy(isBuy *bool) (domain.Side, error) {
	if isBuy == nil {
		return "", fmt.Errorf("%w: missing isBuy flag", ErrUnrecognizedEventKind)
	}
	if *isBuy {
		return domain.SideBid, nil
	}
	return domain.SideAsk, nil
}

func parseUint(field, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return v, nil
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}

// FromTickRow converts an indexing service tick row.
func FromTickRow(row indexer.TickRow, observedAt time.Time) (*domain.CanonicalEvent, error) {
	side, err := parseSide(row.Side)
	if err != nil {
		return nil, err
	}

	volume, err := parseUint("volume", row.Volume)
	if err != nil {
		return nil, err
	}

	return &domain.CanonicalEvent{
		Kind:       domain.EventTickUpdate,
		ChainID:    row.ChainID,
		PoolID:     row.PoolID,
		Seq:        domain.SequenceKey{Block: row.Block, Index: row.BlockIndex},
		ObservedAt: observedAt,
		Tick: &domain.TickUpdate{
			Tick:   row.Tick,
			Side:   side,
			Volume: volume,
		},
	}, nil
}

// FromTradeRow converts an indexing service trade row.
func FromTradeRow(row indexer.TradeRow, observedAt time.Time) (*domain.CanonicalEvent, error) {
	side, err := parseSide(row.Side)
	if err != nil {
		return nil, err
	}

	price, err := parseDecimal("price", row.Price)
	if err != nil {
		return nil, err
	}

	volume, err := parseDecimal("volume", row.Volume)
	if err != nil {
		return nil, err
	}

	return &domain.CanonicalEvent{
		Kind:       domain.EventTrade,
		ChainID:    row.ChainID,
		PoolID:     row.PoolID,
		Seq:        domain.SequenceKey{Block: row.Block, Index: row.BlockIndex},
		ObservedAt: observedAt,
		Trade: &domain.TradeExec{
			Price:     price,
			Volume:    volume,
			Side:      side,
			Timestamp: row.Timestamp,
		},
	}, nil
}

// FromOrderRow converts an indexing service order row.
func FromOrderRow(row indexer.OrderRow, observedAt time.Time) (*domain.CanonicalEvent, error) {
	var kind domain.EventKind
	switch row.Kind {
	case "placed":
		kind = domain.EventOrderPlaced
	case "matched":
		kind = domain.EventOrderMatched
	default:
		return nil, fmt.Errorf("%w: order kind %q", ErrUnrecognizedEventKind, row.Kind)
	}

	side, err := parseSide(row.Side)
	if err != nil {
		return nil, err
	}

	volume, err := parseUint("volume", row.Volume)
	if err != nil {
		return nil, err
	}

	return &domain.CanonicalEvent{
		Kind:       kind,
		ChainID:    row.ChainID,
		PoolID:     row.PoolID,
		Seq:        domain.SequenceKey{Block: row.Block, Index: row.BlockIndex},
		ObservedAt: observedAt,
		Order: &domain.OrderUpdate{
			OrderID:   row.OrderID,
			Tick:      row.Tick,
			Side:      side,
			Volume:    volume,
			Timestamp: row.Timestamp,
		},
	}, nil
}

// FromFeedMessage converts a push feed frame.
func FromFeedMessage(msg feed.EventMessage, observedAt time.Time) (*domain.CanonicalEvent, error) {
	seq := domain.SequenceKey{Block: msg.Block, Index: msg.Index}

	switch msg.Type {
	case feed.TypeTick:
		side, err := sideFromIsBuy(msg.IsBuy)
		if err != nil {
			return nil, err
		}
		volume, err := parseUint("volume", msg.Volume)
		if err != nil {
			return nil, err
		}
		return &domain.CanonicalEvent{
			Kind:       domain.EventTickUpdate,
			ChainID:    msg.Chain,
			PoolID:     msg.Pool,
			Seq:        seq,
			ObservedAt: observedAt,
			Tick: &domain.TickUpdate{
				Tick:   msg.Tick,
				Side:   side,
				Volume: volume,
			},
		}, nil

	case feed.TypeTrade:
		side, err := sideFromIsBuy(msg.IsBuy)
		if err != nil {
			return nil, err
		}
		price, err := parseDecimal("price", msg.Price)
		if err != nil {
			return nil, err
		}
		size, err := parseDecimal("size", msg.Size)
		if err != nil {
			return nil, err
		}
		return &domain.CanonicalEvent{
			Kind:       domain.EventTrade,
			ChainID:    msg.Chain,
			PoolID:     msg.Pool,
			Seq:        seq,
			ObservedAt: observedAt,
			Trade: &domain.TradeExec{
				Price:     price,
				Volume:    size,
				Side:      side,
				Timestamp: msg.Ts,
			},
		}, nil

	case feed.TypeOrderPlaced, feed.TypeOrderMatched:
		kind := domain.EventOrderPlaced
		if msg.Type == feed.TypeOrderMatched {
			kind = domain.EventOrderMatched
		}
		side, err := sideFromIsBuy(msg.IsBuy)
		if err != nil {
			return nil, err
		}
		volume, err := parseUint("volume", msg.Volume)
		if err != nil {
			return nil, err
		}
		return &domain.CanonicalEvent{
			Kind:       kind,
			ChainID:    msg.Chain,
			PoolID:     msg.Pool,
			Seq:        seq,
			ObservedAt: observedAt,
			Order: &domain.OrderUpdate{
				OrderID:   msg.OrderID,
				Tick:      msg.Tick,
				Side:      side,
				Volume:    volume,
				Timestamp: msg.Ts,
			},
		}, nil
	}

	return nil, fmt.Errorf("%w: feed type %q", ErrUnrecognizedEventKind, msg.Type)
}

// FromBalanceRow converts an indexing service settlement balance row.
func FromBalanceRow(row indexer.BalanceRow) (*domain.SettlementBalance, error) {
	available, err := parseDecimal("available", row.Available)
	if err != nil {
		return nil, err
	}

	locked, err := parseDecimal("locked", row.Locked)
	if err != nil {
		return nil, err
	}

	return &domain.SettlementBalance{
		Owner:     row.Owner,
		Token:     row.Token,
		ChainID:   row.ChainID,
		Available: available,
		Locked:    locked,
		Block:     row.Block,
	}, nil
}

// FromPool converts an indexing service pool row into reference data.
func FromPool(row indexer.PoolRow) (*domain.Pool, error) {
	tickSize, err := parseDecimal("tickSize", row.TickSize)
	if err != nil {
		return nil, err
	}

	lotSize, err := parseDecimal("lotSize", row.LotSize)
	if err != nil {
		return nil, err
	}

	return &domain.Pool{
		PoolID:        row.PoolID,
		ChainID:       row.ChainID,
		BaseSymbol:    row.BaseSymbol,
		BaseDecimals:  int(row.BaseDecimals),
		QuoteSymbol:   row.QuoteSymbol,
		QuoteDecimals: int(row.QuoteDecimals),
		TickSize:      tickSize,
		LotSize:       lotSize,
		BookAddress:   row.BookAddress,
	}, nil
}
