// Package api exposes the engine over HTTP: snapshot and reference
// lookups, a status surface, Prometheus metrics, and a WebSocket
// stream of published snapshots.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/ingest"
	"clob-market-engine/internal/observability"
	"clob-market-engine/internal/publish"
	"clob-market-engine/internal/refdata"
	"clob-market-engine/internal/storage"
)

// Engine is the engine surface the server reads from.
type Engine interface {
	Snapshot(poolID string) *domain.MarketSnapshot
	WindowStats() ingest.Stats
	PoolStatus(poolID string) (domain.SnapshotStatus, bool)
}

// Options configures a Server.
type Options struct {
	Engine    Engine
	Publisher *publish.Publisher
	RefData   *refdata.Service
	ChainID   int64
	Logger    *log.Logger
}

// Server serves the engine's read API.
type Server struct {
	engine    Engine
	publisher *publish.Publisher
	refdata   *refdata.Service
	chainID   int64
	logger    *log.Logger
	startedAt time.Time
	upgrader  websocket.Upgrader
	mux       *http.ServeMux
}

// NewServer creates the HTTP server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		engine:    opts.Engine,
		publisher: opts.Publisher,
		refdata:   opts.RefData,
		chainID:   opts.ChainID,
		logger:    logger,
		startedAt: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/pools", s.handlePools)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/balances", s.handleBalances)
	mux.HandleFunc("/stream", s.handleStream)
	s.mux = mux

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type levelJSON struct {
	Tick   int64  `json:"tick"`
	Volume uint64 `json:"volume"`
}

type snapshotJSON struct {
	PoolID      string           `json:"poolId"`
	BestBid     *levelJSON       `json:"bestBid,omitempty"`
	BestAsk     *levelJSON       `json:"bestAsk,omitempty"`
	SpreadTicks *int64           `json:"spreadTicks,omitempty"`
	LatestPrice *decimal.Decimal `json:"latestPrice,omitempty"`
	Volume24h   decimal.Decimal  `json:"volume24h"`
	AsOfBlock   uint64           `json:"asOfBlock"`
	AsOfIndex   uint32           `json:"asOfIndex"`
	Status      string           `json:"status"`
	ComputedAt  time.Time        `json:"computedAt"`
}

func toSnapshotJSON(snap *domain.MarketSnapshot) snapshotJSON {
	out := snapshotJSON{
		PoolID:      snap.PoolID,
		SpreadTicks: snap.SpreadTicks,
		LatestPrice: snap.LatestPrice,
		Volume24h:   snap.Volume24h,
		AsOfBlock:   snap.AsOfSeq.Block,
		AsOfIndex:   snap.AsOfSeq.Index,
		Status:      string(snap.Status),
		ComputedAt:  snap.ComputedAt,
	}
	if snap.BestBid != nil {
		out.BestBid = &levelJSON{Tick: snap.BestBid.Tick, Volume: snap.BestBid.Volume}
	}
	if snap.BestAsk != nil {
		out.BestAsk = &levelJSON{Tick: snap.BestAsk.Tick, Volume: snap.BestAsk.Volume}
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type poolStatusJSON struct {
	PoolID string `json:"poolId"`
	Status string `json:"status"`
}

type windowStatsJSON struct {
	Admitted   uint64 `json:"admitted"`
	Duplicates uint64 `json:"duplicates"`
	Gaps       uint64 `json:"gaps"`
	Overflows  uint64 `json:"overflows"`
}

type statusJSON struct {
	UptimeSeconds float64          `json:"uptimeSeconds"`
	Window        windowStatsJSON  `json:"window"`
	Pools         []poolStatusJSON `json:"pools"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats := s.engine.WindowStats()
	out := statusJSON{
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Window: windowStatsJSON{
			Admitted:   stats.Admitted,
			Duplicates: stats.Duplicates,
			Gaps:       stats.Gaps,
			Overflows:  stats.Overflows,
		},
	}
	for _, poolID := range s.publisher.Pools() {
		status, ok := s.engine.PoolStatus(poolID)
		if !ok {
			continue
		}
		out.Pools = append(out.Pools, poolStatusJSON{PoolID: poolID, Status: string(status)})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type poolJSON struct {
	PoolID        string          `json:"poolId"`
	ChainID       int64           `json:"chainId"`
	BaseSymbol    string          `json:"baseSymbol"`
	BaseDecimals  int             `json:"baseDecimals"`
	QuoteSymbol   string          `json:"quoteSymbol"`
	QuoteDecimals int             `json:"quoteDecimals"`
	TickSize      decimal.Decimal `json:"tickSize"`
	LotSize       decimal.Decimal `json:"lotSize"`
	BookAddress   string          `json:"bookAddress"`
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.refdata.Pools(r.Context(), s.chainID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]poolJSON, 0, len(pools))
	for _, p := range pools {
		out = append(out, poolJSON{
			PoolID:        p.PoolID,
			ChainID:       p.ChainID,
			BaseSymbol:    p.BaseSymbol,
			BaseDecimals:  p.BaseDecimals,
			QuoteSymbol:   p.QuoteSymbol,
			QuoteDecimals: p.QuoteDecimals,
			TickSize:      p.TickSize,
			LotSize:       p.LotSize,
			BookAddress:   p.BookAddress,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	poolID := r.URL.Query().Get("pool")
	if poolID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing pool parameter"))
		return
	}

	snap := s.engine.Snapshot(poolID)
	if snap == nil {
		s.writeError(w, http.StatusNotFound, errors.New("unknown pool"))
		return
	}
	s.writeJSON(w, http.StatusOK, toSnapshotJSON(snap))
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing owner parameter"))
		return
	}

	balances, err := s.refdata.Balances(r.Context(), owner)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	out := make([]balanceJSON, 0, len(balances))
	for _, b := range balances {
		out = append(out, balanceJSON{
			Owner:     b.Owner,
			Token:     b.Token,
			ChainID:   b.ChainID,
			Available: b.Available,
			Locked:    b.Locked,
			Total:     b.Total(),
			Block:     b.Block,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type balanceJSON struct {
	Owner     string          `json:"owner"`
	Token     string          `json:"token"`
	ChainID   int64           `json:"chainId"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Total     decimal.Decimal `json:"total"`
	Block     uint64          `json:"block"`
}

// handleStream upgrades to WebSocket and pushes every published
// snapshot, optionally filtered to one pool with ?pool=.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	poolFilter := r.URL.Query().Get("pool")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	snaps, cancel := s.publisher.Subscribe()
	defer cancel()

	// Reader drains client frames and unblocks the writer on close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case snap := <-snaps:
			if poolFilter != "" && snap.PoolID != poolFilter {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(toSnapshotJSON(snap)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("[api] encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("[api] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
