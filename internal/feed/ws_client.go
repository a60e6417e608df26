package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Config configures feed client behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// EventBuffer is the capacity of the event channel.
	EventBuffer int
}

// DefaultConfig returns default feed client configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		EventBuffer:       10000,
	}
}

// Client is a WebSocket client for the push event feed.
type Client struct {
	endpoint string
	config   Config
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// events carries all frames for subscribed pools. Sends block
	// rather than drop; the buffer absorbs bursts.
	events chan EventMessage

	// pools stores subscribed pool IDs for resubscription after reconnect
	pools   map[string]struct{}
	poolsMu sync.RWMutex

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool

	reconnects atomic.Uint64
}

// NewClient creates a new feed client and connects to the endpoint.
func NewClient(ctx context.Context, endpoint string, config *Config, logger *log.Logger) (*Client, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	c := &Client{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		events:   make(chan EventMessage, cfg.EventBuffer),
		pools:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes the WebSocket connection.
func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Subscribe registers pools on the feed. The subscription survives
// reconnects.
func (c *Client) Subscribe(ctx context.Context, poolIDs ...string) error {
	if c.closed.Load() {
		return fmt.Errorf("client closed")
	}
	if len(poolIDs) == 0 {
		return nil
	}

	if err := c.writeSubscribe(poolIDs); err != nil {
		return err
	}

	c.poolsMu.Lock()
	for _, id := range poolIDs {
		c.pools[id] = struct{}{}
	}
	c.poolsMu.Unlock()

	return nil
}

// writeSubscribe sends a subscribe frame for the given pools.
func (c *Client) writeSubscribe(poolIDs []string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(controlFrame{Op: "subscribe", Pools: poolIDs}); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Events returns the channel of raw feed frames.
func (c *Client) Events() <-chan EventMessage {
	return c.events
}

// Reconnects reports how many reconnects have completed.
func (c *Client) Reconnects() uint64 {
	return c.reconnects.Load()
}

// Close closes the WebSocket connection and the event channel.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	close(c.events)
	return nil
}

// readLoop reads frames from the WebSocket and dispatches events.
func (c *Client) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			// Connection error - attempt reconnect with exponential backoff
			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect redials until a connection is established or the client
// shuts down, then resubscribes. The delay doubles per failed attempt
// up to MaxReconnectDelay.
func (c *Client) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	for {
		if c.closed.Load() {
			return
		}

		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.connect(ctx)
		cancel()
		if err == nil {
			break
		}

		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
		c.logger.Printf("[feed] reconnect failed, retrying in %v: %v", delay, err)
	}

	c.reconnects.Add(1)

	// Resubscribe to all pools on the fresh connection
	c.poolsMu.RLock()
	poolIDs := make([]string, 0, len(c.pools))
	for id := range c.pools {
		poolIDs = append(poolIDs, id)
	}
	c.poolsMu.RUnlock()

	if len(poolIDs) > 0 {
		if err := c.writeSubscribe(poolIDs); err != nil {
			c.logger.Printf("[feed] resubscribe failed: %v", err)
		}
	}
}

// handleMessage parses a frame and dispatches event messages. Control
// frames (subscribe acks) are not forwarded.
func (c *Client) handleMessage(message []byte) {
	var ctrl controlFrame
	if err := json.Unmarshal(message, &ctrl); err == nil && ctrl.Op != "" {
		return
	}

	var ev EventMessage
	if err := json.Unmarshal(message, &ev); err != nil {
		c.logger.Printf("[feed] malformed frame: %v", err)
		return
	}
	if ev.Type == "" {
		return
	}

	// Block until delivered - never drop events
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}
