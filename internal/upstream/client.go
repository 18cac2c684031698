// Package upstream implements the persistent wallet-activity stream client
// (component C3): a single-concurrent-connect WebSocket session with an
// authoritative subscription set that survives reconnects, a capped
// exponential reconnect schedule, heartbeats, and inbound message
// validation. Grounded on github.com/gorilla/websocket, present in the
// teacher's go.mod but never imported by the teacher's own code.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/walletmemory/core/internal/errors"
	"github.com/walletmemory/core/internal/logging"
)

// ReconnectSchedule is the fixed backoff ladder, capped at 5 attempts.
var ReconnectSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// Inbound message kinds, matching the upstream wire protocol's "type" field.
const (
	KindTransaction = "transaction"
	KindError       = "error"
	KindPong        = "pong"
)

// Message is a single inbound wallet-activity frame.
type Message struct {
	Kind       string          `json:"kind"`
	WalletAddr string          `json:"wallet_addr"`
	Payload    json.RawMessage `json:"payload"`
}

// Validate checks that a Message carries the minimum required fields.
// WalletAddr is only required for transaction frames: error/pong/unknown
// frames legitimately carry none.
func (m Message) Validate() error {
	if m.Kind == "" {
		return fmt.Errorf("message missing kind")
	}
	if m.Kind == KindTransaction && m.WalletAddr == "" {
		return fmt.Errorf("transaction message missing wallet_addr")
	}
	return nil
}

// Handler processes one validated inbound message.
type Handler func(ctx context.Context, msg Message)

// Client manages a persistent upstream stream connection.
type Client struct {
	url    string
	apiKey string
	log    *logging.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	connecting    bool
	subscriptions map[string]bool // authoritative set, survives reconnects

	handler Handler

	heartbeatInterval time.Duration

	runCancel context.CancelFunc
	done      chan struct{}
}

// New constructs a Client. handler is invoked for every validated inbound
// transaction or error frame, on the serving goroutine of the current Run
// session; pong and unrecognized frames never reach it.
func New(url, apiKey string, log *logging.Logger, handler Handler) *Client {
	return &Client{
		url:               url,
		apiKey:            apiKey,
		log:               log,
		subscriptions:     make(map[string]bool),
		handler:           handler,
		heartbeatInterval: 30 * time.Second,
		done:              make(chan struct{}),
	}
}

// Subscribe adds a wallet address to the authoritative subscription set and,
// if currently connected, sends a live subscribe frame. Returns
// errors.NotConnected when no session is open; the address is still added
// to the authoritative set so the next successful Run resubscribes it.
func (c *Client) Subscribe(address string) error {
	c.mu.Lock()
	c.subscriptions[address] = true
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.NotConnected("upstream client")
	}
	return conn.WriteJSON(map[string]string{"op": "subscribe", "wallet_addr": address})
}

// Unsubscribe removes a wallet address from the authoritative set. Returns
// errors.NotConnected when no session is open; the address is still removed
// from the authoritative set regardless.
func (c *Client) Unsubscribe(address string) error {
	c.mu.Lock()
	delete(c.subscriptions, address)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.NotConnected("upstream client")
	}
	return conn.WriteJSON(map[string]string{"op": "unsubscribe", "wallet_addr": address})
}

// Run connects and serves until ctx is cancelled, reconnecting with the
// capped exponential schedule on any disconnect. Only one Run may be active
// at a time; a second concurrent call returns errors.AlreadyConnecting
// immediately instead of silently no-oping.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.connecting {
		c.mu.Unlock()
		return errors.AlreadyConnecting("upstream client")
	}
	c.connecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		close(c.done)
	}()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if attempt >= len(ReconnectSchedule) {
				if c.log != nil {
					c.log.WithError(err).Error("upstream: giving up after max reconnect attempts")
				}
				return err
			}
			delay := ReconnectSchedule[attempt]
			attempt++
			if c.log != nil {
				c.log.WithFields(map[string]interface{}{"attempt": attempt, "delay": delay.String()}).Warn("upstream: reconnecting")
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
				continue
			}
		}

		attempt = 0
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		c.resubscribeAll(conn)
		c.serve(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := make(map[string][]string)
	if c.apiKey != "" {
		header["Authorization"] = []string{"Bearer " + c.apiKey}
	}
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	return conn, err
}

func (c *Client) resubscribeAll(conn *websocket.Conn) {
	c.mu.Lock()
	addrs := make([]string, 0, len(c.subscriptions))
	for a := range c.subscriptions {
		addrs = append(addrs, a)
	}
	c.mu.Unlock()
	for _, a := range addrs {
		_ = conn.WriteJSON(map[string]string{"op": "subscribe", "wallet_addr": a})
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	heartbeat := time.NewTicker(c.heartbeatInterval)
	defer heartbeat.Stop()

	msgs := make(chan Message)
	errs := make(chan error, 1)

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				errs <- err
				return
			}
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				if c.log != nil {
					c.log.WithError(err).Warn("upstream: dropping malformed frame")
				}
				continue
			}
			if err := msg.Validate(); err != nil {
				if c.log != nil {
					c.log.WithError(err).Warn("upstream: dropping invalid frame")
				}
				continue
			}

			switch msg.Kind {
			case KindTransaction, KindError:
				msgs <- msg
			case KindPong:
				// Heartbeat acknowledgement: no handler dispatch.
			default:
				if c.log != nil {
					c.log.WithFields(map[string]interface{}{"kind": msg.Kind}).Warn("upstream: dropping unrecognized frame kind")
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case err := <-errs:
			if c.log != nil {
				c.log.WithError(err).Warn("upstream: connection lost")
			}
			return
		case msg := <-msgs:
			if c.handler != nil {
				c.handler(ctx, msg)
			}
		}
	}
}

// Name identifies this service for the lifecycle manager.
func (c *Client) Name() string { return "upstream-client" }

// Start launches Run on a background goroutine and returns immediately.
func (c *Client) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel
	go func() {
		if err := c.Run(runCtx); err != nil && c.log != nil {
			c.log.WithError(err).Error("upstream: session ended")
		}
	}()
	return nil
}

// Stop cancels the running session and waits for it to exit or ctx to expire.
func (c *Client) Stop(ctx context.Context) error {
	if c.runCancel != nil {
		c.runCancel()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
