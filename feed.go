package fictora

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Change-feed wire types
// ============================================================================

// ChannelSpec identifies one change-feed channel: a named channel plus the
// database-level filter the server applies before pushing events.
type ChannelSpec struct {
	Channel string `json:"channel"`
	Event   string `json:"event,omitempty"` // "INSERT", "UPDATE", "DELETE" or "*"
	Schema  string `json:"schema,omitempty"`
	Table   string `json:"table,omitempty"`
	Filter  string `json:"filter,omitempty"` // e.g. "chat_uuid=eq.<uuid>"
}

// ChangeEvent is one pushed change. Record carries the new row.
type ChangeEvent struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Table   string          `json:"table"`
	Record  json.RawMessage `json:"record"`
}

// ChannelStatus reports a channel's subscription outcome.
type ChannelStatus string

const (
	StatusSubscribed   ChannelStatus = "subscribed"
	StatusChannelError ChannelStatus = "channel_error"
	StatusTimedOut     ChannelStatus = "timed_out"
	StatusClosed       ChannelStatus = "closed"
)

// feedEnvelope is the wire format for all server-to-client feed frames.
type feedEnvelope struct {
	Type    string          `json:"type"` // "status", "event" or "pong"
	Channel string          `json:"channel,omitempty"`
	Status  ChannelStatus   `json:"status,omitempty"`
	Event   string          `json:"event,omitempty"`
	Table   string          `json:"table,omitempty"`
	Record  json.RawMessage `json:"record,omitempty"`
}

// feedCommand is a client-to-server command.
type feedCommand struct {
	Type string       `json:"type"` // "subscribe", "unsubscribe" or "ping"
	Spec *ChannelSpec `json:"spec,omitempty"`
}

// ============================================================================
// Configuration
// ============================================================================

// FeedConfig configures the change-feed connection.
type FeedConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
}

func (c *FeedConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// FeedState represents the connection state.
type FeedState string

const (
	FeedDisconnected FeedState = "disconnected"
	FeedConnecting   FeedState = "connecting"
	FeedConnected    FeedState = "connected"
	FeedReconnecting FeedState = "reconnecting"
)

// ============================================================================
// FeedChannel
// ============================================================================

// FeedChannel is the subscription surface consumed by Subscription and the
// synchronizers. FeedClient is the production implementation; tests use an
// in-memory fake.
type FeedChannel interface {
	// Subscribe registers handlers for spec's channel and asks the server to
	// start the stream. The subscription outcome arrives on onStatus; events
	// arrive on onEvent in transport-delivery order. Returns an error when
	// the command cannot be sent at all (e.g. socket down).
	Subscribe(ctx context.Context, spec ChannelSpec, onEvent func(ChangeEvent), onStatus func(ChannelStatus)) error
	// Unsubscribe releases the channel; no callbacks fire afterwards.
	Unsubscribe(channel string)
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *FeedConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// FeedClient
// ============================================================================

type feedSub struct {
	spec     ChannelSpec
	onEvent  func(ChangeEvent)
	onStatus func(ChannelStatus)
}

// FeedClient is the websocket change-feed client. It keeps the socket alive
// (heartbeat + optional auto-reconnect); channel-level retry is the
// Subscription's job. When the socket drops, every live channel receives
// StatusClosed and must resubscribe.
type FeedClient struct {
	baseURL          string
	config           *FeedConfig
	conn             *websocket.Conn
	mu               sync.Mutex
	state            FeedState
	intentionalClose bool
	recon            *reconnector
	cancelFn         context.CancelFunc
	subs             map[string]*feedSub
	lastDataTime     time.Time
}

// Feed creates a change-feed client bound to this API client's base URL.
// Call Connect to establish the connection.
func (c *Client) Feed(config *FeedConfig) *FeedClient {
	cfg := FeedConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	if cfg.Token == "" {
		cfg.Token = c.bearer()
	}
	return &FeedClient{
		baseURL: c.baseURL,
		config:  &cfg,
		state:   FeedDisconnected,
		recon:   newReconnector(&cfg),
		subs:    make(map[string]*feedSub),
	}
}

// State returns the current connection state.
func (f *FeedClient) State() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Connect establishes the websocket connection.
func (f *FeedClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.state == FeedConnected || f.state == FeedConnecting {
		f.mu.Unlock()
		return nil
	}
	f.state = FeedConnecting
	f.intentionalClose = false
	f.mu.Unlock()

	wsURL := strings.Replace(f.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/realtime?token=" + f.config.Token

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: f.config.HTTPClient})
	if err != nil {
		f.mu.Lock()
		f.state = FeedDisconnected
		f.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.state = FeedConnected
	f.lastDataTime = time.Now()
	f.mu.Unlock()
	f.recon.markConnected()

	connCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancelFn = cancel
	f.mu.Unlock()

	go f.readLoop(connCtx)
	go f.heartbeatLoop(connCtx)

	return nil
}

// Disconnect gracefully closes the connection. Live channels do NOT receive
// StatusClosed: the teardown was requested.
func (f *FeedClient) Disconnect() error {
	f.mu.Lock()
	f.intentionalClose = true
	if f.cancelFn != nil {
		f.cancelFn()
		f.cancelFn = nil
	}
	conn := f.conn
	f.conn = nil
	f.state = FeedDisconnected
	f.subs = make(map[string]*feedSub)
	f.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Subscribe implements FeedChannel.
func (f *FeedClient) Subscribe(ctx context.Context, spec ChannelSpec, onEvent func(ChangeEvent), onStatus func(ChannelStatus)) error {
	f.mu.Lock()
	conn := f.conn
	if conn == nil {
		f.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	f.subs[spec.Channel] = &feedSub{spec: spec, onEvent: onEvent, onStatus: onStatus}
	f.mu.Unlock()

	if err := f.send(ctx, &feedCommand{Type: "subscribe", Spec: &spec}); err != nil {
		f.mu.Lock()
		delete(f.subs, spec.Channel)
		f.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe implements FeedChannel.
func (f *FeedClient) Unsubscribe(channel string) {
	f.mu.Lock()
	sub, ok := f.subs[channel]
	delete(f.subs, channel)
	conn := f.conn
	f.mu.Unlock()

	if ok && conn != nil {
		// Best effort: the server drops the stream on socket close anyway.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.send(ctx, &feedCommand{Type: "unsubscribe", Spec: &sub.spec})
	}
}

func (f *FeedClient) send(ctx context.Context, cmd *feedCommand) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (f *FeedClient) readLoop(ctx context.Context) {
	for {
		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			f.handleDrop(ctx)
			return
		}

		f.mu.Lock()
		f.lastDataTime = time.Now()
		f.mu.Unlock()

		var env feedEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		f.mu.Lock()
		sub := f.subs[env.Channel]
		f.mu.Unlock()
		if sub == nil {
			continue
		}

		switch env.Type {
		case "status":
			sub.onStatus(env.Status)
		case "event":
			sub.onEvent(ChangeEvent{
				Channel: env.Channel,
				Event:   env.Event,
				Table:   env.Table,
				Record:  env.Record,
			})
		}
	}
}

// handleDrop tears down after a socket failure: every live channel hears
// StatusClosed once, then the socket optionally reconnects. Channels are
// cleared; subscribers own their resubscription.
func (f *FeedClient) handleDrop(ctx context.Context) {
	f.mu.Lock()
	if f.intentionalClose {
		f.mu.Unlock()
		return
	}
	f.state = FeedDisconnected
	f.conn = nil
	subs := f.subs
	f.subs = make(map[string]*feedSub)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.onStatus(StatusClosed)
	}

	if f.config.AutoReconnect && f.recon.shouldReconnect() {
		f.scheduleReconnect(ctx)
	}
}

func (f *FeedClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(f.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			s := f.state
			stale := time.Since(f.lastDataTime) > 2*f.config.HeartbeatInterval
			conn := f.conn
			f.mu.Unlock()
			if s != FeedConnected {
				return
			}
			if stale {
				if conn != nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
			if err := f.send(ctx, &feedCommand{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

func (f *FeedClient) scheduleReconnect(ctx context.Context) {
	delay := f.recon.nextDelay()
	f.mu.Lock()
	f.state = FeedReconnecting
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	intentional := f.intentionalClose
	f.mu.Unlock()
	if intentional {
		return
	}

	if err := f.Connect(ctx); err != nil {
		if f.config.AutoReconnect && f.recon.shouldReconnect() {
			f.scheduleReconnect(ctx)
		} else {
			f.mu.Lock()
			f.state = FeedDisconnected
			f.mu.Unlock()
		}
	}
}
