package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/spotstr/internal/tracing"
)

// Transport errors.
var (
	ErrNotConnected = errors.New("relay not connected")
	ErrAckTimeout   = errors.New("relay did not acknowledge event in time")
	ErrRejected     = errors.New("relay rejected event")
)

// Status is the connection state of a relay.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// EventFunc receives events delivered for a subscription.
type EventFunc func(relayURL string, evt *nostr.Event)

// Subscription is a REQ kept alive across reconnects.
type Subscription struct {
	ID      string
	Filters nostr.Filters
	OnEvent EventFunc
	// OnEOSE is called once per connection when the relay has sent all
	// stored events.
	OnEOSE func(relayURL string)
}

// Stats is a point-in-time view of one relay.
type Stats struct {
	URL            string    `json:"url"`
	Status         Status    `json:"status"`
	LastError      string    `json:"last_error,omitempty"`
	SentEvents     int64     `json:"sent_events"`
	ReceivedEvents int64     `json:"received_events"`
	ConnectedAt    time.Time `json:"connected_at,omitempty"`
	// Roles is filled in by Pool.Stats.
	Roles []Role `json:"roles,omitempty"`
}

type ackResult struct {
	ok     bool
	reason string
	err    error
}

// Client is a resilient websocket client for one Nostr relay.
// It reconnects with exponential backoff and jitter and replays its
// subscriptions after every reconnect.
type Client struct {
	config  Config
	logger  *slog.Logger
	metrics *Metrics

	mu          sync.Mutex
	rng         *rand.Rand // protected by mu
	conn        *websocket.Conn
	status      Status
	lastError   string
	connectedAt time.Time
	subs        map[string]*Subscription
	acks        map[string]chan ackResult

	// gorilla/websocket supports one concurrent writer.
	writeMu sync.Mutex

	sent     atomic.Int64
	received atomic.Int64

	// reconnectCount tracks consecutive reconnection attempts (atomic)
	reconnectCount int64
}

// NewClient creates a relay client. Call Run to connect.
func NewClient(config Config, logger *slog.Logger, metrics *Metrics) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:  config,
		logger:  logger.With(slog.String("relay", config.URL)),
		metrics: metrics,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		status:  StatusDisconnected,
		subs:    make(map[string]*Subscription),
		acks:    make(map[string]chan ackResult),
	}, nil
}

// URL returns the relay URL.
func (c *Client) URL() string { return c.config.URL }

// Run connects and blocks until ctx is cancelled, reconnecting on failure.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("relay client stopping due to context cancellation")
			c.close(StatusDisconnected, "")
			return ctx.Err()
		default:
		}

		subs, err := c.connect(ctx)
		if err != nil {
			c.logger.Warn("relay connection failed",
				slog.String("error", err.Error()),
				slog.Int64("attempt", atomic.LoadInt64(&c.reconnectCount)+1))
			c.setStatus(StatusError, err.Error())
			if err := c.waitReconnect(ctx); err != nil {
				return err
			}
			continue
		}

		connectedAt := time.Now()
		stop := context.AfterFunc(ctx, func() { c.close(StatusDisconnected, "") })
		c.replay(subs)
		c.readLoop()
		stop()

		// A relay that accepts and then drops the connection keeps backing off.
		if time.Since(connectedAt) >= c.config.stableAfter() {
			atomic.StoreInt64(&c.reconnectCount, 0)
			continue
		}
		if ctx.Err() != nil {
			continue
		}
		if err := c.waitReconnect(ctx); err != nil {
			return err
		}
	}
}

// waitReconnect sleeps for the next backoff delay.
func (c *Client) waitReconnect(ctx context.Context) error {
	delay := c.computeBackoff()
	atomic.AddInt64(&c.reconnectCount, 1)
	c.metrics.IncReconnects(c.config.URL)

	c.logger.Debug("scheduling reconnect",
		slog.Duration("delay", delay),
		slog.Int64("attempt", atomic.LoadInt64(&c.reconnectCount)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.setStatus(StatusDisconnected, "")
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// connect establishes the websocket connection and returns the
// subscriptions to replay on it.
func (c *Client) connect(ctx context.Context) ([]*Subscription, error) {
	c.setStatus(StatusConnecting, "")
	c.logger.Debug("connecting to relay")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return nil, err
	}

	// Subscriptions added after this point send their own REQ.
	c.mu.Lock()
	c.conn = conn
	c.status = StatusConnected
	c.lastError = ""
	c.connectedAt = time.Now()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	c.metrics.SetConnected(c.config.URL, true)
	c.logger.Info("connected to relay")
	return subs, nil
}

// readLoop reads relay messages until the connection closes.
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.conn != conn
			c.mu.Unlock()
			if closing {
				return
			}
			c.logger.Warn("relay connection closed", slog.String("error", err.Error()))
			c.close(StatusError, err.Error())
			return
		}

		c.handleMessage(payload)
	}
}

func (c *Client) handleMessage(payload []byte) {
	switch env := nostr.ParseMessage(string(payload)).(type) {
	case *nostr.EventEnvelope:
		if env.SubscriptionID == nil {
			return
		}
		c.mu.Lock()
		sub := c.subs[*env.SubscriptionID]
		c.mu.Unlock()
		if sub == nil || sub.OnEvent == nil {
			return
		}
		evt := env.Event
		if !sub.Filters.Match(&evt) {
			return
		}
		if ok, err := evt.CheckSignature(); err != nil || !ok {
			c.logger.Debug("dropping event with invalid signature", slog.String("event_id", evt.ID))
			return
		}
		c.received.Add(1)
		c.metrics.IncReceived(c.config.URL)
		sub.OnEvent(c.config.URL, &evt)

	case *nostr.EOSEEnvelope:
		c.mu.Lock()
		sub := c.subs[string(*env)]
		c.mu.Unlock()
		if sub != nil && sub.OnEOSE != nil {
			sub.OnEOSE(c.config.URL)
		}

	case *nostr.OKEnvelope:
		c.mu.Lock()
		ch, ok := c.acks[env.EventID]
		delete(c.acks, env.EventID)
		c.mu.Unlock()
		if ok {
			ch <- ackResult{ok: env.OK, reason: env.Reason}
		}

	case *nostr.NoticeEnvelope:
		c.logger.Warn("relay notice", slog.String("notice", string(*env)))
		c.metrics.IncNotices(c.config.URL)
		c.mu.Lock()
		c.lastError = string(*env)
		c.mu.Unlock()

	case *nostr.ClosedEnvelope:
		c.logger.Warn("relay closed subscription",
			slog.String("subscription", env.SubscriptionID),
			slog.String("reason", env.Reason))
		c.mu.Lock()
		c.lastError = env.Reason
		c.mu.Unlock()

	case nil:
		c.logger.Debug("ignoring unparseable relay message")
	}
}

// Subscribe registers sub and sends its REQ when connected. The REQ is
// replayed after each reconnect until Unsubscribe.
func (c *Client) Subscribe(sub *Subscription) {
	c.mu.Lock()
	c.subs[sub.ID] = sub
	connected := c.conn != nil
	c.mu.Unlock()

	if connected {
		if err := c.send(&nostr.ReqEnvelope{SubscriptionID: sub.ID, Filters: sub.Filters}); err != nil {
			c.logger.Warn("failed to send subscription",
				slog.String("subscription", sub.ID),
				slog.String("error", err.Error()))
		}
	}
}

// Unsubscribe drops a subscription and sends CLOSE when connected.
func (c *Client) Unsubscribe(id string) {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	connected := c.conn != nil
	c.mu.Unlock()

	if ok && connected {
		closeEnv := nostr.CloseEnvelope(id)
		_ = c.send(&closeEnv)
	}
}

func (c *Client) replay(subs []*Subscription) {
	for _, s := range subs {
		if err := c.send(&nostr.ReqEnvelope{SubscriptionID: s.ID, Filters: s.Filters}); err != nil {
			c.logger.Warn("failed to replay subscription",
				slog.String("subscription", s.ID),
				slog.String("error", err.Error()))
			return
		}
	}
}

// Publish sends a signed event and waits for the relay's OK.
func (c *Client) Publish(ctx context.Context, evt *nostr.Event) (err error) {
	ctx, endSpan := tracing.StartRelaySpan(ctx, "publish", c.config.URL,
		attribute.String("nostr.event_id", evt.ID),
		attribute.Int("nostr.kind", evt.Kind),
	)
	defer func() { endSpan(err) }()

	ch := make(chan ackResult, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.acks[evt.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.acks[evt.ID] == ch {
			delete(c.acks, evt.ID)
		}
		c.mu.Unlock()
	}()

	if err := c.send(&nostr.EventEnvelope{Event: *evt}); err != nil {
		c.metrics.IncPublished(c.config.URL, resultError)
		return err
	}

	timer := time.NewTimer(c.config.AckTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		c.metrics.IncPublished(c.config.URL, resultTimeout)
		return ErrAckTimeout
	case res := <-ch:
		if res.err != nil {
			c.metrics.IncPublished(c.config.URL, resultError)
			return res.err
		}
		if !res.ok {
			c.metrics.IncPublished(c.config.URL, resultRejected)
			return fmt.Errorf("%w: %s", ErrRejected, res.reason)
		}
		c.sent.Add(1)
		c.metrics.IncPublished(c.config.URL, resultOK)
		return nil
	}
}

func (c *Client) send(env any) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// close closes the connection, fails pending acks and records status.
func (c *Client) close(status Status, reason string) {
	c.mu.Lock()
	wasConnected := c.conn != nil
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.status = status
	if reason != "" {
		c.lastError = reason
	}
	pending := c.acks
	c.acks = make(map[string]chan ackResult)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- ackResult{err: ErrNotConnected}
	}
	if wasConnected {
		c.metrics.SetConnected(c.config.URL, false)
	}
}

func (c *Client) setStatus(status Status, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	if reason != "" {
		c.lastError = reason
	}
}

// computeBackoff calculates the next reconnection delay with exponential backoff and jitter.
func (c *Client) computeBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Cap the shift at 30 to prevent overflow.
	shift := uint(atomic.LoadInt64(&c.reconnectCount))
	if shift > 30 {
		shift = 30
	}
	backoff := float64(c.config.BaseDelay) * float64(uint64(1)<<shift)

	if backoff > float64(c.config.MaxDelay) {
		backoff = float64(c.config.MaxDelay)
	}

	// delay * (1 - jitter/2 + rand*jitter)
	if c.config.JitterFactor > 0 {
		jitter := (c.rng.Float64() - 0.5) * c.config.JitterFactor
		backoff = backoff * (1 + jitter)
	}

	return time.Duration(backoff)
}

// IsConnected returns whether the client is currently connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Stats returns the relay's status and counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		URL:            c.config.URL,
		Status:         c.status,
		LastError:      c.lastError,
		SentEvents:     c.sent.Load(),
		ReceivedEvents: c.received.Load(),
		ConnectedAt:    c.connectedAt,
	}
}
