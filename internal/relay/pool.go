package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
)

// ErrUnknownRelay is returned for URLs that are not in the pool.
var ErrUnknownRelay = errors.New("relay not in pool")

// Ack is the outcome of publishing one event to one relay.
type Ack struct {
	URL string
	Err error
}

// OK reports whether the relay accepted the event.
func (a Ack) OK() bool { return a.Err == nil }

type member struct {
	client *Client
	roles  map[Role]bool
	cancel context.CancelFunc
	done   chan struct{}
}

// stopLocked detaches the running client and returns a func that cancels
// it and waits for Run to return. Must be called with the pool lock held.
func (m *member) stopLocked() func() {
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	return func() {
		if cancel != nil {
			cancel()
			<-done
		}
	}
}

type poolSub struct {
	sub  *Subscription
	role Role
}

// Pool owns a set of relay clients grouped by role.
type Pool struct {
	template Config
	logger   *slog.Logger
	metrics  *Metrics

	mu      sync.RWMutex
	relays  map[string]*member
	subs    map[string]poolSub
	runCtx  context.Context
	started bool
}

// NewPool creates an empty pool. template supplies timings for every client;
// its URL is ignored.
func NewPool(template Config, logger *slog.Logger, metrics *Metrics) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		template: template,
		logger:   logger,
		metrics:  metrics,
		relays:   make(map[string]*member),
		subs:     make(map[string]poolSub),
	}
}

// Add adds a relay with the given roles, or merges the roles into an
// existing entry. Relays added after Start connect immediately.
func (p *Pool) Add(url string, roles ...Role) error {
	url = NormalizeURL(url)

	p.mu.Lock()
	defer p.mu.Unlock()

	if m, ok := p.relays[url]; ok {
		for _, r := range roles {
			if !m.roles[r] {
				m.roles[r] = true
				p.attachSubsLocked(m, r)
			}
		}
		return nil
	}

	client, err := NewClient(p.template.WithURL(url), p.logger, p.metrics)
	if err != nil {
		return fmt.Errorf("add relay %s: %w", url, err)
	}
	m := &member{client: client, roles: make(map[Role]bool, len(roles))}
	for _, r := range roles {
		m.roles[r] = true
		p.attachSubsLocked(m, r)
	}
	p.relays[url] = m

	if p.started {
		p.runLocked(m)
	}
	p.logger.Info("relay added", slog.String("relay", url))
	return nil
}

// Remove disconnects and forgets a relay. It reports whether the relay
// was present.
func (p *Pool) Remove(url string) bool {
	url = NormalizeURL(url)

	p.mu.Lock()
	m, ok := p.relays[url]
	delete(p.relays, url)
	var stop func()
	if ok {
		stop = m.stopLocked()
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	stop()
	p.metrics.Forget(url)
	p.logger.Info("relay removed", slog.String("relay", url))
	return true
}

// Start connects every relay. Clients run until ctx is cancelled or Close.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.runCtx = ctx
	for _, m := range p.relays {
		p.runLocked(m)
	}
}

func (p *Pool) runLocked(m *member) {
	ctx, cancel := context.WithCancel(p.runCtx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	go func() {
		defer close(done)
		_ = m.client.Run(ctx)
	}()
}

// Close disconnects every relay and waits for the clients to stop.
func (p *Pool) Close() {
	p.mu.Lock()
	stops := make([]func(), 0, len(p.relays))
	for _, m := range p.relays {
		stops = append(stops, m.stopLocked())
	}
	p.started = false
	p.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

// URLs returns the relays with role, sorted.
func (p *Pool) URLs(role Role) []string {
	return p.filter(func(m *member) bool { return m.roles[role] })
}

// ConnectedRelays returns the connected relays with role, sorted.
func (p *Pool) ConnectedRelays(role Role) []string {
	return p.filter(func(m *member) bool { return m.roles[role] && m.client.IsConnected() })
}

func (p *Pool) filter(keep func(*member) bool) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for url, m := range p.relays {
		if keep(m) {
			out = append(out, url)
		}
	}
	sort.Strings(out)
	return out
}

// Stats returns per-relay stats sorted by URL.
func (p *Pool) Stats() []Stats {
	p.mu.RLock()
	out := make([]Stats, 0, len(p.relays))
	for _, m := range p.relays {
		st := m.client.Stats()
		for r := range m.roles {
			st.Roles = append(st.Roles, r)
		}
		slices.Sort(st.Roles)
		out = append(out, st)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Subscribe opens a subscription on every relay with role, including relays
// added later. It returns the subscription id.
func (p *Pool) Subscribe(role Role, filters nostr.Filters, onEvent EventFunc) string {
	return p.subscribe(role, &Subscription{
		ID:      uuid.NewString(),
		Filters: filters,
		OnEvent: onEvent,
	})
}

func (p *Pool) subscribe(role Role, sub *Subscription) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[sub.ID] = poolSub{sub: sub, role: role}
	for _, m := range p.relays {
		if m.roles[role] {
			m.client.Subscribe(sub)
		}
	}
	return sub.ID
}

func (p *Pool) attachSubsLocked(m *member, role Role) {
	for _, ps := range p.subs {
		if ps.role == role {
			m.client.Subscribe(ps.sub)
		}
	}
}

// Unsubscribe closes a subscription on every relay.
func (p *Pool) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, id)
	for _, m := range p.relays {
		m.client.Unsubscribe(id)
	}
}

// Publish sends evt to each url concurrently and collects one Ack per url.
// A slow relay does not delay the others beyond the ack timeout.
func (p *Pool) Publish(ctx context.Context, evt *nostr.Event, urls []string) []Ack {
	acks := make([]Ack, len(urls))
	var wg sync.WaitGroup
	for i, url := range urls {
		url = NormalizeURL(url)
		acks[i].URL = url

		p.mu.RLock()
		m, ok := p.relays[url]
		p.mu.RUnlock()
		if !ok {
			acks[i].Err = ErrUnknownRelay
			continue
		}

		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			acks[i].Err = c.Publish(ctx, evt)
		}(i, m.client)
	}
	wg.Wait()
	return acks
}

// Fetch runs a one-shot query against the relays with role. It returns the
// distinct events received once every connected relay has sent EOSE or
// timeout elapses.
func (p *Pool) Fetch(ctx context.Context, role Role, filters nostr.Filters, timeout time.Duration) []*nostr.Event {
	expected := len(p.ConnectedRelays(role))
	if expected == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		seen   = make(map[string]bool)
		events []*nostr.Event
		eosed  []string
		done   = make(chan struct{})
	)

	sub := &Subscription{
		ID:      uuid.NewString(),
		Filters: filters,
		OnEvent: func(_ string, evt *nostr.Event) {
			mu.Lock()
			defer mu.Unlock()
			if seen[evt.ID] {
				return
			}
			seen[evt.ID] = true
			events = append(events, evt)
		},
		OnEOSE: func(url string) {
			mu.Lock()
			defer mu.Unlock()
			if slices.Contains(eosed, url) {
				return
			}
			eosed = append(eosed, url)
			if len(eosed) == expected {
				close(done)
			}
		},
	}
	p.subscribe(role, sub)
	defer p.Unsubscribe(sub.ID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-done:
	}

	mu.Lock()
	defer mu.Unlock()
	return slices.Clone(events)
}
