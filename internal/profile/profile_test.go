package profile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nbd-wtf/go-nostr"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/spotstr/internal/relay"
)

type fakeQuerier struct {
	events  []*nostr.Event
	calls   int
	role    relay.Role
	filters nostr.Filters
	timeout time.Duration
}

func (q *fakeQuerier) Fetch(_ context.Context, role relay.Role, filters nostr.Filters, timeout time.Duration) []*nostr.Event {
	q.calls++
	q.role, q.filters, q.timeout = role, filters, timeout
	return q.events
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	c := NewMemoryCache(0, clk)

	if err := c.Set(ctx, &Profile{Pubkey: "a", Name: "alice"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	clk.Add(12 * time.Hour)
	if err := c.Set(ctx, &Profile{Pubkey: "b", Name: "bob"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	p, ok, _ := c.Get(ctx, "a")
	if !ok || p.Name != "alice" {
		t.Fatalf("Get(a) = %v, %v", p, ok)
	}
	if !p.CachedAt.Equal(clk.Now().Add(-12 * time.Hour)) {
		t.Errorf("CachedAt = %v", p.CachedAt)
	}

	clk.Add(13 * time.Hour)
	n, _ := c.ClearExpired(ctx)
	if n != 1 {
		t.Errorf("ClearExpired() = %d, want 1", n)
	}
	if size, _ := c.Size(ctx); size != 1 {
		t.Errorf("Size() = %d, want 1", size)
	}

	clk.Add(12 * time.Hour)
	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Error("Get(b) returned an expired profile")
	}
	if size, _ := c.Size(ctx); size != 0 {
		t.Errorf("Size() after expired Get = %d, want 0", size)
	}
}

func TestMemoryCache_ClearAll(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Hour, clock.NewMock())
	for i := range 3 {
		_ = c.Set(ctx, &Profile{Pubkey: strconv.Itoa(i)})
	}
	if err := c.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if size, _ := c.Size(ctx); size != 0 {
		t.Errorf("Size() = %d, want 0", size)
	}
}

func TestFetcher_PicksNewestAndCaches(t *testing.T) {
	ctx := context.Background()
	q := &fakeQuerier{events: []*nostr.Event{
		{PubKey: "pk", Kind: 0, CreatedAt: 100, Content: `{"name":"old"}`},
		{PubKey: "pk", Kind: 0, CreatedAt: 300, Content: `{"name":"carol","display_name":"Carol","picture":"https://img/c.png","about":"hi"}`},
		{PubKey: "other", Kind: 0, CreatedAt: 900, Content: `{"name":"mallory"}`},
		{PubKey: "pk", Kind: 1, CreatedAt: 999, Content: `not json`},
	}}
	cache := NewMemoryCache(0, clock.NewMock())
	f := NewFetcher(q, cache, 0, newTestLogger())

	p, err := f.Get(ctx, "pk")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.Name != "carol" || p.Label() != "Carol" || p.Picture != "https://img/c.png" || p.About != "hi" {
		t.Errorf("profile = %+v", p)
	}
	if q.role != relay.RoleProfile || q.timeout != DefaultQueryTimeout {
		t.Errorf("query role=%s timeout=%v", q.role, q.timeout)
	}
	if flt := q.filters[0]; flt.Limit != 1 || flt.Authors[0] != "pk" || flt.Kinds[0] != 0 {
		t.Errorf("filter = %+v", flt)
	}

	if _, err := f.Get(ctx, "pk"); err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if q.calls != 1 {
		t.Errorf("relay queries = %d, want 1 (second Get served from cache)", q.calls)
	}
}

func TestFetcher_Errors(t *testing.T) {
	ctx := context.Background()

	f := NewFetcher(&fakeQuerier{}, nil, time.Second, newTestLogger())
	if _, err := f.Get(ctx, "pk"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}

	bad := &fakeQuerier{events: []*nostr.Event{{PubKey: "pk", Kind: 0, Content: "{"}}}
	f = NewFetcher(bad, nil, time.Second, newTestLogger())
	if _, err := f.Get(ctx, "pk"); err == nil {
		t.Error("Get() with malformed content succeeded")
	}
}

func TestRedisCache(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	defer client.Close()

	ctx = context.Background()
	prefix := "spotstr-test:" + strconv.FormatInt(time.Now().UnixNano(), 10) + ":"
	c := NewRedisCache(client, prefix, time.Minute)
	defer c.ClearAll(ctx)

	if _, ok, err := c.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
	if err := c.Set(ctx, &Profile{Pubkey: "pk", Name: "dave"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	p, ok, err := c.Get(ctx, "pk")
	if err != nil || !ok || p.Name != "dave" {
		t.Fatalf("Get(pk) = %+v, %v, %v", p, ok, err)
	}
	if ttl := client.TTL(ctx, prefix+"pk").Val(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v", ttl)
	}
	if size, _ := c.Size(ctx); size != 1 {
		t.Errorf("Size() = %d, want 1", size)
	}
	if err := c.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if size, _ := c.Size(ctx); size != 0 {
		t.Errorf("Size() after ClearAll = %d", size)
	}
}
