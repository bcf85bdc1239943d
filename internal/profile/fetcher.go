package profile

import (
	"context"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/onnwee/spotstr/internal/relay"
)

// DefaultQueryTimeout bounds one kind-0 lookup.
const DefaultQueryTimeout = 3 * time.Second

// Querier runs one-shot relay queries. *relay.Pool implements it.
type Querier interface {
	Fetch(ctx context.Context, role relay.Role, filters nostr.Filters, timeout time.Duration) []*nostr.Event
}

// Fetcher resolves profiles through the cache, falling back to the profile relays.
type Fetcher struct {
	relays  Querier
	cache   Cache
	timeout time.Duration
	logger  *slog.Logger
}

// NewFetcher creates a fetcher. A nil cache disables caching.
func NewFetcher(relays Querier, cache Cache, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{relays: relays, cache: cache, timeout: timeout, logger: logger}
}

// Get returns the cached profile or fetches it. Cache failures are logged
// and the relays are queried as if the entry were missing.
func (f *Fetcher) Get(ctx context.Context, pubkey string) (*Profile, error) {
	if f.cache != nil {
		p, ok, err := f.cache.Get(ctx, pubkey)
		if err != nil {
			f.logger.Warn("profile cache read failed", slog.String("pubkey", pubkey), slog.String("error", err.Error()))
		}
		if ok {
			return p, nil
		}
	}
	return f.Refresh(ctx, pubkey)
}

// Refresh queries the relays for the newest kind-0 event by pubkey.
func (f *Fetcher) Refresh(ctx context.Context, pubkey string) (*Profile, error) {
	events := f.relays.Fetch(ctx, relay.RoleProfile, nostr.Filters{{
		Kinds:   []int{nostr.KindProfileMetadata},
		Authors: []string{pubkey},
		Limit:   1,
	}}, f.timeout)

	var newest *nostr.Event
	for _, evt := range events {
		if evt.PubKey != pubkey || evt.Kind != nostr.KindProfileMetadata {
			continue
		}
		if newest == nil || evt.CreatedAt > newest.CreatedAt {
			newest = evt
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}

	p, err := parseMetadata(pubkey, newest.Content)
	if err != nil {
		return nil, err
	}
	if f.cache != nil {
		if err := f.cache.Set(ctx, p); err != nil {
			f.logger.Warn("profile cache write failed", slog.String("pubkey", pubkey), slog.String("error", err.Error()))
		}
	}
	return p, nil
}
