package contacts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/onnwee/spotstr/internal/relay"
	"github.com/onnwee/spotstr/internal/signer"
)

// DefaultFollowTimeout bounds one kind-3 lookup.
const DefaultFollowTimeout = 3 * time.Second

// ErrNoFollowList is returned when no relay has a follow list for the key.
var ErrNoFollowList = errors.New("no follow list found")

// Querier runs one-shot relay queries. *relay.Pool implements it.
type Querier interface {
	Fetch(ctx context.Context, role relay.Role, filters nostr.Filters, timeout time.Duration) []*nostr.Event
}

// FollowImporter reads kind-3 follow lists from the profile relays.
type FollowImporter struct {
	relays  Querier
	timeout time.Duration
	logger  *slog.Logger
}

// NewFollowImporter creates an importer.
func NewFollowImporter(relays Querier, timeout time.Duration, logger *slog.Logger) *FollowImporter {
	if timeout <= 0 {
		timeout = DefaultFollowTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FollowImporter{relays: relays, timeout: timeout, logger: logger}
}

// Follows returns the hex keys followed by pubkey, taken from the newest
// follow list any profile relay returned. Malformed and repeated p tags are
// skipped.
func (f *FollowImporter) Follows(ctx context.Context, pubkey string) ([]string, error) {
	events := f.relays.Fetch(ctx, relay.RoleProfile, nostr.Filters{{
		Kinds:   []int{nostr.KindFollowList},
		Authors: []string{pubkey},
		Limit:   1,
	}}, f.timeout)

	var newest *nostr.Event
	for _, evt := range events {
		if evt.PubKey != pubkey || evt.Kind != nostr.KindFollowList {
			continue
		}
		if newest == nil || evt.CreatedAt > newest.CreatedAt {
			newest = evt
		}
	}
	if newest == nil {
		return nil, ErrNoFollowList
	}

	seen := make(map[string]bool)
	var follows []string
	for _, tag := range newest.Tags {
		if len(tag) < 2 || tag[0] != "p" {
			continue
		}
		pk, err := signer.ParsePublicKey(tag[1])
		if err != nil || pk == pubkey || seen[pk] {
			continue
		}
		seen[pk] = true
		follows = append(follows, pk)
	}
	if len(follows) == 0 {
		return nil, ErrNoFollowList
	}
	f.logger.Debug("follow list fetched",
		slog.String("pubkey", pubkey),
		slog.Int("follows", len(follows)))
	return follows, nil
}

// Import adds every key pubkey follows to r.
func (f *FollowImporter) Import(ctx context.Context, r *Registry, pubkey string) (BulkResult, error) {
	follows, err := f.Follows(ctx, pubkey)
	if err != nil {
		return BulkResult{}, err
	}
	res := r.AddMany(follows)
	f.logger.Info("imported follows",
		slog.String("pubkey", pubkey),
		slog.Int("added", len(res.Added)),
		slog.Int("failed", len(res.Failed)))
	return res, nil
}
