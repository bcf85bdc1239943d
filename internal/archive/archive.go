// Package archive persists accepted location events beyond the lifetime of
// the in-memory store.
package archive

import (
	"context"
	"errors"

	"github.com/onnwee/spotstr/internal/location"
)

// ErrNotFound is returned when no row exists for the addressable id.
var ErrNotFound = errors.New("location event not archived")

// DefaultListLimit caps List when Filter.Limit is zero.
const DefaultListLimit = 100

// Filter narrows List. Zero values match everything.
type Filter struct {
	Sender   string
	Receiver string
	// Since keeps events with created_at >= Since.
	Since int64
	// ExcludeExpiredAt drops events whose expiry is set and <= this time.
	ExcludeExpiredAt int64
	Limit            int
}

// Repository stores the latest version of each addressable location event.
//
// Save keeps an existing row when the incoming event is older. At equal
// created_at, an encrypted version never replaces a decrypted one.
type Repository interface {
	Save(ctx context.Context, evt *location.Event) error
	Get(ctx context.Context, id string) (*location.Event, error)
	List(ctx context.Context, f Filter) ([]*location.Event, error)
	DeleteExpired(ctx context.Context, now int64) (int64, error)
}

// supersedes reports whether incoming should replace stored.
func supersedes(stored, incoming *location.Event) bool {
	if incoming.CreatedAt != stored.CreatedAt {
		return incoming.CreatedAt > stored.CreatedAt
	}
	return !incoming.Encrypted() || stored.Encrypted()
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}
