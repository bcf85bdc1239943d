// Package profile resolves and caches kind-0 user metadata.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is how long a fetched profile stays valid.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when no relay knows the pubkey.
var ErrNotFound = errors.New("profile not found")

// Profile is the subset of kind-0 metadata displayed next to a location.
type Profile struct {
	Pubkey      string    `json:"pubkey"`
	Name        string    `json:"name,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Picture     string    `json:"picture,omitempty"`
	About       string    `json:"about,omitempty"`
	CachedAt    time.Time `json:"cached_at"`
}

// Label returns the best human name for the profile.
func (p *Profile) Label() string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Name != "":
		return p.Name
	default:
		return ""
	}
}

// Cache stores profiles by pubkey. Get must not return expired entries.
type Cache interface {
	Get(ctx context.Context, pubkey string) (*Profile, bool, error)
	Set(ctx context.Context, p *Profile) error
	ClearExpired(ctx context.Context) (int, error)
	ClearAll(ctx context.Context) error
	Size(ctx context.Context) (int, error)
}

// metadata mirrors the kind-0 content JSON.
type metadata struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Picture     string `json:"picture"`
	About       string `json:"about"`
}

func parseMetadata(pubkey, content string) (*Profile, error) {
	var m metadata
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return nil, fmt.Errorf("parse kind-0 content: %w", err)
	}
	return &Profile{
		Pubkey:      pubkey,
		Name:        m.Name,
		DisplayName: m.DisplayName,
		Picture:     m.Picture,
		About:       m.About,
	}, nil
}
