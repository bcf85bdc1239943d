// Package groups manages shared group identities. A group is a key pair
// whose secret is distributed to every member, so anything encrypted to
// the group public key can be read by all of them.
package groups

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/onnwee/spotstr/internal/signer"
	"github.com/onnwee/spotstr/internal/validate"
)

// DefaultImportedName is used when a share URL carries no name.
const DefaultImportedName = "Imported Group"

// Share URL query parameters.
const (
	ParamSecret = "g"
	ParamName   = "n"
)

var (
	ErrDuplicate    = errors.New("group already exists")
	ErrNotFound     = errors.New("group not found")
	ErrInvalidShare = errors.New("invalid group share URL")
	ErrNameRequired = errors.New("group name is required")
)

// Group is a shared identity.
type Group struct {
	// ID is the group npub.
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Pubkey    string            `json:"pubkey"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	key *signer.LocalKey
}

// Identity returns the signing identity for the group key.
func (g *Group) Identity() signer.Identity { return g.key }

// Nsec returns the bech32 secret.
func (g *Group) Nsec() (string, error) { return g.key.Nsec() }

// Registry holds the known groups in creation order.
type Registry struct {
	clock clock.Clock

	mu        sync.RWMutex
	groups    []*Group
	onAdded   []func(*Group)
	onRemoved []func(*Group)
}

// NewRegistry creates an empty registry. A nil clock uses the wall clock.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{clock: clk}
}

// OnAdded registers fn to be called for every group added afterwards.
func (r *Registry) OnAdded(fn func(*Group)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAdded = append(r.onAdded, fn)
}

// OnRemoved registers fn to be called for every group deleted afterwards.
func (r *Registry) OnRemoved(fn func(*Group)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemoved = append(r.onRemoved, fn)
}

// Generate creates a group with a fresh key.
func (r *Registry) Generate(name string) (*Group, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	key, err := signer.GenerateLocalKey()
	if err != nil {
		return nil, err
	}
	return r.add(name, key)
}

// ImportNsec adds a group from an nsec or hex secret. Importing a key that
// is already registered fails with ErrDuplicate.
func (r *Registry) ImportNsec(name, secret string) (*Group, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	sk, err := signer.ParseSecretKey(secret)
	if err != nil {
		return nil, err
	}
	key, err := signer.NewLocalKey(sk)
	if err != nil {
		return nil, err
	}
	return r.add(name, key)
}

// ImportURL adds a group from a share URL or bare query string of the form
// g=<hex secret>&n=<name>.
func (r *Registry) ImportURL(raw string) (*Group, error) {
	query := raw
	if u, err := url.Parse(raw); err == nil && (u.Scheme != "" || u.RawQuery != "") {
		query = u.RawQuery
	}
	values, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}
	secret := values.Get(ParamSecret)
	if len(secret) != 64 {
		return nil, fmt.Errorf("%w: missing or malformed %q parameter", ErrInvalidShare, ParamSecret)
	}
	if _, err := hex.DecodeString(secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}
	name := values.Get(ParamName)
	if name == "" {
		name = DefaultImportedName
	}
	return r.ImportNsec(name, secret)
}

func validName(name string) (string, error) {
	name, err := validate.Name(name)
	if errors.Is(err, validate.ErrEmpty) {
		return "", ErrNameRequired
	}
	return name, err
}

// ShareURL returns base with the group secret and name as query parameters.
func (r *Registry) ShareURL(id, base string) (string, error) {
	g, ok := r.Get(id)
	if !ok {
		return "", ErrNotFound
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(ParamSecret, g.key.SecretHex())
	q.Set(ParamName, g.Name)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *Registry) add(name string, key *signer.LocalKey) (*Group, error) {
	npub, err := key.Npub()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	for _, g := range r.groups {
		if g.ID == npub {
			r.mu.Unlock()
			return nil, ErrDuplicate
		}
	}
	g := &Group{
		ID:        npub,
		Name:      name,
		Pubkey:    key.PublicKey(),
		CreatedAt: r.clock.Now(),
		key:       key,
	}
	r.groups = append(r.groups, g)
	hooks := slices.Clone(r.onAdded)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(g)
	}
	return g, nil
}

// Get returns the group with id (npub) or hex public key.
func (r *Registry) Get(id string) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.groups {
		if g.ID == id || g.Pubkey == id {
			return g, true
		}
	}
	return nil, false
}

// Rename changes a group's display name.
func (r *Registry) Rename(id, name string) error {
	name, err := validName(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.ID == id {
			g.Name = name
			return nil
		}
	}
	return ErrNotFound
}

// Delete removes a group and reports whether it existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	var removed *Group
	for i, g := range r.groups {
		if g.ID == id {
			removed = g
			r.groups = append(r.groups[:i], r.groups[i+1:]...)
			break
		}
	}
	hooks := slices.Clone(r.onRemoved)
	r.mu.Unlock()

	if removed == nil {
		return false
	}
	for _, fn := range hooks {
		fn(removed)
	}
	return true
}

// PublicKey returns the hex public key of the group with id (npub) or hex key.
func (r *Registry) PublicKey(id string) (string, bool) {
	g, ok := r.Get(id)
	if !ok {
		return "", false
	}
	return g.Pubkey, true
}

// Resolve returns the group identity for an npub or hex public key.
func (r *Registry) Resolve(key string) (signer.Identity, bool) {
	pk, err := signer.ParsePublicKey(key)
	if err != nil {
		return nil, false
	}
	g, ok := r.Get(pk)
	if !ok {
		return nil, false
	}
	return g.Identity(), true
}

// List returns the groups sorted by creation time.
func (r *Registry) List() []*Group {
	r.mu.RLock()
	out := append([]*Group(nil), r.groups...)
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
