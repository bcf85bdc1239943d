package signer

import (
	"sync"
)

// Keyring holds the owned account identities by hex public key.
type Keyring struct {
	mu    sync.RWMutex
	ids   map[string]Identity
	order []string
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{ids: make(map[string]Identity)}
}

// Add stores id and reports whether it was new.
func (k *Keyring) Add(id Identity) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	pk := id.PublicKey()
	if _, ok := k.ids[pk]; ok {
		return false
	}
	k.ids[pk] = id
	k.order = append(k.order, pk)
	return true
}

// Resolve returns the identity for an npub or hex public key.
func (k *Keyring) Resolve(key string) (Identity, bool) {
	pk, err := ParsePublicKey(key)
	if err != nil {
		return nil, false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	id, ok := k.ids[pk]
	return id, ok
}

// List returns the identities in insertion order.
func (k *Keyring) List() []Identity {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]Identity, len(k.order))
	for i, pk := range k.order {
		out[i] = k.ids[pk]
	}
	return out
}
