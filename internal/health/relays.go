package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/onnwee/spotstr/internal/relay"
)

// ErrNoConnectedRelays is returned when no relay with the checked role is connected.
var ErrNoConnectedRelays = errors.New("no connected relays")

// ConnectedLister reports connected relays per role. *relay.Pool satisfies it.
type ConnectedLister interface {
	ConnectedRelays(role relay.Role) []string
}

// RelayChecker is healthy while at least one relay with role is connected.
type RelayChecker struct {
	pool ConnectedLister
	role relay.Role
}

// NewRelayChecker creates a relay pool checker for role.
func NewRelayChecker(pool ConnectedLister, role relay.Role) *RelayChecker {
	return &RelayChecker{pool: pool, role: role}
}

// HealthCheck returns ErrNoConnectedRelays when every relay with the role is down.
func (c *RelayChecker) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(c.pool.ConnectedRelays(c.role)) == 0 {
		return fmt.Errorf("%s: %w", c.role, ErrNoConnectedRelays)
	}
	return nil
}
