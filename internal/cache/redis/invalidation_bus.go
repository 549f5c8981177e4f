package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// InvalidationChannel carries cache invalidations between replicas.
const InvalidationChannel = "ledger:invalidate"

const publishTimeout = 2 * time.Second

type invalidationMessage struct {
	Origin   string   `json:"origin"`
	TenantID string   `json:"tenant_id"`
	Scopes   []string `json:"scopes,omitempty"`
}

// InvalidationBus relays ledger invalidations to other replicas and applies
// the ones it receives to a local invalidator. Messages this process
// published itself are ignored on receipt.
type InvalidationBus struct {
	bus    domain.SignalBus
	local  domain.Invalidator
	origin string
	logger *slog.Logger
}

// NewInvalidationBus creates an InvalidationBus over bus. Received
// invalidations are applied to local.
func NewInvalidationBus(bus domain.SignalBus, local domain.Invalidator, logger *slog.Logger) *InvalidationBus {
	return &InvalidationBus{
		bus:    bus,
		local:  local,
		origin: uuid.NewString(),
		logger: logger.With(slog.String("component", "invalidation_bus")),
	}
}

// Invalidate publishes the invalidation to other replicas. Publish failures
// are logged; the local cache has already been invalidated by then and the
// remote entries still expire by TTL.
func (b *InvalidationBus) Invalidate(tenantID string, scopes ...string) {
	payload, err := json.Marshal(invalidationMessage{Origin: b.origin, TenantID: tenantID, Scopes: scopes})
	if err != nil {
		b.logger.Error("invalidation_bus: marshal", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.bus.Publish(ctx, InvalidationChannel, payload); err != nil {
		b.logger.Warn("invalidation_bus: publish failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
	}
}

// Run subscribes and applies remote invalidations until ctx is cancelled.
func (b *InvalidationBus) Run(ctx context.Context) error {
	msgs, err := b.bus.Subscribe(ctx, InvalidationChannel)
	if err != nil {
		return fmt.Errorf("redis: invalidation subscribe: %w", err)
	}
	b.logger.Info("invalidation_bus: subscribed", slog.String("origin", b.origin))

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			b.apply(payload)
		}
	}
}

func (b *InvalidationBus) apply(payload []byte) {
	var msg invalidationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logger.Warn("invalidation_bus: bad message", slog.String("error", err.Error()))
		return
	}
	if msg.Origin == b.origin || msg.TenantID == "" {
		return
	}
	b.local.Invalidate(msg.TenantID, msg.Scopes...)
}

var _ domain.Invalidator = (*InvalidationBus)(nil)
