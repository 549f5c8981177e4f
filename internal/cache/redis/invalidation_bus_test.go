package redis

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// memBus is an in-process domain.SignalBus.
type memBus struct {
	mu   sync.Mutex
	subs []chan []byte
}

func (m *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		ch <- payload
	}
	return nil
}

func (m *memBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan []byte, 16)
	m.subs = append(m.subs, ch)
	return ch, nil
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingInvalidator) Invalidate(tenantID string, scopes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range scopes {
		r.calls = append(r.calls, tenantID+":"+s)
	}
}

func (r *recordingInvalidator) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInvalidationBus_RelaysToOtherReplicas(t *testing.T) {
	bus := &memBus{}
	localA := &recordingInvalidator{}
	localB := &recordingInvalidator{}
	a := NewInvalidationBus(bus, localA, discardLogger())
	b := NewInvalidationBus(bus, localB, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{}, 2)
	for _, ib := range []*InvalidationBus{a, b} {
		go func() {
			_ = ib.Run(ctx)
			done <- struct{}{}
		}()
	}
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs) == 2
	}, time.Second, 5*time.Millisecond)

	a.Invalidate("t1", domain.ScopeTrades, domain.ScopePnL)

	require.Eventually(t, func() bool { return len(localB.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"t1:trades", "t1:pnl"}, localB.snapshot())
	// Own messages are ignored.
	assert.Empty(t, localA.snapshot())

	cancel()
	<-done
	<-done
}

func TestInvalidationBus_IgnoresMalformed(t *testing.T) {
	local := &recordingInvalidator{}
	b := NewInvalidationBus(&memBus{}, local, discardLogger())

	b.apply([]byte("not json"))
	b.apply([]byte(`{"origin":"other","tenant_id":""}`))
	assert.Empty(t, local.snapshot())

	b.apply([]byte(`{"origin":"other","tenant_id":"t2","scopes":["stats"]}`))
	assert.Equal(t, []string{"t2:stats"}, local.snapshot())
}

func TestClient_Key(t *testing.T) {
	c := &Client{prefix: "tradeledger:"}
	assert.Equal(t, "tradeledger:lock:reconcile:acme", c.Key("lock", "reconcile:acme"))
	assert.Equal(t, "tradeledger:pubsub:"+InvalidationChannel, NewSignalBus(c).channel(InvalidationChannel))
}
