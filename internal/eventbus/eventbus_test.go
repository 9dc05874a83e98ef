package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type diedPayload struct {
	ID       string `json:"id"`
	KillerID string `json:"killerId"`
}

func TestMemoryBusDeliversByFilter(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{}, 4)
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{TypePlayerDied}}, func(ctx context.Context, ev *Envelope) {
		var p diedPayload
		require.NoError(t, ev.Decode(&p))
		mu.Lock()
		got = append(got, p.ID+"<-"+p.KillerID)
		mu.Unlock()
		done <- struct{}{}
	})
	require.NoError(t, err)

	ev, err := NewEnvelope("world", TypeTreeCut, PriorityNormal, map[string]string{"key": "1_2"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))

	ev, err = NewEnvelope("world", TypePlayerDied, PriorityHigh, diedPayload{ID: "a", KillerID: "b"})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, 1, ev.Version)
	require.NoError(t, bus.Publish(context.Background(), ev))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("событие не доставлено")
	}
	mu.Lock()
	assert.Equal(t, []string{"a<-b"}, got)
	mu.Unlock()
}

func TestMemoryBusDropsLowPriorityWhenFull(t *testing.T) {
	mb := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, 1),
		closed:      make(chan struct{}),
	}
	// без dispatchLoop буфер не разгружается
	ev, err := NewEnvelope("world", TypeItemPickedUp, PriorityLow, nil)
	require.NoError(t, err)
	require.NoError(t, mb.Publish(context.Background(), ev))
	require.NoError(t, mb.Publish(context.Background(), ev))

	stats := mb.Metrics()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 1, stats.InFlight)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	high, err := NewEnvelope("world", TypePlayerDied, PriorityHigh, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, mb.Publish(ctx, high), context.DeadlineExceeded)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemoryBus(4)
	calls := 0
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) { calls++ })
	require.NoError(t, err)
	sub.Unsubscribe()

	ev, err := NewEnvelope("world", TypeBlockPlaced, PriorityNormal, nil)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Close())
	assert.Zero(t, calls)
	assert.Error(t, bus.Publish(context.Background(), ev), "закрытая шина")
}

func TestMetricsExporterSync(t *testing.T) {
	bus := NewMemoryBus(4)
	defer bus.Close()
	reg := prometheus.NewRegistry()
	me, err := NewMetricsExporter(bus, reg)
	require.NoError(t, err)

	ev, err := NewEnvelope("world", TypeBlockBroken, PriorityNormal, nil)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Publish(context.Background(), ev))

	prev := me.sync(Stats{})
	assert.Equal(t, float64(2), gathered(t, reg, "eventbus_messages_published_total"))
	me.sync(prev)
	assert.Equal(t, float64(2), gathered(t, reg, "eventbus_messages_published_total"), "повторный опрос не удваивает")

	_, err = NewMetricsExporter(bus, reg)
	assert.Error(t, err, "повторная регистрация")
	me.Stop()
}

func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("метрика %s не найдена", name)
	return 0
}
