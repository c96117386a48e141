package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-status-backend/config"
	"parking-status-backend/internal/logging"
)

func TestRedisSinkAndRelay(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := NewRedisClient(ctx, config.RedisConfig{Address: s.Addr()})
	require.NoError(t, err)
	defer client.Close()

	bus := NewBus()
	var mu sync.Mutex
	var got []Event
	bus.Subscribe(TopicSlotAvailable, func(_ context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	relay := NewRelay(client, "parking:events", bus, logging.Nop())
	require.NoError(t, relay.Start(ctx))

	sink := NewRedisSink(client, "parking:events", logging.Nop())
	sink.Publish(ctx, TopicSlotAvailable, SlotPayload{ID: 9, Name: "I9", Active: true})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(9), got[0].Payload.ID)
	assert.True(t, got[0].Payload.Active)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	addr := s.Addr()
	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = NewRedisClient(ctx, config.RedisConfig{Address: addr})
	assert.Error(t, err)
}
