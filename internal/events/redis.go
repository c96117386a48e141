package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"parking-status-backend/config"
)

// NewRedisClient builds a client from cfg and checks the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}
	return client, nil
}

// RedisSink publishes events on a Redis channel so every instance's Relay
// can deliver them to its local watchers.
type RedisSink struct {
	client  *redis.Client
	channel string
	log     *zerolog.Logger
}

func NewRedisSink(client *redis.Client, channel string, log *zerolog.Logger) *RedisSink {
	return &RedisSink{client: client, channel: channel, log: log}
}

func (s *RedisSink) Publish(ctx context.Context, topic string, payload SlotPayload) {
	raw, err := json.Marshal(Event{Topic: topic, Payload: payload})
	if err != nil {
		s.log.Error().Err(err).Str("topic", topic).Msg("failed to encode event")
		return
	}
	if err := s.client.Publish(ctx, s.channel, raw).Err(); err != nil {
		s.log.Error().Err(err).Str("topic", topic).Int64("slot_id", payload.ID).Msg("failed to publish event to redis")
	}
}

// Relay forwards events from a Redis channel into a local Bus.
type Relay struct {
	client  *redis.Client
	channel string
	bus     *Bus
	log     *zerolog.Logger
}

func NewRelay(client *redis.Client, channel string, bus *Bus, log *zerolog.Logger) *Relay {
	return &Relay{client: client, channel: channel, bus: bus, log: log}
}

// Start subscribes and forwards in the background until ctx is done. It
// returns once the subscription is confirmed.
func (r *Relay) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.log.Warn().Err(err).Msg("dropping malformed event")
					continue
				}
				r.bus.Publish(ctx, ev.Topic, ev.Payload)
			}
		}
	}()
	return nil
}
