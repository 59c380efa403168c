// Package redisbus fans room topic traffic out across server instances over
// Redis pub/sub. Each instance publishes what its own connections send and
// relays what other instances publish.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/cwrk-planet/pad/internal/realtime"
)

const channelPrefix = "pad:topic:"

type Kind string

const (
	KindBroadcast Kind = "broadcast"
	KindPresence  Kind = "presence"
)

// Envelope is one message on a room channel. Presence envelopes carry the
// full member list of the publishing instance for that room.
type Envelope struct {
	Instance string                  `json:"instance"`
	Room     string                  `json:"room"`
	Kind     Kind                    `json:"kind"`
	Event    *realtime.Event         `json:"event,omitempty"`
	Members  []realtime.PresenceMeta `json:"members,omitempty"`
}

type Bus struct {
	rdb      *redis.Client
	instance string
	log      *slog.Logger
}

func Channel(room string) string { return channelPrefix + room }

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisbus: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redisbus: ping: %w", err)
	}
	return client, nil
}

func New(rdb *redis.Client, instance string, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{rdb: rdb, instance: instance, log: log.With("component", "redisbus")}
}

func (b *Bus) Instance() string { return b.instance }

func (b *Bus) Publish(ctx context.Context, env Envelope) error {
	if env.Room == "" {
		return errors.New("redisbus: envelope without room")
	}
	env.Instance = b.instance
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redisbus: encode: %w", err)
	}
	return b.rdb.Publish(ctx, Channel(env.Room), raw).Err()
}

// Run delivers envelopes published by other instances until ctx is done.
func (b *Bus) Run(ctx context.Context, handle func(Envelope)) error {
	ps := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer ps.Close()

	// Wait for the subscription to be confirmed so nothing published after
	// Run returns control is missed.
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redisbus: subscribe: %w", err)
	}
	b.log.Info("subscribed", "pattern", channelPrefix+"*", "instance", b.instance)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := decode(msg)
			if err != nil {
				b.log.Debug("skip bad envelope", "channel", msg.Channel, "err", err)
				continue
			}
			if env.Instance == b.instance {
				continue
			}
			handle(env)
		}
	}
}

func decode(msg *redis.Message) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		return Envelope{}, err
	}
	room := strings.TrimPrefix(msg.Channel, channelPrefix)
	if env.Room == "" {
		env.Room = room
	}
	if env.Room != room {
		return Envelope{}, fmt.Errorf("room %q on channel %q", env.Room, msg.Channel)
	}
	return env, nil
}
