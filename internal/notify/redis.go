package notify

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hangwatch/backend/internal/config"
	"github.com/hangwatch/backend/internal/session"
)

const dialTimeout = 5 * time.Second

// Publisher is the subset of *redis.Client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Payload is the msgpack body published for every signal.
type Payload struct {
	Count         int       `msgpack:"count"`
	IsNewActivity bool      `msgpack:"new"`
	At            time.Time `msgpack:"at"`
}

// Redis publishes badge signals on a pub/sub channel so other processes
// (desktop badges, bots) can react without polling the HTTP API.
type Redis struct {
	client  Publisher
	channel string
}

// NewRedis returns a notifier publishing on channel. The caller owns the
// client lifecycle.
func NewRedis(client Publisher, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Notify(ctx context.Context, sig session.Signal) error {
	data, err := msgpack.Marshal(Payload{
		Count:         sig.Count,
		IsNewActivity: sig.IsNewActivity,
		At:            sig.At,
	})
	if err != nil {
		return errors.Wrap(err, "encoding signal")
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return errors.Wrapf(err, "publishing signal on %s", r.channel)
	}
	return nil
}

// Decode parses a published payload.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return Payload{}, errors.Wrap(err, "decoding signal")
	}
	return p, nil
}

// Dial connects to the Redis server in cfg and checks it answers.
func Dial(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", cfg.Addr)
	}
	return client, nil
}
