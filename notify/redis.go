package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/rustyeddy/cfdledger/engine"
)

// DefaultChannel is the pub/sub channel alerts go to when none is set.
const DefaultChannel = "cfdledger:alerts"

// Publisher is the part of the go-redis client Redis needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Channel  string `yaml:"channel" json:"channel"`
}

// Redis publishes alerts as JSON on a pub/sub channel. Alerts for one
// account also go to "<channel>:<account>" so a consumer can follow a single
// account.
type Redis struct {
	pub     Publisher
	channel string
	client  *goredis.Client
}

// NewRedis connects to the server and pings it.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	r := NewRedisPublisher(client, cfg.Channel)
	r.client = client
	return r, nil
}

// NewRedisPublisher wraps an existing publisher.
func NewRedisPublisher(pub Publisher, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{pub: pub, channel: channel}
}

func (r *Redis) Channel() string { return r.channel }

func (r *Redis) Notify(ctx context.Context, a engine.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if err := r.pub.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.channel, err)
	}
	if err := r.pub.Publish(ctx, r.channel+":"+a.AccountID, payload).Err(); err != nil {
		return fmt.Errorf("publish %s:%s: %w", r.channel, a.AccountID, err)
	}
	return nil
}

// Close releases the client when Redis owns one.
func (r *Redis) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
