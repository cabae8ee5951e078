package tele

import (
	"context"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
	"github.com/temoto/p1relay/log2"
	tele_config "github.com/temoto/p1relay/tele/config"
)

type redisPublisher struct {
	log    *log2.Log
	r      *redis.Client
	closed uint32
}

// DialRedis publishes to pub/sub channel named by routing key.
func DialRedis(ctx context.Context, c tele_config.Config, log *log2.Log) (Publisher, error) {
	if c.RedisAddr == "" {
		return nil, errors.NotValidf("tele redis addr empty")
	}
	timeout := c.NetworkTimeout()
	r := redis.NewClient(&redis.Options{
		Addr:         c.RedisAddr,
		Password:     c.RedisPassword,
		DB:           c.RedisDB,
		ClientName:   c.ClientName,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, errors.Annotatef(err, "redis ping addr=%s", c.RedisAddr)
	}
	return &redisPublisher{log: log, r: r}, nil
}

func (self *redisPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	if atomic.LoadUint32(&self.closed) != 0 {
		return ErrClosed
	}
	n, err := self.r.Publish(ctx, routingKey, body).Result()
	if err != nil {
		return errors.Annotatef(err, "redis publish channel=%s", routingKey)
	}
	self.log.Debugf("tele redis publish channel=%s receivers=%d", routingKey, n)
	return nil
}

func (self *redisPublisher) IsOpen() bool { return atomic.LoadUint32(&self.closed) == 0 }

func (self *redisPublisher) Close() error {
	if !atomic.CompareAndSwapUint32(&self.closed, 0, 1) {
		return nil
	}
	return errors.Annotate(self.r.Close(), "redis close")
}
