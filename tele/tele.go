// Package tele delivers meter readings to message bus.
package tele

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/p1relay/helpers"
	"github.com/temoto/p1relay/log2"
	tele_config "github.com/temoto/p1relay/tele/config"
)

// Publisher contract:
// - Dial* connects synchronously or fails, no background reconnect to hide broken bus
// - Publish returns after broker accepted message or with error within network timeout
// - Close is idempotent, IsOpen reports false after Close or detected connection loss
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
	IsOpen() bool
	Close() error
}

type DialFunc func(ctx context.Context, c tele_config.Config, log *log2.Log) (Publisher, error)

var ErrClosed = errors.New("tele: publisher is closed")

var drivers = map[string]DialFunc{
	tele_config.DriverAMQP:  DialAMQP,
	tele_config.DriverMQTT:  DialMQTT,
	tele_config.DriverRedis: DialRedis,
}

// Dial connects to bus selected by c.Driver (amqp if empty),
// retrying up to c.Attempts() with exponential backoff.
func Dial(ctx context.Context, c tele_config.Config, log *log2.Log) (Publisher, error) {
	if c.Driver == "" {
		c.Driver = tele_config.DriverAMQP
	}
	dial, ok := drivers[c.Driver]
	if !ok {
		return nil, errors.NotSupportedf("tele driver=%s", c.Driver)
	}
	return dialRetry(ctx, c, log, dial, &helpers.Backoff{Min: 1 * time.Second, Max: 30 * time.Second, K: 2})
}

func dialRetry(ctx context.Context, c tele_config.Config, log *log2.Log, dial DialFunc, backoff *helpers.Backoff) (Publisher, error) {
	var p Publisher
	attempts := c.Attempts()
	err := backoff.Retry(ctx, attempts, func(attempt int) error {
		var err error
		p, err = dial(ctx, c, log)
		if err != nil {
			log.Errorf("tele dial driver=%s attempt=%d/%d err=%v", c.Driver, attempt, attempts, err)
		}
		return err
	})
	if err != nil {
		return nil, errors.Annotatef(err, "tele dial driver=%s", c.Driver)
	}
	log.Infof("tele connected driver=%s", c.Driver)
	return p, nil
}

// CloseIfOpen is used on fatal paths where the bus may be already broken.
func CloseIfOpen(p Publisher) error {
	if p == nil || !p.IsOpen() {
		return nil
	}
	return p.Close()
}
