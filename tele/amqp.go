package tele

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/temoto/p1relay/log2"
	tele_config "github.com/temoto/p1relay/tele/config"
)

const amqpExchangeKind = "direct"

type amqpPublisher struct {
	log      *log2.Log
	exchange string
	timeout  time.Duration

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

func amqpURI(c tele_config.Config) amqp.URI {
	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		Vhost:    c.Vhost,
	}
	if uri.Port == 0 {
		uri.Port = tele_config.DefaultAMQPPort
	}
	if uri.Vhost == "" {
		uri.Vhost = tele_config.DefaultAMQPVhost
	}
	return uri
}

// DialAMQP connects to RabbitMQ and declares direct non-durable exchange c.Exchange.
func DialAMQP(ctx context.Context, c tele_config.Config, log *log2.Log) (Publisher, error) {
	if c.Exchange == "" {
		return nil, errors.NotValidf("tele amqp exchange empty")
	}
	uri := amqpURI(c)
	safeURI := uri
	safeURI.Password = ""
	timeout := c.NetworkTimeout()

	props := amqp.NewConnectionProperties()
	if c.ClientName != "" {
		props.SetClientConnectionName(c.ClientName)
	}
	log.Debugf("tele amqp dial %s", safeURI.String())
	conn, err := amqp.DialConfig(uri.String(), amqp.Config{
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
		Properties: props,
		Dial:       amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, errors.Annotatef(err, "amqp dial %s", safeURI.String())
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Annotate(err, "amqp channel")
	}
	if err = ch.ExchangeDeclare(c.Exchange, amqpExchangeKind, false, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Annotatef(err, "amqp exchange declare name=%s", c.Exchange)
	}
	return &amqpPublisher{
		log:      log,
		exchange: c.Exchange,
		timeout:  timeout,
		conn:     conn,
		ch:       ch,
	}, nil
}

func (self *amqpPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, self.timeout)
	defer cancel()
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    uuid.New().String(),
		Timestamp:    time.Now(),
		Body:         body,
	}
	err := self.ch.PublishWithContext(ctx, self.exchange, routingKey, false, false, msg)
	return errors.Annotatef(err, "amqp publish exchange=%s key=%s", self.exchange, routingKey)
}

func (self *amqpPublisher) IsOpen() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return !self.closed && !self.conn.IsClosed()
}

func (self *amqpPublisher) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return nil
	}
	self.closed = true
	if self.conn.IsClosed() {
		return nil
	}
	return errors.Annotate(self.conn.Close(), "amqp close")
}
