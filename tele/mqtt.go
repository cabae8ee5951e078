package tele

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/p1relay/log2"
	tele_config "github.com/temoto/p1relay/tele/config"
)

const mqttQos = 1

type mqttPublisher struct {
	log     *log2.Log
	m       mqtt.Client
	timeout time.Duration
	closed  uint32
}

// MqttTopic maps routing key "a.b" to topic "a/b".
func MqttTopic(routingKey string) string { return strings.Replace(routingKey, ".", "/", -1) }

func DialMQTT(ctx context.Context, c tele_config.Config, log *log2.Log) (Publisher, error) {
	if c.MqttBroker == "" {
		return nil, errors.NotValidf("tele mqtt broker empty")
	}
	mqttLog := log.Clone(log2.LDebug)
	mqttLog.SetPrefix("mqtt: ")
	mqtt.CRITICAL = mqttLog
	mqtt.ERROR = mqttLog
	mqtt.WARN = mqttLog
	if c.LogDebug {
		mqtt.DEBUG = mqttLog
	}

	timeout := c.NetworkTimeout()
	if timeout < 1*time.Second {
		timeout = 1 * time.Second
	}
	clientId := c.ClientName
	if clientId == "" {
		clientId = fmt.Sprintf("p1relay-%d", time.Now().UnixNano())
	}
	self := &mqttPublisher{log: log, timeout: timeout}
	opt := mqtt.NewClientOptions().
		AddBroker(c.MqttBroker).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetClientID(clientId).
		SetConnectTimeout(timeout).
		SetConnectionLostHandler(self.connectLostHandler).
		SetKeepAlive(timeout / 2).
		SetPingTimeout(timeout).
		SetWriteTimeout(timeout)
	if c.Username != "" {
		opt.SetUsername(c.Username)
		opt.SetPassword(c.Password)
	}
	self.m = mqtt.NewClient(opt)
	if err := self.tokenWait(ctx, self.m.Connect(), "connect "+c.MqttBroker); err != nil {
		return nil, err
	}
	return self, nil
}

func (self *mqttPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	if atomic.LoadUint32(&self.closed) != 0 {
		return ErrClosed
	}
	topic := MqttTopic(routingKey)
	return self.tokenWait(ctx, self.m.Publish(topic, mqttQos, false, body), "publish topic="+topic)
}

func (self *mqttPublisher) IsOpen() bool {
	return atomic.LoadUint32(&self.closed) == 0 && self.m.IsConnectionOpen()
}

func (self *mqttPublisher) Close() error {
	if !atomic.CompareAndSwapUint32(&self.closed, 0, 1) {
		return nil
	}
	self.m.Disconnect(uint(self.timeout / time.Millisecond))
	return nil
}

func (self *mqttPublisher) connectLostHandler(_ mqtt.Client, err error) {
	self.log.Errorf("tele mqtt connection lost err=%v", err)
}

func (self *mqttPublisher) tokenWait(ctx context.Context, t mqtt.Token, tag string) error {
	select {
	case <-t.Done():
	case <-time.After(self.timeout):
		return errors.Timeoutf("mqtt %s", tag)
	case <-ctx.Done():
		return errors.Annotatef(ctx.Err(), "mqtt %s", tag)
	}
	return errors.Annotatef(t.Error(), "mqtt %s", tag)
}
