// Separate package is workaround to import cycles.
package tele_config

import (
	"time"

	"github.com/temoto/p1relay/helpers"
)

const (
	DriverAMQP  = "amqp"
	DriverMQTT  = "mqtt"
	DriverRedis = "redis"
)

const (
	DefaultNetworkTimeout  = 30 * time.Second
	DefaultConnectAttempts = 5
	DefaultAMQPPort        = 5672
	DefaultAMQPVhost       = "/"
)

type Config struct { //nolint:maligned
	Driver   string
	LogDebug bool

	// amqp
	Host     string
	Port     int
	Username string
	Password string // secret
	Vhost    string
	Exchange string

	MqttBroker string

	RedisAddr     string
	RedisPassword string // secret
	RedisDB       int

	NetworkTimeoutSec int
	ConnectAttempts   int
	ClientName        string
}

func (c *Config) NetworkTimeout() time.Duration {
	return helpers.IntSecondDefault(c.NetworkTimeoutSec, DefaultNetworkTimeout)
}

func (c *Config) Attempts() int {
	if c.ConnectAttempts <= 0 {
		return DefaultConnectAttempts
	}
	return c.ConnectAttempts
}

func KnownDriver(d string) bool {
	switch d {
	case DriverAMQP, DriverMQTT, DriverRedis:
		return true
	}
	return false
}
