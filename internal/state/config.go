// Package state holds process configuration.
package state

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/p1relay/hardware/serial"
	"github.com/temoto/p1relay/helpers"
	"github.com/temoto/p1relay/internal/report"
	"github.com/temoto/p1relay/log2"
	tele_config "github.com/temoto/p1relay/tele/config"
	"gopkg.in/yaml.v3"
)

const (
	FormatHCL  = "hcl" // also JSON
	FormatYAML = "yaml"
)

const (
	EnvAPIToken    = "P1RELAY_API_TOKEN"
	EnvBusPassword = "P1RELAY_BUS_PASSWORD"
)

const (
	DefaultPort           = "/dev/ttyUSB0"
	DefaultSerialTimeout  = 5 * time.Second
	DefaultAPIIntervalSec = 300
	DefaultAPITimeoutSec  = 30
	DefaultTimezone       = "Europe/Amsterdam"
)

// Config keys are flat, compatible with plain config.json
// {"port": "/dev/ttyUSB0", "rabbitmq_host": "...", "location_id": "..."}
type Config struct { //nolint:maligned
	// includeSeen contains normalized paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include" yaml:"include"`

	Port     string  `hcl:"port" yaml:"port"`
	BaudRate int     `hcl:"baudrate" yaml:"baudrate"`
	Parity   string  `hcl:"parity" yaml:"parity"`
	StopBits int     `hcl:"stopbits" yaml:"stopbits"`
	ByteSize int     `hcl:"bytesize" yaml:"bytesize"`
	Timeout  float64 `hcl:"timeout" yaml:"timeout"` // seconds

	BusDriver        string `hcl:"bus_driver" yaml:"bus_driver"`
	RabbitmqHost     string `hcl:"rabbitmq_host" yaml:"rabbitmq_host"`
	RabbitmqPort     int    `hcl:"rabbitmq_port" yaml:"rabbitmq_port"`
	RabbitmqUsername string `hcl:"rabbitmq_username" yaml:"rabbitmq_username"`
	RabbitmqPassword string `hcl:"rabbitmq_password" yaml:"rabbitmq_password"` // secret
	RabbitmqVhost    string `hcl:"rabbitmq_vhost" yaml:"rabbitmq_vhost"`
	RabbitmqExchange string `hcl:"rabbitmq_exchange" yaml:"rabbitmq_exchange"`
	MqttBroker       string `hcl:"mqtt_broker" yaml:"mqtt_broker"`
	MqttUsername     string `hcl:"mqtt_username" yaml:"mqtt_username"`
	MqttPassword     string `hcl:"mqtt_password" yaml:"mqtt_password"` // secret
	RedisAddr        string `hcl:"redis_addr" yaml:"redis_addr"`
	RedisPassword    string `hcl:"redis_password" yaml:"redis_password"` // secret
	BusTimeoutSec    int    `hcl:"bus_timeout_sec" yaml:"bus_timeout_sec"`
	BusLogDebug      bool   `hcl:"bus_log_debug" yaml:"bus_log_debug"`

	LocationID string `hcl:"location_id" yaml:"location_id"`

	ApiURL         string `hcl:"api_url" yaml:"api_url"`
	ApiToken       string `hcl:"api_token" yaml:"api_token"` // secret
	ApiIntervalSec int    `hcl:"api_interval_sec" yaml:"api_interval_sec"`
	ApiTimeoutSec  int    `hcl:"api_timeout_sec" yaml:"api_timeout_sec"`

	Timezone      string `hcl:"timezone" yaml:"timezone"`
	LogDebug      bool   `hcl:"log_debug" yaml:"log_debug"`
	MetricsListen string `hcl:"metrics_listen" yaml:"metrics_listen"`

	loc *time.Location
}

type ConfigSource struct {
	Name     string `hcl:"name,key" yaml:"name"`
	Optional bool   `hcl:"optional" yaml:"optional"`
}

// FormatByName chooses yaml for .yaml/.yml, hcl otherwise (hcl parser reads JSON too).
func FormatByName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatHCL
}

func unmarshal(b []byte, format string, c *Config) error {
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && err != io.EOF {
			return err
		}
		return nil
	case FormatHCL, "json", "":
		return hcl.Unmarshal(b, c)
	}
	return errors.NotSupportedf("config format=%s", format)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	// content is not logged, it contains secrets
	if err = unmarshal(bs, FormatByName(source.Name), c); err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfigFS reads name and its includes, fills defaults,
// applies environment overrides and validates.
func ReadConfigFS(log *log2.Log, fs FullReader, name string) (*Config, error) {
	c := &Config{includeSeen: make(map[string]struct{})}
	errs := make([]error, 0, 8)
	c.read(log, fs, ConfigSource{Name: name}, &errs)
	if err := helpers.FoldErrors(errs); err != nil {
		return nil, err
	}
	if err := c.finish(log, os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

// ReadConfig parses single source without includes.
func ReadConfig(r io.Reader, format string, log *log2.Log) (*Config, error) {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Annotate(err, "config read")
	}
	c := &Config{}
	if err = unmarshal(b, format, c); err != nil {
		return nil, errors.Annotate(err, "config unmarshal")
	}
	c.XXX_Include = nil
	if err = c.finish(log, os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

func ReadConfigFile(path string, log *log2.Log) (*Config, error) {
	dir, name := filepath.Split(path)
	fs, err := NewOsFullReader(dir)
	if err != nil {
		return nil, err
	}
	return ReadConfigFS(log, fs, name)
}

func MustReadConfigFile(path string, log *log2.Log) *Config {
	c, err := ReadConfigFile(path, log)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

type lookupEnvFunc func(key string) (string, bool)

func (c *Config) finish(log *log2.Log, lookupEnv lookupEnvFunc) error {
	c.includeSeen = nil
	c.fillDefaults()
	c.applyEnv(lookupEnv)
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ApiURL == "" {
		log.Infof("config api_url empty, API relay disabled")
	}
	return nil
}

func (c *Config) fillDefaults() {
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.BaudRate == 0 {
		c.BaudRate = serial.DefaultBaudRate
	}
	if c.Parity == "" {
		c.Parity = serial.DefaultParity
	}
	if c.StopBits == 0 {
		c.StopBits = serial.DefaultStopBits
	}
	if c.ByteSize == 0 {
		c.ByteSize = serial.DefaultDataBits
	}
	if c.BusDriver == "" {
		c.BusDriver = tele_config.DriverAMQP
	}
	if c.RabbitmqPort == 0 {
		c.RabbitmqPort = tele_config.DefaultAMQPPort
	}
	if c.RabbitmqVhost == "" {
		c.RabbitmqVhost = tele_config.DefaultAMQPVhost
	}
	if c.ApiIntervalSec == 0 {
		c.ApiIntervalSec = DefaultAPIIntervalSec
	}
	if c.ApiTimeoutSec == 0 {
		c.ApiTimeoutSec = DefaultAPITimeoutSec
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
}

// applyEnv overrides secrets so they can stay out of config file.
func (c *Config) applyEnv(lookupEnv lookupEnvFunc) {
	if s, ok := lookupEnv(EnvAPIToken); ok {
		c.ApiToken = s
	}
	if s, ok := lookupEnv(EnvBusPassword); ok {
		switch c.BusDriver {
		case tele_config.DriverAMQP:
			c.RabbitmqPassword = s
		case tele_config.DriverMQTT:
			c.MqttPassword = s
		case tele_config.DriverRedis:
			c.RedisPassword = s
		}
	}
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	if c.LocationID == "" {
		errs = append(errs, errors.NotValidf("config location_id empty"))
	}
	if loc, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, errors.Annotatef(err, "config timezone=%s", c.Timezone))
	} else {
		c.loc = loc
	}
	switch strings.ToUpper(c.Parity) {
	case "N", "E", "O":
		c.Parity = strings.ToUpper(c.Parity)
	default:
		errs = append(errs, errors.NotValidf("config parity=%s (expected N|E|O)", c.Parity))
	}
	switch c.BusDriver {
	case tele_config.DriverAMQP:
		if c.RabbitmqHost == "" || c.RabbitmqExchange == "" {
			errs = append(errs, errors.NotValidf("config bus_driver=amqp requires rabbitmq_host and rabbitmq_exchange"))
		}
	case tele_config.DriverMQTT:
		if c.MqttBroker == "" {
			errs = append(errs, errors.NotValidf("config bus_driver=mqtt requires mqtt_broker"))
		}
	case tele_config.DriverRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.NotValidf("config bus_driver=redis requires redis_addr"))
		}
	default:
		errs = append(errs, errors.NotSupportedf("config bus_driver=%s", c.BusDriver))
	}
	if c.ApiIntervalSec < 0 || c.ApiTimeoutSec < 0 {
		errs = append(errs, errors.NotValidf("config api_interval_sec and api_timeout_sec must be positive"))
	}
	return helpers.FoldErrors(errs)
}

// Location is meter clock zone, valid after successful Validate.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

func (c *Config) APIInterval() time.Duration {
	return helpers.IntSecondDefault(c.ApiIntervalSec, DefaultAPIIntervalSec*time.Second)
}

func (c *Config) Serial() *serial.Config {
	return &serial.Config{
		Path:     c.Port,
		BaudRate: c.BaudRate,
		DataBits: c.ByteSize,
		StopBits: c.StopBits,
		Parity:   c.Parity,
		Timeout:  helpers.FloatSecondDefault(c.Timeout, DefaultSerialTimeout),
	}
}

func (c *Config) Tele() tele_config.Config {
	tc := tele_config.Config{
		Driver:            c.BusDriver,
		LogDebug:          c.BusLogDebug,
		Host:              c.RabbitmqHost,
		Port:              c.RabbitmqPort,
		Username:          c.RabbitmqUsername,
		Password:          c.RabbitmqPassword,
		Vhost:             c.RabbitmqVhost,
		Exchange:          c.RabbitmqExchange,
		MqttBroker:        c.MqttBroker,
		RedisAddr:         c.RedisAddr,
		RedisPassword:     c.RedisPassword,
		NetworkTimeoutSec: c.BusTimeoutSec,
		ClientName:        "p1relay-" + c.LocationID,
	}
	if c.BusDriver == tele_config.DriverMQTT {
		tc.Username = c.MqttUsername
		tc.Password = c.MqttPassword
	}
	return tc
}

// Report returns API client config, ok=false when API relay is disabled.
func (c *Config) Report() (report.Config, bool) {
	if c.ApiURL == "" {
		return report.Config{}, false
	}
	return report.Config{
		URL:     c.ApiURL,
		Token:   c.ApiToken,
		Timeout: helpers.IntSecondDefault(c.ApiTimeoutSec, report.DefaultTimeout),
	}, true
}
