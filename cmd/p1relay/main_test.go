package main

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/alive/v2"
	"github.com/temoto/p1relay/hardware/serial"
	"github.com/temoto/p1relay/internal/metrics"
	"github.com/temoto/p1relay/internal/relay"
	"github.com/temoto/p1relay/internal/state"
	"github.com/temoto/p1relay/log2"
	"github.com/temoto/p1relay/tele"
)

const telegram = "/ISk5\\2MT382-1000\r\n" +
	"\r\n" +
	"0-0:1.0.0(230101120000W)\r\n" +
	"1-0:1.8.1(000123.456*kWh)\r\n" +
	"1-0:1.8.2(000234.567*kWh)\r\n" +
	"1-0:2.8.1(000012.345*kWh)\r\n" +
	"1-0:2.8.2(000023.456*kWh)\r\n" +
	"1-0:1.7.0(01.193*kW)\r\n" +
	"1-0:2.7.0(00.000*kW)\r\n" +
	"1-0:21.7.0(00.111*kW)\r\n" +
	"1-0:41.7.0(00.222*kW)\r\n" +
	"1-0:61.7.0(00.333*kW)\r\n" +
	"1-0:22.7.0(00.000*kW)\r\n" +
	"1-0:42.7.0(00.000*kW)\r\n" +
	"1-0:62.7.0(00.000*kW)\r\n" +
	"0-1:24.2.1(230101115500W)(00012.785*m3)\r\n" +
	"!EF2B\r\n"

func testConfig(t testing.TB) *state.Config {
	c, err := state.ReadConfig(strings.NewReader(`{
  "location_id": "loc42",
  "rabbitmq_host": "localhost",
  "rabbitmq_exchange": "energy"
}`), state.FormatHCL, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	return c
}

func TestRelayMainEOF(t *testing.T) {
	log = log2.NewTest(t, log2.LDebug)

	bus := tele.NewMock()
	src := serial.NewNullPort(strings.NewReader("noise\r\n" + telegram + telegram))
	err := relayMain(context.Background(), alive.NewAlive(), testConfig(t), src, bus, metrics.New())
	require.NoError(t, err)
	msgs := bus.Published()
	require.Len(t, msgs, 2)
	assert.Equal(t, "loc42.electricity", msgs[0].RoutingKey)
	assert.JSONEq(t, `{"kw_usage":0.666,"kw_generated":0,"timestamp":"2023-01-01T11:00:00Z"}`, string(msgs[0].Body))
	assert.False(t, bus.IsOpen())
}

func TestRelayMainStop(t *testing.T) {
	log = log2.NewTest(t, log2.LDebug)

	bus := tele.NewMock()
	pr, pw := io.Pipe()
	src := serial.NewNullPort(pr)
	a := alive.NewAlive()
	go func() {
		_, _ = io.WriteString(pw, telegram)
		for len(bus.Published()) == 0 {
			time.Sleep(time.Millisecond)
		}
		a.Stop()
	}()
	err := relayMain(context.Background(), a, testConfig(t), src, bus, metrics.New())
	require.NoError(t, err)
	assert.Len(t, bus.Published(), 1)
}

func TestRelayMainBusFailure(t *testing.T) {
	log = log2.NewTest(t, log2.LDebug)

	bus := tele.NewMock()
	bus.SetError(errors.New("channel closed"))
	src := serial.NewNullPort(strings.NewReader(telegram))
	err := relayMain(context.Background(), alive.NewAlive(), testConfig(t), src, bus, metrics.New())
	require.Error(t, err)
	assert.True(t, relay.IsBusFailure(err))
	assert.Equal(t, 1, bus.CloseCalls())
}
