package metrics_test

import (
	"context"
	"errors"
	"io/ioutil"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/p1relay/internal/metrics"
	"github.com/temoto/p1relay/log2"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.Telegram(metrics.ResultDecoded)
	m.Telegram(metrics.ResultDecoded)
	m.Telegram(metrics.ResultDropped)
	m.Bus(nil)
	m.Bus(errors.New("broker gone"))
	m.API(metrics.ResultSkipped)
	m.APISuccess(time.Unix(1686825000, 0))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Telegrams.WithLabelValues(metrics.ResultDecoded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Telegrams.WithLabelValues(metrics.ResultDropped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusPublished.WithLabelValues(metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusPublished.WithLabelValues(metrics.ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIReports.WithLabelValues(metrics.ResultSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIReports.WithLabelValues(metrics.ResultOK)))
	assert.Equal(t, 1686825000.0, testutil.ToFloat64(m.APILastSuccess))

	// independent registries
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.New().Telegrams.WithLabelValues(metrics.ResultDecoded)))
}

func TestNilSafe(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	m.Telegram(metrics.ResultDecoded)
	m.Bus(nil)
	m.API(metrics.ResultError)
	m.APISuccess(time.Now())
	assert.Nil(t, m.Registry())
}

func TestListen(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := metrics.New()
	m.Telegram(metrics.ResultDecoded)
	addr, err := m.Listen(ctx, "127.0.0.1:0", log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), `p1relay_telegrams_total{result="decoded"} 1`)
}
