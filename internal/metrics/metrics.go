// Package metrics exposes pipeline counters to Prometheus.
// nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/p1relay/log2"
)

const namespace = "p1relay"

// label values
const (
	ResultDecoded = "decoded"
	ResultDropped = "dropped"
	ResultOK      = "ok"
	ResultError   = "error"
	ResultStatus  = "status"
	ResultSkipped = "skipped"
)

type Metrics struct {
	reg *prometheus.Registry

	Telegrams      *prometheus.CounterVec
	BusPublished   *prometheus.CounterVec
	APIReports     *prometheus.CounterVec
	APILastSuccess prometheus.Gauge
}

// New uses private registry, safe to call many times (tests).
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Telegrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegrams_total",
			Help:      "Telegrams read from meter by decode result.",
		}, []string{"result"}),
		BusPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_published_total",
			Help:      "Bus publish attempts by result.",
		}, []string{"result"}),
		APIReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_reports_total",
			Help:      "API relay decisions and outcomes by result.",
		}, []string{"result"}),
		APILastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_last_success_timestamp_seconds",
			Help:      "Unix time of last 2xx API response.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Telegrams,
		m.BusPublished,
		m.APIReports,
		m.APILastSuccess,
	)
	return m
}

func (self *Metrics) Registry() *prometheus.Registry {
	if self == nil {
		return nil
	}
	return self.reg
}

func (self *Metrics) Telegram(result string) {
	if self != nil {
		self.Telegrams.WithLabelValues(result).Inc()
	}
}

func (self *Metrics) Bus(err error) {
	if self == nil {
		return
	}
	if err == nil {
		self.BusPublished.WithLabelValues(ResultOK).Inc()
	} else {
		self.BusPublished.WithLabelValues(ResultError).Inc()
	}
}

func (self *Metrics) API(result string) {
	if self != nil {
		self.APIReports.WithLabelValues(result).Inc()
	}
}

func (self *Metrics) APISuccess(t time.Time) {
	if self != nil {
		self.APIReports.WithLabelValues(ResultOK).Inc()
		self.APILastSuccess.Set(float64(t.UnixNano()) / float64(time.Second))
	}
}

func (self *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(self.reg, promhttp.HandlerOpts{})
}

// Listen serves /metrics until ctx is done. Returns bound address.
func (self *Metrics) Listen(ctx context.Context, addr string, log *log2.Log) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "metrics listen=%s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", self.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.Stdlib(log2.LError),
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics serve err=%v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	log.Infof("metrics listen=%s", ln.Addr())
	return ln.Addr(), nil
}
