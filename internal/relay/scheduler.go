// Package relay forwards decoded records to message bus and throttled HTTP API.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/p1relay/helpers/atomic_clock"
	"github.com/temoto/p1relay/internal/metrics"
	"github.com/temoto/p1relay/internal/report"
	"github.com/temoto/p1relay/log2"
	"github.com/temoto/p1relay/p1"
	"github.com/temoto/p1relay/tele"
)

const DefaultInterval = 300 * time.Second

// Reporter is API sink. Error means transport failure, status is checked by caller.
type Reporter interface {
	Report(ctx context.Context, body []byte) (int, error)
}

// BusError is fatal: bus publish failed and connection was closed.
type BusError struct {
	Err error
}

func (e *BusError) Error() string { return fmt.Sprintf("relay bus: %v", e.Err) }

func IsBusFailure(err error) bool {
	_, ok := errors.Cause(err).(*BusError)
	return ok
}

type Options struct {
	Bus        tele.Publisher
	Reporter   Reporter // nil disables API relay
	LocationID string
	Interval   time.Duration
	Now        func() time.Time
	Log        *log2.Log
	Metrics    *metrics.Metrics
}

// Scheduler owns throttle state and bus handle.
// OnRecord calls are serialized.
type Scheduler struct {
	mu         sync.Mutex
	bus        tele.Publisher
	reporter   Reporter
	routingKey string
	interval   time.Duration
	now        func() time.Time
	log        *log2.Log
	metrics    *metrics.Metrics

	lastSuccess atomic_clock.Clock
}

func NewScheduler(opt Options) *Scheduler {
	s := &Scheduler{
		bus:        opt.Bus,
		reporter:   opt.Reporter,
		routingKey: RoutingKey(opt.LocationID),
		interval:   opt.Interval,
		now:        opt.Now,
		log:        opt.Log,
		metrics:    opt.Metrics,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.reporter == nil {
		s.log.Infof("relay API disabled")
	}
	return s
}

// LastSuccess is zero time until first 2xx API response.
func (self *Scheduler) LastSuccess() time.Time { return self.lastSuccess.Time() }

// OnRecord publishes record to bus, then to API if throttle allows.
// Returns *BusError (fatal, bus closed) or nil; API failures are logged only.
func (self *Scheduler) OnRecord(ctx context.Context, r p1.Record) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	if err := self.relayBus(ctx, &r); err != nil {
		self.metrics.Bus(err)
		if cerr := tele.CloseIfOpen(self.bus); cerr != nil {
			self.log.Errorf("relay bus close err=%v", cerr)
		}
		return &BusError{Err: err}
	}
	self.metrics.Bus(nil)

	if self.reporter == nil {
		return nil
	}
	now := self.now()
	if !self.eligible(now) {
		self.metrics.API(metrics.ResultSkipped)
		return nil
	}
	self.relayAPI(ctx, &r, now)
	return nil
}

func (self *Scheduler) eligible(now time.Time) bool {
	if self.lastSuccess.IsZero() {
		return true
	}
	return now.Sub(self.lastSuccess.Time()) >= self.interval
}

func (self *Scheduler) relayBus(ctx context.Context, r *p1.Record) error {
	body, err := marshal(NewBusPayload(r))
	if err != nil {
		return err
	}
	if err = self.bus.Publish(ctx, self.routingKey, body); err != nil {
		return err
	}
	self.log.Debugf("relay bus key=%s body=%s", self.routingKey, body)
	return nil
}

func (self *Scheduler) relayAPI(ctx context.Context, r *p1.Record, now time.Time) {
	body, err := marshal(NewAPIPayload(r))
	if err != nil {
		self.log.Errorf("relay API err=%v", err)
		self.metrics.API(metrics.ResultError)
		return
	}
	status, err := self.reporter.Report(ctx, body)
	switch {
	case err != nil:
		self.log.Errorf("relay API err=%v", err)
		self.metrics.API(metrics.ResultError)
	case !report.IsSuccess(status):
		self.log.Errorf("relay API status=%d", status)
		self.metrics.API(metrics.ResultStatus)
	default:
		self.lastSuccess.SetTime(now)
		self.metrics.APISuccess(now)
		self.log.Debugf("relay API status=%d timestamp=%s", status, r.Timestamp)
	}
}
