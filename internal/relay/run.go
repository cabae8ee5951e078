package relay

import (
	"context"
	"io"

	"github.com/juju/errors"
	"github.com/temoto/p1relay/internal/metrics"
	"github.com/temoto/p1relay/log2"
	"github.com/temoto/p1relay/p1"
)

// RecordReader is implemented by *p1.Reader.
type RecordReader interface {
	Next(ctx context.Context) (p1.Record, error)
}

// RecordHandler is implemented by *Scheduler.
type RecordHandler interface {
	OnRecord(ctx context.Context, r p1.Record) error
}

// Run pulls records until source ends.
// Parse failures are logged and dropped. io.EOF from finite source returns nil.
// Source closed, bus failure and context errors are returned.
func Run(ctx context.Context, reader RecordReader, handler RecordHandler, log *log2.Log, m *metrics.Metrics) error {
	for {
		r, err := reader.Next(ctx)
		if err != nil {
			if pe, ok := err.(*p1.ParseError); ok {
				m.Telegram(metrics.ResultDropped)
				log.Errorf("telegram dropped: %v", pe)
				continue
			}
			if err == io.EOF {
				return nil
			}
			return errors.Annotate(err, "relay read")
		}
		m.Telegram(metrics.ResultDecoded)
		if err = handler.OnRecord(ctx, r); err != nil {
			return errors.Annotatef(err, "relay telegram timestamp=%s", r.Timestamp)
		}
	}
}
