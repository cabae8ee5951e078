// Package serial reads P1 telegram lines from serial port or any byte stream.
package serial

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/serial"
	"github.com/juju/errors"
	"github.com/temoto/p1relay/log2"
	"github.com/temoto/p1relay/p1"
)

// MaxLineLength bounds pending bytes of unterminated line.
const MaxLineLength = 64 << 10

const (
	DefaultBaudRate = 115200
	DefaultDataBits = 8
	DefaultStopBits = 1
	DefaultParity   = "N"
)

type Config struct {
	Path     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // N|E|O
	Timeout  time.Duration
}

func (c *Config) String() string {
	return fmt.Sprintf("%s %d %d%s%d timeout=%v", c.Path, c.BaudRate, c.DataBits, c.Parity, c.StopBits, c.Timeout)
}

func (c *Config) withDefaults() serial.Config {
	sc := serial.Config{
		Address:  c.Path,
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: c.StopBits,
		Parity:   c.Parity,
		Timeout:  c.Timeout,
	}
	if sc.BaudRate == 0 {
		sc.BaudRate = DefaultBaudRate
	}
	if sc.DataBits == 0 {
		sc.DataBits = DefaultDataBits
	}
	if sc.StopBits == 0 {
		sc.StopBits = DefaultStopBits
	}
	if sc.Parity == "" {
		sc.Parity = DefaultParity
	}
	return sc
}

// Port is p1.LineSource over byte stream.
// ReadLine must be called from single goroutine, Close is safe from any.
type Port struct {
	Log *log2.Log

	rc      io.ReadCloser
	r       *bufio.Reader
	pending []byte
	closed  uint32
	closeMu sync.Mutex
}

var _ p1.LineSource = &Port{}

// Open configures serial device. Read timeout maps to p1.ErrTimeout.
func Open(c *Config, log *log2.Log) (*Port, error) {
	sc := c.withDefaults()
	sp, err := serial.Open(&sc)
	if err != nil {
		return nil, errors.Annotatef(err, "serial open %s", c.String())
	}
	log.Debugf("serial open %s", c.String())
	p := NewNullPort(sp)
	p.Log = log
	return p, nil
}

// NewNullPort reads lines from r without any device setup.
// Used for replay of captured telegrams and tests.
// If r is io.Closer, Close is forwarded.
func NewNullPort(r io.Reader) *Port {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	return &Port{rc: rc, r: bufio.NewReader(rc)}
}

func (self *Port) isClosed() bool { return atomic.LoadUint32(&self.closed) != 0 }

// ReadLine returns line without terminator.
// Partial line read before timeout is kept and completed by following calls.
func (self *Port) ReadLine() (string, error) {
	for {
		if self.isClosed() {
			return "", p1.ErrSourceClosed
		}
		b, err := self.r.ReadSlice('\n')
		switch {
		case err == nil:
			if len(self.pending)+len(b) > MaxLineLength {
				self.Log.Errorf("serial line too long, dropped %d bytes", len(self.pending)+len(b))
				self.pending = self.pending[:0]
				continue
			}
			var line string
			if len(self.pending) != 0 {
				line = string(append(self.pending, b...))
				self.pending = self.pending[:0]
			} else {
				line = string(b)
			}
			return p1.TrimLine(line), nil

		case err == bufio.ErrBufferFull:
			self.keep(b)
			continue

		case err == serial.ErrTimeout || p1.IsTimeout(err):
			self.keep(b)
			return "", p1.ErrTimeout

		case err == io.EOF:
			self.keep(b)
			if len(self.pending) != 0 {
				line := string(self.pending)
				self.pending = self.pending[:0]
				return p1.TrimLine(line), nil
			}
			return "", io.EOF

		default:
			if self.isClosed() {
				return "", p1.ErrSourceClosed
			}
			self.keep(b)
			return "", errors.Annotate(err, "serial read")
		}
	}
}

func (self *Port) keep(b []byte) {
	if len(b) == 0 {
		return
	}
	if len(self.pending)+len(b) > MaxLineLength {
		self.Log.Errorf("serial line too long, dropped %d bytes", len(self.pending))
		self.pending = self.pending[:0]
	}
	self.pending = append(self.pending, b...)
}

// Close is idempotent. Reads after Close return p1.ErrSourceClosed.
func (self *Port) Close() error {
	self.closeMu.Lock()
	defer self.closeMu.Unlock()
	if !atomic.CompareAndSwapUint32(&self.closed, 0, 1) {
		return nil
	}
	return errors.Annotate(self.rc.Close(), "serial close")
}
