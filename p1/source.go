package p1

import (
	"io"
	"strings"

	"github.com/juju/errors"
)

// LineSource yields text lines without line terminators.
// ReadLine blocks until a line is available, the source times out or closes.
type LineSource interface {
	ReadLine() (string, error)
	Close() error
}

var ErrSourceClosed = errors.New("p1: line source is closed")

type Timeouter interface {
	Timeout() bool
}

type ErrTimeoutT string

func (e ErrTimeoutT) Error() string { return string(e) }
func (ErrTimeoutT) Timeout() bool   { return true }

const ErrTimeout = ErrTimeoutT("p1: line source read timeout")

func IsTimeout(err error) bool {
	t, ok := errors.Cause(err).(Timeouter)
	return ok && t.Timeout()
}

// SliceSource is finite in-memory LineSource, returns io.EOF when exhausted.
type SliceSource struct {
	lines  []string
	pos    int
	closed bool
}

func NewSliceSource(lines []string) *SliceSource { return &SliceSource{lines: lines} }

// NewTextSource splits text on newlines.
func NewTextSource(text string) *SliceSource {
	return NewSliceSource(strings.Split(strings.TrimRight(text, "\r\n"), "\n"))
}

func (self *SliceSource) ReadLine() (string, error) {
	if self.closed {
		return "", ErrSourceClosed
	}
	if self.pos >= len(self.lines) {
		return "", io.EOF
	}
	line := self.lines[self.pos]
	self.pos++
	return TrimLine(line), nil
}

func (self *SliceSource) Close() error {
	self.closed = true
	return nil
}

// TrimLine strips trailing line terminators.
func TrimLine(s string) string { return strings.TrimRight(s, "\r\n") }
