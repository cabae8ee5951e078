package p1

import (
	"context"
	"strings"

	"github.com/temoto/p1relay/log2"
)

const (
	StartSentinel = "/"
	EndSentinel   = "!"
)

// Frame is one telegram: header line starting with "/", data lines,
// footer line starting with "!" (CRC follows, not verified).
type Frame []string

func (f Frame) Header() string {
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

func (f Frame) Footer() string {
	if len(f) == 0 {
		return ""
	}
	return f[len(f)-1]
}

// Framer cuts telegrams from continuous line stream.
// Not safe for concurrent use.
type Framer struct {
	src LineSource
	Log *log2.Log
}

func NewFramer(src LineSource) *Framer { return &Framer{src: src} }

// Next blocks until one whole telegram is read.
// Context is only checked between telegrams, a started frame is always read to the end.
// Source read timeouts are retried here, framer never times out by itself.
// Errors: ErrSourceClosed, io.EOF from finite sources, ctx.Err().
func (self *Framer) Next(ctx context.Context) (Frame, error) {
	var header string
	for skipped := 0; ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := self.src.ReadLine()
		if err != nil {
			if IsTimeout(err) {
				continue
			}
			return nil, err
		}
		if strings.HasPrefix(line, StartSentinel) {
			if skipped > 0 {
				self.Log.Debugf("p1 framer skipped %d lines before header", skipped)
			}
			header = line
			break
		}
		skipped++
	}

	frame := Frame{header}
	for {
		line, err := self.src.ReadLine()
		if err != nil {
			if IsTimeout(err) {
				continue
			}
			return nil, err
		}
		switch {
		case strings.HasPrefix(line, EndSentinel):
			return append(frame, line), nil
		case strings.HasPrefix(line, StartSentinel):
			// truncated telegram, restart from the new header
			self.Log.Debugf("p1 framer header inside telegram, dropped %d lines", len(frame))
			frame = Frame{line}
		default:
			frame = append(frame, line)
		}
	}
}
