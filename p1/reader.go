package p1

import (
	"context"
	"fmt"
	"time"

	"github.com/temoto/p1relay/log2"
)

// ParseError is recoverable: the telegram is dropped, reading may continue.
type ParseError struct {
	Frame Frame
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("p1: telegram header=%q lines=%d: %v", e.Frame.Header(), len(e.Frame), e.Err)
}

// Reader is lazy pull sequence of records over LineSource.
type Reader struct {
	framer  *Framer
	decoder *Decoder
}

func NewReader(src LineSource, loc *time.Location, log *log2.Log) *Reader {
	r := &Reader{
		framer:  NewFramer(src),
		decoder: NewDecoder(loc),
	}
	r.framer.Log = log
	r.decoder.Log = log
	return r
}

// Next returns next decoded record.
// *ParseError for a corrupt or incomplete telegram, other errors come from the line source.
func (self *Reader) Next(ctx context.Context) (Record, error) {
	frame, err := self.framer.Next(ctx)
	if err != nil {
		return Record{}, err
	}
	rec, err := self.decoder.Decode(frame)
	if err != nil {
		return Record{}, &ParseError{Frame: frame, Err: err}
	}
	return rec, nil
}
