package p1

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/p1relay/log2"
)

// TimestampLayout is YYMMDDhhmmss, telegram tokens carry extra DST flag S|W.
const TimestampLayout = "060102150405"

const unitSeparator = "*"

var (
	reSingleValue = regexp.MustCompile(`^(\d+-\d+:\d+\.\d+\.\d+)\(([^()]*)\)$`)
	reDoubleValue = regexp.MustCompile(`^(\d+-\d+:\d+\.\d+\.\d+)\(([^()]*)\)\(([^()]*)\)$`)
)

// Decoder turns frames into records. Local time zone of the meter is fixed at construction.
// Decoder has no mutable state, safe for concurrent use.
type Decoder struct {
	loc *time.Location
	Log *log2.Log
}

// NewDecoder with nil loc assumes meter clock in UTC.
func NewDecoder(loc *time.Location) *Decoder {
	if loc == nil {
		loc = time.UTC
	}
	return &Decoder{loc: loc}
}

func (self *Decoder) Location() *time.Location { return self.loc }

// Decode fails with *IncompleteError unless all RequiredAttrs were found,
// or with annotated parse error for malformed timestamp.
// Lines of unknown shape or identifier are ignored.
func (self *Decoder) Decode(frame Frame) (Record, error) {
	var b recordBuilder
	for _, line := range frame {
		self.decodeLine(&b, line)
	}
	return b.finalize(self.loc)
}

func (self *Decoder) decodeLine(b *recordBuilder, line string) {
	if m := reSingleValue.FindStringSubmatch(line); m != nil {
		attr, ok := Lookup(m[1])
		if !ok {
			return
		}
		if attr == AttrTimestamp {
			b.setToken(attr, m[2])
			return
		}
		if v, err := parseValue(m[2]); err == nil {
			b.setValue(attr, v)
		} else {
			self.Log.Debugf("p1 decode line=%q err=%v", line, err)
		}
		return
	}

	if m := reDoubleValue.FindStringSubmatch(line); m != nil {
		if m[1] != GasIdentifier {
			return
		}
		b.setToken(AttrGasTimestamp, m[2])
		if v, err := parseValue(m[3]); err == nil {
			b.setValue(AttrGas, v)
		} else {
			self.Log.Debugf("p1 decode line=%q err=%v", line, err)
		}
	}
}

// parseValue reads numeric part of "001234.567*kWh".
func parseValue(payload string) (float64, error) {
	num := payload
	if i := strings.Index(payload, unitSeparator); i >= 0 {
		num = payload[:i]
	}
	v, err := strconv.ParseFloat(num, 64)
	return v, errors.Trace(err)
}

// ParseTimestamp converts token YYMMDDhhmmssX from meter local time to UTC.
// Trailing DST flag X is not used, zone rules of loc decide the offset.
func ParseTimestamp(token string, loc *time.Location) (time.Time, error) {
	if len(token) != len(TimestampLayout)+1 {
		return time.Time{}, errors.Errorf("invalid timestamp token=%q", token)
	}
	t, err := time.ParseInLocation(TimestampLayout, token[:len(TimestampLayout)], loc)
	if err != nil {
		return time.Time{}, errors.Annotatef(err, "timestamp token=%q", token)
	}
	return t.UTC(), nil
}
