package p1_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/p1relay/log2"
	"github.com/temoto/p1relay/p1"
)

const telegramSummer = `/ISk5\2MT382-1000

1-3:0.2.8(50)
0-0:1.0.0(230615123000S)
0-0:96.1.1(4B384547303034303436333935353037)
1-0:1.8.1(000123.456*kWh)
1-0:1.8.2(000234.567*kWh)
1-0:2.8.1(000012.345*kWh)
1-0:2.8.2(000023.456*kWh)
0-0:96.14.0(0002)
1-0:1.7.0(01.193*kW)
1-0:2.7.0(00.000*kW)
0-0:96.7.21(00004)
1-0:99.97.0(2)(0-0:96.7.19)(101208152415W)(0000000240*s)(101208151004W)(0000000301*s)
1-0:32.32.0(00002)
1-0:32.7.0(220.1*V)
1-0:31.7.0(001*A)
1-0:21.7.0(00.111*kW)
1-0:41.7.0(00.222*kW)
1-0:61.7.0(00.333*kW)
1-0:22.7.0(00.000*kW)
1-0:42.7.0(00.010*kW)
1-0:62.7.0(00.020*kW)
0-1:24.1.0(003)
0-1:96.1.0(3232323241424344313233343536373839)
0-1:24.2.1(230615120000S)(00012.785*m3)
!EF2B`

func amsterdam(t testing.TB) *time.Location {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)
	return loc
}

func telegramLines() []string { return strings.Split(telegramSummer, "\n") }

func without(lines []string, prefix string) []string {
	result := make([]string, 0, len(lines))
	for _, l := range lines {
		if !strings.HasPrefix(l, prefix) {
			result = append(result, l)
		}
	}
	return result
}

// timeoutSource returns ErrTimeout before every line
type timeoutSource struct {
	p1.LineSource
	flip bool
}

func (s *timeoutSource) ReadLine() (string, error) {
	s.flip = !s.flip
	if s.flip {
		return "", p1.ErrTimeout
	}
	return s.LineSource.ReadLine()
}

func TestFramer(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		input   string
		timeout bool
		expect  []int // lines per frame
	}{
		{"empty", "", false, nil},
		{"garbage-only", "noise\n1-0:1.8.1(000001.000*kWh)\n!", false, nil},
		{"one", "/A\n1\n2\n!00", false, []int{4}},
		{"interleaved", "junk\n!stale\n/A\n1\n!01\nmid\n/B\n!02\ntrailing", false, []int{3, 2}},
		{"crlf", "/A\r\n1\r\n!03\r\n", false, []int{3}},
		{"timeouts", "x\n/A\n1\n2\n!04\n/B\n3\n!05", true, []int{4, 3}},
		{"restart-on-header", "/A\n1\n/B\n2\n!06", false, []int{3}},
		{"unterminated", "/A\n1\n2", false, nil},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			var src p1.LineSource = p1.NewTextSource(c.input)
			if c.timeout {
				src = &timeoutSource{LineSource: src}
			}
			f := p1.NewFramer(src)
			f.Log = log2.NewTest(t, log2.LDebug)
			var lens []int
			for {
				frame, err := f.Next(context.Background())
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(frame.Header(), "/"), "header=%q", frame.Header())
				assert.True(t, strings.HasPrefix(frame.Footer(), "!"), "footer=%q", frame.Footer())
				for _, l := range frame[1 : len(frame)-1] {
					assert.False(t, strings.HasPrefix(l, "/") || strings.HasPrefix(l, "!"), "data line=%q", l)
					assert.False(t, strings.HasSuffix(l, "\r"))
				}
				lens = append(lens, len(frame))
			}
			assert.Equal(t, c.expect, lens)
		})
	}
}

func TestFramerClosed(t *testing.T) {
	t.Parallel()

	src := p1.NewTextSource("/A\n1\n!00")
	require.NoError(t, src.Close())
	frame, err := p1.NewFramer(src).Next(context.Background())
	assert.Nil(t, frame)
	assert.Equal(t, p1.ErrSourceClosed, errors.Cause(err))
}

func TestFramerContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	f := p1.NewFramer(p1.NewTextSource("/A\n!00\n/B\n!01"))
	frame, err := f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, p1.Frame{"/A", "!00"}, frame)
	cancel()
	_, err = f.Next(ctx)
	assert.Equal(t, context.Canceled, err)
}

func TestDecode(t *testing.T) {
	t.Parallel()

	d := p1.NewDecoder(amsterdam(t))
	rec, err := d.Decode(p1.Frame(telegramLines()))
	require.NoError(t, err)

	assert.Equal(t, "230615123000S", rec.Timestamp)
	assert.Equal(t, "230615120000S", rec.GasTimestamp)
	assert.Equal(t, 123.456, rec.DeliveredTariff1)
	assert.Equal(t, 234.567, rec.DeliveredTariff2)
	assert.Equal(t, 12.345, rec.ReturnedTariff1)
	assert.Equal(t, 23.456, rec.ReturnedTariff2)
	assert.Equal(t, 1.193, rec.PowerDelivered)
	assert.Equal(t, 0.0, rec.PowerReturned)
	assert.Equal(t, 12.785, rec.Gas)
	assert.Equal(t, time.Date(2023, 6, 15, 10, 30, 0, 0, time.UTC), rec.TimeUTC)
	assert.Equal(t, time.Date(2023, 6, 15, 10, 0, 0, 0, time.UTC), rec.GasTimeUTC)

	assert.Equal(t, rec.PowerDeliveredL1+rec.PowerDeliveredL2+rec.PowerDeliveredL3, rec.PowerUsageTotal)
	assert.Equal(t, rec.PowerReturnedL1+rec.PowerReturnedL2+rec.PowerReturnedL3, rec.PowerGeneratedTotal)
	assert.InDelta(t, 0.666, rec.PowerUsageTotal, 1e-9)
	assert.InDelta(t, 0.030, rec.PowerGeneratedTotal, 1e-9)
}

func TestDecodeMissingField(t *testing.T) {
	t.Parallel()

	d := p1.NewDecoder(amsterdam(t))
	for _, id := range p1.Identifiers {
		id := id
		t.Run(id.ID, func(t *testing.T) {
			t.Parallel()
			_, err := d.Decode(p1.Frame(without(telegramLines(), id.ID+"(")))
			require.Error(t, err)
			require.True(t, p1.IsIncomplete(err), "err=%v", err)
			missing := errors.Cause(err).(*p1.IncompleteError).Missing
			assert.Contains(t, missing, id.Attr)
			if id.ID == p1.GasIdentifier {
				assert.Equal(t, []p1.Attr{p1.AttrGasTimestamp, p1.AttrGas}, missing)
			} else {
				assert.Len(t, missing, 1)
			}
		})
	}
}

func TestDecodeLines(t *testing.T) {
	t.Parallel()

	d := p1.NewDecoder(amsterdam(t))
	cases := []struct {
		name    string
		replace map[string]string
		check   func(testing.TB, p1.Record, error)
	}{
		{"unmapped-identifier-ignored",
			map[string]string{"1-0:32.32.0(00002)": "1-0:99.99.9(12345.678*kWh)"},
			func(t testing.TB, r p1.Record, err error) {
				require.NoError(t, err)
				assert.Equal(t, 123.456, r.DeliveredTariff1)
			}},
		{"garbage-value",
			map[string]string{"1-0:1.8.1(000123.456*kWh)": "1-0:1.8.1(abc*kWh)"},
			func(t testing.TB, r p1.Record, err error) {
				assert.True(t, p1.IsIncomplete(err), "err=%v", err)
			}},
		{"value-without-unit",
			map[string]string{"1-0:1.7.0(01.193*kW)": "1-0:1.7.0(01.5)"},
			func(t testing.TB, r p1.Record, err error) {
				require.NoError(t, err)
				assert.Equal(t, 1.5, r.PowerDelivered)
			}},
		{"gas-single-shape",
			map[string]string{"0-1:24.2.1(230615120000S)(00012.785*m3)": "0-1:24.2.1(00012.785*m3)"},
			func(t testing.TB, r p1.Record, err error) {
				require.True(t, p1.IsIncomplete(err), "err=%v", err)
				assert.Equal(t, []p1.Attr{p1.AttrGasTimestamp}, errors.Cause(err).(*p1.IncompleteError).Missing)
			}},
		{"double-shape-other-identifier-ignored",
			map[string]string{"1-0:1.8.2(000234.567*kWh)": "1-0:1.8.2(230615120000S)(000234.567*kWh)"},
			func(t testing.TB, r p1.Record, err error) {
				assert.True(t, p1.IsIncomplete(err), "err=%v", err)
			}},
		{"invalid-timestamp",
			map[string]string{"0-0:1.0.0(230615123000S)": "0-0:1.0.0(231315123000S)"},
			func(t testing.TB, r p1.Record, err error) {
				require.Error(t, err)
				assert.False(t, p1.IsIncomplete(err))
				assert.Contains(t, err.Error(), "timestamp")
			}},
		{"duplicate-last-wins",
			map[string]string{"1-0:32.32.0(00002)": "1-0:1.8.1(000999.000*kWh)"},
			func(t testing.TB, r p1.Record, err error) {
				require.NoError(t, err)
				assert.Equal(t, 999.0, r.DeliveredTariff1)
			}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			lines := telegramLines()
			for i, l := range lines {
				if r, ok := c.replace[l]; ok {
					lines[i] = r
				}
			}
			rec, err := d.Decode(p1.Frame(lines))
			c.check(t, rec, err)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	loc := amsterdam(t)
	cases := []struct {
		token     string
		expect    time.Time
		expectErr bool
	}{
		{"230615123000S", time.Date(2023, 6, 15, 10, 30, 0, 0, time.UTC), false},
		{"230101120000W", time.Date(2023, 1, 1, 11, 0, 0, 0, time.UTC), false},
		// DST flag is not consulted
		{"230615123000W", time.Date(2023, 6, 15, 10, 30, 0, 0, time.UTC), false},
		{"230101120000S", time.Date(2023, 1, 1, 11, 0, 0, 0, time.UTC), false},
		// around spring-forward 2023-03-26 02:00 CET
		{"230326015959W", time.Date(2023, 3, 26, 0, 59, 59, 0, time.UTC), false},
		{"230326030000S", time.Date(2023, 3, 26, 1, 0, 0, 0, time.UTC), false},
		// repeated hour at fall-back 2023-10-29 03:00 CEST, both flags resolve to CET
		{"231029023000S", time.Date(2023, 10, 29, 1, 30, 0, 0, time.UTC), false},
		{"231029023000W", time.Date(2023, 10, 29, 1, 30, 0, 0, time.UTC), false},
		{"23061512300", time.Time{}, true},
		{"2306151230000S", time.Time{}, true},
		{"", time.Time{}, true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.token, func(t *testing.T) {
			result, err := p1.ParseTimestamp(c.token, loc)
			if c.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, result)
			assert.Equal(t, time.UTC, result.Location())
		})
	}
}

func TestReader(t *testing.T) {
	t.Parallel()

	broken := without(telegramLines(), "1-0:62.7.0")
	lines := append([]string{"tail of previous telegram", "!0000"}, broken...)
	lines = append(lines, telegramLines()...)
	r := p1.NewReader(p1.NewSliceSource(lines), amsterdam(t), log2.NewTest(t, log2.LDebug))
	ctx := context.Background()

	_, err := r.Next(ctx)
	require.Error(t, err)
	pe, ok := err.(*p1.ParseError)
	require.True(t, ok, "err=%v", err)
	assert.True(t, p1.IsIncomplete(pe.Err))
	assert.Equal(t, `/ISk5\2MT382-1000`, pe.Frame.Header())

	rec, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "230615123000S", rec.Timestamp)

	_, err = r.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestLookup(t *testing.T) {
	t.Parallel()

	assert.Len(t, p1.Identifiers, p1.RequiredAttrs-1)
	a, ok := p1.Lookup("1-0:21.7.0")
	assert.True(t, ok)
	assert.Equal(t, p1.AttrPowerDeliveredL1, a)
	assert.Equal(t, "power_delivered_l1", a.String())
	_, ok = p1.Lookup("0-0:96.1.1")
	assert.False(t, ok)
}
