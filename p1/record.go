package p1

import (
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
)

// Record is one decoded telegram. Energy in kWh, power in kW, gas in m3.
type Record struct {
	Timestamp    string `json:"timestamp"`
	GasTimestamp string `json:"gas_timestamp"`

	DeliveredTariff1 float64 `json:"delivered_tariff1"`
	DeliveredTariff2 float64 `json:"delivered_tariff2"`
	ReturnedTariff1  float64 `json:"returned_tariff1"`
	ReturnedTariff2  float64 `json:"returned_tariff2"`

	PowerDelivered   float64 `json:"power_delivered"`
	PowerReturned    float64 `json:"power_returned"`
	PowerDeliveredL1 float64 `json:"power_delivered_l1"`
	PowerDeliveredL2 float64 `json:"power_delivered_l2"`
	PowerDeliveredL3 float64 `json:"power_delivered_l3"`
	PowerReturnedL1  float64 `json:"power_returned_l1"`
	PowerReturnedL2  float64 `json:"power_returned_l2"`
	PowerReturnedL3  float64 `json:"power_returned_l3"`

	Gas float64 `json:"gas"`

	// derived
	TimeUTC             time.Time `json:"time_utc"`
	GasTimeUTC          time.Time `json:"gas_time_utc"`
	PowerUsageTotal     float64   `json:"power_usage_total"`
	PowerGeneratedTotal float64   `json:"power_generated_total"`
}

// IncompleteError lists attributes absent from telegram.
type IncompleteError struct {
	Missing []Attr
}

func (e *IncompleteError) Error() string {
	names := make([]string, len(e.Missing))
	for i, a := range e.Missing {
		names[i] = a.String()
	}
	return fmt.Sprintf("p1: telegram incomplete, missing %d of %d: %s",
		len(e.Missing), RequiredAttrs, strings.Join(names, ","))
}

func IsIncomplete(err error) bool {
	_, ok := errors.Cause(err).(*IncompleteError)
	return ok
}

// recordBuilder accumulates attributes of one telegram, finalize() produces Record
// only when every attribute is present.
type recordBuilder struct {
	tokens [attrEnd]string
	values [attrEnd]float64
	set    [attrEnd]bool
}

func (b *recordBuilder) setToken(a Attr, s string) {
	b.tokens[a] = s
	b.set[a] = true
}

func (b *recordBuilder) setValue(a Attr, v float64) {
	b.values[a] = v
	b.set[a] = true
}

func (b *recordBuilder) missing() []Attr {
	var ms []Attr
	for a := AttrInvalid + 1; a < attrEnd; a++ {
		if !b.set[a] {
			ms = append(ms, a)
		}
	}
	return ms
}

func (b *recordBuilder) finalize(loc *time.Location) (Record, error) {
	if ms := b.missing(); len(ms) != 0 {
		return Record{}, &IncompleteError{Missing: ms}
	}

	r := Record{
		Timestamp:        b.tokens[AttrTimestamp],
		GasTimestamp:     b.tokens[AttrGasTimestamp],
		DeliveredTariff1: b.values[AttrDeliveredTariff1],
		DeliveredTariff2: b.values[AttrDeliveredTariff2],
		ReturnedTariff1:  b.values[AttrReturnedTariff1],
		ReturnedTariff2:  b.values[AttrReturnedTariff2],
		PowerDelivered:   b.values[AttrPowerDelivered],
		PowerReturned:    b.values[AttrPowerReturned],
		PowerDeliveredL1: b.values[AttrPowerDeliveredL1],
		PowerDeliveredL2: b.values[AttrPowerDeliveredL2],
		PowerDeliveredL3: b.values[AttrPowerDeliveredL3],
		PowerReturnedL1:  b.values[AttrPowerReturnedL1],
		PowerReturnedL2:  b.values[AttrPowerReturnedL2],
		PowerReturnedL3:  b.values[AttrPowerReturnedL3],
		Gas:              b.values[AttrGas],
	}
	var err error
	if r.TimeUTC, err = ParseTimestamp(r.Timestamp, loc); err != nil {
		return Record{}, errors.Annotate(err, "p1: timestamp")
	}
	if r.GasTimeUTC, err = ParseTimestamp(r.GasTimestamp, loc); err != nil {
		return Record{}, errors.Annotate(err, "p1: gas timestamp")
	}
	r.PowerUsageTotal = r.PowerDeliveredL1 + r.PowerDeliveredL2 + r.PowerDeliveredL3
	r.PowerGeneratedTotal = r.PowerReturnedL1 + r.PowerReturnedL2 + r.PowerReturnedL3
	return r, nil
}
