package p1

import "fmt"

// Attr names one Record attribute.
type Attr uint8

const (
	AttrInvalid Attr = iota
	AttrTimestamp
	AttrDeliveredTariff1
	AttrDeliveredTariff2
	AttrReturnedTariff1
	AttrReturnedTariff2
	AttrPowerDelivered
	AttrPowerReturned
	AttrPowerDeliveredL1
	AttrPowerDeliveredL2
	AttrPowerDeliveredL3
	AttrPowerReturnedL1
	AttrPowerReturnedL2
	AttrPowerReturnedL3
	AttrGasTimestamp
	AttrGas
	attrEnd
)

// RequiredAttrs is the number of attributes a complete telegram populates.
const RequiredAttrs = int(attrEnd) - 1

// GasIdentifier is the only identifier recognized in identifier(timestamp)(value) shape.
const GasIdentifier = "0-1:24.2.1"

var attrNames = [attrEnd]string{
	AttrInvalid:          "invalid",
	AttrTimestamp:        "timestamp",
	AttrDeliveredTariff1: "delivered_tariff1",
	AttrDeliveredTariff2: "delivered_tariff2",
	AttrReturnedTariff1:  "returned_tariff1",
	AttrReturnedTariff2:  "returned_tariff2",
	AttrPowerDelivered:   "power_delivered",
	AttrPowerReturned:    "power_returned",
	AttrPowerDeliveredL1: "power_delivered_l1",
	AttrPowerDeliveredL2: "power_delivered_l2",
	AttrPowerDeliveredL3: "power_delivered_l3",
	AttrPowerReturnedL1:  "power_returned_l1",
	AttrPowerReturnedL2:  "power_returned_l2",
	AttrPowerReturnedL3:  "power_returned_l3",
	AttrGasTimestamp:     "gas_timestamp",
	AttrGas:              "gas",
}

func (a Attr) String() string {
	if a < attrEnd {
		return attrNames[a]
	}
	return fmt.Sprintf("attr(%d)", uint8(a))
}

// Identifier binds OBIS reference to attribute.
type Identifier struct {
	ID          string
	Attr        Attr
	Description string
}

// Identifiers in telegram order. Gas timestamp has no identifier of its own,
// it comes as first value of GasIdentifier line.
var Identifiers = []Identifier{
	{"0-0:1.0.0", AttrTimestamp, "date-time stamp of the P1 message"},
	{"1-0:1.8.1", AttrDeliveredTariff1, "electricity delivered to client, tariff 1, kWh"},
	{"1-0:1.8.2", AttrDeliveredTariff2, "electricity delivered to client, tariff 2, kWh"},
	{"1-0:2.8.1", AttrReturnedTariff1, "electricity delivered by client, tariff 1, kWh"},
	{"1-0:2.8.2", AttrReturnedTariff2, "electricity delivered by client, tariff 2, kWh"},
	{"1-0:1.7.0", AttrPowerDelivered, "actual electricity power delivered, kW"},
	{"1-0:2.7.0", AttrPowerReturned, "actual electricity power received, kW"},
	{"1-0:21.7.0", AttrPowerDeliveredL1, "instantaneous active power L1 +P, kW"},
	{"1-0:41.7.0", AttrPowerDeliveredL2, "instantaneous active power L2 +P, kW"},
	{"1-0:61.7.0", AttrPowerDeliveredL3, "instantaneous active power L3 +P, kW"},
	{"1-0:22.7.0", AttrPowerReturnedL1, "instantaneous active power L1 -P, kW"},
	{"1-0:42.7.0", AttrPowerReturnedL2, "instantaneous active power L2 -P, kW"},
	{"1-0:62.7.0", AttrPowerReturnedL3, "instantaneous active power L3 -P, kW"},
	{GasIdentifier, AttrGas, "last 5-minute gas meter reading and capture time, m3"},
}

var identifierIndex = func() map[string]Attr {
	m := make(map[string]Attr, len(Identifiers))
	for _, id := range Identifiers {
		m[id.ID] = id.Attr
	}
	return m
}()

// Lookup returns attribute for OBIS identifier, false if unknown.
func Lookup(id string) (Attr, bool) {
	a, ok := identifierIndex[id]
	return a, ok
}
