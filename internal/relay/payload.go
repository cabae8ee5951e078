package relay

import (
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/p1relay/p1"
)

// RoutingSuffix is appended to location id to form bus routing key.
const RoutingSuffix = ".electricity"

func RoutingKey(locationID string) string { return locationID + RoutingSuffix }

type BusPayload struct {
	KwUsage     float64 `json:"kw_usage"`
	KwGenerated float64 `json:"kw_generated"`
	Timestamp   string  `json:"timestamp"` // UTC RFC3339
}

type APIPayload struct {
	KwhDeliveredT1 float64 `json:"kwh_delivered_t1"`
	KwhDeliveredT2 float64 `json:"kwh_delivered_t2"`
	KwhReturnedT1  float64 `json:"kwh_returned_t1"`
	KwhReturnedT2  float64 `json:"kwh_returned_t2"`
	GasM3          float64 `json:"gas_m3"`
	Timestamp      string  `json:"timestamp"` // meter local token
}

func NewBusPayload(r *p1.Record) BusPayload {
	return BusPayload{
		KwUsage:     r.PowerUsageTotal,
		KwGenerated: r.PowerGeneratedTotal,
		Timestamp:   r.TimeUTC.UTC().Format(time.RFC3339),
	}
}

func NewAPIPayload(r *p1.Record) APIPayload {
	return APIPayload{
		KwhDeliveredT1: r.DeliveredTariff1,
		KwhDeliveredT2: r.DeliveredTariff2,
		KwhReturnedT1:  r.ReturnedTariff1,
		KwhReturnedT2:  r.ReturnedTariff2,
		GasM3:          r.Gas,
		Timestamp:      r.Timestamp,
	}
}

func marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, errors.Annotatef(err, "json %T", v)
}
