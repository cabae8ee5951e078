package helpers

import "time"

func IntSecondDefault(x int, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x) * time.Second
}

// FloatSecondDefault accepts fractional seconds, e.g. serial timeout=0.5
func FloatSecondDefault(x float64, def time.Duration) time.Duration {
	if x <= 0 {
		return def
	}
	return time.Duration(x * float64(time.Second))
}
