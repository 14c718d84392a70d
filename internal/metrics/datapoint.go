// Package metrics holds the agent's Prometheus instruments and the value
// samples recorded for device parameters.
package metrics

import (
	"math"
	"time"
)

// DataPoint is one observed parameter value.
type DataPoint struct {
	Timestamp time.Time
	Value     float64
}

// IsValid reports whether the point can be stored: a non-zero timestamp and
// a finite value.
func (dp DataPoint) IsValid() bool {
	return !dp.Timestamp.IsZero() && !math.IsInf(dp.Value, 0) && !math.IsNaN(dp.Value)
}

// NewDataPointAt creates a DataPoint observed at timestamp.
func NewDataPointAt(timestamp time.Time, value float64) DataPoint {
	return DataPoint{Timestamp: timestamp, Value: value}
}
