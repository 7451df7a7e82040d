package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// TelemetryMeasurement is the measurement graph samples are written to.
const TelemetryMeasurement = "telemetry"

// WriteTelemetry records one attribute sample. Values that are not a
// number, string or boolean are dropped.
//
// The write is non-blocking; points are batched and sent asynchronously.
//
// Parameters:
//   - deviceID, class, module, attribute: Tags identifying the series
//   - value: float64, int, string or bool
//   - ts: The sample timestamp reported by the device
func (c *Client) WriteTelemetry(deviceID, class, module, attribute string, value any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	point, ok := telemetryPoint(deviceID, class, module, attribute, value, ts)
	if !ok {
		return
	}
	c.writeAPI.WritePoint(point)
}

// telemetryPoint builds the point for one sample.
func telemetryPoint(deviceID, class, module, attribute string, value any, ts time.Time) (*write.Point, bool) {
	var field any
	switch v := value.(type) {
	case float64, string, bool:
		field = v
	case float32:
		field = float64(v)
	case int:
		field = float64(v)
	case int64:
		field = float64(v)
	default:
		return nil, false
	}

	return write.NewPoint(
		TelemetryMeasurement,
		map[string]string{
			"device_id": deviceID,
			"class":     class,
			"module":    module,
			"attribute": attribute,
		},
		map[string]any{"value": field},
		ts,
	), true
}
