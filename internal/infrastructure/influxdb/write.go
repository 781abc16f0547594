package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementDeviceValues holds every ingested numeric or boolean value.
const MeasurementDeviceValues = "device_values"

// WritePointValue records one point value. It is non-blocking; the value is
// batched and sent asynchronously. Values that are neither numbers nor
// booleans are skipped and false is returned.
func (c *Client) WritePointValue(tenantID string, deviceID int64, pointName string, value any, quality string, ts time.Time) bool {
	if !c.IsConnected() {
		return false
	}

	field, ok := fieldValue(value)
	if !ok {
		return false
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	p := write.NewPoint(
		MeasurementDeviceValues,
		map[string]string{
			"tenant_id":  tenantID,
			"device_id":  strconv.FormatInt(deviceID, 10),
			"point_name": pointName,
			"quality":    quality,
		},
		map[string]any{"value": field},
		ts,
	)
	c.writeAPI.WritePoint(p)
	return true
}

// fieldValue maps a point value onto the float field.
func fieldValue(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
