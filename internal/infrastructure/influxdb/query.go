package influxdb

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// maxTrendSamples bounds the samples returned per point.
const maxTrendSamples = 500

// TrendSample is one historical value of a point.
type TrendSample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

var fluxEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// QueryTrends returns the samples of every point of a device written within
// window, oldest first, keyed by point name. window <= 0 uses the configured
// trend window.
func (c *Client) QueryTrends(ctx context.Context, tenantID string, deviceID int64, window time.Duration) (map[string][]TrendSample, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if window <= 0 {
		window = c.TrendWindow()
	}

	result, err := c.queryAPI.Query(ctx, trendQuery(c.cfg.Bucket, tenantID, deviceID, window))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close() //nolint:errcheck // read-only stream

	trends := make(map[string][]TrendSample)
	for result.Next() {
		rec := result.Record()
		name, ok := rec.ValueByKey("point_name").(string)
		if !ok || name == "" {
			continue
		}
		value, ok := rec.Value().(float64)
		if !ok {
			continue
		}
		trends[name] = append(trends[name], TrendSample{Time: rec.Time().UTC(), Value: value})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return trends, nil
}

// trendQuery builds the Flux query for a device's recent values.
func trendQuery(bucket, tenantID string, deviceID int64, window time.Duration) string {
	return fmt.Sprintf(`from(bucket: "%s")
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == "%s" and r._field == "value")
  |> filter(fn: (r) => r.tenant_id == "%s" and r.device_id == "%d")
  |> keep(columns: ["_time", "_value", "point_name"])
  |> group(columns: ["point_name"])
  |> sort(columns: ["_time"])
  |> tail(n: %d)`,
		fluxEscaper.Replace(bucket),
		int64(window.Seconds()),
		MeasurementDeviceValues,
		fluxEscaper.Replace(tenantID),
		deviceID,
		maxTrendSamples,
	)
}
