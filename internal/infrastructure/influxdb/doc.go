// Package influxdb provides InfluxDB connectivity for point value trends.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, non-blocking value writes and trend queries.
//
// # Data Model
//
// Every numeric or boolean point value received by the ingest is written to
// the device_values measurement:
//
//	device_values,tenant_id=acme,device_id=7,point_name=temp,quality=good value=21.5
//
// Booleans are stored as 1/0 so the value field keeps a single type.
// Strings are not written.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // trends unavailable
//	}
//	defer client.Close()
//
//	client.WritePointValue("acme", 7, "temp", 21.5, "good", ts)
//	trends, err := client.QueryTrends(ctx, "acme", 7, time.Hour)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are batched according to batch_size and flush_interval; their
// errors are delivered to the SetOnError callback.
package influxdb
