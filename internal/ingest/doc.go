// Package ingest applies point value batches published by the collector.
//
// Batches arrive over MQTT on pulseone/{tenant}/values/{deviceId}. Each
// point is written to every configured sink:
//
//   - the store's current_values row (first, so the point id is known)
//   - the cache tier with the configured value TTL
//   - the trend database, for numeric and boolean values
//
// A sink failure is logged and does not stop the other sinks or points.
// Messages that cannot be decoded are logged and dropped.
package ingest
