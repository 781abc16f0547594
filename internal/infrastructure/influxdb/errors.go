package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
//
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // report trends_available=false
//	}
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrQueryFailed indicates a trend query could not be executed or read.
	ErrQueryFailed = errors.New("influxdb: query failed")

	// ErrDisabled indicates InfluxDB integration is disabled in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
