// Package store is the gateway's persistent tier on SQLite.
//
// It exposes two read surfaces: the point directory (sites, devices and
// their data points, scoped by tenant) and the current_values table, which
// holds the last value the ingest wrote for each data point. Every query is
// filtered by tenant id; callers never see rows of another tenant.
package store
