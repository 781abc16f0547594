package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/pulse-gateway/internal/point"
)

// timestampLayout is fixed width so stored timestamps compare lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Source reports the tier name used on values served from the store.
func (s *SQLiteStore) Source() point.Source {
	return point.SourceStore
}

// Lookup returns the stored value for each key that has one, keyed
// by canonical key and tagged with source "store". Keys of other tenants
// are never matched. The lookup is a single query.
func (s *SQLiteStore) Lookup(ctx context.Context, tenantID string, keys []point.Key) (map[string]point.Value, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	out := make(map[string]point.Value, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	var values strings.Builder
	args := make([]any, 0, len(keys)*2+1)
	for i, k := range keys {
		if i > 0 {
			values.WriteString(", ")
		}
		values.WriteString("(?, ?)")
		args = append(args, k.DeviceID, k.PointName)
	}
	args = append(args, tenantID)

	rows, err := s.db.QueryContext(ctx,
		`WITH req(device_id, name) AS (VALUES `+values.String()+`)
		 SELECT p.id, p.device_id, p.name, p.unit, cv.value, cv.value_type, cv.quality, cv.value_timestamp
		 FROM req
		 JOIN data_points p ON p.device_id = req.device_id AND p.name = req.name
		 JOIN devices d ON d.id = p.device_id
		 JOIN current_values cv ON cv.point_id = p.id
		 WHERE d.tenant_id = ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying current values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		k := point.Key{TenantID: tenantID}
		var pointID int64
		var unit, raw, valueType, quality, ts string
		if err := rows.Scan(&pointID, &k.DeviceID, &k.PointName, &unit, &raw, &valueType, &quality, &ts); err != nil {
			return nil, fmt.Errorf("scanning current value: %w", err)
		}

		v, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding value of point %d: %w", pointID, err)
		}
		timestamp, err := parseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", pointID, err)
		}

		rec := point.Record{
			PointID:   &pointID,
			Value:     v,
			DataType:  point.DataType(valueType),
			Unit:      unit,
			Quality:   point.Quality(quality),
			Timestamp: timestamp,
		}
		out[k.String()] = rec.ToValue(k, point.SourceStore)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating current values: %w", err)
	}
	return out, nil
}

// UpsertCurrentValue stores rec as the current value of the point addressed
// by k and returns the point id. An existing value is only replaced by one
// with an equal or newer timestamp.
func (s *SQLiteStore) UpsertCurrentValue(ctx context.Context, k point.Key, rec point.Record) (int64, error) {
	if k.TenantID == "" {
		return 0, ErrTenantRequired
	}

	var pointID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT p.id `+pointJoin+`
		 WHERE d.tenant_id = ? AND p.device_id = ? AND p.name = ?`,
		k.TenantID, k.DeviceID, k.PointName,
	).Scan(&pointID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrPointNotFound, k)
	}
	if err != nil {
		return 0, fmt.Errorf("resolving point: %w", err)
	}

	raw, err := json.Marshal(rec.Value)
	if err != nil {
		return 0, fmt.Errorf("marshalling value: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO current_values (point_id, value, value_type, quality, value_timestamp, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(point_id) DO UPDATE SET
		     value = excluded.value,
		     value_type = excluded.value_type,
		     quality = excluded.quality,
		     value_timestamp = excluded.value_timestamp,
		     updated_at = excluded.updated_at
		 WHERE excluded.value_timestamp >= current_values.value_timestamp`,
		pointID,
		string(raw),
		string(rec.DataType),
		string(rec.Quality),
		formatTimestamp(rec.Timestamp),
		formatTimestamp(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("upserting current value: %w", err)
	}
	return pointID, nil
}

func decodeValue(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	normalized, _, err := point.NormalizeValue(v)
	return normalized, err
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTimestamp accepts the fixed-width layout and plain RFC 3339 written
// by other tools.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("value_timestamp is empty")
	}
	t, err := time.Parse(timestampLayout, value)
	if err == nil {
		return t, nil
	}
	if fallback, fallbackErr := time.Parse(time.RFC3339Nano, value); fallbackErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing value_timestamp: %w", err)
}
