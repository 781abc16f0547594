package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nerrad567/pulse-gateway/internal/point"
)

const (
	defaultTenantPointsLimit = 100
	maxTenantPointsLimit     = 500

	pointColumns = `p.id, d.tenant_id, p.device_id, p.name, p.data_type, p.unit`
	pointJoin    = `FROM data_points p JOIN devices d ON d.id = p.device_id`
)

// SQLiteStore implements the point directory and the current value tier.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a store over an open SQLite connection.
func New(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}
	return nil
}

// PointsByIDs returns the enabled data points of tenantID among ids.
// Unknown or foreign ids are silently absent from the result.
func (s *SQLiteStore) PointsByIDs(ctx context.Context, tenantID string, ids []int64) ([]point.Point, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := append([]any{tenantID}, int64Args(ids)...)
	return s.queryPoints(ctx,
		`SELECT `+pointColumns+` `+pointJoin+`
		 WHERE d.tenant_id = ? AND p.is_enabled = 1 AND p.id IN (`+placeholders(len(ids))+`)
		 ORDER BY p.device_id, p.id`,
		args...,
	)
}

// PointsByDevices returns the enabled data points of the given devices,
// restricted to devices owned by tenantID.
func (s *SQLiteStore) PointsByDevices(ctx context.Context, tenantID string, deviceIDs []int64) ([]point.Point, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if len(deviceIDs) == 0 {
		return nil, nil
	}

	args := append([]any{tenantID}, int64Args(deviceIDs)...)
	return s.queryPoints(ctx,
		`SELECT `+pointColumns+` `+pointJoin+`
		 WHERE d.tenant_id = ? AND p.is_enabled = 1 AND p.device_id IN (`+placeholders(len(deviceIDs))+`)
		 ORDER BY p.device_id, p.id`,
		args...,
	)
}

// TenantPoints returns up to limit enabled data points of tenantID
// (default 100, max 500), ordered by device then point id.
func (s *SQLiteStore) TenantPoints(ctx context.Context, tenantID string, limit int) ([]point.Point, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if limit <= 0 {
		limit = defaultTenantPointsLimit
	}
	if limit > maxTenantPointsLimit {
		limit = maxTenantPointsLimit
	}

	return s.queryPoints(ctx,
		`SELECT `+pointColumns+` `+pointJoin+`
		 WHERE d.tenant_id = ? AND p.is_enabled = 1 AND d.is_enabled = 1
		 ORDER BY p.device_id, p.id
		 LIMIT ?`,
		tenantID, limit,
	)
}

// DevicesBySite returns the ids of tenantID's devices installed at siteID.
func (s *SQLiteStore) DevicesBySite(ctx context.Context, tenantID string, siteID int64) ([]int64, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id FROM devices d
		 JOIN sites s ON s.id = d.site_id
		 WHERE d.tenant_id = ? AND s.tenant_id = ? AND d.site_id = ?
		 ORDER BY d.id`,
		tenantID, tenantID, siteID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying site devices: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning device id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating site devices: %w", err)
	}
	return ids, nil
}

// DeviceExists reports whether deviceID belongs to tenantID.
func (s *SQLiteStore) DeviceExists(ctx context.Context, tenantID string, deviceID int64) (bool, error) {
	if tenantID == "" {
		return false, ErrTenantRequired
	}

	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM devices WHERE id = ? AND tenant_id = ?",
		deviceID, tenantID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying device: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) queryPoints(ctx context.Context, query string, args ...any) ([]point.Point, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}
	defer rows.Close()

	var points []point.Point
	for rows.Next() {
		var p point.Point
		var dataType string
		if err := rows.Scan(&p.ID, &p.TenantID, &p.DeviceID, &p.Name, &dataType, &p.Unit); err != nil {
			return nil, fmt.Errorf("scanning point: %w", err)
		}
		p.DataType = point.DataType(dataType)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating points: %w", err)
	}
	return points, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
