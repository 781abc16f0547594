package store

import (
	"context"
	"testing"

	"github.com/nerrad567/pulse-gateway/internal/infrastructure/config"
	"github.com/nerrad567/pulse-gateway/internal/infrastructure/database"
	"github.com/nerrad567/pulse-gateway/migrations"
)

// setupTestStore opens an in-memory database with the real schema and a
// small fixture:
//
//	acme:   site 1 -> devices 7 (temp, humidity, status) and 8 (power)
//	        device 9 without site (flow)
//	globex: site 2 -> device 20 (temp)
func setupTestStore(t *testing.T) (*SQLiteStore, *database.DB) {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	fixture := []string{
		`INSERT INTO sites (id, tenant_id, name) VALUES (1, 'acme', 'Plant A'), (2, 'globex', 'Plant G')`,
		`INSERT INTO devices (id, tenant_id, site_id, name) VALUES
		    (7, 'acme', 1, 'Boiler'), (8, 'acme', 1, 'Meter'), (9, 'acme', NULL, 'Pump'),
		    (20, 'globex', 2, 'Chiller')`,
		`INSERT INTO data_points (id, device_id, name, data_type, unit, is_enabled) VALUES
		    (101, 7, 'temp', 'number', '°C', 1),
		    (102, 7, 'humidity', 'number', '%', 1),
		    (103, 7, 'status', 'string', '', 1),
		    (104, 7, 'legacy', 'number', '', 0),
		    (111, 8, 'power', 'number', 'kW', 1),
		    (121, 9, 'flow', 'number', 'm3/h', 1),
		    (201, 20, 'temp', 'number', '°C', 1)`,
	}
	for _, stmt := range fixture {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seeding fixture: %v", err)
		}
	}

	return New(db.DB), db
}
