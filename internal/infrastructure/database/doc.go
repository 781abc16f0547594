// Package database provides SQLite connectivity for the gateway's persistent tier.
//
// It owns the connection (WAL mode, busy timeout, single connection) and a
// small forward-only migration runner over an fs.FS of SQL files. The schema
// itself lives in the top-level migrations package.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
