// Package database provides the SQLite state database of instrumental.
//
// The database currently holds instruments saved under an alias (see
// package alias). It is opened with WAL mode and a busy timeout so that a
// long-running `instrumental serve` and short CLI invocations can share it.
//
// Migrations are pairs of files named YYYYMMDD_HHMMSS_description.up.sql
// and .down.sql, read from any fs.FS; the migrations package embeds the
// production set:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// All queries use parameterised statements. The database file is created
// with mode 0600.
package database
