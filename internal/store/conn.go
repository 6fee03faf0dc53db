package store

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/foldersync/agent/internal/utils"
)

//go:embed migrations/*.sql
var migrations embed.FS

// pragmas tuned for a single-writer, many-reader WAL database.
const pragmas = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA foreign_keys=ON;
PRAGMA temp_store=MEMORY;
`

func connect(path string) (*sqlx.DB, error) {
	var dsn string
	if path == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := utils.EnsureParent(path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", path)
	}

	slog.Info("store: connecting", "driver", driverID, "path", path)
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	// The metadata store is single-writer; WAL mode lets readers proceed
	// without blocking behind it, so one connection is enough.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	if err := migrate(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// migrate applies every sequentially numbered migration under migrations/
// that has not yet run, recording progress in the schema_version table.
func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetTableName("schema_version")
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(driverName); err != nil {
		return err
	}

	return goose.Up(db, "migrations")
}
