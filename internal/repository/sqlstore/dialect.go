package sqlstore

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// dialect captures what differs between the database/sql backends.
type dialect struct {
	driver string
	schema []string
	// lock is appended to row-selecting queries inside claim and sweep.
	lock      string
	duplicate func(error) bool
	noParent  func(error) bool
	prepare   func(db *sql.DB)
}

var mysqlDialect = dialect{
	driver: "mysql",
	schema: []string{`
CREATE TABLE IF NOT EXISTS jobs (
	id               CHAR(36)     NOT NULL PRIMARY KEY,
	type             VARCHAR(64)  NOT NULL,
	queue_name       VARCHAR(255) NOT NULL,
	status           VARCHAR(16)  NOT NULL,
	priority         INT          NOT NULL DEFAULT 0,
	payload          JSON         NOT NULL,
	target_runtime   VARCHAR(32)  NOT NULL DEFAULT '',
	attempt_count    INT          NOT NULL DEFAULT 0,
	max_attempts     INT          NOT NULL,
	claimed_by       VARCHAR(255) NULL,
	lease_expires_at BIGINT       NULL,
	next_attempt_at  BIGINT       NULL,
	result           JSON         NULL,
	error            JSON         NULL,
	cancel_reason    TEXT         NULL,
	started_at       BIGINT       NULL,
	finished_at      BIGINT       NULL,
	created_at       BIGINT       NOT NULL,
	updated_at       BIGINT       NOT NULL,
	INDEX jobs_claim_idx (queue_name, status, priority, created_at),
	INDEX jobs_lease_idx (status, lease_expires_at)
) ENGINE=InnoDB`, `
CREATE TABLE IF NOT EXISTS job_events (
	id         CHAR(36)    NOT NULL PRIMARY KEY,
	job_id     CHAR(36)    NOT NULL,
	level      VARCHAR(8)  NOT NULL,
	message    TEXT        NOT NULL,
	payload    JSON        NULL,
	created_at BIGINT      NOT NULL,
	INDEX job_events_job_idx (job_id, created_at),
	CONSTRAINT job_events_job_fk FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
) ENGINE=InnoDB`,
	},
	lock: " FOR UPDATE SKIP LOCKED",
	duplicate: func(err error) bool {
		var myErr *mysql.MySQLError
		return errors.As(err, &myErr) && myErr.Number == 1062
	},
	noParent: func(err error) bool {
		var myErr *mysql.MySQLError
		return errors.As(err, &myErr) && myErr.Number == 1452
	},
	prepare: func(db *sql.DB) {},
}

// SQLite has a single writer: the pool is held to one connection so a
// claim transaction is never interleaved with another.
var sqliteDialect = dialect{
	driver: "sqlite3",
	schema: []string{`
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT    PRIMARY KEY,
	type             TEXT    NOT NULL,
	queue_name       TEXT    NOT NULL,
	status           TEXT    NOT NULL CHECK (status IN ('pending','running','retrying','succeeded','failed','cancelled')),
	priority         INTEGER NOT NULL DEFAULT 0,
	payload          TEXT    NOT NULL,
	target_runtime   TEXT    NOT NULL DEFAULT '',
	attempt_count    INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL,
	claimed_by       TEXT,
	lease_expires_at INTEGER,
	next_attempt_at  INTEGER,
	result           TEXT,
	error            TEXT,
	cancel_reason    TEXT,
	started_at       INTEGER,
	finished_at      INTEGER,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS jobs_claim_idx ON jobs(queue_name, status, priority, created_at)`,
		`CREATE INDEX IF NOT EXISTS jobs_lease_idx ON jobs(status, lease_expires_at)`,
		`
CREATE TABLE IF NOT EXISTS job_events (
	id         TEXT    PRIMARY KEY,
	job_id     TEXT    NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	level      TEXT    NOT NULL,
	message    TEXT    NOT NULL,
	payload    TEXT,
	created_at INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS job_events_job_idx ON job_events(job_id, created_at)`,
	},
	duplicate: func(err error) bool {
		var liteErr sqlite3.Error
		return errors.As(err, &liteErr) &&
			(liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || liteErr.ExtendedCode == sqlite3.ErrConstraintUnique)
	},
	noParent: func(err error) bool {
		var liteErr sqlite3.Error
		return errors.As(err, &liteErr) && liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	},
	prepare: func(db *sql.DB) {
		db.SetMaxOpenConns(1)
	},
}

func dialectFor(driver string) (dialect, bool) {
	switch driver {
	case "mysql":
		return mysqlDialect, true
	case "sqlite", "sqlite3":
		return sqliteDialect, true
	default:
		return dialect{}, false
	}
}

// sqliteDSN adds the pragmas the store relies on unless the caller set
// query parameters already.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
}
