package database

import (
	"database/sql"
	stdlog "log"

	"github.com/prado2016/investra-ai-sub010/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

// InitDB opens the staging database and ensures the schema. The inbox and
// processed tables are both keyed by (mailbox_id, message_uid); the UNIQUE
// constraints are what make staging and archiving idempotent under re-fetch.
func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS email_inbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mailbox_id TEXT NOT NULL,
		message_uid INTEGER NOT NULL,
		received_at TIMESTAMP NOT NULL,
		subject TEXT NOT NULL,
		from_address TEXT NOT NULL,
		html_body TEXT,
		text_body TEXT,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		staged_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(mailbox_id, message_uid)
	);

	CREATE TABLE IF NOT EXISTS email_processed (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mailbox_id TEXT NOT NULL,
		message_uid INTEGER NOT NULL,
		received_at TIMESTAMP NOT NULL,
		subject TEXT NOT NULL,
		from_address TEXT NOT NULL,
		outcome TEXT NOT NULL,
		outcome_detail TEXT,
		processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(mailbox_id, message_uid)
	);

	CREATE TABLE IF NOT EXISTS mailbox_state (
		mailbox_id TEXT PRIMARY KEY,
		last_uid INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		logger.L.Error("failed to create tables", "error", err)
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	logger.L.Info("Database tables ensured/created.", "databasePath", databasePath)
}
