package database

import (
	"github.com/jmoiron/sqlx"
)

// schemaStatements is the MySQL dialect DDL. The open_marker column is
// 1 while a conversation is not closed and NULL afterwards, so the
// unique index (customer_id, open_marker) enforces at most one open
// conversation per customer under concurrent opens.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS agent (
		id BIGINT NOT NULL AUTO_INCREMENT,
		username VARCHAR(64) NOT NULL,
		display_name VARCHAR(128) NOT NULL,
		password_hash VARCHAR(128) NOT NULL,
		capacity INT NOT NULL DEFAULT 10,
		enabled TINYINT NOT NULL DEFAULT 1,
		is_admin TINYINT NOT NULL DEFAULT 0,
		create_time DATETIME NOT NULL,
		change_time DATETIME NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uniq_agent_username (username)
	)`,
	`CREATE TABLE IF NOT EXISTS customer (
		id BIGINT NOT NULL AUTO_INCREMENT,
		uuid VARCHAR(64) NOT NULL,
		remote_addr VARCHAR(64) NOT NULL DEFAULT '',
		user_agent VARCHAR(255) NOT NULL DEFAULT '',
		locale VARCHAR(16) NOT NULL DEFAULT '',
		source_page VARCHAR(255) NOT NULL DEFAULT '',
		create_time DATETIME NOT NULL,
		last_seen DATETIME NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uniq_customer_uuid (uuid)
	)`,
	`CREATE TABLE IF NOT EXISTS conversation (
		id BIGINT NOT NULL AUTO_INCREMENT,
		customer_id BIGINT NOT NULL,
		agent_id BIGINT NULL,
		status TINYINT NOT NULL DEFAULT 0,
		open_marker TINYINT NULL DEFAULT 1,
		last_message_at DATETIME NULL,
		last_agent_reply_at DATETIME NULL,
		last_customer_msg_at DATETIME NULL,
		closed_at DATETIME NULL,
		create_time DATETIME NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uniq_conversation_open (customer_id, open_marker),
		KEY idx_conversation_customer (customer_id),
		KEY idx_conversation_agent_status (agent_id, status)
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_transfer (
		id BIGINT NOT NULL AUTO_INCREMENT,
		conversation_id BIGINT NOT NULL,
		from_agent_id BIGINT NOT NULL,
		to_agent_id BIGINT NOT NULL,
		kind TINYINT NOT NULL,
		operator_id BIGINT NULL,
		reason VARCHAR(255) NOT NULL DEFAULT '',
		create_time DATETIME NOT NULL,
		PRIMARY KEY (id),
		KEY idx_transfer_conversation (conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS message (
		id BIGINT NOT NULL AUTO_INCREMENT,
		conversation_id BIGINT NOT NULL,
		sender_kind TINYINT NOT NULL,
		sender_id BIGINT NOT NULL DEFAULT 0,
		content_kind TINYINT NOT NULL DEFAULT 0,
		body TEXT NOT NULL,
		is_read TINYINT NOT NULL DEFAULT 0,
		visible_to_customer TINYINT NOT NULL DEFAULT 1,
		create_time DATETIME NOT NULL,
		PRIMARY KEY (id),
		KEY idx_message_conversation (conversation_id),
		KEY idx_message_created (create_time)
	)`,
	`CREATE TABLE IF NOT EXISTS quick_reply (
		id BIGINT NOT NULL AUTO_INCREMENT,
		agent_id BIGINT NOT NULL,
		title VARCHAR(128) NOT NULL,
		body TEXT NOT NULL,
		create_time DATETIME NOT NULL,
		change_time DATETIME NOT NULL,
		PRIMARY KEY (id),
		KEY idx_quick_reply_agent (agent_id)
	)`,
}

// EnsureSchema creates the dispatcher tables when they do not exist.
func EnsureSchema(db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
