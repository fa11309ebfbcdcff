// ABOUTME: Database schema definitions for the local opportunity store
// ABOUTME: Scan sessions, detected opportunities, and their audit log
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_sessions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	scan_type TEXT NOT NULL CHECK(scan_type IN ('manual', 'scheduled', 'incremental')),
	date_from DATETIME NOT NULL,
	date_to DATETIME NOT NULL,
	sources TEXT NOT NULL,
	keywords TEXT NOT NULL,
	total_scanned INTEGER NOT NULL DEFAULT 0,
	detected INTEGER NOT NULL DEFAULT 0,
	high_count INTEGER NOT NULL DEFAULT 0,
	medium_count INTEGER NOT NULL DEFAULT 0,
	low_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL CHECK(status IN ('in_progress', 'completed', 'failed', 'cancelled')),
	error_message TEXT,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	duration_seconds INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_scan_sessions_started ON scan_sessions(started_at DESC);

CREATE TABLE IF NOT EXISTS detected_opportunities (
	id TEXT PRIMARY KEY,
	scan_id TEXT,
	communication_id TEXT NOT NULL,
	communication_type TEXT NOT NULL CHECK(communication_type IN ('email', 'chat', 'meeting')),
	subject TEXT,
	sender TEXT,
	occurred_at DATETIME NOT NULL,
	preview TEXT,
	content TEXT,
	participants TEXT,
	partner_name TEXT,
	partner_confidence REAL,
	partner_network_id TEXT,
	customer_name TEXT,
	customer_confidence REAL,
	customer_crm_account_id TEXT,
	solution_area TEXT,
	summary TEXT,
	matched_keywords TEXT NOT NULL,
	confidence REAL NOT NULL,
	status TEXT NOT NULL DEFAULT 'new' CHECK(status IN ('new', 'review', 'confirmed', 'synced', 'rejected')),
	crm_action TEXT NOT NULL DEFAULT 'create' CHECK(crm_action IN ('create', 'link', 'already_linked')),
	existing_opportunity_id TEXT,
	existing_opportunity_name TEXT,
	existing_referral_id TEXT,
	bant TEXT,
	notes TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (scan_id) REFERENCES scan_sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_detected_opportunities_status ON detected_opportunities(status);
CREATE INDEX IF NOT EXISTS idx_detected_opportunities_scan ON detected_opportunities(scan_id);
CREATE INDEX IF NOT EXISTS idx_detected_opportunities_confidence ON detected_opportunities(confidence DESC);

CREATE TABLE IF NOT EXISTS opportunity_actions (
	id TEXT PRIMARY KEY,
	opportunity_id TEXT NOT NULL,
	action_type TEXT NOT NULL CHECK(action_type IN ('created', 'reviewed', 'confirmed', 'rejected', 'synced', 'updated', 'exported')),
	previous_status TEXT,
	new_status TEXT,
	notes TEXT,
	performed_by TEXT,
	performed_at DATETIME NOT NULL,
	FOREIGN KEY (opportunity_id) REFERENCES detected_opportunities(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_opportunity_actions_opportunity ON opportunity_actions(opportunity_id, performed_at);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
