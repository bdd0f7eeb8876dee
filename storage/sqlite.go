package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"argus/core"
	"argus/threat"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite persists detection content: correlation rules and threat
// indicators. It is the restart-survival store, not the event store.
type SQLite struct {
	db     *sql.DB
	logger *zap.SugaredLogger

	upsertRule      *sql.Stmt
	upsertIndicator *sql.Stmt
}

// NewSQLite opens (creating if necessary) the content database at path, runs
// migrations and prepares the upsert statements for the handle's lifetime.
// Use ":memory:" for tests.
func NewSQLite(path string, logger *zap.SugaredLogger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent access.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) prepare() error {
	var err error
	s.upsertRule, err = s.db.Prepare(`
		INSERT INTO correlation_rules (rule_id, name, document, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET
			name = excluded.name,
			document = excluded.document,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare rules upsert: %w", err)
	}
	s.upsertIndicator, err = s.db.Prepare(`
		INSERT INTO threat_indicators (value, threat_type, document, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(value) DO UPDATE SET
			threat_type = excluded.threat_type,
			document = excluded.document,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare indicators upsert: %w", err)
	}
	return nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS correlation_rules (
			rule_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			document TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS threat_indicators (
			value TEXT PRIMARY KEY,
			threat_type TEXT NOT NULL,
			document TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite migration: %w", err)
		}
	}
	return nil
}

// SaveRules upserts the full rule set.
func (s *SQLite) SaveRules(rules []*core.CorrelationRule) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rules transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.Stmt(s.upsertRule)
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, rule := range rules {
		doc, err := json.Marshal(rule)
		if err != nil {
			return fmt.Errorf("encode rule %s: %w", rule.ID, err)
		}
		if _, err := stmt.Exec(rule.ID, rule.Name, string(doc), now); err != nil {
			return fmt.Errorf("save rule %s: %w", rule.ID, err)
		}
	}
	return tx.Commit()
}

// LoadRules returns every persisted rule.
func (s *SQLite) LoadRules() ([]*core.CorrelationRule, error) {
	rows, err := s.db.Query(`SELECT document FROM correlation_rules ORDER BY rule_id`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []*core.CorrelationRule
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		var rule core.CorrelationRule
		if err := json.Unmarshal([]byte(doc), &rule); err != nil {
			return nil, fmt.Errorf("decode rule document: %w", err)
		}
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// SaveIndicators upserts the given indicators.
func (s *SQLite) SaveIndicators(indicators []*threat.Indicator) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin indicators transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.Stmt(s.upsertIndicator)
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, ind := range indicators {
		doc, err := json.Marshal(ind)
		if err != nil {
			return fmt.Errorf("encode indicator %s: %w", ind.Value, err)
		}
		if _, err := stmt.Exec(ind.Value, ind.Type, string(doc), now); err != nil {
			return fmt.Errorf("save indicator %s: %w", ind.Value, err)
		}
	}
	return tx.Commit()
}

// LoadIndicators returns every persisted indicator, expired ones included.
// The in-memory store filters expiry on lookup.
func (s *SQLite) LoadIndicators() ([]*threat.Indicator, error) {
	rows, err := s.db.Query(`SELECT document FROM threat_indicators ORDER BY value`)
	if err != nil {
		return nil, fmt.Errorf("query indicators: %w", err)
	}
	defer rows.Close()

	var indicators []*threat.Indicator
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan indicator row: %w", err)
		}
		var ind threat.Indicator
		if err := json.Unmarshal([]byte(doc), &ind); err != nil {
			return nil, fmt.Errorf("decode indicator document: %w", err)
		}
		indicators = append(indicators, &ind)
	}
	return indicators, rows.Err()
}

// Close releases the prepared statements and closes the database.
func (s *SQLite) Close() error {
	if s.upsertRule != nil {
		_ = s.upsertRule.Close()
	}
	if s.upsertIndicator != nil {
		_ = s.upsertIndicator.Close()
	}
	return s.db.Close()
}
