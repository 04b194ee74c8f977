// Package storage persists validated datasheets and run summaries in
// SQLite. Records are upserted by natural identity: name + faction +
// variant flags.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS datasheets (
  id                INTEGER PRIMARY KEY,
  logical_id        TEXT NOT NULL,
  name              TEXT NOT NULL,
  faction           TEXT NOT NULL,
  legends           INTEGER NOT NULL CHECK (legends IN (0,1)),
  forge_world       INTEGER NOT NULL CHECK (forge_world IN (0,1)),
  url               TEXT NOT NULL,
  movement          TEXT,
  toughness         INTEGER,
  save              TEXT,
  invuln_save       TEXT,
  wounds            INTEGER,
  leadership        INTEGER,
  objective_control INTEGER,
  points            INTEGER,
  weapon_count      INTEGER NOT NULL DEFAULT 0,
  keywords          TEXT,
  abilities         TEXT,
  quality_score     INTEGER NOT NULL DEFAULT 0,
  quality_flags     TEXT,
  issues            TEXT,
  content_hash      TEXT,
  first_seen_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  last_seen_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(name, faction, legends, forge_world)
);
CREATE INDEX IF NOT EXISTS idx_datasheets_faction ON datasheets(faction);
CREATE INDEX IF NOT EXISTS idx_datasheets_logical ON datasheets(logical_id);
CREATE TABLE IF NOT EXISTS datasheet_changes (
  id           INTEGER PRIMARY KEY,
  occurred_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  logical_id   TEXT NOT NULL,
  name         TEXT NOT NULL,
  faction      TEXT NOT NULL,
  change_type  TEXT NOT NULL CHECK (change_type IN ('added','updated'))
);
CREATE INDEX IF NOT EXISTS idx_changes_time ON datasheet_changes(occurred_at);
CREATE TABLE IF NOT EXISTS runs (
  id                INTEGER PRIMARY KEY,
  started_at        DATETIME NOT NULL,
  finished_at       DATETIME NOT NULL,
  processed         INTEGER NOT NULL,
  failed            INTEGER NOT NULL,
  skipped           INTEGER NOT NULL,
  quality_histogram TEXT,
  errors            TEXT
);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// UpsertDatasheet inserts or updates one record by natural identity
// and logs the change. Returns "added", "updated", or "" when the
// stored record already matched this content hash.
func (d *DB) UpsertDatasheet(ctx context.Context, r Record) (changeType string, err error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existingHash sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT content_hash FROM datasheets WHERE name = ? AND faction = ? AND legends = ? AND forge_world = ?`,
		r.Name, r.Faction, boolToInt(r.Legends), boolToInt(r.ForgeWorld),
	).Scan(&existingHash)

	switch {
	case err == sql.ErrNoRows:
		err = nil
		_, err = tx.ExecContext(ctx, `INSERT INTO datasheets
(logical_id, name, faction, legends, forge_world, url, movement, toughness, save, invuln_save, wounds, leadership, objective_control, points, weapon_count, keywords, abilities, quality_score, quality_flags, issues, content_hash, first_seen_at, last_seen_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)`,
			r.LogicalID, r.Name, r.Faction, boolToInt(r.Legends), boolToInt(r.ForgeWorld), r.URL,
			nullIfEmpty(r.Movement), r.Toughness, nullIfEmpty(r.Save), nullIfEmpty(r.InvulnSave),
			r.Wounds, r.Leadership, r.ObjectiveControl, r.Points, r.WeaponCount,
			marshalList(r.Keywords), marshalList(r.Abilities),
			r.QualityScore, marshalList(r.QualityFlags), nullIfEmpty(r.IssuesJSON), r.ContentHash)
		if err != nil {
			return "", err
		}
		changeType = "added"
	case err != nil:
		return "", err
	default:
		_, err = tx.ExecContext(ctx, `UPDATE datasheets SET
logical_id = ?, url = ?, movement = ?, toughness = ?, save = ?, invuln_save = ?, wounds = ?, leadership = ?, objective_control = ?, points = ?, weapon_count = ?, keywords = ?, abilities = ?, quality_score = ?, quality_flags = ?, issues = ?, content_hash = ?, last_seen_at = CURRENT_TIMESTAMP
WHERE name = ? AND faction = ? AND legends = ? AND forge_world = ?`,
			r.LogicalID, r.URL, nullIfEmpty(r.Movement), r.Toughness, nullIfEmpty(r.Save), nullIfEmpty(r.InvulnSave),
			r.Wounds, r.Leadership, r.ObjectiveControl, r.Points, r.WeaponCount,
			marshalList(r.Keywords), marshalList(r.Abilities),
			r.QualityScore, marshalList(r.QualityFlags), nullIfEmpty(r.IssuesJSON), r.ContentHash,
			r.Name, r.Faction, boolToInt(r.Legends), boolToInt(r.ForgeWorld))
		if err != nil {
			return "", err
		}
		if existingHash.Valid && existingHash.String != r.ContentHash {
			changeType = "updated"
		}
	}

	if changeType != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO datasheet_changes(logical_id, name, faction, change_type) VALUES(?,?,?,?)`,
			r.LogicalID, r.Name, r.Faction, changeType)
		if err != nil {
			return "", err
		}
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	return changeType, nil
}

// ListRecentChanges returns the most recent N change events.
func (d *DB) ListRecentChanges(ctx context.Context, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT occurred_at, logical_id, name, faction, change_type FROM datasheet_changes ORDER BY occurred_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var c Change
		var occurredAtStr string
		if err := rows.Scan(&occurredAtStr, &c.LogicalID, &c.Name, &c.Faction, &c.ChangeType); err != nil {
			return nil, err
		}
		// Parse SQLite CURRENT_TIMESTAMP format, then RFC3339.
		c.OccurredAt = parseSQLiteTime(occurredAtStr)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// FactionStats summarizes one faction's stored records.
type FactionStats struct {
	Faction    string
	SheetCount int
	AvgQuality float64
}

func (d *DB) GetStats(ctx context.Context) ([]FactionStats, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT faction, COUNT(*), AVG(quality_score)
		FROM datasheets
		GROUP BY faction
		ORDER BY faction;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []FactionStats
	for rows.Next() {
		var s FactionStats
		if err := rows.Scan(&s.Faction, &s.SheetCount, &s.AvgQuality); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// SaveRunSummary persists the end-of-run report.
func (d *DB) SaveRunSummary(ctx context.Context, s RunSummary) error {
	histJSON, err := json.Marshal(s.QualityHistogram)
	if err != nil {
		return err
	}
	errsJSON, err := json.Marshal(s.Errors)
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx,
		`INSERT INTO runs(started_at, finished_at, processed, failed, skipped, quality_histogram, errors) VALUES(?,?,?,?,?,?,?)`,
		s.StartedAt.UTC(), s.FinishedAt.UTC(), s.Processed, s.Failed, s.Skipped, string(histJSON), string(errsJSON))
	return err
}

func parseSQLiteTime(s string) time.Time {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func marshalList(list []string) interface{} {
	if len(list) == 0 {
		return nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil
	}
	return string(data)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
