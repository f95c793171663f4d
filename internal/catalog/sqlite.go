// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	"github.com/streamwarden/streamwarden/internal/model"
)

const schemaVersion = 1

// SqliteCatalog implements Catalog on a local SQLite database.
type SqliteCatalog struct {
	DB *sql.DB
}

// Open initializes the catalog database with WAL mode and busy timeout
// applied to every pooled connection via DSN pragmas.
func Open(dbPath string) (*SqliteCatalog, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open failed: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: ping failed: %w", err)
	}

	c := &SqliteCatalog{DB: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: migration failed: %w", err)
	}
	return c, nil
}

func (c *SqliteCatalog) Close() error {
	return c.DB.Close()
}

func (c *SqliteCatalog) migrate() error {
	var current int
	if err := c.DB.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS channels (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		source_url TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS stream_sources (
		id INTEGER PRIMARY KEY,
		channel_id INTEGER NOT NULL REFERENCES channels(id),
		url TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		health TEXT NOT NULL DEFAULT 'active',
		failure_count INTEGER NOT NULL DEFAULT 0,
		stall_count INTEGER NOT NULL DEFAULT 0,
		last_checked_at INTEGER,
		last_error_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sources_channel ON stream_sources(channel_id, priority);
	CREATE TABLE IF NOT EXISTS subscription_profiles (
		id INTEGER PRIMARY KEY,
		account_id INTEGER NOT NULL,
		max_concurrent INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS stream_sessions (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		resource_id INTEGER NOT NULL,
		channel_id INTEGER NOT NULL,
		active_source_id INTEGER NOT NULL DEFAULT 0,
		profile_id INTEGER NOT NULL DEFAULT 0,
		pid INTEGER NOT NULL DEFAULT 0,
		last_segment INTEGER NOT NULL DEFAULT -1,
		last_segment_at INTEGER,
		started_at INTEGER NOT NULL,
		last_activity_at INTEGER,
		terminal INTEGER NOT NULL DEFAULT 0
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *SqliteCatalog) GetChannel(ctx context.Context, id int64) (*model.Channel, error) {
	var ch model.Channel
	err := c.DB.QueryRowContext(ctx,
		"SELECT id, name, source_url FROM channels WHERE id = ?", id).
		Scan(&ch.ID, &ch.Name, &ch.SourceURL)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

const sourceColumns = "id, channel_id, url, priority, enabled, health, failure_count, stall_count, last_checked_at, last_error_at"

func scanSource(row interface{ Scan(...any) error }) (model.StreamSource, error) {
	var s model.StreamSource
	var enabled int
	var checked, errAt sql.NullInt64
	err := row.Scan(&s.ID, &s.ChannelID, &s.URL, &s.Priority, &enabled, &s.Health,
		&s.FailureCount, &s.StallCount, &checked, &errAt)
	if err != nil {
		return model.StreamSource{}, err
	}
	s.Enabled = enabled != 0
	if checked.Valid {
		s.LastCheckedAt = time.Unix(checked.Int64, 0)
	}
	if errAt.Valid {
		s.LastErrorAt = time.Unix(errAt.Int64, 0)
	}
	return s, nil
}

func (c *SqliteCatalog) SourcesForChannel(ctx context.Context, channelID int64) ([]model.StreamSource, error) {
	rows, err := c.DB.QueryContext(ctx,
		"SELECT "+sourceColumns+" FROM stream_sources WHERE channel_id = ? ORDER BY priority ASC, id ASC", channelID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.StreamSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *SqliteCatalog) GetSource(ctx context.Context, id int64) (*model.StreamSource, error) {
	row := c.DB.QueryRowContext(ctx, "SELECT "+sourceColumns+" FROM stream_sources WHERE id = ?", id)
	s, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *SqliteCatalog) GetProfile(ctx context.Context, id int64) (*model.SubscriptionProfile, error) {
	var p model.SubscriptionProfile
	var active int
	err := c.DB.QueryRowContext(ctx,
		"SELECT id, account_id, max_concurrent, active FROM subscription_profiles WHERE id = ?", id).
		Scan(&p.ID, &p.AccountID, &p.MaxConcurrent, &active)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Active = active != 0
	return &p, nil
}

func (c *SqliteCatalog) CreateSession(ctx context.Context, s *model.StreamSession) error {
	_, err := c.DB.ExecContext(ctx, `
		INSERT INTO stream_sessions
		(id, kind, resource_id, channel_id, active_source_id, profile_id, pid, last_segment, started_at, last_activity_at, terminal)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		s.ID, string(s.Key.Kind), s.Key.ID, s.ChannelID, s.ActiveSourceID, s.ProfileID,
		s.PID, s.LastSegment, s.StartedAt.Unix(), s.StartedAt.Unix())
	return err
}

func scanSession(row interface{ Scan(...any) error }) (model.StreamSession, error) {
	var s model.StreamSession
	var kind string
	var segAt, actAt sql.NullInt64
	var started int64
	var terminal int
	err := row.Scan(&s.ID, &kind, &s.Key.ID, &s.ChannelID, &s.ActiveSourceID, &s.ProfileID,
		&s.PID, &s.LastSegment, &segAt, &started, &actAt, &terminal)
	if err != nil {
		return model.StreamSession{}, err
	}
	s.Key.Kind = model.ResourceKind(kind)
	s.StartedAt = time.Unix(started, 0)
	if segAt.Valid {
		s.LastSegmentAt = time.Unix(segAt.Int64, 0)
	}
	if actAt.Valid {
		s.LastActivityAt = time.Unix(actAt.Int64, 0)
	}
	s.Terminal = terminal != 0
	return s, nil
}

const sessionColumns = "id, kind, resource_id, channel_id, active_source_id, profile_id, pid, last_segment, last_segment_at, started_at, last_activity_at, terminal"

func (c *SqliteCatalog) GetSession(ctx context.Context, id string) (*model.StreamSession, error) {
	row := c.DB.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM stream_sessions WHERE id = ?", id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *SqliteCatalog) ListActiveSessions(ctx context.Context) ([]model.StreamSession, error) {
	rows, err := c.DB.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM stream_sessions WHERE terminal = 0 ORDER BY started_at ASC")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.StreamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *SqliteCatalog) SetSessionSource(ctx context.Context, id string, sourceID int64, pid int) error {
	res, err := c.DB.ExecContext(ctx, `
		UPDATE stream_sessions
		SET active_source_id = ?, pid = ?, last_segment = -1, last_segment_at = NULL, last_activity_at = ?
		WHERE id = ?`, sourceID, pid, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (c *SqliteCatalog) TouchSessionSegment(ctx context.Context, id string, segment int64, at time.Time) error {
	res, err := c.DB.ExecContext(ctx, `
		UPDATE stream_sessions
		SET last_segment = ?, last_segment_at = ?, last_activity_at = ?
		WHERE id = ?`, segment, at.Unix(), at.Unix(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (c *SqliteCatalog) MarkSessionTerminal(ctx context.Context, id string) error {
	res, err := c.DB.ExecContext(ctx,
		"UPDATE stream_sessions SET terminal = 1, pid = 0, last_activity_at = ? WHERE id = ?",
		time.Now().Unix(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (c *SqliteCatalog) DeleteSession(ctx context.Context, id string) error {
	_, err := c.DB.ExecContext(ctx, "DELETE FROM stream_sessions WHERE id = ?", id)
	return err
}

func (c *SqliteCatalog) MarkSourceProblem(ctx context.Context, sourceID int64, kind ProblemKind, at time.Time) error {
	column := "failure_count"
	if kind == ProblemStall {
		column = "stall_count"
	}
	res, err := c.DB.ExecContext(ctx, fmt.Sprintf(`
		UPDATE stream_sources
		SET health = ?, %s = %s + 1, last_error_at = ?, last_checked_at = ?
		WHERE id = ?`, column, column),
		string(model.HealthProblematic), at.Unix(), at.Unix(), sourceID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (c *SqliteCatalog) MarkSourceRecovered(ctx context.Context, sourceID int64, at time.Time) error {
	res, err := c.DB.ExecContext(ctx, `
		UPDATE stream_sources
		SET health = ?, failure_count = 0, stall_count = 0, last_checked_at = ?
		WHERE id = ?`,
		string(model.HealthRecovered), at.Unix(), sourceID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (c *SqliteCatalog) TouchSourceChecked(ctx context.Context, sourceID int64, at time.Time) error {
	res, err := c.DB.ExecContext(ctx,
		"UPDATE stream_sources SET last_checked_at = ? WHERE id = ?", at.Unix(), sourceID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (c *SqliteCatalog) ProblematicSources(ctx context.Context, checkedBefore time.Time) ([]model.StreamSource, error) {
	rows, err := c.DB.QueryContext(ctx, `
		SELECT `+sourceColumns+` FROM stream_sources
		WHERE health = ? AND (last_checked_at IS NULL OR last_checked_at < ?)
		ORDER BY last_checked_at ASC`,
		string(model.HealthProblematic), checkedBefore.Unix())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.StreamSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
