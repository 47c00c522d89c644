package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okian/psymetric/internal/domain/model"
)

// SQLite-backed Store implementation for durable deployments.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	game_type     TEXT NOT NULL,
	status        TEXT NOT NULL,
	start_time    TEXT NOT NULL,
	end_time      TEXT,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	consent       INTEGER NOT NULL DEFAULT 0,
	device_info   TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS events (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	event_type      TEXT NOT NULL,
	name            TEXT NOT NULL,
	client_event_id TEXT NOT NULL,
	dedupe_key      TEXT NOT NULL,
	timestamp       TEXT NOT NULL,
	timestamp_ms    INTEGER NOT NULL,
	payload         TEXT NOT NULL,
	status          TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS events_identity ON events(session_id, dedupe_key);
CREATE INDEX IF NOT EXISTS events_session_ts ON events(session_id, timestamp_ms);

CREATE TABLE IF NOT EXISTS metrics (
	session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	game_type     TEXT NOT NULL,
	value         REAL NOT NULL,
	sample_size   INTEGER NOT NULL,
	method        TEXT NOT NULL,
	ci_lower      REAL,
	ci_upper      REAL,
	data_version  TEXT NOT NULL,
	calculated_at TEXT NOT NULL,
	PRIMARY KEY (session_id, name)
);

CREATE TABLE IF NOT EXISTS profiles (
	session_id         TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
	id                 TEXT NOT NULL,
	user_id            TEXT NOT NULL,
	traits             TEXT NOT NULL,
	overall_confidence REAL NOT NULL,
	validation         TEXT,
	created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS profiles_user ON profiles(user_id, created_at);
`

// OpenSQLStore opens or creates the SQLite database at path and applies
// the schema. WAL mode keeps concurrent readers off the write path.
func OpenSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// transient wraps unexpected driver failures so callers can retry them.
func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
}

func (s *SQLStore) CreateSession(ctx context.Context, sess model.Session) error {
	device, err := json.Marshal(sess.DeviceInfo)
	if err != nil {
		return fmt.Errorf("encode device info: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, game_type, status, start_time, end_time, duration_ms, consent, device_info)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.UserID, string(sess.GameType), string(sess.Status),
		sess.StartTime.UTC().Format(time.RFC3339Nano), nullTime(sess.EndTime),
		sess.DurationMS, boolToInt(sess.Consent), string(device))
	if err != nil {
		return transient("create session", err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (model.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, game_type, status, start_time, end_time, duration_ms, consent, device_info
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *SQLStore) UpdateSession(ctx context.Context, sess model.Session) error {
	device, err := json.Marshal(sess.DeviceInfo)
	if err != nil {
		return fmt.Errorf("encode device info: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET user_id = ?, game_type = ?, status = ?, start_time = ?, end_time = ?, duration_ms = ?, consent = ?, device_info = ?
		WHERE id = ?`,
		sess.UserID, string(sess.GameType), string(sess.Status),
		sess.StartTime.UTC().Format(time.RFC3339Nano), nullTime(sess.EndTime),
		sess.DurationMS, boolToInt(sess.Consent), string(device), sess.ID)
	if err != nil {
		return transient("update session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return transient("update session", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLStore) AppendEvent(ctx context.Context, e model.Event) (bool, error) {
	if _, err := s.GetSession(ctx, e.SessionID); err != nil {
		return false, err
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return false, fmt.Errorf("encode payload: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, session_id, event_type, name, client_event_id, dedupe_key, timestamp, timestamp_ms, payload, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, dedupe_key) DO NOTHING`,
		e.ID, e.SessionID, string(e.Type), e.Name, e.ClientEventID, dedupeKey(e),
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.TimestampMS, string(payload), string(e.Status))
	if err != nil {
		return false, transient("append event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, transient("append event", err)
	}
	return n > 0, nil
}

func (s *SQLStore) EventsBySession(ctx context.Context, sessionID string) ([]model.Event, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, event_type, name, client_event_id, timestamp, timestamp_ms, payload, status
		FROM events WHERE session_id = ?
		ORDER BY timestamp_ms ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, transient("query events", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			e        model.Event
			typ      string
			status   string
			ts       string
			payload  string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &typ, &e.Name, &e.ClientEventID, &ts, &e.TimestampMS, &payload, &status); err != nil {
			return nil, transient("scan event", err)
		}
		e.Type = model.EventType(typ)
		e.Status = model.ValidationStatus(status)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("decode event timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("iterate events", err)
	}
	return out, nil
}

func (s *SQLStore) UpsertMetric(ctx context.Context, m model.Metric) error {
	if _, err := s.GetSession(ctx, m.SessionID); err != nil {
		return err
	}
	var lower, upper sql.NullFloat64
	if m.CI != nil {
		lower = sql.NullFloat64{Float64: m.CI.Lower, Valid: true}
		upper = sql.NullFloat64{Float64: m.CI.Upper, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metrics (session_id, name, game_type, value, sample_size, method, ci_lower, ci_upper, data_version, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, name) DO UPDATE SET
			game_type = excluded.game_type,
			value = excluded.value,
			sample_size = excluded.sample_size,
			method = excluded.method,
			ci_lower = excluded.ci_lower,
			ci_upper = excluded.ci_upper,
			data_version = excluded.data_version,
			calculated_at = excluded.calculated_at`,
		m.SessionID, m.Name, string(m.GameType), m.Value, m.SampleSize, m.Method,
		lower, upper, m.DataVersion, m.CalculatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return transient("upsert metric", err)
	}
	return nil
}

func (s *SQLStore) MetricsBySession(ctx context.Context, sessionID string) ([]model.Metric, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, name, game_type, value, sample_size, method, ci_lower, ci_upper, data_version, calculated_at
		FROM metrics WHERE session_id = ?
		ORDER BY name ASC`, sessionID)
	if err != nil {
		return nil, transient("query metrics", err)
	}
	defer rows.Close()

	var out []model.Metric
	for rows.Next() {
		var (
			m            model.Metric
			game         string
			lower, upper sql.NullFloat64
			at           string
		)
		if err := rows.Scan(&m.SessionID, &m.Name, &game, &m.Value, &m.SampleSize, &m.Method, &lower, &upper, &m.DataVersion, &at); err != nil {
			return nil, transient("scan metric", err)
		}
		m.GameType = model.GameType(game)
		if lower.Valid && upper.Valid {
			m.CI = &model.Interval{Lower: lower.Float64, Upper: upper.Float64}
		}
		if m.CalculatedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("decode metric timestamp: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("iterate metrics", err)
	}
	return out, nil
}

func (s *SQLStore) UpsertProfile(ctx context.Context, p model.Profile) error {
	if _, err := s.GetSession(ctx, p.SessionID); err != nil {
		return err
	}
	traits, err := json.Marshal(p.Traits)
	if err != nil {
		return fmt.Errorf("encode traits: %w", err)
	}
	var validation sql.NullString
	if p.Validation != nil {
		raw, err := json.Marshal(p.Validation)
		if err != nil {
			return fmt.Errorf("encode validation: %w", err)
		}
		validation = sql.NullString{String: string(raw), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (session_id, id, user_id, traits, overall_confidence, validation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			id = excluded.id,
			user_id = excluded.user_id,
			traits = excluded.traits,
			overall_confidence = excluded.overall_confidence,
			validation = excluded.validation,
			created_at = excluded.created_at`,
		p.SessionID, p.ID, p.UserID, string(traits), p.OverallConfidence,
		validation, p.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return transient("upsert profile", err)
	}
	return nil
}

func (s *SQLStore) ProfileBySession(ctx context.Context, sessionID string) (model.Profile, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return model.Profile{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, id, user_id, traits, overall_confidence, validation, created_at
		FROM profiles WHERE session_id = ?`, sessionID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, ErrProfileNotFound
	}
	return p, err
}

func (s *SQLStore) LatestProfileByUser(ctx context.Context, userID string, since time.Time, excludeSessionID string) (model.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, id, user_id, traits, overall_confidence, validation, created_at
		FROM profiles
		WHERE user_id = ? AND created_at >= ? AND session_id <> ?
		ORDER BY created_at DESC
		LIMIT 1`, userID, since.UTC().Format(time.RFC3339Nano), excludeSessionID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, ErrProfileNotFound
	}
	return p, err
}

func (s *SQLStore) SessionsNeedingExtraction(ctx context.Context) ([]string, error) {
	return s.sessionIDs(ctx, `
		SELECT s.id FROM sessions s
		WHERE EXISTS (SELECT 1 FROM events e WHERE e.session_id = s.id)
		AND NOT EXISTS (SELECT 1 FROM metrics m WHERE m.session_id = s.id)
		ORDER BY s.id`)
}

func (s *SQLStore) SessionsNeedingInference(ctx context.Context) ([]string, error) {
	return s.sessionIDs(ctx, `
		SELECT s.id FROM sessions s
		WHERE EXISTS (SELECT 1 FROM metrics m WHERE m.session_id = s.id)
		AND NOT EXISTS (SELECT 1 FROM profiles p WHERE p.session_id = s.id)
		ORDER BY s.id`)
}

func (s *SQLStore) sessionIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, transient("list sessions", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, transient("scan session id", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("iterate session ids", err)
	}
	return out, nil
}

func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return transient("delete session", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return transient("delete session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return transient("delete session", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	for _, q := range []string{
		`DELETE FROM events WHERE session_id = ?`,
		`DELETE FROM metrics WHERE session_id = ?`,
		`DELETE FROM profiles WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return transient("delete session", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return transient("delete session", err)
	}
	return nil
}

func (s *SQLStore) CountSessions(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0
	}
	return n
}

func (s *SQLStore) CountEvents(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0
	}
	return n
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (model.Session, error) {
	var (
		sess       model.Session
		game       string
		status     string
		start      string
		end        sql.NullString
		consent    int
		deviceInfo string
	)
	err := row.Scan(&sess.ID, &sess.UserID, &game, &status, &start, &end, &sess.DurationMS, &consent, &deviceInfo)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, transient("scan session", err)
	}
	sess.GameType = model.GameType(game)
	sess.Status = model.SessionStatus(status)
	sess.Consent = consent != 0
	if sess.StartTime, err = time.Parse(time.RFC3339Nano, start); err != nil {
		return model.Session{}, fmt.Errorf("decode start time: %w", err)
	}
	if end.Valid {
		t, err := time.Parse(time.RFC3339Nano, end.String)
		if err != nil {
			return model.Session{}, fmt.Errorf("decode end time: %w", err)
		}
		sess.EndTime = &t
	}
	if err := json.Unmarshal([]byte(deviceInfo), &sess.DeviceInfo); err != nil {
		return model.Session{}, fmt.Errorf("decode device info: %w", err)
	}
	return sess, nil
}

func scanProfile(row rowScanner) (model.Profile, error) {
	var (
		p          model.Profile
		traits     string
		validation sql.NullString
		createdAt  string
	)
	err := row.Scan(&p.SessionID, &p.ID, &p.UserID, &traits, &p.OverallConfidence, &validation, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Profile{}, err
		}
		return model.Profile{}, transient("scan profile", err)
	}
	if err := json.Unmarshal([]byte(traits), &p.Traits); err != nil {
		return model.Profile{}, fmt.Errorf("decode traits: %w", err)
	}
	if validation.Valid {
		p.Validation = &model.ValidationResult{}
		if err := json.Unmarshal([]byte(validation.String), p.Validation); err != nil {
			return model.Profile{}, fmt.Errorf("decode validation: %w", err)
		}
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return model.Profile{}, fmt.Errorf("decode created at: %w", err)
	}
	return p, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
