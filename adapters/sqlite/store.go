// Package sqlite provides an embedded SQLite Storage built on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"wellnesskit/adapters/sqlite/migrations"
	"wellnesskit/core"
)

// Store persists activities, profiles and achievements in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open opens a SQLite store at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; RecordActivity relies on its transaction being exclusive
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) PutActivity(ctx context.Context, a core.Activity) (core.Activity, error) {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO activities (id, name, category, xp_value, is_archived) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    category = excluded.category,
    xp_value = excluded.xp_value,
    is_archived = excluded.is_archived`,
		int64(a.ID), a.Name, a.Category, a.XPValue, a.Archived)
	if err != nil {
		return core.Activity{}, classify("put activity", err)
	}
	return a, nil
}

func (s *Store) GetActivity(ctx context.Context, id core.ActivityID) (core.Activity, error) {
	return getActivity(ctx, s.sqlDB, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getActivity(ctx context.Context, q queryer, id core.ActivityID) (core.Activity, error) {
	var a core.Activity
	err := q.QueryRowContext(ctx,
		`SELECT id, name, category, xp_value, is_archived FROM activities WHERE id = ?`, int64(id),
	).Scan(&a.ID, &a.Name, &a.Category, &a.XPValue, &a.Archived)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Activity{}, core.ErrActivityNotFound
	}
	if err != nil {
		return core.Activity{}, classify("get activity", err)
	}
	return a, nil
}

// RecordActivity inserts the record (the award_activity_xp trigger credits
// the activity XP), credits bonusXP and recomputes the level, all in one
// transaction.
func (s *Store) RecordActivity(ctx context.Context, rec core.ActivityRecord, bonusXP int64) (core.ActivityRecord, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return core.ActivityRecord{}, classify("begin record", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := getActivity(ctx, tx, rec.ActivityID); err != nil {
		return core.ActivityRecord{}, err
	}
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.DateOccurred = core.DateOf(rec.DateOccurred)

	if _, err := tx.ExecContext(ctx, `
INSERT INTO users (id, display_name, updated_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE users.display_name END,
    updated_at = excluded.updated_at`,
		string(rec.UserID), rec.DisplayName, toMillis(now)); err != nil {
		return core.ActivityRecord{}, classify("upsert user", err)
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO activity_records (user_id, activity_id, note, date_occurred, created_at)
VALUES (?, ?, ?, ?, ?)`,
		string(rec.UserID), int64(rec.ActivityID), rec.Note,
		rec.DateOccurred.Format(core.DateLayout), toMillis(rec.CreatedAt))
	if err != nil {
		return core.ActivityRecord{}, classify("insert record", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return core.ActivityRecord{}, classify("record id", err)
	}

	var total int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE users SET total_xp = total_xp + ? WHERE id = ? RETURNING total_xp`,
		bonusXP, string(rec.UserID),
	).Scan(&total); err != nil {
		return core.ActivityRecord{}, classify("credit bonus", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET level = ? WHERE id = ?`, core.LevelForXP(total), string(rec.UserID),
	); err != nil {
		return core.ActivityRecord{}, classify("update level", err)
	}
	if err := tx.Commit(); err != nil {
		return core.ActivityRecord{}, classify("commit record", err)
	}
	return rec, nil
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.Profile, error) {
	var (
		p       core.Profile
		updated int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, display_name, total_xp, level, updated_at FROM users WHERE id = ?`, string(user),
	).Scan(&p.UserID, &p.DisplayName, &p.TotalXP, &p.Level, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Profile{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.Profile{}, classify("get profile", err)
	}
	p.UpdatedAt = fromMillis(updated)
	return p, nil
}

func (s *Store) GetLevel(ctx context.Context, user core.UserID) (int64, bool, error) {
	var level int64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT level FROM users WHERE id = ?`, string(user)).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify("get level", err)
	}
	return level, true, nil
}

const achievementColumns = `id, code, name, description, xp_value, is_active`

func scanAchievement(sc interface{ Scan(...any) error }) (core.Achievement, error) {
	var a core.Achievement
	err := sc.Scan(&a.ID, &a.Code, &a.Name, &a.Description, &a.XPValue, &a.Active)
	return a, err
}

func (s *Store) FindByCode(ctx context.Context, code string) (*core.Achievement, error) {
	a, err := scanAchievement(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+achievementColumns+` FROM achievements WHERE code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find achievement", err)
	}
	return &a, nil
}

func (s *Store) UpsertByCode(ctx context.Context, def core.Definition) (core.Achievement, error) {
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO achievements (code, name, description, xp_value, is_active) VALUES (?, ?, ?, ?, 1)
ON CONFLICT(code) DO NOTHING`,
		def.Code, def.Name, def.Description, def.XPValue); err != nil {
		return core.Achievement{}, classify("upsert achievement", err)
	}
	a, err := s.FindByCode(ctx, def.Code)
	if err != nil {
		return core.Achievement{}, err
	}
	if a == nil {
		return core.Achievement{}, fmt.Errorf("achievement %s vanished after upsert", def.Code)
	}
	return *a, nil
}

func (s *Store) ListAchievements(ctx context.Context) ([]core.Achievement, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+achievementColumns+` FROM achievements ORDER BY id`)
	if err != nil {
		return nil, classify("list achievements", err)
	}
	defer rows.Close()
	var out []core.Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, classify("scan achievement", err)
		}
		out = append(out, a)
	}
	return out, classify("list achievements", rows.Err())
}

func (s *Store) HasUnlock(ctx context.Context, user core.UserID, achievementID int64) (bool, error) {
	var found int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM user_achievements WHERE user_id = ? AND achievement_id = ?`, string(user), achievementID,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("check unlock", err)
	}
	return true, nil
}

func (s *Store) CreateUnlock(ctx context.Context, user core.UserID, achievementID int64, metadata map[string]any) (core.Unlock, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return core.Unlock{}, fmt.Errorf("encode unlock metadata: %w", err)
	}
	u := core.Unlock{UserID: user, AchievementID: achievementID, Metadata: metadata, EarnedAt: s.now().UTC()}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO user_achievements (user_id, achievement_id, metadata, earned_at) VALUES (?, ?, ?, ?)`,
		string(user), achievementID, string(meta), toMillis(u.EarnedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Unlock{}, core.ErrDuplicateUnlock
		}
		return core.Unlock{}, classify("create unlock", err)
	}
	return u, nil
}

func (s *Store) ListUnlocks(ctx context.Context, user core.UserID) ([]core.Unlock, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT achievement_id, metadata, earned_at FROM user_achievements
WHERE user_id = ? ORDER BY earned_at, achievement_id`, string(user))
	if err != nil {
		return nil, classify("list unlocks", err)
	}
	defer rows.Close()
	var out []core.Unlock
	for rows.Next() {
		var (
			u      = core.Unlock{UserID: user}
			meta   string
			earned int64
		)
		if err := rows.Scan(&u.AchievementID, &meta, &earned); err != nil {
			return nil, classify("scan unlock", err)
		}
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &u.Metadata); err != nil {
				return nil, fmt.Errorf("decode unlock metadata: %w", err)
			}
		}
		u.EarnedAt = fromMillis(earned)
		out = append(out, u)
	}
	return out, classify("list unlocks", rows.Err())
}

func (s *Store) ActiveDates(ctx context.Context, user core.UserID, from, to time.Time) ([]time.Time, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT DISTINCT date_occurred FROM activity_records
WHERE user_id = ? AND date_occurred BETWEEN ? AND ?
ORDER BY date_occurred`,
		string(user), core.DateOf(from).Format(core.DateLayout), core.DateOf(to).Format(core.DateLayout))
	if err != nil {
		return nil, classify("active dates", err)
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, classify("scan date", err)
		}
		d, err := core.ParseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("stored date %q: %w", raw, err)
		}
		out = append(out, d)
	}
	return out, classify("active dates", rows.Err())
}

func (s *Store) DistinctRecorded(ctx context.Context, user core.UserID, dim core.Dimension) (int, error) {
	col := "r.activity_id"
	if dim == core.DimensionCategories {
		col = "a.category"
	}
	var n int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(DISTINCT `+col+`) FROM activity_records r
JOIN activities a ON a.id = r.activity_id
WHERE r.user_id = ? AND a.is_archived = 0`, string(user)).Scan(&n)
	if err != nil {
		return 0, classify("distinct recorded", err)
	}
	return n, nil
}

func (s *Store) CatalogSize(ctx context.Context, dim core.Dimension) (int, error) {
	expr := "COUNT(*)"
	if dim == core.DimensionCategories {
		expr = "COUNT(DISTINCT category)"
	}
	var n int
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+expr+` FROM activities WHERE is_archived = 0`).Scan(&n); err != nil {
		return 0, classify("catalog size", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// classify wraps err with op and marks connection-level failures as
// core.ErrUnavailable. A nil err stays nil.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if unavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, core.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func unavailable(err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED, sqlite3lib.SQLITE_IOERR,
			sqlite3lib.SQLITE_CANTOPEN, sqlite3lib.SQLITE_FULL, sqlite3lib.SQLITE_NOTADB:
			return true
		}
	}
	return strings.Contains(err.Error(), "database is closed")
}
