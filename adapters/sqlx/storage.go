// Package sqlx provides a Postgres or MySQL Storage built on jmoiron/sqlx.
package sqlx

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"wellnesskit/core"
)

// Driver names a supported SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds SQL connection settings.
type Config struct {
	Driver          Driver        `json:"driver" yaml:"driver" env:"DRIVER"`
	DSN             string        `json:"dsn" yaml:"dsn" env:"DSN"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// AutoMigrate runs EnsureSchema on New.
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// DefaultConfig returns pool defaults for driver.
func DefaultConfig(d Driver) Config {
	return Config{
		Driver:          d,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// Store implements engine.Storage on a SQL database.
type Store struct {
	db     *sqlx.DB
	driver Driver
	now    func() time.Time
}

// New connects using cfg and optionally creates the schema.
func New(cfg Config) (*Store, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("sql dsn is required")
	}
	db, err := sqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	s := NewWithDB(db, cfg.Driver)
	if cfg.AutoMigrate {
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing handle (useful for testing).
func NewWithDB(db *sqlx.DB, d Driver) *Store {
	return &Store{db: db, driver: d, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

// q rebinds ? placeholders for the active dialect.
func (s *Store) q(query string) string { return s.db.Rebind(query) }

type activityRow struct {
	ID       int64  `db:"id"`
	Name     string `db:"name"`
	Category string `db:"category"`
	XPValue  int64  `db:"xp_value"`
	Archived bool   `db:"is_archived"`
}

func (r activityRow) toCore() core.Activity {
	return core.Activity{ID: core.ActivityID(r.ID), Name: r.Name, Category: r.Category, XPValue: r.XPValue, Archived: r.Archived}
}

type achievementRow struct {
	ID          int64  `db:"id"`
	Code        string `db:"code"`
	Name        string `db:"name"`
	Description string `db:"description"`
	XPValue     int64  `db:"xp_value"`
	Active      bool   `db:"is_active"`
}

func (r achievementRow) toCore() core.Achievement {
	return core.Achievement{ID: r.ID, Code: r.Code, Name: r.Name, Description: r.Description, XPValue: r.XPValue, Active: r.Active}
}

type unlockRow struct {
	AchievementID int64  `db:"achievement_id"`
	Metadata      string `db:"metadata"`
	EarnedAt      int64  `db:"earned_at"`
}

type profileRow struct {
	ID          string `db:"id"`
	DisplayName string `db:"display_name"`
	TotalXP     int64  `db:"total_xp"`
	Level       int64  `db:"level"`
	UpdatedAt   int64  `db:"updated_at"`
}

const (
	activityColumns    = `id, name, category, xp_value, is_archived`
	achievementColumns = `id, code, name, description, xp_value, is_active`
)

func (s *Store) PutActivity(ctx context.Context, a core.Activity) (core.Activity, error) {
	query := `INSERT INTO activities (id, name, category, xp_value, is_archived) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category,
    xp_value = EXCLUDED.xp_value, is_archived = EXCLUDED.is_archived`
	if s.driver == DriverMySQL {
		query = `INSERT INTO activities (id, name, category, xp_value, is_archived) VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE name = VALUES(name), category = VALUES(category),
    xp_value = VALUES(xp_value), is_archived = VALUES(is_archived)`
	}
	if _, err := s.db.ExecContext(ctx, s.q(query), int64(a.ID), a.Name, a.Category, a.XPValue, a.Archived); err != nil {
		return core.Activity{}, classify("put activity", err)
	}
	return a, nil
}

func (s *Store) GetActivity(ctx context.Context, id core.ActivityID) (core.Activity, error) {
	return s.getActivity(ctx, s.db, id)
}

func (s *Store) getActivity(ctx context.Context, q sqlx.QueryerContext, id core.ActivityID) (core.Activity, error) {
	var row activityRow
	err := sqlx.GetContext(ctx, q, &row, s.q(`SELECT `+activityColumns+` FROM activities WHERE id = ?`), int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Activity{}, core.ErrActivityNotFound
	}
	if err != nil {
		return core.Activity{}, classify("get activity", err)
	}
	return row.toCore(), nil
}

// RecordActivity creates the user row if missing, locks it, inserts the
// record and writes the new XP total and level in one transaction.
func (s *Store) RecordActivity(ctx context.Context, rec core.ActivityRecord, bonusXP int64) (core.ActivityRecord, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.ActivityRecord{}, classify("begin record", err)
	}
	defer func() { _ = tx.Rollback() }()

	activity, err := s.getActivity(ctx, tx, rec.ActivityID)
	if err != nil {
		return core.ActivityRecord{}, err
	}
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.DateOccurred = core.DateOf(rec.DateOccurred)

	// Ensure the row exists so FOR UPDATE always has something to lock and
	// concurrent first records serialise on it.
	ensure := `INSERT INTO users (id, display_name, total_xp, level, updated_at) VALUES (?, ?, 0, 1, ?) ON CONFLICT (id) DO NOTHING`
	if s.driver == DriverMySQL {
		ensure = `INSERT INTO users (id, display_name, total_xp, level, updated_at) VALUES (?, ?, 0, 1, ?) ON DUPLICATE KEY UPDATE id = id`
	}
	if _, err := tx.ExecContext(ctx, s.q(ensure), string(rec.UserID), rec.DisplayName, toMillis(now)); err != nil {
		return core.ActivityRecord{}, classify("ensure user", err)
	}

	var current int64
	if err := tx.GetContext(ctx, &current, s.q(`SELECT total_xp FROM users WHERE id = ? FOR UPDATE`), string(rec.UserID)); err != nil {
		return core.ActivityRecord{}, classify("lock user", err)
	}
	total, err := core.AddSafe(current, activity.XPValue+bonusXP)
	if err != nil {
		return core.ActivityRecord{}, err
	}
	level := core.LevelForXP(total)

	_, err = tx.ExecContext(ctx, s.q(`UPDATE users SET total_xp = ?, level = ?, updated_at = ?,
    display_name = CASE WHEN ? <> '' THEN ? ELSE display_name END
WHERE id = ?`), total, level, toMillis(now), rec.DisplayName, rec.DisplayName, string(rec.UserID))
	if err != nil {
		return core.ActivityRecord{}, classify("update user", err)
	}

	args := []any{string(rec.UserID), int64(rec.ActivityID), rec.Note, rec.DateOccurred.Format(core.DateLayout), toMillis(rec.CreatedAt)}
	insert := `INSERT INTO activity_records (user_id, activity_id, note, date_occurred, created_at) VALUES (?, ?, ?, ?, ?)`
	if s.driver == DriverMySQL {
		res, err := tx.ExecContext(ctx, insert, args...)
		if err != nil {
			return core.ActivityRecord{}, classify("insert record", err)
		}
		if rec.ID, err = res.LastInsertId(); err != nil {
			return core.ActivityRecord{}, classify("record id", err)
		}
	} else if err := tx.GetContext(ctx, &rec.ID, s.q(insert+` RETURNING id`), args...); err != nil {
		return core.ActivityRecord{}, classify("insert record", err)
	}

	if err := tx.Commit(); err != nil {
		return core.ActivityRecord{}, classify("commit record", err)
	}
	return rec, nil
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT id, display_name, total_xp, level, updated_at FROM users WHERE id = ?`), string(user))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Profile{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.Profile{}, classify("get profile", err)
	}
	return core.Profile{
		UserID:      core.UserID(row.ID),
		DisplayName: row.DisplayName,
		TotalXP:     row.TotalXP,
		Level:       row.Level,
		UpdatedAt:   fromMillis(row.UpdatedAt),
	}, nil
}

func (s *Store) GetLevel(ctx context.Context, user core.UserID) (int64, bool, error) {
	var level int64
	err := s.db.GetContext(ctx, &level, s.q(`SELECT level FROM users WHERE id = ?`), string(user))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify("get level", err)
	}
	return level, true, nil
}

func (s *Store) FindByCode(ctx context.Context, code string) (*core.Achievement, error) {
	var row achievementRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+achievementColumns+` FROM achievements WHERE code = ?`), code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find achievement", err)
	}
	a := row.toCore()
	return &a, nil
}

func (s *Store) UpsertByCode(ctx context.Context, def core.Definition) (core.Achievement, error) {
	query := `INSERT INTO achievements (code, name, description, xp_value, is_active) VALUES (?, ?, ?, ?, TRUE)
ON CONFLICT (code) DO NOTHING`
	if s.driver == DriverMySQL {
		query = `INSERT IGNORE INTO achievements (code, name, description, xp_value, is_active) VALUES (?, ?, ?, ?, TRUE)`
	}
	if _, err := s.db.ExecContext(ctx, s.q(query), def.Code, def.Name, def.Description, def.XPValue); err != nil {
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
	var rows []achievementRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+achievementColumns+` FROM achievements ORDER BY id`); err != nil {
		return nil, classify("list achievements", err)
	}
	out := make([]core.Achievement, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCore())
	}
	return out, nil
}

func (s *Store) HasUnlock(ctx context.Context, user core.UserID, achievementID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		s.q(`SELECT EXISTS (SELECT 1 FROM user_achievements WHERE user_id = ? AND achievement_id = ?)`),
		string(user), achievementID)
	if err != nil {
		return false, classify("check unlock", err)
	}
	return exists, nil
}

func (s *Store) CreateUnlock(ctx context.Context, user core.UserID, achievementID int64, metadata map[string]any) (core.Unlock, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return core.Unlock{}, fmt.Errorf("encode unlock metadata: %w", err)
	}
	u := core.Unlock{UserID: user, AchievementID: achievementID, Metadata: metadata, EarnedAt: s.now().UTC()}
	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO user_achievements (user_id, achievement_id, metadata, earned_at) VALUES (?, ?, ?, ?)`),
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
	var rows []unlockRow
	err := s.db.SelectContext(ctx, &rows,
		s.q(`SELECT achievement_id, metadata, earned_at FROM user_achievements WHERE user_id = ? ORDER BY earned_at, achievement_id`),
		string(user))
	if err != nil {
		return nil, classify("list unlocks", err)
	}
	out := make([]core.Unlock, 0, len(rows))
	for _, r := range rows {
		u := core.Unlock{UserID: user, AchievementID: r.AchievementID, EarnedAt: fromMillis(r.EarnedAt)}
		if r.Metadata != "" && r.Metadata != "null" {
			if err := json.Unmarshal([]byte(r.Metadata), &u.Metadata); err != nil {
				return nil, fmt.Errorf("decode unlock metadata: %w", err)
			}
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) ActiveDates(ctx context.Context, user core.UserID, from, to time.Time) ([]time.Time, error) {
	var raw []string
	err := s.db.SelectContext(ctx, &raw, s.q(`SELECT DISTINCT date_occurred FROM activity_records
WHERE user_id = ? AND date_occurred BETWEEN ? AND ? ORDER BY date_occurred`),
		string(user), core.DateOf(from).Format(core.DateLayout), core.DateOf(to).Format(core.DateLayout))
	if err != nil {
		return nil, classify("active dates", err)
	}
	out := make([]time.Time, 0, len(raw))
	for _, r := range raw {
		d, err := core.ParseDate(r)
		if err != nil {
			return nil, fmt.Errorf("stored date %q: %w", r, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) DistinctRecorded(ctx context.Context, user core.UserID, dim core.Dimension) (int, error) {
	col := "r.activity_id"
	if dim == core.DimensionCategories {
		col = "a.category"
	}
	var n int
	err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(DISTINCT `+col+`) FROM activity_records r
JOIN activities a ON a.id = r.activity_id
WHERE r.user_id = ? AND a.is_archived = FALSE`), string(user))
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
	if err := s.db.GetContext(ctx, &n, `SELECT `+expr+` FROM activities WHERE is_archived = FALSE`); err != nil {
		return 0, classify("catalog size", err)
	}
	return n, nil
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

// classify wraps err with op and marks connection-level failures as
// core.ErrUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if unavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, core.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func unavailable(err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception, 57P: operator intervention
		return pqErr.Code.Class() == "08" || strings.HasPrefix(string(pqErr.Code), "57P")
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
