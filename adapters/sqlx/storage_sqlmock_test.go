package sqlx_test

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "wellnesskit/adapters/sqlx"
	"wellnesskit/core"
)

func newMockStore(t *testing.T, d storage.Driver) (*storage.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewWithDB(libsqlx.NewDb(db, string(d)), d), mock
}

func activityRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "category", "xp_value", "is_archived"}).
		AddRow(int64(1), "Running", "Cardio", int64(100), false)
}

func TestSQLMock_RecordActivity_NewUser(t *testing.T) {
	store, mock := newMockStore(t, storage.DriverPostgres)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, name, category, xp_value, is_archived FROM activities WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(activityRows())
	mock.ExpectExec(`INSERT INTO users .* ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("u1", "Una", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT total_xp FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"total_xp"}).AddRow(int64(0)))
	mock.ExpectExec(`UPDATE users SET total_xp`).
		WithArgs(int64(110), core.LevelForXP(110), sqlmock.AnyArg(), "Una", "Una", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO activity_records .* RETURNING id`).
		WithArgs("u1", int64(1), "", "2026-03-01", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	rec, err := store.RecordActivity(ctx, core.ActivityRecord{
		UserID: "u1", DisplayName: "Una", ActivityID: 1, DateOccurred: time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC),
	}, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, core.NewDate(2026, 3, 1), rec.DateOccurred)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_RecordActivity_ExistingUserMySQL(t *testing.T) {
	store, mock := newMockStore(t, storage.DriverMySQL)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, name, category, xp_value, is_archived FROM activities WHERE id = \?`).
		WithArgs(int64(1)).
		WillReturnRows(activityRows())
	mock.ExpectExec(`INSERT INTO users .* ON DUPLICATE KEY UPDATE id = id`).
		WithArgs("u1", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT total_xp FROM users WHERE id = \? FOR UPDATE`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"total_xp"}).AddRow(int64(2400)))
	mock.ExpectExec(`UPDATE users SET total_xp`).
		WithArgs(int64(2500), core.LevelForXP(2500), sqlmock.AnyArg(), "", "", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO activity_records`).
		WithArgs("u1", int64(1), "", "2026-03-02", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectCommit()

	rec, err := store.RecordActivity(ctx, core.ActivityRecord{UserID: "u1", ActivityID: 1, DateOccurred: core.NewDate(2026, 3, 2)}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(12), rec.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_RecordActivity_ConcurrentFirstRecordWaitsOnRow(t *testing.T) {
	store, mock := newMockStore(t, storage.DriverPostgres)

	// The losing transaction's insert is a no-op and it then reads the
	// winner's committed total under the row lock.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, name, category, xp_value, is_archived FROM activities WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(activityRows())
	mock.ExpectExec(`INSERT INTO users .* ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("u1", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT total_xp FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"total_xp"}).AddRow(int64(110)))
	mock.ExpectExec(`UPDATE users SET total_xp`).
		WithArgs(int64(210), core.LevelForXP(210), sqlmock.AnyArg(), "", "", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO activity_records .* RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectCommit()

	rec, err := store.RecordActivity(context.Background(), core.ActivityRecord{UserID: "u1", ActivityID: 1, DateOccurred: core.NewDate(2026, 3, 1)}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(8), rec.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_RecordActivity_EnsureUserFailure(t *testing.T) {
	store, mock := newMockStore(t, storage.DriverPostgres)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, name, category, xp_value, is_archived FROM activities`).
		WithArgs(int64(1)).
		WillReturnRows(activityRows())
	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "42P01", Message: "relation \"users\" does not exist"})
	mock.ExpectRollback()

	_, err := store.RecordActivity(context.Background(), core.ActivityRecord{UserID: "u1", ActivityID: 1}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure user")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_RecordActivity_UnknownActivity(t *testing.T) {
	store, mock := newMockStore(t, storage.DriverPostgres)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, name, category, xp_value, is_archived FROM activities`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.RecordActivity(context.Background(), core.ActivityRecord{UserID: "u1", ActivityID: 99}, 0)
	assert.ErrorIs(t, err, core.ErrActivityNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_UpsertByCode(t *testing.T) {
	store, mock := newMockStore(t, storage.DriverPostgres)
	def := core.Definition{Code: "streak_day_1", Name: "Streak: Dailies", Description: "Recorded activities for 1 day.", XPValue: 50}

	mock.ExpectExec(`INSERT INTO achievements .* ON CONFLICT \(code\) DO NOTHING`).
		WithArgs(def.Code, def.Name, def.Description, def.XPValue).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, code, name, description, xp_value, is_active FROM achievements WHERE code = \$1`).
		WithArgs(def.Code).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "description", "xp_value", "is_active"}).
			AddRow(int64(4), def.Code, def.Name, def.Description, def.XPValue, true))

	a, err := store.UpsertByCode(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, core.Achievement{ID: 4, Code: def.Code, Name: def.Name, Description: def.Description, XPValue: 50, Active: true}, a)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_FindByCode_Missing(t *testing.T) {
	store, mock := newMockStore(t, storage.DriverPostgres)
	mock.ExpectQuery(`SELECT .* FROM achievements WHERE code`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	a, err := store.FindByCode(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestSQLMock_CreateUnlock(t *testing.T) {
	store, mock := newMockStore(t, storage.DriverPostgres)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO user_achievements`).
		WithArgs("u1", int64(3), `{"streak":7,"unit":"day"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	u, err := store.CreateUnlock(ctx, "u1", 3, map[string]any{"streak": 7, "unit": "day"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), u.AchievementID)

	mock.ExpectExec(`INSERT INTO user_achievements`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	_, err = store.CreateUnlock(ctx, "u1", 3, nil)
	assert.ErrorIs(t, err, core.ErrDuplicateUnlock)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_CreateUnlock_MySQLDuplicate(t *testing.T) {
	store, mock := newMockStore(t, storage.DriverMySQL)
	mock.ExpectExec(`INSERT INTO user_achievements`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	_, err := store.CreateUnlock(context.Background(), "u1", 3, nil)
	assert.ErrorIs(t, err, core.ErrDuplicateUnlock)
}

func TestSQLMock_HasUnlockAndList(t *testing.T) {
	store, mock := newMockStore(t, storage.DriverPostgres)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("u1", int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT achievement_id, metadata, earned_at FROM user_achievements`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"achievement_id", "metadata", "earned_at"}).
			AddRow(int64(3), `{"rank":"Iron"}`, int64(1767225600000)))

	has, err := store.HasUnlock(ctx, "u1", 3)
	require.NoError(t, err)
	assert.True(t, has)

	list, err := store.ListUnlocks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Iron", list[0].Metadata["rank"])
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), list[0].EarnedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_ActivityStats(t *testing.T) {
	store, mock := newMockStore(t, storage.DriverPostgres)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT DISTINCT date_occurred FROM activity_records`).
		WithArgs("u1", "2026-03-01", "2026-03-07").
		WillReturnRows(sqlmock.NewRows([]string{"date_occurred"}).AddRow("2026-03-01").AddRow("2026-03-02"))
	mock.ExpectQuery(`SELECT COUNT\(DISTINCT a.category\)`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM activities WHERE is_archived = FALSE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	dates, err := store.ActiveDates(ctx, "u1", core.NewDate(2026, 3, 1), core.NewDate(2026, 3, 7))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{core.NewDate(2026, 3, 1), core.NewDate(2026, 3, 2)}, dates)

	n, err := store.DistinctRecorded(ctx, "u1", core.DimensionCategories)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.CatalogSize(ctx, core.DimensionActivities)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetLevel(t *testing.T) {
	store, mock := newMockStore(t, storage.DriverPostgres)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT level FROM users`).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"level"}).AddRow(int64(6)))
	mock.ExpectQuery(`SELECT level FROM users`).WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	lvl, found, err := store.GetLevel(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(6), lvl)

	_, found, err = store.GetLevel(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLMock_ConnectionErrorsAreUnavailable(t *testing.T) {
	store, mock := newMockStore(t, storage.DriverPostgres)
	mock.ExpectQuery(`SELECT level FROM users`).
		WillReturnError(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})

	_, _, err := store.GetLevel(context.Background(), "u1")
	assert.ErrorIs(t, err, core.ErrUnavailable)

	mock.ExpectQuery(`SELECT .* FROM achievements`).
		WillReturnError(&pq.Error{Code: "42P01", Message: "relation does not exist"})
	_, err = store.FindByCode(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrUnavailable)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := storage.New(storage.Config{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
	_, err = storage.New(storage.DefaultConfig(storage.DriverPostgres))
	assert.Error(t, err)
}
