package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"wellnesskit/core"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" yaml:"addr" env:"ADDR"`
	Password     string        `json:"password" yaml:"password" env:"PASSWORD"`
	DB           int           `json:"db" yaml:"db" env:"DB"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// KeyPrefix namespaces every key written by the store.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "wk",
	}
}

// Store implements engine.Storage on Redis.
// Data structure:
// - {p}:activity:{id} -> hash name, category, xp, archived
// - {p}:activities -> set of activity ids
// - {p}:user:{id} -> hash display_name, total_xp, level, updated_at
// - {p}:user:{id}:dates -> zset of YYYY-MM-DD scored by unix day
// - {p}:user:{id}:activities -> set of recorded activity ids
// - {p}:user:{id}:records -> list of record ids, {p}:record:{id} -> hash
// - {p}:achievements -> hash code -> id, {p}:achievement:{id} -> hash
// - {p}:user:{id}:unlocks -> hash achievement id -> JSON unlock
type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewWithClient(client)
	if config.KeyPrefix != "" {
		s.prefix = config.KeyPrefix
	}
	return s, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, prefix: "wk", now: time.Now}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *Store) activityKey(id core.ActivityID) string {
	return s.key("activity", strconv.FormatInt(int64(id), 10))
}

func (s *Store) userKey(user core.UserID, sub ...string) string {
	return s.key(append([]string{"user", string(user)}, sub...)...)
}

func (s *Store) achievementKey(id int64) string {
	return s.key("achievement", strconv.FormatInt(id, 10))
}

const missingActivity = "NOACTIVITY activity not found"

// recordScript credits XP with HINCRBY (which rejects overflow), derives the
// level from the new total and stores the record, all in one script run.
//
// KEYS: activity, user, dates, user activities, user records, record seq
// ARGV: activity id, bonus, display name, date, unix day, note, created ms,
// record key prefix, user id, now ms
var recordScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return redis.error_reply('` + missingActivity + `')
	end
	local delta = tonumber(redis.call('HGET', KEYS[1], 'xp') or '0') + tonumber(ARGV[2])
	local total = redis.call('HINCRBY', KEYS[2], 'total_xp', string.format('%d', delta))
	local level = 1
	if total > 0 then
		level = math.floor(math.sqrt(total) / 10) + 1
	end
	redis.call('HSET', KEYS[2], 'level', level, 'updated_at', ARGV[10])
	if ARGV[3] ~= '' then
		redis.call('HSET', KEYS[2], 'display_name', ARGV[3])
	end

	local id = redis.call('INCR', KEYS[6])
	redis.call('HSET', ARGV[8] .. id,
		'user_id', ARGV[9], 'activity_id', ARGV[1], 'note', ARGV[6],
		'date_occurred', ARGV[4], 'created_at', ARGV[7])
	redis.call('RPUSH', KEYS[5], id)
	redis.call('ZADD', KEYS[3], ARGV[5], ARGV[4])
	redis.call('SADD', KEYS[4], ARGV[1])
	return {id, total, level}
`)

// upsertAchievementScript allocates an id for a new code and is a no-op for
// a known one.
//
// KEYS: code index, achievement seq
// ARGV: code, name, description, xp, achievement key prefix
var upsertAchievementScript = redis.NewScript(`
	local id = redis.call('HGET', KEYS[1], ARGV[1])
	if id then
		return tonumber(id)
	end
	id = redis.call('INCR', KEYS[2])
	redis.call('HSET', KEYS[1], ARGV[1], id)
	redis.call('HSET', ARGV[5] .. id,
		'code', ARGV[1], 'name', ARGV[2], 'description', ARGV[3], 'xp', ARGV[4], 'active', '1')
	return id
`)

func (s *Store) PutActivity(ctx context.Context, a core.Activity) (core.Activity, error) {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.activityKey(a.ID),
			"name", a.Name,
			"category", a.Category,
			"xp", a.XPValue,
			"archived", boolField(a.Archived))
		pipe.SAdd(ctx, s.key("activities"), int64(a.ID))
		return nil
	})
	if err != nil {
		return core.Activity{}, classify("put activity", err)
	}
	return a, nil
}

func (s *Store) GetActivity(ctx context.Context, id core.ActivityID) (core.Activity, error) {
	fields, err := s.client.HGetAll(ctx, s.activityKey(id)).Result()
	if err != nil {
		return core.Activity{}, classify("get activity", err)
	}
	if len(fields) == 0 {
		return core.Activity{}, core.ErrActivityNotFound
	}
	xp, _ := strconv.ParseInt(fields["xp"], 10, 64)
	return core.Activity{
		ID:       id,
		Name:     fields["name"],
		Category: fields["category"],
		XPValue:  xp,
		Archived: fields["archived"] == "1",
	}, nil
}

func (s *Store) RecordActivity(ctx context.Context, rec core.ActivityRecord, bonusXP int64) (core.ActivityRecord, error) {
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.DateOccurred = core.DateOf(rec.DateOccurred)
	date := rec.DateOccurred.Format(core.DateLayout)

	keys := []string{
		s.activityKey(rec.ActivityID),
		s.userKey(rec.UserID),
		s.userKey(rec.UserID, "dates"),
		s.userKey(rec.UserID, "activities"),
		s.userKey(rec.UserID, "records"),
		s.key("seq", "records"),
	}
	res, err := recordScript.Run(ctx, s.client, keys,
		int64(rec.ActivityID), bonusXP, rec.DisplayName, date, unixDay(rec.DateOccurred),
		rec.Note, rec.CreatedAt.UnixMilli(), s.key("record")+":", string(rec.UserID), now.UnixMilli(),
	).Int64Slice()
	if err != nil {
		if strings.Contains(err.Error(), "NOACTIVITY") {
			return core.ActivityRecord{}, core.ErrActivityNotFound
		}
		return core.ActivityRecord{}, classify("record activity", err)
	}
	if len(res) != 3 {
		return core.ActivityRecord{}, errors.New("unexpected result from record script")
	}
	rec.ID = res[0]
	return rec, nil
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.Profile, error) {
	fields, err := s.client.HGetAll(ctx, s.userKey(user)).Result()
	if err != nil {
		return core.Profile{}, classify("get profile", err)
	}
	if len(fields) == 0 {
		return core.Profile{}, core.ErrUserNotFound
	}
	total, _ := strconv.ParseInt(fields["total_xp"], 10, 64)
	level, _ := strconv.ParseInt(fields["level"], 10, 64)
	updated, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
	return core.Profile{
		UserID:      user,
		DisplayName: fields["display_name"],
		TotalXP:     total,
		Level:       level,
		UpdatedAt:   time.UnixMilli(updated).UTC(),
	}, nil
}

func (s *Store) GetLevel(ctx context.Context, user core.UserID) (int64, bool, error) {
	level, err := s.client.HGet(ctx, s.userKey(user), "level").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify("get level", err)
	}
	return level, true, nil
}

func (s *Store) FindByCode(ctx context.Context, code string) (*core.Achievement, error) {
	id, err := s.client.HGet(ctx, s.key("achievements"), code).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find achievement", err)
	}
	a, err := s.loadAchievement(ctx, id)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) UpsertByCode(ctx context.Context, def core.Definition) (core.Achievement, error) {
	id, err := upsertAchievementScript.Run(ctx, s.client,
		[]string{s.key("achievements"), s.key("seq", "achievements")},
		def.Code, def.Name, def.Description, def.XPValue, s.key("achievement")+":",
	).Int64()
	if err != nil {
		return core.Achievement{}, classify("upsert achievement", err)
	}
	return s.loadAchievement(ctx, id)
}

func (s *Store) loadAchievement(ctx context.Context, id int64) (core.Achievement, error) {
	fields, err := s.client.HGetAll(ctx, s.achievementKey(id)).Result()
	if err != nil {
		return core.Achievement{}, classify("load achievement", err)
	}
	if len(fields) == 0 {
		return core.Achievement{}, fmt.Errorf("achievement %d has no row", id)
	}
	return achievementFromFields(id, fields), nil
}

func achievementFromFields(id int64, fields map[string]string) core.Achievement {
	xp, _ := strconv.ParseInt(fields["xp"], 10, 64)
	return core.Achievement{
		ID:          id,
		Code:        fields["code"],
		Name:        fields["name"],
		Description: fields["description"],
		XPValue:     xp,
		Active:      fields["active"] == "1",
	}
}

func (s *Store) ListAchievements(ctx context.Context) ([]core.Achievement, error) {
	index, err := s.client.HGetAll(ctx, s.key("achievements")).Result()
	if err != nil {
		return nil, classify("list achievements", err)
	}
	ids := make([]int64, 0, len(index))
	for _, raw := range index {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("achievement index entry %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	if _, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.achievementKey(id))
		}
		return nil
	}); err != nil {
		return nil, classify("list achievements", err)
	}
	out := make([]core.Achievement, 0, len(ids))
	for i, id := range ids {
		out = append(out, achievementFromFields(id, cmds[i].Val()))
	}
	return out, nil
}

type unlockValue struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	EarnedAt int64          `json:"earned_at"`
}

func (s *Store) HasUnlock(ctx context.Context, user core.UserID, achievementID int64) (bool, error) {
	ok, err := s.client.HExists(ctx, s.userKey(user, "unlocks"), strconv.FormatInt(achievementID, 10)).Result()
	if err != nil {
		return false, classify("check unlock", err)
	}
	return ok, nil
}

// CreateUnlock relies on HSETNX for uniqueness of (user, achievement).
func (s *Store) CreateUnlock(ctx context.Context, user core.UserID, achievementID int64, metadata map[string]any) (core.Unlock, error) {
	u := core.Unlock{UserID: user, AchievementID: achievementID, Metadata: metadata, EarnedAt: s.now().UTC()}
	data, err := json.Marshal(unlockValue{Metadata: metadata, EarnedAt: u.EarnedAt.UnixMilli()})
	if err != nil {
		return core.Unlock{}, fmt.Errorf("encode unlock: %w", err)
	}
	created, err := s.client.HSetNX(ctx, s.userKey(user, "unlocks"), strconv.FormatInt(achievementID, 10), data).Result()
	if err != nil {
		return core.Unlock{}, classify("create unlock", err)
	}
	if !created {
		return core.Unlock{}, core.ErrDuplicateUnlock
	}
	return u, nil
}

func (s *Store) ListUnlocks(ctx context.Context, user core.UserID) ([]core.Unlock, error) {
	fields, err := s.client.HGetAll(ctx, s.userKey(user, "unlocks")).Result()
	if err != nil {
		return nil, classify("list unlocks", err)
	}
	out := make([]core.Unlock, 0, len(fields))
	for field, raw := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unlock field %q: %w", field, err)
		}
		var v unlockValue
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode unlock: %w", err)
		}
		out = append(out, core.Unlock{UserID: user, AchievementID: id, Metadata: v.Metadata, EarnedAt: time.UnixMilli(v.EarnedAt).UTC()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].EarnedAt.Before(out[j].EarnedAt)
		}
		return out[i].AchievementID < out[j].AchievementID
	})
	return out, nil
}

func (s *Store) ActiveDates(ctx context.Context, user core.UserID, from, to time.Time) ([]time.Time, error) {
	members, err := s.client.ZRangeByScore(ctx, s.userKey(user, "dates"), &redis.ZRangeBy{
		Min: strconv.FormatInt(unixDay(from), 10),
		Max: strconv.FormatInt(unixDay(to), 10),
	}).Result()
	if err != nil {
		return nil, classify("active dates", err)
	}
	out := make([]time.Time, 0, len(members))
	for _, m := range members {
		d, err := core.ParseDate(m)
		if err != nil {
			return nil, fmt.Errorf("stored date %q: %w", m, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) DistinctRecorded(ctx context.Context, user core.UserID, dim core.Dimension) (int, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(user, "activities")).Result()
	if err != nil {
		return 0, classify("distinct recorded", err)
	}
	return s.countLive(ctx, ids, dim)
}

func (s *Store) CatalogSize(ctx context.Context, dim core.Dimension) (int, error) {
	ids, err := s.client.SMembers(ctx, s.key("activities")).Result()
	if err != nil {
		return 0, classify("catalog size", err)
	}
	return s.countLive(ctx, ids, dim)
}

// countLive counts the non-archived activities among ids, or their distinct
// categories.
func (s *Store) countLive(ctx context.Context, ids []string, dim core.Dimension) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cmds := make([]*redis.SliceCmd, len(ids))
	if _, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, s.key("activity", id), "category", "archived")
		}
		return nil
	}); err != nil {
		return 0, classify("load activities", err)
	}
	seen := make(map[string]struct{}, len(ids))
	for i, cmd := range cmds {
		vals := cmd.Val()
		category, _ := vals[0].(string)
		archived, _ := vals[1].(string)
		if vals[0] == nil || archived == "1" {
			continue
		}
		k := ids[i]
		if dim == core.DimensionCategories {
			k = category
		}
		seen[k] = struct{}{}
	}
	return len(seen), nil
}

func unixDay(t time.Time) int64 { return core.DateOf(t).Unix() / 86400 }

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// classify wraps err with op and marks connection-level failures as
// core.ErrUnavailable.
func classify(op string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%s: %w: %w", op, core.ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", op, core.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
