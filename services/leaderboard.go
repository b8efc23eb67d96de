package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/cppla/pollquest/models"
)

const (
	// LeaderboardMaxLimit caps how many entries Top returns.
	LeaderboardMaxLimit = 100
	leaderboardTTL      = 60 * time.Second
)

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Points   int    `json:"points"`
	Level    int    `json:"level"`
	Streak   int    `json:"streak_days"`
}

// LeaderboardService ranks users by balance. Results are cached in Redis
// when a client is configured; concurrent misses share one query.
type LeaderboardService struct {
	db    *gorm.DB
	log   *zap.Logger
	rdb   *redis.Client
	group singleflight.Group
}

// NewLeaderboardService caches through rdb when it is non-nil.
func NewLeaderboardService(db *gorm.DB, log *zap.Logger, rdb *redis.Client) *LeaderboardService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LeaderboardService{db: db, log: log.Named("leaderboard"), rdb: rdb}
}

// Top returns the limit highest balances, ties broken by user id.
func (s *LeaderboardService) Top(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit < 1 {
		limit = 10
	}
	if limit > LeaderboardMaxLimit {
		limit = LeaderboardMaxLimit
	}
	key := fmt.Sprintf("cache:leaderboard:%d", limit)

	if entries, ok := s.cached(ctx, key); ok {
		return entries, nil
	}
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		// The result is shared with every waiter on key.
		qctx := context.WithoutCancel(ctx)
		entries, err := s.query(qctx, limit)
		if err != nil {
			return nil, err
		}
		s.store(qctx, key, entries)
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]LeaderboardEntry), nil
}

// Invalidate drops every cached leaderboard size.
func (s *LeaderboardService) Invalidate(ctx context.Context) {
	if s == nil || s.rdb == nil {
		return
	}
	iter := s.rdb.Scan(ctx, 0, "cache:leaderboard:*", 100).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.log.Debug("leaderboard invalidate failed", zap.Error(err))
	}
}

func (s *LeaderboardService) query(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	var rows []struct {
		ID         uint
		Username   string
		Points     int
		Level      int
		StreakDays int
	}
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Select("users.id, users.username, users.points, user_point_stats.level, user_point_stats.streak_days").
		Joins("LEFT JOIN user_point_stats ON user_point_stats.user_id = users.id").
		Order("users.points DESC").Order("users.id ASC").
		Limit(limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]LeaderboardEntry, 0, len(rows))
	for i, r := range rows {
		out = append(out, LeaderboardEntry{
			Rank:     i + 1,
			UserID:   r.ID,
			Username: r.Username,
			Points:   r.Points,
			Level:    max(r.Level, 1),
			Streak:   r.StreakDays,
		})
	}
	return out, nil
}

func (s *LeaderboardService) cached(ctx context.Context, key string) ([]LeaderboardEntry, bool) {
	if s.rdb == nil {
		return nil, false
	}
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.log.Debug("leaderboard cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var entries []LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func (s *LeaderboardService) store(ctx context.Context, key string, entries []LeaderboardEntry) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, raw, leaderboardTTL).Err(); err != nil {
		s.log.Debug("leaderboard cache write failed", zap.Error(err))
	}
}
