package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/pollquest/models"
)

// FreezeCooldownDays is how long a user waits between streak freezes.
const FreezeCooldownDays = 30

var streakMilestones = map[int]bool{7: true, 14: true, 30: true, 60: true, 90: true, 180: true, 365: true}

// StreakUpdate is the outcome of one vote on the streak state.
type StreakUpdate struct {
	StreakDays      int     `json:"streak_days"`
	LongestStreak   int     `json:"longest_streak"`
	Multiplier      float64 `json:"multiplier"`
	StreakBroken    bool    `json:"streak_broken"`
	StreakContinued bool    `json:"streak_continued"`
	NewMilestone    bool    `json:"new_milestone"`
	MilestoneDay    int     `json:"milestone_day,omitempty"`
}

// StreakInfo is the read-only view served to clients.
type StreakInfo struct {
	CurrentStreak   int        `json:"current_streak"`
	LongestStreak   int        `json:"longest_streak"`
	Multiplier      float64    `json:"multiplier"`
	LastVoteDate    *time.Time `json:"last_vote_date"`
	StreakBroken    bool       `json:"streak_broken"`
	CanUseFreeze    bool       `json:"can_use_freeze"`
	DaysUntilFreeze int        `json:"days_until_freeze"`
}

// StreakService maintains daily vote streaks, freezes and milestones.
type StreakService struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  Clock
	cal    Calendar
	badges *BadgeService
}

// NewStreakService measures days in cal.
func NewStreakService(db *gorm.DB, log *zap.Logger, clock Clock, cal Calendar, badges *BadgeService) *StreakService {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &StreakService{db: db, log: log.Named("streak"), clock: clock, cal: cal, badges: badges}
}

// CalculateMultiplier maps a streak length to its reward multiplier.
func CalculateMultiplier(streakDays int) float64 {
	switch {
	case streakDays >= 30:
		return 2.5
	case streakDays >= 14:
		return 2.0
	case streakDays >= 7:
		return 1.5
	default:
		return 1.0
	}
}

// UpdateStreakOnVote advances the streak for a vote cast now. A second vote
// on the same calendar day leaves the state untouched.
func (s *StreakService) UpdateStreakOnVote(ctx context.Context, userID uint) (StreakUpdate, error) {
	now := s.clock.Now()
	var out StreakUpdate

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stats, err := lockStats(tx, userID)
		if err != nil {
			return err
		}

		if stats.LastVoteDate != nil && s.cal.DaysBetween(*stats.LastVoteDate, now) == 0 {
			out = StreakUpdate{
				StreakDays:    stats.StreakDays,
				LongestStreak: stats.LongestStreak,
				Multiplier:    CalculateMultiplier(stats.StreakDays),
			}
			return nil
		}

		days := 1
		switch {
		case stats.LastVoteDate == nil:
		case s.continues(stats, now):
			days = stats.StreakDays + 1
			out.StreakContinued = true
			if streakMilestones[days] {
				out.NewMilestone = true
				out.MilestoneDay = days
			}
		default:
			out.StreakBroken = true
		}

		longest := stats.LongestStreak
		if days > longest {
			longest = days
		}
		out.StreakDays = days
		out.LongestStreak = longest
		out.Multiplier = CalculateMultiplier(days)

		return tx.Model(&models.UserPointStats{}).Where("user_id = ?", userID).Updates(map[string]interface{}{
			"streak_days":      days,
			"longest_streak":   longest,
			"streak_last_date": now,
			"last_vote_date":   now,
		}).Error
	})
	if err != nil {
		return StreakUpdate{}, err
	}

	if out.NewMilestone && s.badges != nil {
		s.badges.award(ctx, userID, fmt.Sprintf("streak_%d", out.MilestoneDay), map[string]any{
			"streak_days": out.MilestoneDay,
		})
	}
	return out, nil
}

// UseStreakFreeze protects a broken streak from resetting. It can be used
// once every FreezeCooldownDays.
func (s *StreakService) UseStreakFreeze(ctx context.Context, userID uint) (bool, error) {
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stats, err := lockStats(tx, userID)
		if err != nil {
			return err
		}
		if remaining := s.freezeCooldown(stats, now); remaining > 0 {
			return &FreezeUnavailableError{DaysRemaining: remaining}
		}
		if stats.StreakDays <= 0 {
			return ErrNoActiveStreak
		}
		if s.continues(stats, now) {
			return ErrStreakNotBroken
		}
		return tx.Model(&models.UserPointStats{}).Where("user_id = ?", userID).Updates(map[string]interface{}{
			"streak_freeze_used": now,
			"streak_last_date":   now,
		}).Error
	})
	if err != nil {
		return false, err
	}
	s.log.Info("streak freeze used", zap.Uint("user_id", userID))
	return true, nil
}

// GetStreakInfo reports the current streak without modifying it.
func (s *StreakService) GetStreakInfo(ctx context.Context, userID uint) (StreakInfo, error) {
	var stats models.UserPointStats
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StreakInfo{}, ErrUserStatsNotFound
	}
	if err != nil {
		return StreakInfo{}, err
	}

	now := s.clock.Now()
	remaining := s.freezeCooldown(&stats, now)
	return StreakInfo{
		CurrentStreak:   stats.StreakDays,
		LongestStreak:   stats.LongestStreak,
		Multiplier:      CalculateMultiplier(stats.StreakDays),
		LastVoteDate:    stats.LastVoteDate,
		StreakBroken:    stats.LastVoteDate != nil && !s.continues(&stats, now),
		CanUseFreeze:    remaining == 0,
		DaysUntilFreeze: remaining,
	}, nil
}

// continues reports whether a vote at now extends the streak. The gap is
// measured from the later of the last vote and the last freeze extension.
func (s *StreakService) continues(stats *models.UserPointStats, now time.Time) bool {
	if stats.LastVoteDate == nil {
		return false
	}
	anchor := *stats.LastVoteDate
	if stats.StreakLastDate != nil && stats.StreakLastDate.After(anchor) {
		anchor = *stats.StreakLastDate
	}
	return s.cal.DaysBetween(anchor, now) <= 1
}

func (s *StreakService) freezeCooldown(stats *models.UserPointStats, now time.Time) int {
	if stats.StreakFreezeUsed == nil {
		return 0
	}
	since := s.cal.DaysBetween(*stats.StreakFreezeUsed, now)
	if since >= FreezeCooldownDays {
		return 0
	}
	return FreezeCooldownDays - since
}

func lockStats(tx *gorm.DB, userID uint) (*models.UserPointStats, error) {
	var stats models.UserPointStats
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserStatsNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
