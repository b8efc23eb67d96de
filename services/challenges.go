package services

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/pollquest/models"
)

// ChallengesPerDay is the size of each daily set.
const ChallengesPerDay = 3

// Every template progresses on the same daily vote counter; Type only
// changes how clients present it.
var challengeCatalog = []models.ChallengeInstance{
	{ID: "vote_3", Type: "vote_count", Title: "Cast 3 votes today", Target: 3, Reward: 5},
	{ID: "vote_5", Type: "vote_count", Title: "Cast 5 votes today", Target: 5, Reward: 10},
	{ID: "vote_10", Type: "vote_count", Title: "Cast 10 votes today", Target: 10, Reward: 20},
	{ID: "first_vote", Type: "first_vote", Title: "Cast your first vote of the day", Target: 1, Reward: 5},
	{ID: "vote_streak", Type: "vote_streak", Title: "Keep your voting streak alive", Target: 1, Reward: 10},
	{ID: "help_others", Type: "help_others", Title: "Help 5 people decide", Target: 5, Reward: 15},
}

// ChallengeCatalog returns a copy of the template list.
func ChallengeCatalog() []models.ChallengeInstance {
	out := make([]models.ChallengeInstance, len(challengeCatalog))
	copy(out, challengeCatalog)
	return out
}

// Perm is the slice of *rand.Rand the challenge picker needs.
type Perm interface {
	Perm(n int) []int
}

// DailyChallenges is today's set as shown to a user.
type DailyChallenges struct {
	Date           string                     `json:"date"`
	Challenges     []models.ChallengeInstance `json:"challenges"`
	CompletedCount int                        `json:"completed_count"`
	TotalReward    int                        `json:"total_reward"`
}

// ChallengeProgress lists the challenges a vote just completed.
type ChallengeProgress struct {
	ChallengesCompleted []models.ChallengeInstance `json:"challenges_completed"`
	TotalReward         int                        `json:"total_reward"`
}

// ChallengeStats aggregates a user's whole challenge history.
type ChallengeStats struct {
	TotalDays                int     `json:"total_days"`
	TotalChallengesCompleted int     `json:"total_challenges_completed"`
	TotalChallengesPossible  int     `json:"total_challenges_possible"`
	CompletionRate           float64 `json:"completion_rate"`
	TotalRewards             int     `json:"total_rewards"`
}

// ChallengeService hands out three daily challenges per user and pays them once.
type ChallengeService struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  Clock
	cal    Calendar
	points *PointsService

	mu  sync.Mutex
	rnd Perm
}

// NewChallengeService draws challenge sets from rnd; nil seeds from the clock.
func NewChallengeService(db *gorm.DB, log *zap.Logger, clock Clock, cal Calendar, points *PointsService, rnd Perm) *ChallengeService {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(clock.Now().UnixNano()))
	}
	return &ChallengeService{db: db, log: log.Named("challenges"), clock: clock, cal: cal, points: points, rnd: rnd}
}

// GetDailyChallenges returns today's set, generating it on first access.
func (s *ChallengeService) GetDailyChallenges(ctx context.Context, userID uint) (DailyChallenges, error) {
	set, err := s.ensureSet(s.db.WithContext(ctx), userID, s.cal.DayKey(s.clock.Now()))
	if err != nil {
		return DailyChallenges{}, err
	}
	return summarize(set), nil
}

// UpdateChallengeProgress recounts today's votes and pays out every challenge
// that completes for the first time. Payout and the completed set commit together.
func (s *ChallengeService) UpdateChallengeProgress(ctx context.Context, userID uint) (ChallengeProgress, error) {
	now := s.clock.Now()
	day := s.cal.DayKey(now)
	start, end := s.cal.DayBounds(now)
	var out ChallengeProgress

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ensureSet(tx, userID, day); err != nil {
			return err
		}
		var set models.DailyChallengeSet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND challenge_date = ?", userID, day).
			First(&set).Error; err != nil {
			return err
		}

		var votes int64
		if err := tx.Model(&models.Vote{}).
			Where("user_id = ? AND created_at BETWEEN ? AND ?", userID, start.UTC(), end.UTC()).
			Count(&votes).Error; err != nil {
			return err
		}

		done := make(map[string]bool, len(set.Completed))
		for _, id := range set.Completed {
			done[id] = true
		}
		for i := range set.Challenges {
			c := &set.Challenges[i]
			c.Progress = min(int(votes), c.Target)
			if c.Progress < c.Target {
				continue
			}
			c.Completed = true
			if done[c.ID] {
				continue
			}
			done[c.ID] = true
			set.Completed = append(set.Completed, c.ID)

			ref := set.ID
			if _, err := s.points.AwardPointsTx(tx, Entry{
				UserID:      userID,
				Amount:      c.Reward,
				Type:        models.TxChallengeComplete,
				ReferenceID: &ref,
				Metadata:    map[string]any{"challenge_id": c.ID, "title": c.Title, "date": day},
			}); err != nil {
				return err
			}
			out.ChallengesCompleted = append(out.ChallengesCompleted, *c)
			out.TotalReward += c.Reward
		}

		return tx.Model(&models.DailyChallengeSet{}).Where("id = ?", set.ID).Updates(map[string]interface{}{
			"challenges": set.Challenges,
			"completed":  set.Completed,
		}).Error
	})
	if err != nil {
		return ChallengeProgress{}, err
	}

	for _, c := range out.ChallengesCompleted {
		s.log.Info("challenge completed",
			zap.Uint("user_id", userID),
			zap.String("challenge", c.ID),
			zap.Int("reward", c.Reward),
		)
	}
	return out, nil
}

// GetChallengeHistory pages through past sets, newest day first.
func (s *ChallengeService) GetChallengeHistory(ctx context.Context, userID uint, limit, offset int) ([]DailyChallenges, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.DailyChallengeSet{}).Where("user_id = ?", userID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var sets []models.DailyChallengeSet
	if err := q.Order("challenge_date DESC").Limit(limit).Offset(offset).Find(&sets).Error; err != nil {
		return nil, 0, err
	}
	out := make([]DailyChallenges, 0, len(sets))
	for i := range sets {
		out = append(out, summarize(&sets[i]))
	}
	return out, total, nil
}

// GetChallengeStats aggregates completion counts and rewards over all days.
func (s *ChallengeService) GetChallengeStats(ctx context.Context, userID uint) (ChallengeStats, error) {
	db := s.db.WithContext(ctx)
	var sets []models.DailyChallengeSet
	if err := db.Select("id", "completed").Where("user_id = ?", userID).Find(&sets).Error; err != nil {
		return ChallengeStats{}, err
	}
	stats := ChallengeStats{TotalDays: len(sets)}
	for _, set := range sets {
		stats.TotalChallengesCompleted += len(set.Completed)
	}
	stats.TotalChallengesPossible = stats.TotalDays * ChallengesPerDay
	if stats.TotalChallengesPossible > 0 {
		rate := float64(stats.TotalChallengesCompleted) / float64(stats.TotalChallengesPossible) * 100
		stats.CompletionRate = math.Round(rate*100) / 100
	}

	var rewards int64
	if err := db.Model(&models.PointTransaction{}).
		Where("user_id = ? AND type = ?", userID, models.TxChallengeComplete).
		Select("COALESCE(SUM(amount), 0)").Scan(&rewards).Error; err != nil {
		return ChallengeStats{}, err
	}
	stats.TotalRewards = int(rewards)
	return stats, nil
}

// ensureSet loads the user's set for day, inserting a freshly picked one if
// none exists. Concurrent first requests converge on whichever insert won.
func (s *ChallengeService) ensureSet(db *gorm.DB, userID uint, day string) (*models.DailyChallengeSet, error) {
	var set models.DailyChallengeSet
	err := db.Where("user_id = ? AND challenge_date = ?", userID, day).First(&set).Error
	if err == nil {
		return &set, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := models.DailyChallengeSet{
		UserID:        userID,
		ChallengeDate: day,
		Challenges:    s.pick(),
		Completed:     []string{},
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "challenge_date"}},
		DoNothing: true,
	}).Create(&fresh).Error; err != nil {
		return nil, err
	}
	if err := db.Where("user_id = ? AND challenge_date = ?", userID, day).First(&set).Error; err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *ChallengeService) pick() []models.ChallengeInstance {
	s.mu.Lock()
	order := s.rnd.Perm(len(challengeCatalog))
	s.mu.Unlock()

	out := make([]models.ChallengeInstance, 0, ChallengesPerDay)
	for _, idx := range order[:ChallengesPerDay] {
		out = append(out, challengeCatalog[idx])
	}
	return out
}

func summarize(set *models.DailyChallengeSet) DailyChallenges {
	out := DailyChallenges{Date: set.ChallengeDate, Challenges: set.Challenges}
	for _, c := range set.Challenges {
		if c.Completed {
			out.CompletedCount++
			out.TotalReward += c.Reward
		}
	}
	return out
}
