package services

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/pollquest/config"
	"github.com/cppla/pollquest/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t.UTC()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	db    *gorm.DB
	clock *fakeClock
	cal   Calendar

	points      *PointsService
	badges      *BadgeService
	streak      *StreakService
	challenges  *ChallengeService
	expertise   *ExpertiseService
	votes       *VoteService
	questions   *QuestionService
	referrals   *ReferralService
	accounts    *AccountService
	leaderboard *LeaderboardService
	stats       *StatsService
}

var testStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvIn(t, time.UTC)
}

// newTestEnvIn builds services whose calendar days follow loc.
func newTestEnvIn(t *testing.T, loc *time.Location) *testEnv {
	t.Helper()
	db, err := config.OpenDatabase(config.AppConfig{
		DBDriver:    "sqlite",
		DatabaseURI: filepath.Join(t.TempDir(), "pollquest.db"),
		LogLevel:    "silent",
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := config.Migrate(db, models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	e := &testEnv{db: db, clock: newFakeClock(testStart), cal: Calendar{Loc: loc}}
	e.points = NewPointsService(db, nil, e.clock)
	e.badges = NewBadgeService(db, nil, e.clock)
	e.streak = NewStreakService(db, nil, e.clock, e.cal, e.badges)
	e.challenges = NewChallengeService(db, nil, e.clock, e.cal, e.points, rand.New(rand.NewSource(42)))
	e.expertise = NewExpertiseService(db, nil, e.badges)
	e.votes = NewVoteService(db, nil, e.clock, e.points, e.streak, e.challenges, e.expertise)
	e.referrals = NewReferralService(db, nil, e.clock, e.points, 20)
	e.leaderboard = NewLeaderboardService(db, nil, nil)
	e.questions = NewQuestionService(db, nil, e.clock, e.points, e.referrals, e.leaderboard, nil)
	e.accounts = NewAccountService(db, nil, e.points, e.referrals, 10)
	e.stats = NewStatsService(db, e.clock, e.cal)
	return e
}

func (e *testEnv) newUser(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := e.accounts.Register(context.Background(), NewAccount{Username: name, PasswordHash: "x"})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return u
}

// seedQuestion inserts an active question without charging its creator.
func (e *testEnv) seedQuestion(t *testing.T, creatorID uint, topicIDs ...uint) *models.Question {
	t.Helper()
	q := &models.Question{
		CreatorID: creatorID,
		Title:     fmt.Sprintf("question by %d", creatorID),
		Status:    models.QuestionActive,
		ExpiresAt: e.clock.Now().Add(24 * time.Hour),
		CostPaid:  QuestionBaseCost,
		CreatedAt: e.clock.Now(),
		Options: []models.QuestionOption{
			{Label: "yes", Position: 0},
			{Label: "no", Position: 1},
		},
	}
	if err := e.db.Create(q).Error; err != nil {
		t.Fatalf("seed question: %v", err)
	}
	for i, id := range topicIDs {
		if err := e.db.Create(&models.QuestionTopic{QuestionID: q.ID, TopicID: id, Position: i}).Error; err != nil {
			t.Fatalf("seed topic link: %v", err)
		}
	}
	return q
}

func (e *testEnv) seedTopic(t *testing.T, name string) *models.Topic {
	t.Helper()
	topic, err := e.questions.CreateTopic(context.Background(), name)
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	return topic
}

// seedVotes inserts n votes on q from synthetic voters, bypassing rewards.
func (e *testEnv) seedVotes(t *testing.T, q *models.Question, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		v := models.Vote{QuestionID: q.ID, UserID: uint(100000 + i), OptionID: q.Options[i%len(q.Options)].ID, CreatedAt: e.clock.Now()}
		if err := e.db.Create(&v).Error; err != nil {
			t.Fatalf("seed vote: %v", err)
		}
	}
}

func (e *testEnv) stats0(t *testing.T, userID uint) models.UserPointStats {
	t.Helper()
	var s models.UserPointStats
	if err := e.db.Where("user_id = ?", userID).First(&s).Error; err != nil {
		t.Fatalf("load stats: %v", err)
	}
	return s
}

func (e *testEnv) setStats(t *testing.T, userID uint, fields map[string]interface{}) {
	t.Helper()
	if err := e.db.Model(&models.UserPointStats{}).Where("user_id = ?", userID).Updates(fields).Error; err != nil {
		t.Fatalf("update stats: %v", err)
	}
}

func (e *testEnv) balance(t *testing.T, userID uint) int {
	t.Helper()
	b, err := e.points.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

// assertLedger checks points == earned - spent == sum(transactions) and points >= 0.
func (e *testEnv) assertLedger(t *testing.T, userID uint) {
	t.Helper()
	points := e.balance(t, userID)
	s := e.stats0(t, userID)
	var sum int64
	if err := e.db.Model(&models.PointTransaction{}).Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error; err != nil {
		t.Fatalf("sum transactions: %v", err)
	}
	if points < 0 {
		t.Fatalf("negative balance %d", points)
	}
	if points != s.LifetimeEarned-s.LifetimeSpent {
		t.Fatalf("points %d != earned %d - spent %d", points, s.LifetimeEarned, s.LifetimeSpent)
	}
	if points != s.CurrentBalance {
		t.Fatalf("points %d != current_balance %d", points, s.CurrentBalance)
	}
	if int64(points) != sum {
		t.Fatalf("points %d != transaction sum %d", points, sum)
	}
}

func countTx(t *testing.T, db *gorm.DB, userID uint, typ models.TransactionType) (int64, int64) {
	t.Helper()
	var n, sum int64
	if err := db.Model(&models.PointTransaction{}).Where("user_id = ? AND type = ?", userID, typ).Count(&n).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if err := db.Model(&models.PointTransaction{}).Where("user_id = ? AND type = ?", userID, typ).
		Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error; err != nil {
		t.Fatalf("sum transactions: %v", err)
	}
	return n, sum
}
