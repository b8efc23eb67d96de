package services

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options tunes the engines for one deployment. Zero values fall back to
// UTC days, the system clock, a time-seeded shuffle and a strict HTML policy.
type Options struct {
	Location       *time.Location
	StartingPoints int
	ReferralReward int
	Sanitizer      Sanitizer
	Clock          Clock
	Rand           Perm
}

// Registry holds every service wired against one database.
type Registry struct {
	Points      *PointsService
	Badges      *BadgeService
	Streak      *StreakService
	Challenges  *ChallengeService
	Expertise   *ExpertiseService
	Votes       *VoteService
	Questions   *QuestionService
	Referrals   *ReferralService
	Accounts    *AccountService
	Leaderboard *LeaderboardService
	Stats       *StatsService
}

// NewRegistry builds the service graph. rdb may be nil.
func NewRegistry(db *gorm.DB, log *zap.Logger, rdb *redis.Client, opts Options) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	cal := Calendar{Loc: opts.Location}

	r := &Registry{}
	r.Points = NewPointsService(db, log, clock)
	r.Badges = NewBadgeService(db, log, clock)
	r.Streak = NewStreakService(db, log, clock, cal, r.Badges)
	r.Challenges = NewChallengeService(db, log, clock, cal, r.Points, opts.Rand)
	r.Expertise = NewExpertiseService(db, log, r.Badges)
	r.Votes = NewVoteService(db, log, clock, r.Points, r.Streak, r.Challenges, r.Expertise)
	r.Referrals = NewReferralService(db, log, clock, r.Points, opts.ReferralReward)
	r.Leaderboard = NewLeaderboardService(db, log, rdb)
	r.Questions = NewQuestionService(db, log, clock, r.Points, r.Referrals, r.Leaderboard, opts.Sanitizer)
	r.Accounts = NewAccountService(db, log, r.Points, r.Referrals, opts.StartingPoints)
	r.Stats = NewStatsService(db, clock, cal)
	return r
}
