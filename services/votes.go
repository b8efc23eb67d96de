package services

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/pollquest/models"
)

// VoteReward is the base award for casting a vote.
const VoteReward = 2

// PointsEarned splits a vote's award into its base and streak parts.
type PointsEarned struct {
	Base  int `json:"base"`
	Bonus int `json:"bonus"`
	Total int `json:"total"`
}

// VoteResult is everything that happened because of one vote.
type VoteResult struct {
	Vote                models.Vote                `json:"vote"`
	PointsEarned        PointsEarned               `json:"points_earned"`
	Streak              StreakUpdate               `json:"streak"`
	ChallengesCompleted []models.ChallengeInstance `json:"challenges_completed"`
	ChallengeReward     int                        `json:"challenge_reward"`
	TopicExpertise      []models.TopicExpertise    `json:"topic_expertise"`
}

// VoteService records votes and drives the reward engines.
type VoteService struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      Clock
	points     *PointsService
	streak     *StreakService
	challenges *ChallengeService
	expertise  *ExpertiseService
}

// NewVoteService wires the vote pipeline to the reward engines.
func NewVoteService(db *gorm.DB, log *zap.Logger, clock Clock, points *PointsService, streak *StreakService,
	challenges *ChallengeService, expertise *ExpertiseService) *VoteService {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &VoteService{
		db:         db,
		log:        log.Named("votes"),
		clock:      clock,
		points:     points,
		streak:     streak,
		challenges: challenges,
		expertise:  expertise,
	}
}

// CastVote validates and records a vote together with its base award, then
// runs the streak, challenge and expertise steps. Those later steps each
// commit on their own; a failure in one is logged and never undoes the vote.
func (s *VoteService) CastVote(ctx context.Context, userID, questionID, optionID uint) (*VoteResult, error) {
	now := s.clock.Now()
	res := &VoteResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := validateVote(tx, userID, questionID, optionID, now); err != nil {
			return err
		}

		res.Vote = models.Vote{QuestionID: questionID, UserID: userID, OptionID: optionID, CreatedAt: now}
		if err := tx.Create(&res.Vote).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateVote
			}
			return err
		}

		ref := questionID
		_, err := s.points.AwardPointsTx(tx, Entry{
			UserID:      userID,
			Amount:      VoteReward,
			Type:        models.TxVote,
			ReferenceID: &ref,
			Metadata:    map[string]any{"option_id": optionID},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	res.PointsEarned.Base = VoteReward

	// The vote is committed; finish the follow-up steps even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	log := s.log.With(zap.Uint("user_id", userID), zap.Uint("question_id", questionID))

	streak, err := s.streak.UpdateStreakOnVote(ctx, userID)
	if err != nil {
		log.Warn("streak update failed", zap.Error(err))
		streak = StreakUpdate{Multiplier: 1.0}
	}
	res.Streak = streak

	if bonus := StreakBonus(VoteReward, streak.Multiplier); bonus > 0 {
		ref := questionID
		if _, err := s.points.AwardPoints(ctx, Entry{
			UserID:      userID,
			Amount:      bonus,
			Type:        models.TxStreakBonus,
			ReferenceID: &ref,
			Metadata:    map[string]any{"streak_days": streak.StreakDays, "multiplier": streak.Multiplier},
		}); err != nil {
			log.Warn("streak bonus failed", zap.Int("bonus", bonus), zap.Error(err))
		} else {
			res.PointsEarned.Bonus = bonus
		}
	}
	res.PointsEarned.Total = res.PointsEarned.Base + res.PointsEarned.Bonus

	if progress, err := s.challenges.UpdateChallengeProgress(ctx, userID); err != nil {
		log.Warn("challenge progress failed", zap.Error(err))
	} else {
		res.ChallengesCompleted = progress.ChallengesCompleted
		res.ChallengeReward = progress.TotalReward
	}

	if expertise, err := s.expertise.UpdateTopicExpertiseOnVote(ctx, userID, questionID); err != nil {
		log.Warn("topic expertise failed", zap.Error(err))
	} else {
		res.TopicExpertise = expertise
	}

	log.Debug("vote cast",
		zap.Uint("option_id", optionID),
		zap.Int("points", res.PointsEarned.Total),
		zap.Int("streak_days", res.Streak.StreakDays),
	)
	return res, nil
}

// StreakBonus is floor(base * (multiplier - 1)).
func StreakBonus(base int, multiplier float64) int {
	if multiplier <= 1 {
		return 0
	}
	return int(math.Floor(float64(base) * (multiplier - 1)))
}

// UserVote returns userID's vote on a question, or nil when they have not voted.
func (s *VoteService) UserVote(ctx context.Context, userID, questionID uint) (*models.Vote, error) {
	var v models.Vote
	err := s.db.WithContext(ctx).Where("question_id = ? AND user_id = ?", questionID, userID).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// voteQuestionQuery reads the question under a shared lock, so a vote waits
// for a concurrent close or delete to commit and then sees its result.
func voteQuestionQuery(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "SHARE"}).Select("id", "creator_id", "status", "expires_at")
}

func validateVote(tx *gorm.DB, userID, questionID, optionID uint, now time.Time) error {
	var q models.Question
	err := voteQuestionQuery(tx).First(&q, questionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrQuestionNotFound
	}
	if err != nil {
		return err
	}
	if q.Status != models.QuestionActive || !now.Before(q.ExpiresAt) {
		return ErrInvalidState
	}
	if q.CreatorID == userID {
		return ErrSelfVoteForbidden
	}

	var n int64
	if err := tx.Model(&models.QuestionOption{}).
		Where("id = ? AND question_id = ?", optionID, questionID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidOption
	}

	if err := tx.Model(&models.Vote{}).
		Where("question_id = ? AND user_id = ?", questionID, userID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return ErrDuplicateVote
	}
	return nil
}
