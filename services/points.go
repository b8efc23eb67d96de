package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/pollquest/models"
)

// Question pricing.
const (
	QuestionBaseCost      = 10
	QuestionAnonymousCost = 3
	QuestionUrgentCost    = 5
	UrgentWindow          = 360 * time.Minute
)

// Entry describes one balance change.
type Entry struct {
	UserID      uint
	Amount      int
	Type        models.TransactionType
	ReferenceID *uint
	Metadata    map[string]any
}

// QuestionCostOptions are the inputs that influence question price.
type QuestionCostOptions struct {
	IsAnonymous bool
	IsUrgent    bool
}

// Affordability is the result of a pre-flight balance check.
type Affordability struct {
	CanAfford bool `json:"can_afford"`
	Current   int  `json:"current"`
	Needed    int  `json:"needed"`
}

// CompletionResult reports the reward paid when a question closes.
type CompletionResult struct {
	AuthorReward    int  `json:"author_reward"`
	VoteCount       int  `json:"vote_count"`
	AlreadyRewarded bool `json:"already_rewarded"`
}

// PointsService owns the ledger: users.points, user_point_stats and
// point_transactions always change together.
type PointsService struct {
	db    *gorm.DB
	log   *zap.Logger
	clock Clock
}

// NewPointsService returns the ledger over db.
func NewPointsService(db *gorm.DB, log *zap.Logger, clock Clock) *PointsService {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &PointsService{db: db, log: log.Named("points"), clock: clock}
}

// OpenAccountTx creates the stats row for a new user and credits the starting balance.
func (s *PointsService) OpenAccountTx(tx *gorm.DB, userID uint, startingPoints int) error {
	stats := models.UserPointStats{UserID: userID, Level: levelForPoints(0)}
	if err := tx.Create(&stats).Error; err != nil {
		return err
	}
	if startingPoints <= 0 {
		return nil
	}
	_, err := s.AwardPointsTx(tx, Entry{UserID: userID, Amount: startingPoints, Type: models.TxSignupBonus})
	return err
}

// AwardPoints credits e.Amount in its own transaction and returns the new balance.
func (s *PointsService) AwardPoints(ctx context.Context, e Entry) (int, error) {
	var balance int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = s.AwardPointsTx(tx, e)
		return err
	})
	return balance, err
}

// AwardPointsTx credits e.Amount inside an existing transaction.
func (s *PointsService) AwardPointsTx(tx *gorm.DB, e Entry) (int, error) {
	if e.Amount <= 0 {
		return 0, ErrInvalidAmount
	}
	user, stats, err := lockAccount(tx, e.UserID)
	if err != nil {
		return 0, err
	}

	balance := user.Points + e.Amount
	earned := stats.LifetimeEarned + e.Amount
	if err := tx.Model(&models.User{}).Where("id = ?", e.UserID).
		Update("points", gorm.Expr("points + ?", e.Amount)).Error; err != nil {
		return 0, err
	}
	if err := tx.Model(&models.UserPointStats{}).Where("user_id = ?", e.UserID).Updates(map[string]interface{}{
		"lifetime_earned": earned,
		"current_balance": balance,
		"level":           levelForPoints(earned),
	}).Error; err != nil {
		return 0, err
	}
	if err := s.appendTransaction(tx, e, e.Amount); err != nil {
		return 0, err
	}

	s.log.Debug("points awarded",
		zap.Uint("user_id", e.UserID),
		zap.String("type", string(e.Type)),
		zap.Int("amount", e.Amount),
		zap.Int("balance", balance),
	)
	return balance, nil
}

// DeductPoints debits e.Amount in its own transaction and returns the new balance.
func (s *PointsService) DeductPoints(ctx context.Context, e Entry) (int, error) {
	var balance int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = s.DeductPointsTx(tx, e)
		return err
	})
	return balance, err
}

// DeductPointsTx debits e.Amount inside an existing transaction. The balance
// is checked under the row lock and the update itself is guarded, so two
// concurrent deductions can never take the balance below zero.
func (s *PointsService) DeductPointsTx(tx *gorm.DB, e Entry) (int, error) {
	if e.Amount <= 0 {
		return 0, ErrInvalidAmount
	}
	user, stats, err := lockAccount(tx, e.UserID)
	if err != nil {
		return 0, err
	}
	if user.Points < e.Amount {
		return 0, &InsufficientPointsError{Required: e.Amount, Current: user.Points}
	}

	res := tx.Model(&models.User{}).
		Where("id = ? AND points >= ?", e.UserID, e.Amount).
		Update("points", gorm.Expr("points - ?", e.Amount))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, &InsufficientPointsError{Required: e.Amount, Current: user.Points}
	}

	balance := user.Points - e.Amount
	if err := tx.Model(&models.UserPointStats{}).Where("user_id = ?", e.UserID).Updates(map[string]interface{}{
		"lifetime_spent":  stats.LifetimeSpent + e.Amount,
		"current_balance": balance,
	}).Error; err != nil {
		return 0, err
	}
	if err := s.appendTransaction(tx, e, -e.Amount); err != nil {
		return 0, err
	}

	s.log.Debug("points deducted",
		zap.Uint("user_id", e.UserID),
		zap.String("type", string(e.Type)),
		zap.Int("amount", e.Amount),
		zap.Int("balance", balance),
	)
	return balance, nil
}

// GetBalance returns the user's spendable points.
func (s *PointsService) GetBalance(ctx context.Context, userID uint) (int, error) {
	var user models.User
	err := s.db.WithContext(ctx).Select("id", "points").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return user.Points, nil
}

// GetStats returns the aggregate row for userID.
func (s *PointsService) GetStats(ctx context.Context, userID uint) (*models.UserPointStats, error) {
	var stats models.UserPointStats
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserStatsNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListTransactions pages through a user's ledger, newest first.
func (s *PointsService) ListTransactions(ctx context.Context, userID uint, limit, offset int) ([]models.PointTransaction, int64, error) {
	var total int64
	q := s.db.WithContext(ctx).Model(&models.PointTransaction{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.PointTransaction
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&rows).Error
	return rows, total, err
}

// CalculateQuestionCost prices a new question.
func (s *PointsService) CalculateQuestionCost(opts QuestionCostOptions) int {
	return QuestionCost(opts)
}

// QuestionCost is base 10, +3 for anonymous, +5 for urgent.
func QuestionCost(opts QuestionCostOptions) int {
	cost := QuestionBaseCost
	if opts.IsAnonymous {
		cost += QuestionAnonymousCost
	}
	if opts.IsUrgent {
		cost += QuestionUrgentCost
	}
	return cost
}

// IsUrgent reports whether a question expiring at expiresAt counts as urgent at now.
func IsUrgent(expiresAt, now time.Time) bool {
	return expiresAt.Sub(now) < UrgentWindow
}

// CanAffordQuestion is the pre-flight check run before any deduction.
func (s *PointsService) CanAffordQuestion(ctx context.Context, userID uint, cost int) (Affordability, error) {
	current, err := s.GetBalance(ctx, userID)
	if err != nil {
		return Affordability{}, err
	}
	needed := cost - current
	if needed < 0 {
		needed = 0
	}
	return Affordability{CanAfford: current >= cost, Current: current, Needed: needed}, nil
}

// AwardQuestionCompletionRewards pays the creator of a closed question once.
func (s *PointsService) AwardQuestionCompletionRewards(ctx context.Context, questionID uint) (CompletionResult, error) {
	var result CompletionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.AwardQuestionCompletionRewardsTx(tx, questionID)
		return err
	})
	return result, err
}

// AwardQuestionCompletionRewardsTx is AwardQuestionCompletionRewards inside an open transaction.
func (s *PointsService) AwardQuestionCompletionRewardsTx(tx *gorm.DB, questionID uint) (CompletionResult, error) {
	var q models.Question
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&q, questionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CompletionResult{}, ErrQuestionNotFound
	}
	if err != nil {
		return CompletionResult{}, err
	}

	var votes int64
	if err := tx.Model(&models.Vote{}).Where("question_id = ?", questionID).Count(&votes).Error; err != nil {
		return CompletionResult{}, err
	}
	result := CompletionResult{VoteCount: int(votes)}
	if q.CompletionRewarded {
		result.AlreadyRewarded = true
		return result, nil
	}

	result.AuthorReward = CompletionReward(int(votes))
	if result.AuthorReward > 0 {
		ref := q.ID
		if _, err := s.AwardPointsTx(tx, Entry{
			UserID:      q.CreatorID,
			Amount:      result.AuthorReward,
			Type:        models.TxQuestionComplete,
			ReferenceID: &ref,
			Metadata:    map[string]any{"vote_count": votes},
		}); err != nil {
			return CompletionResult{}, err
		}
	}
	if err := tx.Model(&models.Question{}).Where("id = ?", q.ID).
		Update("completion_rewarded", true).Error; err != nil {
		return CompletionResult{}, err
	}
	return result, nil
}

// CompletionReward is 5 + floor(votes/2) plus additive bonuses at 20, 50 and
// 100 votes; questions with fewer than 5 votes lose 5 (floored at zero).
func CompletionReward(voteCount int) int {
	reward := 5 + int(math.Floor(float64(voteCount)*0.5))
	if voteCount >= 20 {
		reward += 5
	}
	if voteCount >= 50 {
		reward += 10
	}
	if voteCount >= 100 {
		reward += 20
	}
	if voteCount < 5 {
		reward -= 5
		if reward < 0 {
			reward = 0
		}
	}
	return reward
}

func (s *PointsService) appendTransaction(tx *gorm.DB, e Entry, signed int) error {
	row := models.PointTransaction{
		UserID:      e.UserID,
		Amount:      signed,
		Type:        e.Type,
		ReferenceID: e.ReferenceID,
		CreatedAt:   s.clock.Now(),
	}
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		row.Metadata = datatypes.JSON(raw)
	}
	return tx.Create(&row).Error
}

// lockAccount loads and row-locks a user's balance and stats.
func lockAccount(tx *gorm.DB, userID uint) (*models.User, *models.UserPointStats, error) {
	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id", "points").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrUserNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	stats, err := lockStats(tx, userID)
	if err != nil {
		return nil, nil, err
	}
	return &user, stats, nil
}

// levelForPoints follows a quadratic curve: level n needs 100n + 25n(n-1) lifetime points.
func levelForPoints(totalPoints int) int {
	if totalPoints <= 0 {
		return 1
	}
	level := 1
	for level < 100 {
		next := 100*level + (50*level*(level-1))/2
		if totalPoints < next {
			break
		}
		level++
	}
	return level
}
