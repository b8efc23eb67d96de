package services

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/pollquest/models"
)

// ErrSelfReferral is returned when a user names themselves as referrer.
var ErrSelfReferral = errors.New("cannot refer yourself")

// ReferralService pays referrers once their referee creates a first question.
type ReferralService struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  Clock
	points *PointsService
	reward int
}

// NewReferralService pays reward to a referrer once per referee.
func NewReferralService(db *gorm.DB, log *zap.Logger, clock Clock, points *PointsService, reward int) *ReferralService {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &ReferralService{db: db, log: log.Named("referrals"), clock: clock, points: points, reward: reward}
}

// RecordTx links refereeID to referrerID during registration.
func (s *ReferralService) RecordTx(tx *gorm.DB, referrerID, refereeID uint) error {
	if referrerID == refereeID {
		return ErrSelfReferral
	}
	return tx.Create(&models.Referral{ReferrerID: referrerID, RefereeID: refereeID, CreatedAt: s.clock.Now()}).Error
}

// RewardOnFirstQuestion credits the referrer of refereeID if that has not
// happened yet. Failures are logged and swallowed.
func (s *ReferralService) RewardOnFirstQuestion(ctx context.Context, refereeID uint) {
	if s.reward <= 0 {
		return
	}
	var referrerID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ref models.Referral
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("referee_id = ? AND rewarded_at IS NULL", refereeID).First(&ref).Error
		if err != nil {
			return err
		}
		refID := ref.ID
		if _, err := s.points.AwardPointsTx(tx, Entry{
			UserID:      ref.ReferrerID,
			Amount:      s.reward,
			Type:        models.TxReferral,
			ReferenceID: &refID,
			Metadata:    map[string]any{"referee_id": refereeID},
		}); err != nil {
			return err
		}
		referrerID = ref.ReferrerID
		return tx.Model(&models.Referral{}).Where("id = ?", ref.ID).Update("rewarded_at", s.clock.Now()).Error
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		s.log.Warn("referral reward failed", zap.Uint("referee_id", refereeID), zap.Error(err))
	default:
		s.log.Info("referral rewarded",
			zap.Uint("referrer_id", referrerID),
			zap.Uint("referee_id", refereeID),
			zap.Int("reward", s.reward),
		)
	}
}

// CountReferrals returns how many users referrerID brought in, and how many
// of those have been rewarded.
func (s *ReferralService) CountReferrals(ctx context.Context, referrerID uint) (total, rewarded int64, err error) {
	db := s.db.WithContext(ctx).Model(&models.Referral{}).Where("referrer_id = ?", referrerID)
	if err = db.Count(&total).Error; err != nil {
		return 0, 0, err
	}
	err = s.db.WithContext(ctx).Model(&models.Referral{}).
		Where("referrer_id = ? AND rewarded_at IS NOT NULL", referrerID).Count(&rewarded).Error
	return total, rewarded, err
}
