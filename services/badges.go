package services

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/pollquest/models"
)

// BadgeService is the write-once badge store.
type BadgeService struct {
	db    *gorm.DB
	log   *zap.Logger
	clock Clock
}

// NewBadgeService returns a badge store backed by db.
func NewBadgeService(db *gorm.DB, log *zap.Logger, clock Clock) *BadgeService {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &BadgeService{db: db, log: log.Named("badges"), clock: clock}
}

// InsertIfAbsent awards badgeType to userID unless it is already held.
// inserted is false when the badge existed.
func (s *BadgeService) InsertIfAbsent(ctx context.Context, userID uint, badgeType string, metadata map[string]any) (bool, error) {
	return s.InsertIfAbsentTx(s.db.WithContext(ctx), userID, badgeType, metadata)
}

// InsertIfAbsentTx is InsertIfAbsent on an open transaction.
func (s *BadgeService) InsertIfAbsentTx(tx *gorm.DB, userID uint, badgeType string, metadata map[string]any) (bool, error) {
	badge := models.Badge{UserID: userID, BadgeType: badgeType, EarnedAt: s.clock.Now()}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return false, err
		}
		badge.Metadata = datatypes.JSON(raw)
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "badge_type"}},
		DoNothing: true,
	}).Create(&badge)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info("badge awarded", zap.Uint("user_id", userID), zap.String("badge", badgeType))
	}
	return res.RowsAffected > 0, nil
}

// award is the best-effort form used by the engines: errors are logged, never returned.
func (s *BadgeService) award(ctx context.Context, userID uint, badgeType string, metadata map[string]any) {
	if _, err := s.InsertIfAbsent(ctx, userID, badgeType, metadata); err != nil {
		s.log.Warn("badge award failed",
			zap.Uint("user_id", userID),
			zap.String("badge", badgeType),
			zap.Error(err),
		)
	}
}

// ListBadges returns a user's badges, oldest first.
func (s *BadgeService) ListBadges(ctx context.Context, userID uint) ([]models.Badge, error) {
	var badges []models.Badge
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("earned_at ASC").Order("id ASC").Find(&badges).Error
	return badges, err
}
