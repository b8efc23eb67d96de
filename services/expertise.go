package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/pollquest/models"
)

var expertiseRank = map[string]int{
	models.ExpertiseInterested:    0,
	models.ExpertiseKnowledgeable: 1,
	models.ExpertiseExpert:        2,
	models.ExpertiseMaster:        3,
}

// ExpertiseLevel maps a per-topic vote count to its tier.
func ExpertiseLevel(voteCount int) string {
	switch {
	case voteCount >= 50:
		return models.ExpertiseMaster
	case voteCount >= 25:
		return models.ExpertiseExpert
	case voteCount >= 10:
		return models.ExpertiseKnowledgeable
	default:
		return models.ExpertiseInterested
	}
}

// ExpertiseService tracks per-topic vote counts and expertise tiers.
type ExpertiseService struct {
	db     *gorm.DB
	log    *zap.Logger
	badges *BadgeService
}

// NewExpertiseService awards tier badges through badges.
func NewExpertiseService(db *gorm.DB, log *zap.Logger, badges *BadgeService) *ExpertiseService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExpertiseService{db: db, log: log.Named("expertise"), badges: badges}
}

// UpdateTopicExpertiseOnVote counts a vote towards every topic on the
// question and returns the updated rows in tag order.
func (s *ExpertiseService) UpdateTopicExpertiseOnVote(ctx context.Context, userID, questionID uint) ([]models.TopicExpertise, error) {
	var topicIDs []uint
	if err := s.db.WithContext(ctx).Model(&models.QuestionTopic{}).
		Where("question_id = ?", questionID).
		Order("position ASC").Order("topic_id ASC").
		Pluck("topic_id", &topicIDs).Error; err != nil {
		return nil, err
	}

	type levelUp struct {
		topicID uint
		level   string
	}
	var ups []levelUp
	out := make([]models.TopicExpertise, 0, len(topicIDs))

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, topicID := range topicIDs {
			row, prev, err := bumpExpertise(tx, userID, topicID)
			if err != nil {
				return err
			}
			if row.ExpertiseLevel != prev && row.ExpertiseLevel != models.ExpertiseInterested {
				ups = append(ups, levelUp{topicID: topicID, level: row.ExpertiseLevel})
			}
			out = append(out, *row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, up := range ups {
		s.log.Info("topic tier reached",
			zap.Uint("user_id", userID),
			zap.Uint("topic_id", up.topicID),
			zap.String("level", up.level),
		)
		if s.badges != nil {
			s.badges.award(ctx, userID, fmt.Sprintf("%s_%d", up.level, up.topicID), map[string]any{
				"topic_id": up.topicID,
				"level":    up.level,
			})
		}
	}
	return out, nil
}

// ListUserExpertise returns a user's topics, highest count first.
func (s *ExpertiseService) ListUserExpertise(ctx context.Context, userID uint) ([]models.TopicExpertise, error) {
	var rows []models.TopicExpertise
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("vote_count DESC").Order("topic_id ASC").Find(&rows).Error
	return rows, err
}

// bumpExpertise increments one counter, creating it at 1. The tier never
// moves down, even if the stored level was set by hand.
func bumpExpertise(tx *gorm.DB, userID, topicID uint) (*models.TopicExpertise, string, error) {
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "topic_id"}},
		DoNothing: true,
	}).Create(&models.TopicExpertise{
		UserID:         userID,
		TopicID:        topicID,
		ExpertiseLevel: models.ExpertiseInterested,
	}).Error; err != nil {
		return nil, "", err
	}

	var row models.TopicExpertise
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND topic_id = ?", userID, topicID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", fmt.Errorf("topic expertise %d/%d vanished", userID, topicID)
	}
	if err != nil {
		return nil, "", err
	}

	prev := row.ExpertiseLevel
	row.VoteCount++
	level := ExpertiseLevel(row.VoteCount)
	if expertiseRank[level] < expertiseRank[prev] {
		level = prev
	}
	row.ExpertiseLevel = level

	if err := tx.Model(&models.TopicExpertise{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
		"vote_count":      row.VoteCount,
		"expertise_level": row.ExpertiseLevel,
	}).Error; err != nil {
		return nil, "", err
	}
	return &row, prev, nil
}
