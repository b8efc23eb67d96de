package models

import "time"

// Expertise tiers, lowest first.
const (
	ExpertiseInterested    = "interested"
	ExpertiseKnowledgeable = "knowledgeable"
	ExpertiseExpert        = "expert"
	ExpertiseMaster        = "master"
)

// TopicExpertise counts a user's votes on questions tagged with a topic.
type TopicExpertise struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"uniqueIndex:idx_expertise_user_topic,priority:1;not null" json:"user_id"`
	TopicID        uint      `gorm:"uniqueIndex:idx_expertise_user_topic,priority:2;not null" json:"topic_id"`
	VoteCount      int       `gorm:"not null;default:0" json:"vote_count"`
	ExpertiseLevel string    `gorm:"size:16;not null;default:'interested'" json:"expertise_level"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
