package models

import (
	"time"

	"gorm.io/gorm"
)

// Question lifecycle states.
const (
	QuestionActive = "active"
	QuestionClosed = "closed"
)

// Question is a timed multiple-choice poll.
type Question struct {
	ID                 uint             `gorm:"primaryKey" json:"id"`
	CreatorID          uint             `gorm:"index;not null" json:"creator_id"`
	Title              string           `gorm:"size:255;not null" json:"title"`
	Description        string           `gorm:"type:text" json:"description"`
	ImageURL           string           `gorm:"size:512" json:"image_url"`
	IsAnonymous        bool             `gorm:"not null;default:false" json:"is_anonymous"`
	Status             string           `gorm:"size:16;index;not null;default:'active'" json:"status"`
	ExpiresAt          time.Time        `gorm:"index;not null" json:"expires_at"`
	ClosedAt           *time.Time       `json:"closed_at"`
	CostPaid           int              `gorm:"not null;default:0" json:"cost_paid"`
	CompletionRewarded bool             `gorm:"not null;default:false" json:"-"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	DeletedAt          gorm.DeletedAt   `gorm:"index" json:"-"`
	Options            []QuestionOption `gorm:"foreignKey:QuestionID" json:"options"`
}

// QuestionOption is one answer choice.
type QuestionOption struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	QuestionID uint   `gorm:"index;not null" json:"question_id"`
	Label      string `gorm:"size:255;not null" json:"label"`
	Position   int    `gorm:"not null;default:0" json:"position"`
}

// Topic is a tag a question can carry.
type Topic struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:64;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// QuestionTopic links a question to a topic; Position keeps tag order.
type QuestionTopic struct {
	QuestionID uint `gorm:"primaryKey;autoIncrement:false" json:"question_id"`
	TopicID    uint `gorm:"primaryKey;autoIncrement:false;index" json:"topic_id"`
	Position   int  `gorm:"not null;default:0" json:"position"`
}
