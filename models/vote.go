package models

import "time"

// Vote is one user's answer to a question. A user votes at most once per question.
type Vote struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	QuestionID uint      `gorm:"uniqueIndex:idx_vote_question_user,priority:1;not null" json:"question_id"`
	UserID     uint      `gorm:"uniqueIndex:idx_vote_question_user,priority:2;index:idx_vote_user_created,priority:1;not null" json:"user_id"`
	OptionID   uint      `gorm:"index;not null" json:"option_id"`
	CreatedAt  time.Time `gorm:"index:idx_vote_user_created,priority:2" json:"created_at"`
}
