package models

import (
	"time"

	"gorm.io/datatypes"
)

// TransactionType tags the reason for a balance change.
type TransactionType string

const (
	TxVote                 TransactionType = "vote"
	TxStreakBonus          TransactionType = "streak_bonus"
	TxQuestionCreate       TransactionType = "question_create"
	TxQuestionComplete     TransactionType = "question_complete"
	TxQuestionDeleteRefund TransactionType = "question_delete_refund"
	TxChallengeComplete    TransactionType = "challenge_complete"
	TxReferral             TransactionType = "referral"
	TxSignupBonus          TransactionType = "signup_bonus"
)

// UserPointStats aggregates a user's ledger and streak state. One row per user,
// created at registration.
type UserPointStats struct {
	UserID           uint       `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	CurrentBalance   int        `gorm:"not null;default:0" json:"current_balance"`
	LifetimeEarned   int        `gorm:"not null;default:0" json:"lifetime_earned"`
	LifetimeSpent    int        `gorm:"not null;default:0" json:"lifetime_spent"`
	StreakDays       int        `gorm:"not null;default:0" json:"streak_days"`
	LongestStreak    int        `gorm:"not null;default:0" json:"longest_streak"`
	LastVoteDate     *time.Time `json:"last_vote_date"`
	StreakLastDate   *time.Time `json:"streak_last_date"`
	StreakFreezeUsed *time.Time `json:"streak_freeze_used"`
	Level            int        `gorm:"not null;default:1" json:"level"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// PointTransaction is one immutable ledger entry. Amount is signed.
type PointTransaction struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      uint            `gorm:"index:idx_ptx_user_created,priority:1;not null" json:"user_id"`
	Amount      int             `gorm:"not null" json:"amount"`
	Type        TransactionType `gorm:"size:32;index;not null" json:"type"`
	ReferenceID *uint           `json:"reference_id,omitempty"`
	Metadata    datatypes.JSON  `json:"metadata,omitempty"`
	CreatedAt   time.Time       `gorm:"index:idx_ptx_user_created,priority:2" json:"created_at"`
}
