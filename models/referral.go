package models

import "time"

// Referral records who invited a user. RewardedAt is set once the referrer
// has been paid.
type Referral struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	ReferrerID uint       `gorm:"index;not null" json:"referrer_id"`
	RefereeID  uint       `gorm:"uniqueIndex;not null" json:"referee_id"`
	RewardedAt *time.Time `json:"rewarded_at"`
	CreatedAt  time.Time  `json:"created_at"`
}
