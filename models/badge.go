package models

import (
	"time"

	"gorm.io/datatypes"
)

// Badge is awarded at most once per (user, badge type).
type Badge struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"uniqueIndex:idx_badge_user_type,priority:1;not null" json:"user_id"`
	BadgeType string         `gorm:"size:64;uniqueIndex:idx_badge_user_type,priority:2;not null" json:"badge_type"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	EarnedAt  time.Time      `json:"earned_at"`
}
