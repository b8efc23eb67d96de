package models

import (
	"time"

	"gorm.io/datatypes"
)

// ChallengeInstance is one challenge inside a day's set. The definition
// fields are fixed once generated; only Progress and Completed change.
type ChallengeInstance struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Target    int    `json:"target"`
	Progress  int    `json:"progress"`
	Reward    int    `json:"reward"`
	Completed bool   `json:"completed"`
}

// DailyChallengeSet holds the three challenges a user got for one calendar day.
type DailyChallengeSet struct {
	ID            uint                                   `gorm:"primaryKey" json:"id"`
	UserID        uint                                   `gorm:"uniqueIndex:idx_challenge_user_date,priority:1;not null" json:"user_id"`
	ChallengeDate string                                 `gorm:"size:10;uniqueIndex:idx_challenge_user_date,priority:2;not null" json:"challenge_date"`
	Challenges    datatypes.JSONSlice[ChallengeInstance] `json:"challenges"`
	Completed     datatypes.JSONSlice[string]            `json:"completed"`
	CreatedAt     time.Time                              `json:"created_at"`
	UpdatedAt     time.Time                              `json:"updated_at"`
}
