package models

import "time"

// PageView aggregates GET hits per day and path. Day is a YYYY-MM-DD key.
type PageView struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Day       string    `gorm:"size:10;uniqueIndex:idx_pv_day_path,priority:1;not null" json:"day"`
	Path      string    `gorm:"size:255;uniqueIndex:idx_pv_day_path,priority:2;index;not null" json:"path"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
