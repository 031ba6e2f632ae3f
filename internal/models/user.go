package models

import (
	"time"
)

// User is an Instagram-scoped account id seen by the webhook.
type User struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	PlatformAccountID string    `gorm:"size:64;not null;uniqueIndex" json:"platform_account_id"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string { return "users" }
