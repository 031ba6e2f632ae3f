package models

import (
	"time"
)

// CaptionMaxLength bounds Post.Caption, in characters.
const CaptionMaxLength = 2083

// Post records one published reel. ContentHash is the SHA-256 of the video
// bytes and is unique: at most one Post exists per distinct video.
type Post struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Caption     string    `gorm:"size:2083;not null" json:"caption"`
	ContentHash string    `gorm:"size:64;not null;uniqueIndex" json:"content_hash"`
	MediaID     string    `gorm:"size:64" json:"media_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Post) TableName() string { return "posts" }
