package analysis

import (
	"time"

	"gorm.io/datatypes"
)

// Turn is one anonymized message in a training sample.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Sample is an anonymized user/assistant pair taken from a SATISFIED rating.
type Sample struct {
	ID                 uint64         `gorm:"primaryKey;autoIncrement"`
	AssistantMessageID uint64         `gorm:"uniqueIndex;not null"`
	UserMessageID      uint64         `gorm:"not null"`
	FeedbackID         uint64         `gorm:"index;not null"`
	RoomID             string         `gorm:"type:varchar(36);index;not null"`
	EmotionLabel       string         `gorm:"type:varchar(32)"`
	Turns              datatypes.JSON `gorm:"not null"`
	CreatedAt          time.Time      `gorm:"index"`
}

func (Sample) TableName() string { return "analysis_samples" }

func Models() []any {
	return []any{&Sample{}}
}
