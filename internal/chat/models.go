package chat

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type RoomStatus string

const (
	RoomActive RoomStatus = "ACTIVE"
	RoomEnded  RoomStatus = "ENDED"
)

const (
	CategoryGeneral = "GENERAL"
	DivisionDefault = "DEFAULT"
)

type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

type ContentsType string

const (
	ContentsText   ContentsType = "TEXT"
	ContentsImage  ContentsType = "IMAGE"
	ContentsFile   ContentsType = "FILE"
	ContentsSystem ContentsType = "SYSTEM"
)

func (t ContentsType) Valid() bool {
	switch t {
	case ContentsText, ContentsImage, ContentsFile, ContentsSystem:
		return true
	}
	return false
}

type Room struct {
	RoomID    string     `gorm:"type:varchar(36);primaryKey" json:"room_id"`
	AccountID uint64     `gorm:"index;not null" json:"-"`
	Title     string     `gorm:"type:varchar(100);not null" json:"title"`
	Status    RoomStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Category  string     `gorm:"type:varchar(20)" json:"category"`
	Division  string     `gorm:"type:varchar(20)" json:"division"`
	OutAPI    bool       `gorm:"not null;default:false" json:"out_api"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (Room) TableName() string { return "chat_rooms" }

func (r *Room) IsActive() bool { return r.Status == RoomActive }

// Start marks a room active. Ended rooms cannot be restarted.
func (r *Room) Start(now time.Time) error {
	if r.Status == RoomEnded {
		return ErrRoomAlreadyEnded
	}
	r.Status = RoomActive
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	return nil
}

func (r *Room) End(now time.Time) error {
	if r.Status == RoomEnded {
		return ErrRoomAlreadyEnded
	}
	r.Status = RoomEnded
	r.EndedAt = &now
	return nil
}

// Message holds one encrypted turn. Rows are never updated after insert.
type Message struct {
	ID           uint64         `gorm:"primaryKey;autoIncrement"`
	RoomID       string         `gorm:"type:varchar(36);index:idx_chat_msg_room_id,priority:1;not null"`
	AccountID    uint64         `gorm:"index;not null"`
	Role         Role           `gorm:"type:varchar(16);not null"`
	ContentEnc   []byte         `gorm:"not null"`
	IV           []byte         `gorm:"not null"`
	EncVersion   int            `gorm:"not null;default:1"`
	ContentHash  []byte         `gorm:"size:64"`
	ContentsType ContentsType   `gorm:"type:varchar(16);not null;default:TEXT"`
	ParentID     *uint64        `gorm:"index"`
	FileURLs     datatypes.JSON `gorm:"column:file_urls"`
	CreatedAt    time.Time
}

func (Message) TableName() string { return "chat_messages" }

// Files returns the attachment keys stored with the message.
func (m *Message) Files() []string {
	if len(m.FileURLs) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(m.FileURLs, &out); err != nil {
		return nil
	}
	return out
}

func (m *Message) SetFiles(keys []string) {
	if len(keys) == 0 {
		m.FileURLs = nil
		return
	}
	b, _ := json.Marshal(keys)
	m.FileURLs = datatypes.JSON(b)
}

type Satisfaction string

const (
	Satisfied   Satisfaction = "SATISFIED"
	Unsatisfied Satisfaction = "UNSATISFIED"
)

type Feedback struct {
	ID           uint64       `gorm:"primaryKey;autoIncrement" json:"feedback_id"`
	MessageID    uint64       `gorm:"uniqueIndex:uniq_feedback_msg_account,priority:1;not null" json:"message_id"`
	AccountID    uint64       `gorm:"uniqueIndex:uniq_feedback_msg_account,priority:2;not null" json:"-"`
	Satisfaction Satisfaction `gorm:"type:varchar(16);not null" json:"satisfaction"`
	EmotionLabel string       `gorm:"type:varchar(32)" json:"emotion_label,omitempty"`
	EmotionScore *float64     `json:"emotion_score,omitempty"`
	FeedbackText string       `gorm:"type:text" json:"feedback_text,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

func (Feedback) TableName() string { return "chat_feedback" }

// Models lists every table owned by this package, for AutoMigrate.
func Models() []any {
	return []any{&Room{}, &Message{}, &Feedback{}}
}
