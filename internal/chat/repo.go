package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Repo struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewRepo(db *gorm.DB, log *zap.Logger) *Repo {
	if log == nil {
		log = zap.NewNop()
	}
	return &Repo{db: db, log: log}
}

func (r *Repo) CreateRoom(ctx context.Context, room *Room) error {
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *Repo) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	var room Room
	if err := r.db.WithContext(ctx).First(&room, "room_id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// ListRoomsByAccount returns the account's rooms, newest first.
func (r *Repo) ListRoomsByAccount(ctx context.Context, accountID uint64, limit int) ([]Room, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var rooms []Room
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *Repo) SaveRoomStatus(ctx context.Context, room *Room) error {
	return r.db.WithContext(ctx).Model(&Room{}).
		Where("room_id = ?", room.RoomID).
		Updates(map[string]any{
			"status":     room.Status,
			"started_at": room.StartedAt,
			"ended_at":   room.EndedAt,
		}).Error
}

// DeleteRoom removes the room with its messages and their feedback.
func (r *Repo) DeleteRoom(ctx context.Context, roomID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := tx.Model(&Message{}).Select("id").Where("room_id = ?", roomID)
		if err := tx.Where("message_id IN (?)", ids).Delete(&Feedback{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("room_id = ?", roomID).Delete(&Room{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRoomNotFound
		}
		return nil
	})
}

// AppendMessage inserts m in one transaction. A ParentID that does not name
// a message of the same room is cleared rather than failing the write.
func (r *Repo) AppendMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if m.ParentID != nil {
			var n int64
			if err := tx.Model(&Message{}).
				Where("id = ? AND room_id = ?", *m.ParentID, m.RoomID).
				Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				r.log.Warn("dangling parent cleared",
					zap.String("room_id", m.RoomID),
					zap.Uint64("parent_id", *m.ParentID),
				)
				m.ParentID = nil
			}
		}
		return tx.Create(m).Error
	})
}

// ListByRoom returns the room's messages oldest first.
func (r *Repo) ListByRoom(ctx context.Context, roomID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) GetMessage(ctx context.Context, id uint64) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

// CreateFeedback stores at most one feedback row per message and account.
func (r *Repo) CreateFeedback(ctx context.Context, f *Feedback) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Feedback{}).
			Where("message_id = ? AND account_id = ?", f.MessageID, f.AccountID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrFeedbackAlreadyPresent
		}
		err := tx.Create(f).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrFeedbackAlreadyPresent
		}
		return err
	})
}

func (r *Repo) GetFeedback(ctx context.Context, id uint64) (*Feedback, error) {
	var f Feedback
	if err := r.db.WithContext(ctx).First(&f, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFeedbackNotFound
		}
		return nil, err
	}
	return &f, nil
}
