// Package analysis turns SATISFIED chat feedback into anonymized training
// samples and exports them as JSONL.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/suPer8Hu/counsel-platform/internal/chat"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultSystemPrompt = "당신은 연애 심리 상담가입니다."

// ErrPermanent marks events that can never be processed; retrying is pointless.
var ErrPermanent = errors.New("analysis: permanent failure")

func permanent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermanent, fmt.Sprintf(format, args...))
}

type Service struct {
	db     *gorm.DB
	chats  *chat.Repo
	cipher chat.MessageCipher
	log    *zap.Logger
	system string
}

func NewService(db *gorm.DB, chats *chat.Repo, cipher chat.MessageCipher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, chats: chats, cipher: cipher, log: log, system: DefaultSystemPrompt}
}

// WithSystemPrompt sets the system line written at the head of every exported sample.
func (s *Service) WithSystemPrompt(p string) *Service {
	if p != "" {
		s.system = p
	}
	return s
}

// Process stores one sample for a feedback event. Processing the same event
// twice is a no-op.
func (s *Service) Process(ctx context.Context, ev chat.FeedbackEvent) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Sample{}).
		Where("assistant_message_id = ?", ev.MessageID).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("sample already stored", zap.Uint64("message_id", ev.MessageID))
		return nil
	}

	fb, err := s.chats.GetFeedback(ctx, ev.FeedbackID)
	if errors.Is(err, chat.ErrFeedbackNotFound) {
		return permanent("feedback %d not found", ev.FeedbackID)
	}
	if err != nil {
		return err
	}
	if fb.MessageID != ev.MessageID {
		return permanent("feedback %d does not rate message %d", fb.ID, ev.MessageID)
	}
	if fb.Satisfaction != chat.Satisfied {
		s.log.Info("skip unsatisfied feedback", zap.Uint64("feedback_id", fb.ID))
		return nil
	}

	answer, err := s.message(ctx, ev.MessageID)
	if err != nil {
		return err
	}
	if answer.Role != chat.RoleAssistant {
		return permanent("message %d is not an assistant message", answer.ID)
	}
	if answer.ParentID == nil {
		return permanent("message %d has no parent", answer.ID)
	}
	question, err := s.message(ctx, *answer.ParentID)
	if err != nil {
		return err
	}

	userText, err := s.cipher.Decrypt(question.Payload())
	if err != nil {
		return permanent("decrypt message %d: %v", question.ID, err)
	}
	assistantText, err := s.cipher.Decrypt(answer.Payload())
	if err != nil {
		return permanent("decrypt message %d: %v", answer.ID, err)
	}

	turns, err := json.Marshal([]Turn{
		{Role: "user", Content: Anonymize(userText)},
		{Role: "assistant", Content: Anonymize(assistantText)},
	})
	if err != nil {
		return err
	}

	sample := &Sample{
		AssistantMessageID: answer.ID,
		UserMessageID:      question.ID,
		FeedbackID:         fb.ID,
		RoomID:             answer.RoomID,
		EmotionLabel:       fb.EmotionLabel,
		Turns:              datatypes.JSON(turns),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "assistant_message_id"}}, DoNothing: true}).
		Create(sample).Error
	if err != nil {
		return err
	}
	s.log.Info("sample stored",
		zap.Uint64("sample_id", sample.ID),
		zap.Uint64("message_id", answer.ID),
		zap.String("event_id", ev.EventID),
	)
	return nil
}

func (s *Service) message(ctx context.Context, id uint64) (*chat.Message, error) {
	m, err := s.chats.GetMessage(ctx, id)
	if errors.Is(err, chat.ErrMessageNotFound) {
		return nil, permanent("message %d not found", id)
	}
	return m, err
}

type exportLine struct {
	Messages []Turn `json:"messages"`
}

// ExportJSONL writes the samples created in [from, to) as one JSON object per
// line, oldest first. A zero bound is open. It returns the number of lines written.
func (s *Service) ExportJSONL(ctx context.Context, w io.Writer, from, to time.Time) (int, error) {
	q := s.db.WithContext(ctx).Model(&Sample{})
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at < ?", to)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	written := 0
	var batch []Sample
	res := q.FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
		for _, smp := range batch {
			var turns []Turn
			if err := json.Unmarshal(smp.Turns, &turns); err != nil {
				s.log.Warn("skip malformed sample", zap.Uint64("sample_id", smp.ID), zap.Error(err))
				continue
			}
			line := exportLine{Messages: append([]Turn{{Role: "system", Content: s.system}}, turns...)}
			if err := enc.Encode(line); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	return written, res.Error
}
