package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/suPer8Hu/counsel-platform/internal/ai"
	"github.com/suPer8Hu/counsel-platform/internal/attachment"
	"github.com/suPer8Hu/counsel-platform/internal/common"
	"github.com/suPer8Hu/counsel-platform/internal/prompt"
	"github.com/suPer8Hu/counsel-platform/internal/usage"
	"go.uber.org/zap"
)

const (
	defaultContextWindow = 20
	defaultLLMTimeout    = 90 * time.Second
	titleRunes           = 20
)

type AttachmentResolver interface {
	Resolve(ctx context.Context, keys []string) ([]attachment.Resolved, error)
	URLs(ctx context.Context, keys []string) []string
}

type EventPublisher interface {
	PublishJSON(ctx context.Context, v any) error
}

// FeedbackEvent is published for every SATISFIED rating.
type FeedbackEvent struct {
	EventID    string    `json:"event_id"`
	FeedbackID uint64    `json:"feedback_id"`
	MessageID  uint64    `json:"message_id"`
	AccountID  uint64    `json:"account_id"`
	RoomID     string    `json:"room_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Service struct {
	repo   *Repo
	cipher MessageCipher
	meter  usage.Meter
	llm    ai.StreamProvider

	log           *zap.Logger
	attachments   AttachmentResolver
	persona       prompt.Persona
	events        EventPublisher
	contextWindow int
	llmTimeout    time.Duration
	now           func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithAttachments(r AttachmentResolver) Option {
	return func(s *Service) { s.attachments = r }
}

func WithPersona(p prompt.Persona) Option {
	return func(s *Service) { s.persona = p }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithContextWindow limits how many past messages are sent to the model.
func WithContextWindow(n int) Option {
	return func(s *Service) {
		if n > 0 && n <= 100 {
			s.contextWindow = n
		}
	}
}

func WithLLMTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.llmTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo *Repo, cipher MessageCipher, meter usage.Meter, llm ai.StreamProvider, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		cipher:        cipher,
		meter:         meter,
		llm:           llm,
		log:           zap.NewNop(),
		persona:       prompt.Default(),
		contextWindow: defaultContextWindow,
		llmTimeout:    defaultLLMTimeout,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) audit(action string, accountID uint64, roomID string, fields ...zap.Field) {
	s.log.Info("chat_event", append([]zap.Field{
		zap.String("action", action),
		zap.Uint64("account_id", accountID),
		zap.String("room_id", roomID),
	}, fields...)...)
}

// ownedRoom hides rooms of other accounts behind ErrRoomNotFound.
func (s *Service) ownedRoom(ctx context.Context, accountID uint64, roomID string) (*Room, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, ErrRoomNotFound
	}
	room, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.AccountID != accountID {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

type StartRoomInput struct {
	Title    string
	Category string
	Division string
	OutAPI   bool
}

func (s *Service) newRoom(accountID uint64, in StartRoomInput) (*Room, error) {
	title := clipRunes(strings.TrimSpace(in.Title), 100)
	if title == "" {
		title = "New chat"
	}
	category := strings.ToUpper(strings.TrimSpace(in.Category))
	if category == "" {
		category = CategoryGeneral
	}
	division := strings.ToUpper(strings.TrimSpace(in.Division))
	if division == "" {
		division = DivisionDefault
	}
	room := &Room{
		RoomID:    uuid.NewString(),
		AccountID: accountID,
		Title:     title,
		Category:  clipRunes(category, 20),
		Division:  clipRunes(division, 20),
		OutAPI:    in.OutAPI,
	}
	if err := room.Start(s.now()); err != nil {
		return nil, err
	}
	return room, nil
}

// StartRoom opens an empty room. Accounts without quota cannot open rooms.
func (s *Service) StartRoom(ctx context.Context, accountID uint64, in StartRoomInput) (*Room, error) {
	if err := s.meter.CheckAvailable(ctx, accountID); err != nil {
		return nil, err
	}
	room, err := s.newRoom(accountID, in)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	s.audit("room_start", accountID, room.RoomID)
	return room, nil
}

func (s *Service) ListRooms(ctx context.Context, accountID uint64, limit int) ([]Room, error) {
	return s.repo.ListRoomsByAccount(ctx, accountID, limit)
}

func (s *Service) EndRoom(ctx context.Context, accountID uint64, roomID string) (*Room, error) {
	room, err := s.ownedRoom(ctx, accountID, roomID)
	if err != nil {
		return nil, err
	}
	if err := room.End(s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.SaveRoomStatus(ctx, room); err != nil {
		return nil, err
	}
	s.audit("room_end", accountID, roomID)
	return room, nil
}

func (s *Service) DeleteRoom(ctx context.Context, accountID uint64, roomID string) error {
	if _, err := s.ownedRoom(ctx, accountID, roomID); err != nil {
		return err
	}
	if err := s.repo.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	s.audit("room_delete", accountID, roomID)
	return nil
}

// MessageView is a decrypted message as shown to its owner.
type MessageView struct {
	MessageID    uint64       `json:"message_id"`
	Role         Role         `json:"role"`
	Content      string       `json:"content"`
	ContentsType ContentsType `json:"contents_type"`
	FileURLs     []string     `json:"file_urls"`
	ParentID     *uint64      `json:"parent_id"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ListMessages returns the room's messages oldest first. Messages that fail
// to decrypt carry the decryption marker instead of their content.
func (s *Service) ListMessages(ctx context.Context, accountID uint64, roomID string) ([]MessageView, error) {
	room, err := s.ownedRoom(ctx, accountID, roomID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	conv := NewConversation(*room, msgs)
	history := conv.PromptHistory(s.cipher)

	out := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		if history[i].Err != nil {
			s.log.Warn("message decrypt failed",
				zap.String("room_id", roomID),
				zap.Uint64("message_id", m.ID),
				zap.Error(history[i].Err),
			)
		}
		files := m.Files()
		if s.attachments != nil && len(files) > 0 {
			files = s.attachments.URLs(ctx, files)
		}
		if files == nil {
			files = []string{}
		}
		out = append(out, MessageView{
			MessageID:    m.ID,
			Role:         m.Role,
			Content:      history[i].Text,
			ContentsType: m.ContentsType,
			FileURLs:     files,
			ParentID:     m.ParentID,
			CreatedAt:    m.CreatedAt,
		})
	}
	return out, nil
}

func (s *Service) appendEncrypted(ctx context.Context, room *Room, accountID uint64, role Role, text string, kind ContentsType, parent *uint64, files []string) (*Message, error) {
	p, err := s.cipher.Encrypt(text)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	m := &Message{
		RoomID:       room.RoomID,
		AccountID:    accountID,
		Role:         role,
		ContentEnc:   p.Ciphertext,
		IV:           p.IV,
		EncVersion:   p.Version,
		ContentHash:  p.Tag,
		ContentsType: kind,
		ParentID:     parent,
	}
	m.SetFiles(files)
	if err := s.repo.AppendMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

type FeedbackInput struct {
	Satisfaction Satisfaction
	EmotionLabel string
	EmotionScore *float64
	Text         string
}

// SubmitFeedback rates an assistant message in one of the caller's rooms.
func (s *Service) SubmitFeedback(ctx context.Context, accountID, messageID uint64, in FeedbackInput) (*Feedback, error) {
	in.Satisfaction = Satisfaction(strings.ToUpper(strings.TrimSpace(string(in.Satisfaction))))
	if in.Satisfaction != Satisfied && in.Satisfaction != Unsatisfied {
		return nil, ErrInvalidSatisfaction
	}

	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedRoom(ctx, accountID, msg.RoomID); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if msg.Role != RoleAssistant {
		return nil, ErrInvalidFeedbackTarget
	}

	f := &Feedback{
		MessageID:    messageID,
		AccountID:    accountID,
		Satisfaction: in.Satisfaction,
		EmotionLabel: clipRunes(strings.TrimSpace(in.EmotionLabel), 32),
		EmotionScore: in.EmotionScore,
		FeedbackText: strings.TrimSpace(in.Text),
	}
	if err := s.repo.CreateFeedback(ctx, f); err != nil {
		return nil, err
	}
	s.audit("feedback", accountID, msg.RoomID,
		zap.Uint64("message_id", messageID),
		zap.String("satisfaction", string(f.Satisfaction)),
	)

	if f.Satisfaction == Satisfied && s.events != nil {
		s.publishFeedback(ctx, f, msg.RoomID)
	}
	return f, nil
}

func (s *Service) publishFeedback(ctx context.Context, f *Feedback, roomID string) {
	id, err := common.NewULID()
	if err != nil {
		s.log.Error("feedback event id", zap.Error(err))
		return
	}
	ev := FeedbackEvent{
		EventID:    id,
		FeedbackID: f.ID,
		MessageID:  f.MessageID,
		AccountID:  f.AccountID,
		RoomID:     roomID,
		OccurredAt: s.now().UTC(),
	}
	if err := s.events.PublishJSON(ctx, ev); err != nil {
		s.log.Error("publish feedback event failed",
			zap.Uint64("feedback_id", f.ID),
			zap.Error(err),
		)
	}
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
