package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/suPer8Hu/counsel-platform/internal/ai"
	"github.com/suPer8Hu/counsel-platform/internal/attachment"
	"go.uber.org/zap"
)

type StreamRequest struct {
	AccountID    uint64
	RoomID       string
	Message      string
	FileURLs     []string
	ContentsType string
}

// StreamStart is reported once the user message is stored.
type StreamStart struct {
	RoomID        string `json:"room_id"`
	UserMessageID uint64 `json:"user_message_id"`
	NewRoom       bool   `json:"new_room"`
}

type StreamResult struct {
	RoomID             string `json:"room_id"`
	UserMessageID      uint64 `json:"user_message_id"`
	AssistantMessageID uint64 `json:"assistant_message_id,omitempty"`
	// Partial is set when the stored reply was cut short by a failure.
	Partial bool   `json:"partial"`
	Text    string `json:"-"`
}

// Emitter receives the reply while it is generated. Start is called before
// the first chunk. A Chunk error stops generation.
type Emitter interface {
	Start(StreamStart) error
	Chunk(text string) error
}

// EmitFunc adapts a plain chunk callback to Emitter.
type EmitFunc func(text string) error

func (f EmitFunc) Start(StreamStart) error { return nil }
func (f EmitFunc) Chunk(text string) error { return f(text) }

func (s *Service) contentsType(req StreamRequest) (ContentsType, error) {
	if req.ContentsType == "" {
		return ContentsType(attachment.ContentKind(req.FileURLs)), nil
	}
	t := ContentsType(strings.ToUpper(strings.TrimSpace(req.ContentsType)))
	if !t.Valid() {
		return "", ErrInvalidContentsType
	}
	return t, nil
}

// loadConversation returns the target room with its messages, creating a
// room when the request names none.
func (s *Service) loadConversation(ctx context.Context, req StreamRequest) (*Conversation, bool, error) {
	if strings.TrimSpace(req.RoomID) == "" {
		title := clipRunes(strings.TrimSpace(req.Message), titleRunes)
		room, err := s.newRoom(req.AccountID, StartRoomInput{Title: title})
		if err != nil {
			return nil, false, err
		}
		if err := s.repo.CreateRoom(ctx, room); err != nil {
			return nil, false, err
		}
		s.audit("room_start", req.AccountID, room.RoomID)
		return NewConversation(*room, nil), true, nil
	}

	room, err := s.ownedRoom(ctx, req.AccountID, req.RoomID)
	if err != nil {
		return nil, false, err
	}
	msgs, err := s.repo.ListByRoom(ctx, room.RoomID)
	if err != nil {
		return nil, false, err
	}
	return NewConversation(*room, msgs), false, nil
}

// buildPrompt assembles persona, recent history and the current turn.
// History entries that fail to decrypt are left out.
func (s *Service) buildPrompt(ctx context.Context, history []HistoryEntry, req StreamRequest) ([]ai.Message, error) {
	usable := make([]HistoryEntry, 0, len(history))
	for _, e := range history {
		if e.Err != nil {
			s.log.Warn("history message skipped",
				zap.Uint64("message_id", e.MessageID),
				zap.Error(e.Err),
			)
			continue
		}
		usable = append(usable, e)
	}
	if len(usable) > s.contextWindow {
		usable = usable[len(usable)-s.contextWindow:]
	}

	out := make([]ai.Message, 0, len(usable)+2)
	if s.persona.System != "" {
		out = append(out, ai.Message{Role: ai.RoleSystem, Content: s.persona.System})
	}
	for _, e := range usable {
		role := ai.RoleUser
		if e.Role == RoleAssistant {
			role = ai.RoleAssistant
		}
		out = append(out, ai.Message{Role: role, Content: e.Text})
	}

	current := ai.Message{Role: ai.RoleUser, Content: req.Message}
	if s.attachments != nil && len(req.FileURLs) > 0 {
		resolved, err := s.attachments.Resolve(ctx, req.FileURLs)
		if err != nil {
			return nil, err
		}
		var texts []string
		for _, r := range resolved {
			if r.Image != nil {
				current.Images = append(current.Images, *r.Image)
				continue
			}
			if r.Text != "" {
				texts = append(texts, r.Text)
			}
		}
		if len(texts) > 0 {
			current.Content = strings.TrimSpace(current.Content + "\n\n" + s.persona.AttachmentHeader + "\n" + strings.Join(texts, "\n\n"))
		}
	}
	return append(out, current), nil
}

// Stream runs one exchange: quota check, history load, user message
// persistence, prompt build, streaming, assistant persistence and usage
// recording.
//
// The user message is stored before the model is called. When generation
// fails or the caller goes away after at least one chunk, the partial reply
// is still stored and counted. On such failures both the result and the
// error are returned.
func (s *Service) Stream(ctx context.Context, req StreamRequest, emit Emitter) (*StreamResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	kind, err := s.contentsType(req)
	if err != nil {
		return nil, err
	}

	if err := s.meter.CheckAvailable(ctx, req.AccountID); err != nil {
		return nil, err
	}

	conv, created, err := s.loadConversation(ctx, req)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive() {
		return nil, ErrRoomNotActive
	}
	room := conv.Room()
	history := conv.PromptHistory(s.cipher)

	userMsg, err := s.appendEncrypted(ctx, &room, req.AccountID, RoleUser, req.Message, kind, conv.LastMessageID(), req.FileURLs)
	if err != nil {
		return nil, err
	}
	if err := conv.Append(*userMsg); err != nil {
		return nil, err
	}
	res := &StreamResult{RoomID: room.RoomID, UserMessageID: userMsg.ID}

	if err := emit.Start(StreamStart{RoomID: room.RoomID, UserMessageID: userMsg.ID, NewRoom: created}); err != nil {
		return res, err
	}

	msgs, err := s.buildPrompt(ctx, history, req)
	if err != nil {
		return res, err
	}

	llmCtx, cancel := context.WithTimeout(ctx, s.llmTimeout)
	defer cancel()

	chunks, errs := s.llm.StreamChat(llmCtx, msgs)
	var (
		b       strings.Builder
		n       int
		emitErr error
	)
	for c := range chunks {
		if emitErr != nil {
			continue
		}
		b.WriteString(c)
		n++
		if err := emit.Chunk(c); err != nil {
			emitErr = err
			cancel()
		}
	}
	genErr := <-errs
	if genErr != nil && !errors.Is(genErr, ai.ErrUpstreamGeneration) {
		genErr = fmt.Errorf("%w: %w", ai.ErrUpstreamGeneration, genErr)
	}

	failed := genErr != nil || emitErr != nil
	if failed && n == 0 {
		s.log.Warn("generation produced nothing",
			zap.String("room_id", room.RoomID),
			zap.Error(errors.Join(genErr, emitErr)),
		)
		return res, firstErr(emitErr, genErr)
	}

	// the caller may be gone; what was generated is still kept
	persistCtx := context.WithoutCancel(ctx)
	reply := b.String()
	res.Text = reply
	res.Partial = failed

	assistantMsg, err := s.appendEncrypted(persistCtx, &room, req.AccountID, RoleAssistant, reply, ContentsText, &userMsg.ID, nil)
	if err != nil {
		s.log.Error("persist assistant message failed",
			zap.String("room_id", room.RoomID),
			zap.Error(err),
		)
		return res, errors.Join(firstErr(emitErr, genErr), err)
	}
	res.AssistantMessageID = assistantMsg.ID

	if err := s.meter.RecordUsage(persistCtx, req.AccountID, utf8.RuneCountInString(req.Message), utf8.RuneCountInString(reply)); err != nil {
		s.log.Error("record usage failed",
			zap.Uint64("account_id", req.AccountID),
			zap.Error(err),
		)
	}

	s.audit("message_exchange", req.AccountID, room.RoomID,
		zap.Uint64("user_message_id", userMsg.ID),
		zap.Uint64("assistant_message_id", assistantMsg.ID),
		zap.Bool("partial", failed),
	)
	return res, firstErr(emitErr, genErr)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// StreamOutcome is the final state of a SendMessageStream call.
type StreamOutcome struct {
	Result *StreamResult
	Err    error
}

type chanEmitter struct {
	ctx     context.Context
	started chan<- StreamStart
	chunks  chan<- string
}

func (e *chanEmitter) Start(st StreamStart) error {
	e.started <- st
	return nil
}

func (e *chanEmitter) Chunk(text string) error {
	select {
	case e.chunks <- text:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

// SendMessageStream runs Stream in the background.
//
// started receives one value once the user message is stored and is closed
// without a value when the request fails earlier. chunks carries the reply.
// Both are closed before the single outcome is delivered.
func (s *Service) SendMessageStream(ctx context.Context, req StreamRequest) (started <-chan StreamStart, chunks <-chan string, outcome <-chan StreamOutcome) {
	outStarted := make(chan StreamStart, 1)
	outChunks := make(chan string, 16)
	outOutcome := make(chan StreamOutcome, 1)

	go func() {
		defer close(outOutcome)

		res, err := s.Stream(ctx, req, &chanEmitter{ctx: ctx, started: outStarted, chunks: outChunks})
		close(outStarted)
		close(outChunks)
		outOutcome <- StreamOutcome{Result: res, Err: err}
	}()

	return outStarted, outChunks, outOutcome
}
