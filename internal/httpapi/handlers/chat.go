package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/counsel-platform/internal/chat"
	"github.com/suPer8Hu/counsel-platform/internal/common"
	"github.com/suPer8Hu/counsel-platform/internal/storage"
	"go.uber.org/zap"
)

const heartbeatInterval = 15 * time.Second

type streamReq struct {
	Message      string   `json:"message"`
	RoomID       string   `json:"room_id"`
	FileURLs     []string `json:"file_urls"`
	ContentsType string   `json:"contents_type"`
}

// StreamAuto answers with an SSE stream once the first fragment is generated.
// Failures before that point, including an upstream failure that produced
// nothing, are reported as a plain JSON envelope with the mapped status.
func (h *Handler) StreamAuto(c *gin.Context) {
	uid, okk := accountID(c)
	if !okk {
		return
	}

	var req streamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	for _, key := range req.FileURLs {
		if !storage.OwnedBy(key, uid) {
			common.Fail(c, http.StatusBadRequest, 10006, "invalid file key")
			return
		}
	}

	ctx := c.Request.Context()
	started, chunks, outcome := h.ChatSvc.SendMessageStream(ctx, chat.StreamRequest{
		AccountID:    uid,
		RoomID:       req.RoomID,
		Message:      req.Message,
		FileURLs:     req.FileURLs,
		ContentsType: req.ContentsType,
	})

	var meta chat.StreamStart
	select {
	case st, ok := <-started:
		if !ok {
			out := <-outcome
			h.respondError(c, "stream", out.Err)
			return
		}
		meta = st
	case <-ctx.Done():
		return
	}

	// hold the headers until there is something to stream
	var (
		first    string
		finished *chat.StreamOutcome
	)
	select {
	case text, ok := <-chunks:
		if ok {
			first = text
			break
		}
		out := <-outcome
		if out.Err != nil {
			h.respondError(c, "stream", out.Err)
			return
		}
		finished = &out
	case <-ctx.Done():
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			// last-resort: send a simple error that won't break SSE framing
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			c.Writer.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		c.Writer.Flush()
	}

	writeJSON("meta", gin.H{
		"type":            "meta",
		"room_id":         meta.RoomID,
		"user_message_id": meta.UserMessageID,
		"new_room":        meta.NewRoom,
	})
	if finished != nil {
		h.finishStream(writeJSON, meta, *finished)
		return
	}
	writeJSON("chunk", gin.H{
		"type":  "chunk",
		"delta": first,
	})

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case text, ok := <-chunks:
			if !ok {
				h.finishStream(writeJSON, meta, <-outcome)
				return
			}
			writeJSON("chunk", gin.H{
				"type":  "chunk",
				"delta": text,
			})

		case <-ticker.C:
			writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})

		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) finishStream(writeJSON func(string, any), meta chat.StreamStart, out chat.StreamOutcome) {
	var assistantID uint64
	partial := false
	if out.Result != nil {
		assistantID = out.Result.AssistantMessageID
		partial = out.Result.Partial
	}

	if out.Err != nil {
		e := classify(out.Err)
		h.Log.Warn("stream ended with error",
			zap.String("room_id", meta.RoomID),
			zap.Uint64("user_message_id", meta.UserMessageID),
			zap.Bool("partial", partial),
			zap.Error(out.Err),
		)
		payload := gin.H{
			"type":    "error",
			"code":    e.code,
			"message": e.message,
		}
		if assistantID != 0 {
			payload["assistant_message_id"] = assistantID
		}
		writeJSON("error", payload)
		return
	}

	writeJSON("done", gin.H{
		"type":                 "done",
		"room_id":              meta.RoomID,
		"user_message_id":      meta.UserMessageID,
		"assistant_message_id": assistantID,
	})
}

type createRoomReq struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Division string `json:"division"`
	OutAPI   bool   `json:"out_api"`
}

func (h *Handler) CreateRoom(c *gin.Context) {
	uid, okk := accountID(c)
	if !okk {
		return
	}
	var req createRoomReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	room, err := h.ChatSvc.StartRoom(c.Request.Context(), uid, chat.StartRoomInput{
		Title:    req.Title,
		Category: req.Category,
		Division: req.Division,
		OutAPI:   req.OutAPI,
	})
	if err != nil {
		h.respondError(c, "create room", err)
		return
	}
	common.OK(c, room)
}

func (h *Handler) ListRooms(c *gin.Context) {
	uid, okk := accountID(c)
	if !okk {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	rooms, err := h.ChatSvc.ListRooms(c.Request.Context(), uid, limit)
	if err != nil {
		h.respondError(c, "list rooms", err)
		return
	}
	if rooms == nil {
		rooms = []chat.Room{}
	}
	common.OK(c, gin.H{"rooms": rooms})
}

func (h *Handler) EndRoom(c *gin.Context) {
	uid, okk := accountID(c)
	if !okk {
		return
	}
	room, err := h.ChatSvc.EndRoom(c.Request.Context(), uid, c.Param("room_id"))
	if err != nil {
		h.respondError(c, "end room", err)
		return
	}
	common.OK(c, room)
}

func (h *Handler) DeleteRoom(c *gin.Context) {
	uid, okk := accountID(c)
	if !okk {
		return
	}
	roomID := c.Param("room_id")
	if err := h.ChatSvc.DeleteRoom(c.Request.Context(), uid, roomID); err != nil {
		h.respondError(c, "delete room", err)
		return
	}
	common.OK(c, gin.H{"room_id": roomID})
}

func (h *Handler) ListMessages(c *gin.Context) {
	uid, okk := accountID(c)
	if !okk {
		return
	}
	roomID := c.Param("room_id")

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, roomID)
	if err != nil {
		h.respondError(c, "list messages", err)
		return
	}
	common.OK(c, gin.H{
		"room_id":  roomID,
		"messages": msgs,
	})
}

type feedbackReq struct {
	Satisfaction string   `json:"satisfaction"`
	EmotionLabel string   `json:"emotion_label"`
	EmotionScore *float64 `json:"emotion_score"`
	FeedbackText string   `json:"feedback_text"`
}

func (h *Handler) SubmitFeedback(c *gin.Context) {
	uid, okk := accountID(c)
	if !okk {
		return
	}
	messageID, err := strconv.ParseUint(c.Param("message_id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10007, "invalid message id")
		return
	}
	var req feedbackReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	fb, err := h.ChatSvc.SubmitFeedback(c.Request.Context(), uid, messageID, chat.FeedbackInput{
		Satisfaction: chat.Satisfaction(req.Satisfaction),
		EmotionLabel: req.EmotionLabel,
		EmotionScore: req.EmotionScore,
		Text:         req.FeedbackText,
	})
	if err != nil {
		h.respondError(c, "submit feedback", err)
		return
	}
	common.OK(c, fb)
}
