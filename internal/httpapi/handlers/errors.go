package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/counsel-platform/internal/account"
	"github.com/suPer8Hu/counsel-platform/internal/ai"
	"github.com/suPer8Hu/counsel-platform/internal/chat"
	"github.com/suPer8Hu/counsel-platform/internal/common"
	"github.com/suPer8Hu/counsel-platform/internal/httpapi/middleware"
	"github.com/suPer8Hu/counsel-platform/internal/usage"
	"go.uber.org/zap"
)

type apiError struct {
	status  int
	code    int
	message string
}

func classify(err error) apiError {
	switch {
	case errors.Is(err, chat.ErrRoomNotFound):
		return apiError{http.StatusNotFound, 40401, "room not found"}
	case errors.Is(err, chat.ErrMessageNotFound):
		return apiError{http.StatusNotFound, 40402, "message not found"}
	case errors.Is(err, account.ErrNotFound):
		return apiError{http.StatusNotFound, 40403, "account not found"}
	case errors.Is(err, chat.ErrRoomNotActive):
		return apiError{http.StatusConflict, 40901, "room is not active"}
	case errors.Is(err, chat.ErrRoomAlreadyEnded):
		return apiError{http.StatusConflict, 40902, "room already ended"}
	case errors.Is(err, chat.ErrFeedbackAlreadyPresent):
		return apiError{http.StatusConflict, 40903, "feedback already submitted"}
	case errors.Is(err, usage.ErrQuotaExceeded):
		return apiError{http.StatusTooManyRequests, 42901, "usage quota exceeded"}
	case errors.Is(err, chat.ErrEmptyMessage):
		return apiError{http.StatusBadRequest, 10002, "message is empty"}
	case errors.Is(err, chat.ErrInvalidContentsType):
		return apiError{http.StatusBadRequest, 10003, "invalid contents_type"}
	case errors.Is(err, chat.ErrInvalidSatisfaction):
		return apiError{http.StatusBadRequest, 10004, "invalid satisfaction"}
	case errors.Is(err, chat.ErrInvalidFeedbackTarget):
		return apiError{http.StatusBadRequest, 10005, "feedback is only accepted for assistant messages"}
	case errors.Is(err, ai.ErrUpstreamGeneration):
		return apiError{http.StatusInternalServerError, 50002, "upstream generation failed"}
	default:
		return apiError{http.StatusInternalServerError, 50001, "internal error"}
	}
}

func (h *Handler) respondError(c *gin.Context, op string, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		h.Log.Error(op+" failed",
			zap.String("request_id", middleware.RequestIDFrom(c)),
			zap.Error(err),
		)
	}
	common.Fail(c, e.status, e.code, e.message)
}

func accountID(c *gin.Context) (uint64, bool) {
	id, ok := middleware.AccountID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return id, ok
}
