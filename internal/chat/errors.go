package chat

import "errors"

var (
	ErrRoomNotFound           = errors.New("room not found")
	ErrRoomNotActive          = errors.New("room is not active")
	ErrRoomAlreadyEnded       = errors.New("room already ended")
	ErrMessageNotFound        = errors.New("message not found")
	ErrEmptyMessage           = errors.New("message is empty")
	ErrInvalidFeedbackTarget  = errors.New("feedback is only accepted for assistant messages")
	ErrInvalidContentsType    = errors.New("invalid contents type")
	ErrInvalidSatisfaction    = errors.New("invalid satisfaction value")
	ErrFeedbackAlreadyPresent = errors.New("feedback already submitted")
	ErrFeedbackNotFound       = errors.New("feedback not found")
)
