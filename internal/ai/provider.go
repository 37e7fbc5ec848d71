// Package ai adapts chat-completion backends to one streaming port.
package ai

import (
	"context"
	"encoding/base64"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrUpstreamGeneration wraps every failure reported by a model backend.
var ErrUpstreamGeneration = errors.New("upstream generation failed")

// Image is an inline image attached to a user turn. Backends that accept
// remote images use URL; the others send Data.
type Image struct {
	URL      string
	MIMEType string
	Data     []byte
}

func (i Image) dataURL() string {
	if i.URL != "" {
		return i.URL
	}
	mime := i.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

type Message struct {
	Role    string
	Content string
	Images  []Image
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

func upstream(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstreamGeneration) {
		return err
	}
	return &UpstreamError{Provider: provider, Err: err}
}

// UpstreamError carries the backend name and the original cause.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstreamGeneration, e.Err}
}
