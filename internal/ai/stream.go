package ai

import "context"

// StreamProvider is an optional interface. Providers may implement streaming chat.
//
// Both channels are closed when streaming ends. errs is closed before chunks,
// so reading errs after chunks is drained never blocks. At most one error is
// delivered; a nil receive means the stream finished normally.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}

// sendChunk stops delivering once the consumer has gone away.
func sendChunk(ctx context.Context, ch chan<- string, s string) bool {
	select {
	case ch <- s:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains a stream into one string. It is the non-streaming fallback
// used by callers that only need the final text.
func Collect(ctx context.Context, p StreamProvider, messages []Message) (string, error) {
	chunks, errs := p.StreamChat(ctx, messages)
	var out []byte
	for c := range chunks {
		out = append(out, c...)
	}
	if err := <-errs; err != nil {
		return string(out), err
	}
	return string(out), nil
}
