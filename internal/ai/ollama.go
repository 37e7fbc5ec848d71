package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// OllamaProvider talks to a local Ollama server. Request deadlines come from
// ctx, so the default client carries no global timeout.
type OllamaProvider struct {
	BaseURL   string
	Model     string
	MaxTokens int
	Client    *http.Client
}

func NewOllamaProvider(baseURL, model string, maxTokens int) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Model:     model,
		MaxTokens: maxTokens,
		Client:    &http.Client{},
	}
}

type ollamaMsg struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type ollamaChatReq struct {
	Model    string         `json:"model"`
	Messages []ollamaMsg    `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaChatResp struct {
	Message ollamaMsg `json:"message"`
	Done    bool      `json:"done"`
	Error   string    `json:"error,omitempty"`
}

func (p *OllamaProvider) request(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	if p.Client == nil {
		return nil, errors.New("http client is nil")
	}

	reqBody := ollamaChatReq{
		Model:    p.Model,
		Stream:   stream,
		Messages: make([]ollamaMsg, 0, len(messages)),
	}
	if p.MaxTokens > 0 {
		reqBody.Options = &ollamaOptions{NumPredict: p.MaxTokens}
	}
	for _, m := range messages {
		om := ollamaMsg{Role: m.Role, Content: m.Content}
		for _, img := range m.Images {
			// ollama only accepts inline base64 images
			if len(img.Data) > 0 {
				om.Images = append(om.Images, base64.StdEncoding.EncodeToString(img.Data))
			}
		}
		reqBody.Messages = append(reqBody.Messages, om)
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp, nil
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	resp, err := p.request(ctx, messages, false)
	if err != nil {
		return "", upstream("ollama", err)
	}
	defer resp.Body.Close()

	var decoded ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", upstream("ollama", err)
	}
	if decoded.Error != "" {
		return "", upstream("ollama", errors.New(decoded.Error))
	}
	return decoded.Message.Content, nil
}

// StreamChat streams assistant content chunks from newline-delimited JSON.
func (p *OllamaProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		resp, err := p.request(ctx, messages, true)
		if err != nil {
			errs <- upstream("ollama", err)
			return
		}
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}

			var decoded ollamaChatResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				errs <- upstream("ollama", err)
				return
			}
			if decoded.Error != "" {
				errs <- upstream("ollama", errors.New(decoded.Error))
				return
			}
			if decoded.Message.Content != "" {
				if !sendChunk(ctx, chunks, decoded.Message.Content) {
					errs <- upstream("ollama", ctx.Err())
					return
				}
			}
			if decoded.Done {
				return
			}
		}

		if err := sc.Err(); err != nil {
			errs <- upstream("ollama", err)
			return
		}
		if err := ctx.Err(); err != nil {
			errs <- upstream("ollama", err)
		}
	}()

	return chunks, errs
}
