package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenRouterProvider speaks the OpenAI-compatible wire format with
// OpenRouter's attribution headers.
type OpenRouterProvider struct {
	BaseURL   string
	APIKey    string
	Model     string
	SiteURL   string
	AppName   string
	MaxTokens int
	Client    *http.Client
}

type openRouterPart struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterMsg struct {
	Role string `json:"role"`
	// string for plain turns, []openRouterPart when images are attached
	Content any `json:"content"`
}

type openRouterChatReq struct {
	Model     string          `json:"model"`
	Messages  []openRouterMsg `json:"messages"`
	Stream    bool            `json:"stream"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openRouterError struct {
	Message string `json:"message"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *openRouterError `json:"error,omitempty"`
}

type openRouterStreamResp struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *openRouterError `json:"error,omitempty"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string, maxTokens int) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		Model:     model,
		SiteURL:   siteURL,
		AppName:   appName,
		MaxTokens: maxTokens,
		Client:    &http.Client{},
	}
}

func toOpenRouterMessages(messages []Message) []openRouterMsg {
	out := make([]openRouterMsg, 0, len(messages))
	for _, m := range messages {
		if len(m.Images) == 0 {
			out = append(out, openRouterMsg{Role: m.Role, Content: m.Content})
			continue
		}
		parts := []openRouterPart{{Type: "text", Text: m.Content}}
		for _, img := range m.Images {
			parts = append(parts, openRouterPart{Type: "image_url", ImageURL: &openRouterImageURL{URL: img.dataURL()}})
		}
		out = append(out, openRouterMsg{Role: m.Role, Content: parts})
	}
	return out
}

func (p *OpenRouterProvider) request(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	if p.Client == nil {
		return nil, errors.New("http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return nil, errors.New("model is required")
	}

	b, err := json.Marshal(openRouterChatReq{
		Model:     model,
		Stream:    stream,
		Messages:  toOpenRouterMessages(messages),
		MaxTokens: p.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, errors.New(msg)
	}
	return resp, nil
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	resp, err := p.request(ctx, messages, false)
	if err != nil {
		return "", upstream("openrouter", err)
	}
	defer resp.Body.Close()

	var decoded openRouterChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", upstream("openrouter", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", upstream("openrouter", errors.New(decoded.Error.Message))
	}
	if len(decoded.Choices) == 0 {
		return "", upstream("openrouter", errors.New("empty response"))
	}
	return decoded.Choices[0].Message.Content, nil
}

// StreamChat streams assistant content chunks via SSE.
func (p *OpenRouterProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		resp, err := p.request(ctx, messages, true)
		if err != nil {
			errs <- upstream("openrouter", err)
			return
		}
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var decoded openRouterStreamResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				errs <- upstream("openrouter", err)
				return
			}
			if decoded.Error != nil && decoded.Error.Message != "" {
				errs <- upstream("openrouter", errors.New(decoded.Error.Message))
				return
			}
			if len(decoded.Choices) == 0 {
				continue
			}
			if delta := decoded.Choices[0].Delta.Content; delta != "" {
				if !sendChunk(ctx, chunks, delta) {
					errs <- upstream("openrouter", ctx.Err())
					return
				}
			}
		}

		if err := sc.Err(); err != nil {
			errs <- upstream("openrouter", err)
			return
		}
		// body ended without [DONE]
		if err := ctx.Err(); err != nil {
			errs <- upstream("openrouter", err)
		}
	}()

	return chunks, errs
}
