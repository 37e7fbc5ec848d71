package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GeminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int
}

func NewGeminiProvider(ctx context.Context, apiKey, model string, maxTokens int) (*GeminiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if model == "" {
		model = "gemini-1.5-flash-latest"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, upstream("gemini", err)
	}
	return &GeminiProvider{client: client, model: model, maxTokens: maxTokens}, nil
}

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func geminiParts(m Message) []genai.Part {
	parts := []genai.Part{genai.Text(m.Content)}
	for _, img := range m.Images {
		if len(img.Data) == 0 {
			continue
		}
		mime := img.MIMEType
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, genai.Blob{MIMEType: mime, Data: img.Data})
	}
	return parts
}

// geminiTurns maps a conversation onto Gemini's shape: system messages become
// the system instruction, assistant turns use role "model", and the final user
// turn is returned separately as the message to send.
func geminiTurns(messages []Message) (*genai.Content, []*genai.Content, []genai.Part, error) {
	if len(messages) == 0 || messages[len(messages)-1].Role != RoleUser {
		return nil, nil, nil, errors.New("last message must come from the user")
	}

	var system []string
	history := make([]*genai.Content, 0, len(messages))
	for _, m := range messages[:len(messages)-1] {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: geminiParts(m)})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: geminiParts(m)})
		}
	}

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))},
		}
	}
	return instruction, history, geminiParts(messages[len(messages)-1]), nil
}

func (p *GeminiProvider) session(messages []Message) (*genai.ChatSession, []genai.Part, error) {
	instruction, history, last, err := geminiTurns(messages)
	if err != nil {
		return nil, nil, err
	}

	model := p.client.GenerativeModel(p.model)
	if p.maxTokens > 0 {
		model.SetMaxOutputTokens(int32(p.maxTokens))
	}
	model.SystemInstruction = instruction

	cs := model.StartChat()
	cs.History = history
	return cs, last, nil
}

func textOf(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	cs, parts, err := p.session(messages)
	if err != nil {
		return "", upstream("gemini", err)
	}
	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return "", upstream("gemini", err)
	}
	return textOf(resp), nil
}

func (p *GeminiProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		cs, parts, err := p.session(messages)
		if err != nil {
			errs <- upstream("gemini", err)
			return
		}

		it := cs.SendMessageStream(ctx, parts...)
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				errs <- upstream("gemini", err)
				return
			}
			if text := textOf(resp); text != "" {
				if !sendChunk(ctx, chunks, text) {
					errs <- upstream("gemini", ctx.Err())
					return
				}
			}
		}
	}()

	return chunks, errs
}
