package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
)

func drain(t *testing.T, chunks <-chan string, errs <-chan error) ([]string, error) {
	t.Helper()
	var got []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				return got, <-errs
			}
			got = append(got, c)
		case <-timeout:
			t.Fatalf("stream did not finish")
		}
	}
}

func TestOllama_StreamChat(t *testing.T) {
	var captured ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hi"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":" there"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "m", 64)
	chunks, errs := p.StreamChat(context.Background(), []Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: "hello", Images: []Image{{Data: []byte("img")}}},
	})
	got, err := drain(t, chunks, errs)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(got, "") != "Hi there" || len(got) != 2 {
		t.Fatalf("chunks = %q", got)
	}
	if !captured.Stream || captured.Options == nil || captured.Options.NumPredict != 64 {
		t.Fatalf("unexpected request: %+v", captured)
	}
	if len(captured.Messages) != 2 || len(captured.Messages[1].Images) != 1 {
		t.Fatalf("images not forwarded: %+v", captured.Messages)
	}
}

func TestOllama_ErrorLineIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"par"},"done":false}`)
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	}))
	defer srv.Close()

	chunks, errs := NewOllamaProvider(srv.URL, "m", 0).StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	got, err := drain(t, chunks, errs)
	if !errors.Is(err, ErrUpstreamGeneration) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if len(got) != 1 || got[0] != "par" {
		t.Fatalf("partial chunks = %q", got)
	}
}

func TestOpenRouter_StreamChat(t *testing.T) {
	var auth, title string
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		title = r.Header.Get("X-Title")
		_ = json.NewDecoder(r.Body).Decode(&raw)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "key", "openrouter/auto", "", "counsel", 0)
	chunks, errs := p.StreamChat(context.Background(), []Message{
		{Role: RoleUser, Content: "look", Images: []Image{{URL: "https://img/x.png"}}},
	})
	got, err := drain(t, chunks, errs)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(got, "") != "Hi there" {
		t.Fatalf("chunks = %q", got)
	}
	if auth != "Bearer key" || title != "counsel" {
		t.Fatalf("headers: auth=%q title=%q", auth, title)
	}
	msgs, _ := raw["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", raw["messages"])
	}
	parts, ok := msgs[0].(map[string]any)["content"].([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("expected multipart content, got %v", msgs[0])
	}
}

func TestOpenRouter_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	chunks, errs := NewOpenRouterProvider(srv.URL, "key", "m", "", "", 0).StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	_, err := drain(t, chunks, errs)
	if !errors.Is(err, ErrUpstreamGeneration) || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = NewOpenRouterProvider(srv.URL, "", "m", "", "", 0).Chat(context.Background(), nil)
	if !errors.Is(err, ErrUpstreamGeneration) {
		t.Fatalf("missing key should be upstream error, got %v", err)
	}
}

func TestOpenAI_StreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"stream":true`) {
			t.Errorf("stream flag missing: %s", body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range []string{"Hi", " there"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key", srv.URL+"/v1", "gpt-4o", 32)
	chunks, errs := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hello"}})
	got, err := drain(t, chunks, errs)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(got, "") != "Hi there" {
		t.Fatalf("chunks = %q", got)
	}
}

func TestOpenAI_MultiContentForImages(t *testing.T) {
	msgs := toOpenAIMessages([]Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: "see", Images: []Image{{MIMEType: "image/png", Data: []byte{1, 2}}}},
	})
	if msgs[0].Content != "persona" || msgs[0].MultiContent != nil {
		t.Fatalf("plain message changed: %+v", msgs[0])
	}
	if len(msgs[1].MultiContent) != 2 || msgs[1].Content != "" {
		t.Fatalf("expected multipart: %+v", msgs[1])
	}
	if u := msgs[1].MultiContent[1].ImageURL.URL; !strings.HasPrefix(u, "data:image/png;base64,") {
		t.Fatalf("image url = %q", u)
	}
}

func TestStream_StopsWhenConsumerLeaves(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			fmt.Fprintln(w, `{"message":{"content":"x"},"done":false}`)
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	chunks, errs := NewOllamaProvider(srv.URL, "m", 0).StreamChat(ctx, []Message{{Role: RoleUser, Content: "x"}})
	<-chunks
	cancel()

	done := make(chan error, 1)
	go func() {
		for range chunks {
		}
		done <- <-errs
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrUpstreamGeneration) {
			t.Fatalf("expected upstream error after cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("provider goroutine did not exit")
	}
}

func TestCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"a"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"b"},"done":true}`)
	}))
	defer srv.Close()

	out, err := Collect(context.Background(), NewOllamaProvider(srv.URL, "m", 0), []Message{{Role: RoleUser, Content: "x"}})
	if err != nil || out != "ab" {
		t.Fatalf("collect = %q, %v", out, err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(" Ollama ", func(ctx context.Context, model string) (StreamProvider, error) {
		return NewOllamaProvider("", model, 0), nil
	})

	p, err := r.Get(context.Background(), "OLLAMA", "llama3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if op, ok := p.(*OllamaProvider); !ok || op.Model != "llama3" {
		t.Fatalf("unexpected provider: %#v", p)
	}
	if _, err := r.Get(context.Background(), "nope", ""); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if names := r.Names(); len(names) != 1 || names[0] != "ollama" {
		t.Fatalf("names = %v", names)
	}
}

func TestGeminiTurns(t *testing.T) {
	instruction, history, last, err := geminiTurns([]Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleSystem, Content: "rules"},
		{Role: RoleUser, Content: "first", Images: []Image{{URL: "https://img/remote.png"}}},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "second", Images: []Image{{MIMEType: "image/png", Data: []byte{1}}, {URL: "https://img/skip.png"}}},
	})
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if instruction == nil || len(instruction.Parts) != 1 || instruction.Parts[0] != genai.Text("persona\n\nrules") {
		t.Fatalf("system instruction = %+v", instruction)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "model" {
		t.Fatalf("history roles = %+v", history)
	}
	if len(history[0].Parts) != 1 {
		t.Fatalf("image without inline data should be skipped: %+v", history[0].Parts)
	}
	if len(last) != 2 || last[0] != genai.Text("second") {
		t.Fatalf("last parts = %+v", last)
	}
	if blob, ok := last[1].(genai.Blob); !ok || blob.MIMEType != "image/png" {
		t.Fatalf("expected inline blob, got %#v", last[1])
	}

	instruction, _, _, err = geminiTurns([]Message{{Role: RoleUser, Content: "hi"}})
	if err != nil || instruction != nil {
		t.Fatalf("no system messages: instruction=%v err=%v", instruction, err)
	}
}

func TestGemini_LastMessageMustBeUser(t *testing.T) {
	for _, msgs := range [][]Message{nil, {{Role: RoleUser, Content: "q"}, {Role: RoleAssistant, Content: "a"}}} {
		if _, _, _, err := geminiTurns(msgs); err == nil {
			t.Fatalf("expected error for %+v", msgs)
		}
	}

	if _, err := NewGeminiProvider(context.Background(), " ", "", 0); err == nil {
		t.Fatalf("expected missing key error")
	}
	p, err := NewGeminiProvider(context.Background(), "x", "", 16)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	defer p.Close()

	chunks, errs := p.StreamChat(context.Background(), []Message{{Role: RoleAssistant, Content: "a"}})
	got, err := drain(t, chunks, errs)
	if len(got) != 0 || !errors.Is(err, ErrUpstreamGeneration) {
		t.Fatalf("got %q, %v", got, err)
	}

	cs, last, err := p.session([]Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleAssistant, Content: "earlier"},
		{Role: RoleUser, Content: "now"},
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if len(cs.History) != 1 || cs.History[0].Role != "model" || len(last) != 1 {
		t.Fatalf("history = %+v last = %+v", cs.History, last)
	}
}
