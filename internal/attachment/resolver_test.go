package attachment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	gets    int
}

func (s *fakeStore) Get(ctx context.Context, key string, maxBytes int64) ([]byte, string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	b, ok := s.objects[key]
	if !ok {
		return nil, "", errors.New("no such key")
	}
	if maxBytes > 0 && int64(len(b)) > maxBytes {
		return nil, "", errors.New("too large")
	}
	return b, s.types[key], nil
}

func (s *fakeStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	_ = ctx
	_ = expiry
	return "https://files.example/" + key + "?sig=1", nil
}

func TestResolve_KeepsOrderAndKinds(t *testing.T) {
	store := &fakeStore{
		objects: map[string][]byte{
			"chat/a/notes.txt": []byte("  오늘 있었던 일  "),
			"chat/a/photo.png": {0x89, 'P', 'N', 'G'},
			"chat/a/bad.txt":   {0xff, 0xfe},
		},
		types: map[string]string{"chat/a/photo.png": "image/png"},
	}
	r := NewResolver(store, nil)

	keys := []string{"chat/a/photo.png", "chat/a/notes.txt", "chat/a/missing.txt", "chat/a/bad.txt", "chat/a/tool.exe"}
	got, err := r.Resolve(context.Background(), keys)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != len(keys) {
		t.Fatalf("len = %d", len(got))
	}
	for i, k := range keys {
		if got[i].Key != k {
			t.Fatalf("order broken at %d: %s", i, got[i].Key)
		}
	}
	if got[0].Image == nil || got[0].Image.MIMEType != "image/png" || !strings.HasPrefix(got[0].Image.URL, "https://files.example/") {
		t.Fatalf("image not resolved: %+v", got[0])
	}
	if got[1].Kind != KindText || got[1].Text != "오늘 있었던 일" {
		t.Fatalf("text not resolved: %+v", got[1])
	}
	for _, i := range []int{2, 3, 4} {
		if got[i].Image != nil || !strings.Contains(got[i].Text, "첨부 파일을 읽을 수 없습니다") {
			t.Fatalf("expected notice at %d: %+v", i, got[i])
		}
	}
	if store.gets != 4 {
		t.Fatalf("unsupported files should not be fetched, gets=%d", store.gets)
	}
}

func TestResolve_ClipsLongText(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{"k.txt": []byte(strings.Repeat("가", 100))}}
	r := NewResolver(store, nil)
	r.maxText = 10

	got, err := r.Resolve(context.Background(), []string{"k.txt"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got[0].Text != strings.Repeat("가", 10) {
		t.Fatalf("clip = %q", got[0].Text)
	}
}

func TestResolve_BadPDFBecomesNotice(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{"doc.pdf": []byte("not a pdf")}}
	got, err := NewResolver(store, nil).Resolve(context.Background(), []string{"doc.pdf"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(got[0].Text, "doc.pdf") {
		t.Fatalf("expected notice, got %+v", got[0])
	}
}

func TestResolve_CancelledContext(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewResolver(store, nil).Resolve(ctx, []string{"a.txt"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestContentKind(t *testing.T) {
	cases := map[string][]string{
		"TEXT":  nil,
		"IMAGE": {"a.pdf", "b.JPG"},
		"FILE":  {"a.pdf", "notes.txt"},
	}
	for want, keys := range cases {
		if got := ContentKind(keys); got != want {
			t.Fatalf("ContentKind(%v) = %s, want %s", keys, got, want)
		}
	}
}

func TestURLs(t *testing.T) {
	urls := NewResolver(&fakeStore{}, nil).URLs(context.Background(), []string{"x.png"})
	if len(urls) != 1 || !strings.Contains(urls[0], "x.png?sig=1") {
		t.Fatalf("urls = %v", urls)
	}
}
