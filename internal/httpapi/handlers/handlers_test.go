package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/counsel-platform/internal/httpapi/middleware"
	"github.com/suPer8Hu/counsel-platform/internal/storage"
)

func init() { gin.SetMode(gin.TestMode) }

type memFiles struct {
	objects map[string][]byte
	types   map[string]string
}

func (m *memFiles) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = b
	m.types[key] = contentType
	return nil
}

func (m *memFiles) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://files.test/" + key, nil
}

func asAccount(id uint64) gin.HandlerFunc {
	return func(c *gin.Context) { c.Set(middleware.AccountIDKey, id) }
}

func multipartBody(t *testing.T, field, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadFile(t *testing.T) {
	files := &memFiles{objects: map[string][]byte{}, types: map[string]string{}}
	h := NewHandler(Deps{Files: files})
	r := gin.New()
	r.POST("/files", asAccount(12), h.UploadFile)

	body, ctype := multipartBody(t, "file", "photo.PNG", []byte("\x89PNG fake"))
	req := httptest.NewRequest(http.MethodPost, "/files", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	var env struct {
		Data struct {
			Key string `json:"key"`
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !storage.OwnedBy(env.Data.Key, 12) || !strings.HasSuffix(env.Data.Key, ".png") {
		t.Fatalf("key = %q", env.Data.Key)
	}
	if string(files.objects[env.Data.Key]) != "\x89PNG fake" {
		t.Fatalf("stored = %q", files.objects[env.Data.Key])
	}
	if files.types[env.Data.Key] != "image/png" {
		t.Fatalf("content type = %q", files.types[env.Data.Key])
	}
	if env.Data.URL != "https://files.test/"+env.Data.Key {
		t.Fatalf("url = %q", env.Data.URL)
	}

	body, ctype = multipartBody(t, "other", "note.txt", []byte("x"))
	req = httptest.NewRequest(http.MethodPost, "/files", body)
	req.Header.Set("Content-Type", ctype)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing field: status=%d", w.Code)
	}
}

func TestUploadFile_StorageDisabled(t *testing.T) {
	h := NewHandler(Deps{})
	r := gin.New()
	r.POST("/files", asAccount(1), h.UploadFile)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/files", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestParseBound(t *testing.T) {
	if b, err := parseBound(""); err != nil || !b.IsZero() {
		t.Fatalf("empty: %v %v", b, err)
	}
	b, err := parseBound("2026-03-01")
	if err != nil || !b.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date: %v %v", b, err)
	}
	b, err = parseBound("2026-03-01T09:00:00+09:00")
	if err != nil || !b.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("rfc3339: %v %v", b, err)
	}
	if _, err := parseBound("last week"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestClassify(t *testing.T) {
	if e := classify(io.EOF); e.status != http.StatusInternalServerError || e.code != 50001 {
		t.Fatalf("unknown error = %+v", e)
	}
}
