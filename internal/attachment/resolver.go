// Package attachment turns uploaded files into prompt material.
package attachment

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/suPer8Hu/counsel-platform/internal/ai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Kind string

const (
	KindImage       Kind = "IMAGE"
	KindPDF         Kind = "PDF"
	KindText        Kind = "TEXT"
	KindUnsupported Kind = "UNSUPPORTED"
)

// ObjectStore is the read side of the upload bucket.
type ObjectStore interface {
	Get(ctx context.Context, key string, maxBytes int64) ([]byte, string, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Resolved is one attachment ready for the prompt. Exactly one of Text or
// Image is set.
type Resolved struct {
	Key   string
	Kind  Kind
	Text  string
	Image *ai.Image
}

type Resolver struct {
	store       ObjectStore
	log         *zap.Logger
	concurrency int
	maxBytes    int64
	maxText     int
	urlTTL      time.Duration
}

func NewResolver(store ObjectStore, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		store:       store,
		log:         log,
		concurrency: 4,
		maxBytes:    10 << 20,
		maxText:     20000,
		urlTTL:      15 * time.Minute,
	}
}

var imageExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

var textExts = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".json": true, ".log": true,
}

func kindOf(key string) Kind {
	ext := strings.ToLower(path.Ext(key))
	switch {
	case imageExts[ext] != "":
		return KindImage
	case ext == ".pdf":
		return KindPDF
	case textExts[ext]:
		return KindText
	}
	return KindUnsupported
}

// ContentKind classifies a message by its attachments: IMAGE when any
// attachment is an image, FILE for other attachments, TEXT otherwise.
func ContentKind(keys []string) string {
	if len(keys) == 0 {
		return "TEXT"
	}
	for _, k := range keys {
		if kindOf(k) == KindImage {
			return "IMAGE"
		}
	}
	return "FILE"
}

// Resolve fetches and extracts every key. The result keeps input order.
// Unreadable files become a notice line instead of failing the request.
func (r *Resolver) Resolve(ctx context.Context, keys []string) ([]Resolved, error) {
	out := make([]Resolved, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			res, err := r.resolveOne(gctx, key)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.Warn("attachment unreadable", zap.String("key", key), zap.Error(err))
				res = Resolved{Key: key, Kind: KindUnsupported, Text: notice(key)}
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func notice(key string) string {
	return fmt.Sprintf("[첨부 파일을 읽을 수 없습니다: %s]", path.Base(key))
}

func (r *Resolver) resolveOne(ctx context.Context, key string) (Resolved, error) {
	kind := kindOf(key)
	if kind == KindUnsupported {
		return Resolved{Key: key, Kind: kind, Text: notice(key)}, nil
	}

	data, contentType, err := r.store.Get(ctx, key, r.maxBytes)
	if err != nil {
		return Resolved{}, err
	}

	switch kind {
	case KindImage:
		mime := imageExts[strings.ToLower(path.Ext(key))]
		if strings.HasPrefix(contentType, "image/") {
			mime = contentType
		}
		img := &ai.Image{MIMEType: mime, Data: data}
		if u, err := r.store.PresignGet(ctx, key, r.urlTTL); err == nil {
			img.URL = u
		}
		return Resolved{Key: key, Kind: kind, Image: img}, nil
	case KindPDF:
		text, err := pdfText(data)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Key: key, Kind: kind, Text: r.clip(text)}, nil
	default:
		if !utf8.Valid(data) {
			return Resolved{}, fmt.Errorf("not utf-8 text (%s)", http.DetectContentType(data))
		}
		return Resolved{Key: key, Kind: kind, Text: r.clip(string(data))}, nil
	}
}

func (r *Resolver) clip(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= r.maxText {
		return s
	}
	return string([]rune(s)[:r.maxText])
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(strings.TrimSpace(text))
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no text extracted from pdf")
	}
	return b.String(), nil
}

// URLs presigns every key for display. Keys that cannot be signed are
// returned unchanged.
func (r *Resolver) URLs(ctx context.Context, keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		u, err := r.store.PresignGet(ctx, k, r.urlTTL)
		if err != nil {
			r.log.Warn("presign failed", zap.String("key", k), zap.Error(err))
			out = append(out, k)
			continue
		}
		out = append(out, u)
	}
	return out
}
