package handlers

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/counsel-platform/internal/account"
	"github.com/suPer8Hu/counsel-platform/internal/chat"
	"github.com/suPer8Hu/counsel-platform/internal/common"
	"github.com/suPer8Hu/counsel-platform/internal/config"
	"github.com/suPer8Hu/counsel-platform/internal/usage"
	"go.uber.org/zap"
)

type AccountReader interface {
	GetByID(ctx context.Context, id uint64) (*account.Account, error)
}

type UsageReader interface {
	Usage(ctx context.Context, accountID uint64) (usage.Snapshot, error)
}

type SessionRevoker interface {
	DeleteSession(ctx context.Context, id string) error
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
}

type FileStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type SampleExporter interface {
	ExportJSONL(ctx context.Context, w io.Writer, from, to time.Time) (int, error)
}

// Deps are the collaborators shared by every handler. Usage, Files and
// Samples may be nil; the matching endpoints then report 503.
type Deps struct {
	Cfg      config.Config
	Log      *zap.Logger
	Chat     *chat.Service
	Accounts AccountReader
	Sessions SessionRevoker
	Usage    UsageReader
	Files    FileStore
	Samples  SampleExporter
}

type Handler struct {
	Cfg      config.Config
	Log      *zap.Logger
	ChatSvc  *chat.Service
	Accounts AccountReader
	Sessions SessionRevoker
	Usage    UsageReader
	Files    FileStore
	Samples  SampleExporter
}

func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Cfg:      d.Cfg,
		Log:      log,
		ChatSvc:  d.Chat,
		Accounts: d.Accounts,
		Sessions: d.Sessions,
		Usage:    d.Usage,
		Files:    d.Files,
		Samples:  d.Samples,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}
