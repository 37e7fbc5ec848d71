package handlers

import (
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/counsel-platform/internal/common"
	"github.com/suPer8Hu/counsel-platform/internal/storage"
	"go.uber.org/zap"
)

const (
	maxUploadBytes = 10 << 20
	presignTTL     = 15 * time.Minute
)

// UploadFile stores a multipart "file" field and returns its object key,
// which the client passes back in file_urls.
func (h *Handler) UploadFile(c *gin.Context) {
	uid, okk := accountID(c)
	if !okk {
		return
	}
	if h.Files == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "file storage disabled")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10008, "file field required")
		return
	}
	if fh.Size > maxUploadBytes {
		common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "file too large")
		return
	}

	ctype := fh.Header.Get("Content-Type")
	if ctype == "" || ctype == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(fh.Filename)); byExt != "" {
			ctype = byExt
		}
	}

	key, err := storage.UploadKey(uid, fh.Filename, time.Now())
	if err != nil {
		h.respondError(c, "upload key", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10008, "file field required")
		return
	}
	defer f.Close()

	ctx := c.Request.Context()
	if err := h.Files.Put(ctx, key, f, fh.Size, ctype); err != nil {
		h.respondError(c, "upload file", err)
		return
	}

	data := gin.H{"key": key, "content_type": ctype, "size": fh.Size}
	if url, err := h.Files.PresignGet(ctx, key, presignTTL); err != nil {
		h.Log.Warn("presign uploaded file failed", zap.String("key", key), zap.Error(err))
	} else {
		data["url"] = url
	}
	common.OK(c, data)
}
