package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/counsel-platform/internal/common"
	"go.uber.org/zap"
)

// ExportSamples streams anonymized training samples as JSONL. from and to
// accept RFC 3339 timestamps or YYYY-MM-DD dates; to is exclusive.
func (h *Handler) ExportSamples(c *gin.Context) {
	if h.Samples == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "sample export disabled")
		return
	}
	from, err := parseBound(c.Query("from"))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10009, "invalid from")
		return
	}
	to, err := parseBound(c.Query("to"))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10009, "invalid to")
		return
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		common.Fail(c, http.StatusBadRequest, 10009, "from must be before to")
		return
	}

	name := fmt.Sprintf("samples-%s.jsonl", time.Now().UTC().Format("20060102T150405"))
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Status(http.StatusOK)

	n, err := h.Samples.ExportJSONL(c.Request.Context(), c.Writer, from, to)
	if err != nil {
		h.Log.Error("sample export failed", zap.Int("written", n), zap.Error(err))
		return
	}
	h.Log.Info("sample export", zap.Int("lines", n))
}

func parseBound(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, v, time.UTC)
}
