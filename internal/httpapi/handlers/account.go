package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/counsel-platform/internal/common"
	"github.com/suPer8Hu/counsel-platform/internal/httpapi/middleware"
	"go.uber.org/zap"
)

func (h *Handler) Me(c *gin.Context) {
	uid, okk := accountID(c)
	if !okk {
		return
	}
	ctx := c.Request.Context()

	acct, err := h.Accounts.GetByID(ctx, uid)
	if err != nil {
		h.respondError(c, "load account", err)
		return
	}

	data := gin.H{
		"account_id": acct.ID,
		"email":      acct.Email,
		"nickname":   acct.Nickname,
		"plan":       acct.Plan,
		"role":       acct.Role,
	}
	if h.Usage != nil {
		snap, err := h.Usage.Usage(ctx, uid)
		if err != nil {
			h.Log.Warn("usage lookup failed", zap.Uint64("account_id", uid), zap.Error(err))
		} else {
			data["usage"] = snap
		}
	}
	common.OK(c, data)
}

// Logout revokes the bearer token until it expires and drops the cookie session.
func (h *Handler) Logout(c *gin.Context) {
	if _, okk := accountID(c); !okk {
		return
	}
	ctx := c.Request.Context()

	if claims, ok := middleware.Claims(c); ok && claims.ID != "" {
		if ttl := claims.Remaining(time.Now()); ttl > 0 {
			if err := h.Sessions.BlacklistToken(ctx, claims.ID, ttl); err != nil {
				h.Log.Error("blacklist token failed", zap.Error(err))
				common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
				return
			}
		}
	}
	if sid := c.GetString(middleware.SessionIDKey); sid != "" {
		if err := h.Sessions.DeleteSession(ctx, sid); err != nil {
			h.Log.Error("delete session failed", zap.Error(err))
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
			return
		}
		c.SetCookie(middleware.SessionCookieName, "", -1, "/", "", false, true)
	}
	common.OK(c, gin.H{"logged_out": true})
}
