package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/counsel-platform/internal/account"
	"github.com/suPer8Hu/counsel-platform/internal/auth"
	"github.com/suPer8Hu/counsel-platform/internal/common"
	"github.com/suPer8Hu/counsel-platform/internal/store/redisstore"
	"go.uber.org/zap"
)

const (
	AccountIDKey      = "account_id"
	ClaimsKey         = "jwt_claims"
	SessionIDKey      = "session_id"
	SessionCookieName = "session_id"
)

// Sessions is the slice of the Redis store the auth middleware needs.
type Sessions interface {
	GetSession(ctx context.Context, id string) (uint64, error)
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

type AccountLookup interface {
	GetByID(ctx context.Context, id uint64) (*account.Account, error)
}

// AuthRequired accepts a Bearer JWT or a session_id cookie. Bearer wins
// when both are present.
func AuthRequired(secret string, sessions Sessions, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if token := bearerToken(c); token != "" {
			claims, err := auth.ParseJWT(token, secret)
			if err != nil {
				common.AbortFail(c, http.StatusUnauthorized, 40101, "unauthorized")
				return
			}
			if claims.ID != "" {
				revoked, err := sessions.IsBlacklisted(ctx, claims.ID)
				if err != nil {
					log.Error("blacklist lookup failed", zap.Error(err))
					common.AbortFail(c, http.StatusInternalServerError, 50001, "internal error")
					return
				}
				if revoked {
					common.AbortFail(c, http.StatusUnauthorized, 40101, "unauthorized")
					return
				}
			}
			c.Set(AccountIDKey, claims.AccountID)
			c.Set(ClaimsKey, claims)
			c.Next()
			return
		}

		if sid, err := c.Cookie(SessionCookieName); err == nil && sid != "" {
			id, err := sessions.GetSession(ctx, sid)
			if errors.Is(err, redisstore.ErrSessionNotFound) {
				common.AbortFail(c, http.StatusUnauthorized, 40101, "unauthorized")
				return
			}
			if err != nil {
				log.Error("session lookup failed", zap.Error(err))
				common.AbortFail(c, http.StatusInternalServerError, 50001, "internal error")
				return
			}
			c.Set(AccountIDKey, id)
			c.Set(SessionIDKey, sid)
			c.Next()
			return
		}

		common.AbortFail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
}

// AdminRequired must run after AuthRequired.
func AdminRequired(accounts AccountLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := AccountID(c)
		if !ok {
			common.AbortFail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		acct, err := accounts.GetByID(c.Request.Context(), id)
		if err != nil || !acct.IsAdmin() {
			common.AbortFail(c, http.StatusForbidden, 40301, "forbidden")
			return
		}
		c.Next()
	}
}

func AccountID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(AccountIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func Claims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	cl, ok := v.(*auth.Claims)
	return cl, ok
}

func bearerToken(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
