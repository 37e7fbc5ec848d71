package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/counsel-platform/internal/common"
	"github.com/suPer8Hu/counsel-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/counsel-platform/internal/httpapi/middleware"
)

// Auth carries what the auth middleware needs besides the handler deps.
type Auth struct {
	Secret   string
	Sessions middleware.Sessions
	Accounts middleware.AccountLookup
}

func NewRouter(d handlers.Deps, a Auth) *gin.Engine {
	h := handlers.NewHandler(d)

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(h.Log))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(h.Log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(a.Secret, a.Sessions, h.Log))
	authGroup.GET("/me", h.Me)
	authGroup.POST("/auth/logout", h.Logout)

	// rooms
	authGroup.POST("/rooms", h.CreateRoom)
	authGroup.GET("/rooms", h.ListRooms)
	authGroup.POST("/rooms/:room_id/end", h.EndRoom)
	authGroup.DELETE("/rooms/:room_id", h.DeleteRoom)
	authGroup.GET("/rooms/:room_id/messages", h.ListMessages)

	// chat
	authGroup.POST("/chat/stream-auto", h.StreamAuto)
	authGroup.POST("/messages/:message_id/feedback", h.SubmitFeedback)
	authGroup.POST("/files", h.UploadFile)

	admin := authGroup.Group("/admin")
	admin.Use(middleware.AdminRequired(a.Accounts))
	admin.GET("/samples/export", h.ExportSamples)

	return r
}
