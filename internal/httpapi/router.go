package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zhenw77/chat-history/internal/common"
	"github.com/zhenw77/chat-history/internal/config"
	"github.com/zhenw77/chat-history/internal/history"
	"github.com/zhenw77/chat-history/internal/httpapi/handlers"
	"github.com/zhenw77/chat-history/internal/httpapi/middleware"
	"github.com/zhenw77/chat-history/internal/store/redisstore"
	"gorm.io/gorm"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, publisher history.JobPublisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rds, publisher)

	r.GET("/ping", h.Ping)

	// wallet login
	r.POST("/auth/challenge", h.Challenge)
	r.POST("/auth/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	// Chat history (JWT required)
	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.DELETE("/chat/sessions/:session_id", h.DeleteChatSession)
	authGroup.PUT("/chat/sessions/:session_id/title", h.UpdateChatSessionTitle)
	authGroup.GET("/chat/sessions/:session_id/messages", h.ListChatMessages)
	authGroup.DELETE("/chat/sessions/:session_id/messages", h.ClearChatMessages)
	authGroup.GET("/chat/search", h.SearchChatMessages)
	authGroup.POST("/chat/messages", h.SendChatMessage)
	authGroup.POST("/chat/messages/stream", h.SendChatMessageStream)
	return r
}
