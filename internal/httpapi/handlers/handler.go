package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zhenw77/chat-history/internal/auth"
	"github.com/zhenw77/chat-history/internal/broker"
	"github.com/zhenw77/chat-history/internal/config"
	"github.com/zhenw77/chat-history/internal/history"
	"github.com/zhenw77/chat-history/internal/httpapi/middleware"
	"github.com/zhenw77/chat-history/internal/store/redisstore"
	"gorm.io/gorm"
)

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

func walletFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.WalletAddressKey)
	if !ok {
		return "", false
	}
	addr, ok := v.(string)
	return addr, ok
}

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	Redis   *redisstore.Store
	SigVerf auth.SignatureVerifier
	ChatSvc *history.Service
}

func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store, publisher history.JobPublisher) *Handler {
	repo := history.NewRepo(db)

	reg := broker.NewRegistry()
	// default provider: the configured OpenAI-compatible endpoint serves
	// any provider address not explicitly registered
	reg.Register("", func(ctx context.Context, model string) (broker.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.ProviderModel
		}
		return broker.NewOpenAIProvider(cfg.ProviderBaseURL, m), nil
	})

	chatSvc := history.NewService(repo, reg, publisher, cfg.ChatContextWindowSize)

	return &Handler{
		DB:      db,
		Cfg:     cfg,
		Redis:   rds,
		SigVerf: auth.DevSignatureVerifier{},
		ChatSvc: chatSvc,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}
