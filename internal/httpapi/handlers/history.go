package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type createSessionReq struct {
	Title string `json:"title"`
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	wallet, okk := walletFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), wallet, req.Title)
	if err != nil {
		fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}

	ok(c, gin.H{"session_id": sess.SessionID})
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	wallet, okk := walletFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessions, err := h.ChatSvc.ListSessions(c.Request.Context(), wallet)
	if err != nil {
		fail(c, http.StatusInternalServerError, 50002, "failed to list sessions")
		return
	}

	ok(c, gin.H{"sessions": sessions})
}

func (h *Handler) DeleteChatSession(c *gin.Context) {
	wallet, okk := walletFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sessionID := c.Param("session_id")

	if err := h.ChatSvc.DeleteSession(c.Request.Context(), wallet, sessionID); err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50003, "failed to delete session")
		return
	}

	ok(c, gin.H{"session_id": sessionID})
}

type updateTitleReq struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) UpdateChatSessionTitle(c *gin.Context) {
	wallet, okk := walletFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sessionID := c.Param("session_id")

	var req updateTitleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if err := h.ChatSvc.UpdateSessionTitle(c.Request.Context(), wallet, sessionID, req.Title); err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50004, "failed to update title")
		return
	}

	ok(c, gin.H{"session_id": sessionID, "title": req.Title})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	wallet, okk := walletFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sessionID := c.Param("session_id")

	msgs, err := h.ChatSvc.GetSessionMessages(c.Request.Context(), wallet, sessionID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50005, "failed to list messages")
		return
	}

	ok(c, gin.H{"messages": msgs})
}

func (h *Handler) ClearChatMessages(c *gin.Context) {
	wallet, okk := walletFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sessionID := c.Param("session_id")

	if err := h.ChatSvc.ClearMessages(c.Request.Context(), wallet, sessionID); err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50006, "failed to clear messages")
		return
	}

	ok(c, gin.H{"session_id": sessionID})
}

func (h *Handler) SearchChatMessages(c *gin.Context) {
	wallet, okk := walletFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	query := c.Query("q")
	if query == "" {
		fail(c, http.StatusBadRequest, 10002, "q required")
		return
	}
	provider := c.Query("provider")

	msgs, err := h.ChatSvc.SearchMessages(c.Request.Context(), wallet, query, provider)
	if err != nil {
		fail(c, http.StatusInternalServerError, 50007, "search failed")
		return
	}

	ok(c, gin.H{"matches": msgs})
}

type sendMessageReq struct {
	SessionID       string `json:"session_id"` // empty starts a new session
	ProviderAddress string `json:"provider_address"`
	Message         string `json:"message" binding:"required"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	wallet, okk := walletFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sessID, reply, msgID, err := h.ChatSvc.SendMessage(c.Request.Context(), wallet, req.SessionID, req.ProviderAddress, req.Message)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		fail(c, http.StatusBadRequest, 40001, "failed to send message")
		return
	}

	ok(c, gin.H{
		"session_id": sessID,
		"reply":      reply,
		"message_id": msgID,
	})
}

func (h *Handler) SendChatMessageStream(c *gin.Context) {
	wallet, okk := walletFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx

	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	sessIDCh, chunks, done, msgIDCh, errs := h.ChatSvc.SendMessageStream(ctx, wallet, req.SessionID, req.ProviderAddress, req.Message)

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	flusher, canFlush := c.Writer.(http.Flusher)
	if !canFlush {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	for {
		select {
		case sid, sok := <-sessIDCh:
			if !sok {
				sessIDCh = nil
				continue
			}
			writeJSON("session", gin.H{
				"type":       "session",
				"session_id": sid,
			})

		case ch, cok := <-chunks:
			if !cok {
				chunks = nil
				continue
			}
			writeJSON("chunk", gin.H{
				"type":  "chunk",
				"delta": ch,
			})

		case <-ticker.C:
			writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})

		case err, eok := <-errs:
			if !eok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			if err == gorm.ErrRecordNotFound {
				writeJSON("error", gin.H{
					"type":    "error",
					"message": "session not found",
				})
				return
			}
			writeJSON("error", gin.H{
				"type":    "error",
				"message": err.Error(),
			})
			return

		case <-done:
			// the error path closes every channel, so prefer a pending
			// error over reporting completion
			if errs != nil {
				select {
				case err, eok := <-errs:
					if eok && err != nil {
						writeJSON("error", gin.H{
							"type":    "error",
							"message": err.Error(),
						})
						return
					}
				default:
				}
			}
			var mid uint64
			select {
			case mid = <-msgIDCh:
			default:
			}
			writeJSON("done", gin.H{
				"type":       "done",
				"message_id": mid,
			})
			return

		case <-ctx.Done():
			return
		}
	}
}
