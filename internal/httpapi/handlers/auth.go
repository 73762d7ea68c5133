package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/zhenw77/chat-history/internal/auth"
)

func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

type challengeReq struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
}

// Challenge issues a fresh login nonce for a wallet. The nonce lives in
// redis with a TTL; a new challenge replaces any outstanding one.
func (h *Handler) Challenge(c *gin.Context) {
	var req challengeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	addr, err := auth.ChecksumAddress(req.WalletAddress)
	if err != nil {
		fail(c, http.StatusBadRequest, 10010, "invalid wallet address")
		return
	}

	nonce, err := newNonce()
	if err != nil {
		fail(c, http.StatusInternalServerError, 20001, "failed to generate nonce")
		return
	}
	if err := h.Redis.SetLoginNonce(c.Request.Context(), addr, nonce, h.Cfg.LoginNonceTTL); err != nil {
		fail(c, http.StatusInternalServerError, 20002, "redis error")
		return
	}

	ok(c, gin.H{
		"wallet_address": addr,
		"nonce":          nonce,
	})
}

type loginReq struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	Nonce         string `json:"nonce" binding:"required"`
	Signature     string `json:"signature" binding:"required"`
}

// Login exchanges a signed nonce for a JWT scoped to the wallet.
func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	addr, err := auth.ChecksumAddress(req.WalletAddress)
	if err != nil {
		fail(c, http.StatusBadRequest, 10010, "invalid wallet address")
		return
	}

	nonce, err := h.Redis.GetLoginNonce(c.Request.Context(), addr)
	if err != nil {
		if err == redis.Nil {
			fail(c, http.StatusBadRequest, 10020, "challenge expired or not found")
			return
		}
		fail(c, http.StatusInternalServerError, 20002, "redis error")
		return
	}
	if nonce != req.Nonce {
		fail(c, http.StatusBadRequest, 10021, "nonce mismatch")
		return
	}

	valid, err := h.SigVerf.VerifySignature(c.Request.Context(), addr, nonce, req.Signature)
	if err != nil {
		fail(c, http.StatusInternalServerError, 20003, "signature verification error")
		return
	}
	if !valid {
		fail(c, http.StatusUnauthorized, 40102, "invalid signature")
		return
	}
	_ = h.Redis.DeleteLoginNonce(c.Request.Context(), addr)

	token, err := auth.SignJWT(addr, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		fail(c, http.StatusInternalServerError, 20004, "failed to sign token")
		return
	}

	ok(c, gin.H{
		"wallet_address": addr,
		"token":          token,
	})
}
