package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sealchat-gateway/internal/directory"
	"sealchat-gateway/internal/session"
	"sealchat-gateway/internal/timeline"
)

// SessionHandler exposes the credential lifecycle: inspect, mint, clear,
// and switch the served account.
type SessionHandler struct {
	Manager   *session.Manager
	Account   *Account
	Directory *directory.Directory
	Timeline  *timeline.Synchronizer
}

func (h *SessionHandler) snapshot() gin.H {
	body := gin.H{
		"address": h.Account.Current(),
		"state":   h.Manager.State().String(),
	}
	if err := h.Manager.LastError(); err != "" {
		body["error"] = err
	}
	if exp := h.Manager.ExpiresAtMs(); exp > 0 {
		body["expiresAtMs"] = exp
	}
	return body
}

func (h *SessionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"session": h.snapshot()})
}

func (h *SessionHandler) Mint(c *gin.Context) {
	addr := h.Account.Current()
	if addr == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "No account connected"})
		return
	}

	err := h.Manager.MintNew(c.Request.Context(), addr)
	switch {
	case errors.Is(err, session.ErrMintInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Session mint already in progress"})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "session": h.snapshot()})
	default:
		c.JSON(http.StatusOK, gin.H{"session": h.snapshot()})
	}
}

func (h *SessionHandler) Clear(c *gin.Context) {
	addr := h.Account.Current()
	if addr != "" {
		h.Manager.Clear(addr)
	}
	c.JSON(http.StatusOK, gin.H{"session": h.snapshot()})
}

type switchAccountBody struct {
	Address string `json:"address"`
}

// SwitchAccount rescopes the whole gateway to another address. Cached
// credentials for the new account are adopted silently; nothing is
// minted here.
func (h *SessionHandler) SwitchAccount(c *gin.Context) {
	var body switchAccountBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	h.Account.Set(body.Address)
	h.Manager.OnAccountChanged(body.Address)
	h.Directory.SetAccount()
	h.Timeline.Reset("")

	c.JSON(http.StatusOK, gin.H{"session": h.snapshot()})
}
