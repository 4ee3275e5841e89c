package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sealchat-gateway/internal/directory"
)

type ChannelHandler struct {
	Directory *directory.Directory
}

// List returns the held channel list. With ?refresh=true it re-fetches
// from the network first; a refresh failure still answers with the
// previously held list plus the error.
func (h *ChannelHandler) List(c *gin.Context) {
	if c.Query("refresh") == "true" {
		if err := h.Directory.Refresh(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":    err.Error(),
				"channels": h.Directory.Channels(),
			})
			return
		}
	}
	body := gin.H{
		"channels":   h.Directory.Channels(),
		"isFetching": h.Directory.IsFetching(),
		"isCreating": h.Directory.IsCreating(),
	}
	if err := h.Directory.LastError(); err != "" {
		body["error"] = err
	}
	c.JSON(http.StatusOK, body)
}

type createChannelBody struct {
	Recipients []string `json:"recipients"`
}

func (h *ChannelHandler) Create(c *gin.Context) {
	var body createChannelBody
	if err := c.ShouldBindJSON(&body); err != nil || len(body.Recipients) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	channelID, err := h.Directory.CreateChannel(c.Request.Context(), body.Recipients)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channelId": channelID})
}

// Get selects the channel: the timeline is rescoped to it before the
// channel object is fetched.
func (h *ChannelHandler) Get(c *gin.Context) {
	channelID := c.Param("id")
	channel, err := h.Directory.GetByID(c.Request.Context(), channelID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": channel})
}

func (h *ChannelHandler) MemberCap(c *gin.Context) {
	channelID := c.Param("id")
	capID, err := h.Directory.MemberCapFor(c.Request.Context(), channelID)
	if errors.Is(err, directory.ErrNoMemberCap) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channelId": channelID, "memberCapId": capID})
}
