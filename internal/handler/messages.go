package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sealchat-gateway/internal/model"
	"sealchat-gateway/internal/timeline"
)

type MessageHandler struct {
	Timeline *timeline.Synchronizer
}

func (h *MessageHandler) snapshot() gin.H {
	body := gin.H{
		"channelId":  h.Timeline.ActiveChannel(),
		"messages":   h.Timeline.Messages(),
		"hasMore":    h.Timeline.HasMore(),
		"isFetching": h.Timeline.IsFetching(),
		"isSending":  h.Timeline.IsSending(),
	}
	if err := h.Timeline.LastError(); err != "" {
		body["error"] = err
	}
	return body
}

// List returns the held sequence, fetching the initial page first if the
// channel has nothing loaded yet.
func (h *MessageHandler) List(c *gin.Context) {
	channelID := c.Param("id")
	if h.Timeline.ActiveChannel() != channelID || len(h.Timeline.Messages()) == 0 {
		if err := h.Timeline.FetchHistory(c.Request.Context(), channelID, nil); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, h.snapshot())
}

// More loads the next older page behind the current cursor.
func (h *MessageHandler) More(c *gin.Context) {
	channelID := c.Param("id")
	cursor, ok := h.Timeline.Cursor()
	if !ok || !h.Timeline.HasMore() {
		c.JSON(http.StatusOK, h.snapshot())
		return
	}
	if err := h.Timeline.FetchHistory(c.Request.Context(), channelID, &cursor); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.snapshot())
}

// Poll runs one incremental fetch. Failures are absorbed upstream, so
// this always answers with the current snapshot.
func (h *MessageHandler) Poll(c *gin.Context) {
	channelID := c.Param("id")
	_ = h.Timeline.FetchIncremental(c.Request.Context(), channelID)
	c.JSON(http.StatusOK, h.snapshot())
}

type sendMessageBody struct {
	Text        string                   `json:"text"`
	Attachments []model.AttachmentUpload `json:"attachments"`
}

func (h *MessageHandler) Send(c *gin.Context) {
	channelID := c.Param("id")

	var body sendMessageBody
	if err := c.ShouldBindJSON(&body); err != nil || (body.Text == "" && len(body.Attachments) == 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	digest, err := h.Timeline.Send(c.Request.Context(), channelID, body.Text, body.Attachments)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"digest": digest, "messages": h.Timeline.Messages()})
}
