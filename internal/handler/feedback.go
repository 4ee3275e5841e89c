package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sealchat-gateway/internal/feedback"
)

type FeedbackHandler struct {
	Controller *feedback.Controller
}

func (h *FeedbackHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"feedback": h.Controller.State()})
}

// TrackInteraction counts one meaningful user action and may auto-open
// the prompt once the threshold is crossed.
func (h *FeedbackHandler) TrackInteraction(c *gin.Context) {
	h.Controller.TrackInteraction()
	c.JSON(http.StatusOK, gin.H{"feedback": h.Controller.State()})
}

func (h *FeedbackHandler) Open(c *gin.Context) {
	h.Controller.Open()
	c.JSON(http.StatusOK, gin.H{"feedback": h.Controller.State()})
}

func (h *FeedbackHandler) Close(c *gin.Context) {
	h.Controller.Close()
	c.JSON(http.StatusOK, gin.H{"feedback": h.Controller.State()})
}

type optOutBody struct {
	OptOut bool `json:"optOut"`
}

func (h *FeedbackHandler) SetOptOut(c *gin.Context) {
	var body optOutBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	h.Controller.SetOptOut(body.OptOut)
	c.JSON(http.StatusOK, gin.H{"feedback": h.Controller.State()})
}

type submitFeedbackBody struct {
	Rating  string `json:"rating"`
	Message string `json:"message"`
}

func (h *FeedbackHandler) Submit(c *gin.Context) {
	var body submitFeedbackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	err := h.Controller.Submit(c.Request.Context(), feedback.Rating(body.Rating), body.Message)
	switch {
	case errors.Is(err, feedback.ErrInvalidRating):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "feedback": h.Controller.State()})
	default:
		c.JSON(http.StatusOK, gin.H{"feedback": h.Controller.State()})
	}
}
