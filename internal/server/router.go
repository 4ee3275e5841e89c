package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"sealchat-gateway/internal/directory"
	"sealchat-gateway/internal/feedback"
	"sealchat-gateway/internal/handler"
	"sealchat-gateway/internal/hub"
	"sealchat-gateway/internal/middleware"
	"sealchat-gateway/internal/session"
	"sealchat-gateway/internal/timeline"
)

type Deps struct {
	Account   *handler.Account
	Manager   *session.Manager
	Directory *directory.Directory
	Timeline  *timeline.Synchronizer
	Feedback  *feedback.Controller
	Hub       *hub.Hub

	GatewayToken string
	AppVersion   string
	Staleness    handler.StalenessSource
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	statusHandler := &handler.StatusHandler{AppVersion: deps.AppVersion, Staleness: deps.Staleness}
	r.GET("/v1/status", statusHandler.Check)

	limiter := middleware.NewRateLimiter(120, time.Minute)

	protected := r.Group("/v1")
	protected.Use(limiter.Middleware())
	protected.Use(middleware.RequireToken(deps.GatewayToken))

	sessionHandler := &handler.SessionHandler{
		Manager:   deps.Manager,
		Account:   deps.Account,
		Directory: deps.Directory,
		Timeline:  deps.Timeline,
	}
	protected.GET("/session", sessionHandler.Get)
	protected.POST("/session/mint", sessionHandler.Mint)
	protected.DELETE("/session", sessionHandler.Clear)
	protected.POST("/session/account", sessionHandler.SwitchAccount)

	channelHandler := &handler.ChannelHandler{Directory: deps.Directory}
	protected.GET("/channels", channelHandler.List)
	protected.POST("/channels", channelHandler.Create)
	protected.GET("/channels/:id", channelHandler.Get)
	protected.GET("/channels/:id/membercap", channelHandler.MemberCap)

	messageHandler := &handler.MessageHandler{Timeline: deps.Timeline}
	protected.GET("/channels/:id/messages", messageHandler.List)
	protected.POST("/channels/:id/messages", messageHandler.Send)
	protected.POST("/channels/:id/messages/more", messageHandler.More)
	protected.POST("/channels/:id/messages/poll", messageHandler.Poll)

	feedbackHandler := &handler.FeedbackHandler{Controller: deps.Feedback}
	protected.GET("/feedback", feedbackHandler.Get)
	protected.POST("/feedback", feedbackHandler.Submit)
	protected.POST("/feedback/interaction", feedbackHandler.TrackInteraction)
	protected.POST("/feedback/open", feedbackHandler.Open)
	protected.POST("/feedback/close", feedbackHandler.Close)
	protected.POST("/feedback/optout", feedbackHandler.SetOptOut)

	wsHandler := &handler.WebSocketHandler{Hub: deps.Hub, Token: deps.GatewayToken}
	r.GET("/ws", wsHandler.Serve)

	return r
}
