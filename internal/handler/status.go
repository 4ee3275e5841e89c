package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StalenessSource reports whether the background refresh loops have been
// failing long enough that served data should be treated as out of date.
type StalenessSource interface {
	Stale() bool
}

type StatusHandler struct {
	AppVersion string
	Staleness  StalenessSource
}

func (h *StatusHandler) Check(c *gin.Context) {
	stale := false
	if h.Staleness != nil {
		stale = h.Staleness.Stale()
	}
	c.JSON(http.StatusOK, gin.H{"version": h.AppVersion, "stale": stale})
}
