package server

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SyncTriggerLimit rate limits manual sync triggers shared by every terminal
// of a gym. Without redis every request passes.
func (s *Server) SyncTriggerLimit(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.guard.AllowTrigger(c.Request.Context(), action)
		if err != nil {
			// redis errors never block a sync.
			s.log.Warn("sync trigger limit unavailable", zap.String("action", action), zap.Error(err))
			c.Next()
			return
		}
		if res != nil && !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

// respondMutation writes a facade result. Queued writes are soft successes:
// stored locally, waiting in the outbox for the remote service.
func respondMutation(c *gin.Context, status int, data any, queued bool) {
	if queued {
		c.Set("queued", true)
		c.JSON(http.StatusAccepted, gin.H{"data": data, "queued": true})
		return
	}
	c.JSON(status, gin.H{"data": data, "queued": false})
}
