package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
)

const callerKey = "caller"

// loggingMiddleware logs one line per request
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		kv := []interface{}{
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if caller, ok := c.Get(callerKey); ok {
			kv = append(kv, "agent_id", caller.(entity.Caller).AgentID)
		}
		s.logger.Info("HTTP request", kv...)
	}
}

// authMiddleware resolves the bearer token into a caller or aborts with 401
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := s.deps.Identity.ResolveCaller(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "authentication required",
				Code:    "UNAUTHENTICATED",
			})
			return
		}
		c.Set(callerKey, *caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) entity.Caller {
	return c.MustGet(callerKey).(entity.Caller)
}
