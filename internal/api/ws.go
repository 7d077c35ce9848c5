package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// serveWebSocket handles GET /api/v1/ws. A valid token, from the query or
// the Authorization header, subscribes the connection to its wallet's
// events; without one the connection is anonymous and receives only
// broadcasts.
func (h *Handler) serveWebSocket(c *gin.Context) {
	if h.deps.Sockets == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "websocket events are not enabled"})
		return
	}
	token := c.Query("token")
	if token == "" {
		token, _ = strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	}

	var identity string
	if token != "" {
		claims, err := h.deps.Tokens.Validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		identity = claims.Subject
	}

	conn, err := h.deps.Sockets.HandleConnection(c.Writer, c.Request, identity)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	h.logger.Debug("WebSocket connected",
		zap.String("connection_id", conn.ID),
		zap.String("identity", identity))
}
