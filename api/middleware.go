package api

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// LoopbackOnly rejects any connection not originating on this machine. The
// daemon is a private helper of local GUI processes, never a network
// service.
func LoopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		if ip == nil || !ip.IsLoopback() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "daemon accepts loopback connections only"})
			return
		}
		c.Next()
	}
}
