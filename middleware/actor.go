package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ActorHeader carries the verified caller id set by the authenticating gateway.
	ActorHeader = "X-Actor-ID"
	actorKey    = "actorID"
)

// RequireActor rejects requests without an actor id and stores it on the context.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(ActorHeader))
		if actor == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "message": "missing " + ActorHeader + " header"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// Actor returns the id stored by RequireActor.
func Actor(c *gin.Context) string {
	return c.GetString(actorKey)
}
