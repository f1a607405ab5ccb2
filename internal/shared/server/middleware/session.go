package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// SessionHeader carries the anonymous workflow session id.
	SessionHeader = "X-Session-Id"

	sessionIDKey  = "sessionId"
	sessionNewKey = "sessionNew"
)

// Session resolves the workflow session for the request. A missing or
// malformed X-Session-Id mints a fresh id; the id is always echoed back.
func Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		id := strings.TrimSpace(c.GetHeader(SessionHeader))
		minted := false
		if parsed, err := uuid.Parse(id); err == nil {
			id = parsed.String()
		} else {
			id = uuid.NewString()
			minted = true
		}

		c.Set(sessionIDKey, id)
		c.Set(sessionNewKey, minted)
		c.Writer.Header().Set(SessionHeader, id)
		c.Next()
	}
}

// SessionIDFromContext returns the session id stored by Session.
func SessionIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(sessionIDKey)
}

// SessionMinted reports whether the session id was generated for this request.
func SessionMinted(c *gin.Context) bool {
	if c == nil {
		return false
	}
	return c.GetBool(sessionNewKey)
}
