// Package middleware holds the small gin.HandlerFunc pieces spec.md §4.G
// groups under "service glue": body-size limiting, request logging, and
// Basic-credential passthrough, in the style of the teacher's
// cmd/api-gateway/middleware/auth.go.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/AllexVeldman/pyoci/internal/transport"
)

// credentialsKey is the gin context key Credentials stores under.
const credentialsKey = "pyoci.credentials"

// requestIDHeader carries the correlation ID RequestLog assigns to each
// request back to the caller, so a client report can be matched to a
// server log line.
const requestIDHeader = "X-Request-Id"

// MaxBodySize rejects any request whose declared or actual body size
// exceeds limit with 413, per spec.md §7. It wraps the request body in
// http.MaxBytesReader rather than trusting Content-Length alone, since a
// client can lie about it.
func MaxBodySize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			c.Data(http.StatusRequestEntityTooLarge, "text/plain; charset=utf-8", []byte("request body exceeds the configured size limit\n"))
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// ExtractCredentials reads HTTP Basic credentials from the inbound
// request and stashes them in the gin context for handlers to forward to
// the registry. Per spec.md §4.G, the credential is never decoded into a
// stored user or validated locally — only relayed.
func ExtractCredentials() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if ok {
			c.Set(credentialsKey, transport.Credentials{Username: username, Password: password})
		}
		c.Next()
	}
}

// Credentials returns the Basic credentials ExtractCredentials found on
// this request, or the zero value if the client sent none.
func Credentials(c *gin.Context) transport.Credentials {
	if v, ok := c.Get(credentialsKey); ok {
		if creds, ok := v.(transport.Credentials); ok {
			return creds
		}
	}
	return transport.Credentials{}
}

// RequestLog assigns each request a correlation ID, echoed on the
// response as X-Request-Id, and logs one structured line after the
// handler completes in the teacher's zerolog style.
func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Header(requestIDHeader, id)

		c.Next()
		log.Info().
			Str("request_id", id).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("handled request")
	}
}
