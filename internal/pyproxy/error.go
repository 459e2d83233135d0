package pyproxy

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/AllexVeldman/pyoci/internal/apperror"
)

// writeError renders err as the plain-text body spec.md §7 mandates,
// status chosen by its Kind. Only an *apperror.Error's Msg ever reaches the
// client; a wrapped cause (which may echo registry response bodies) stays
// server-side in the logs.
func writeError(c *gin.Context, err error) {
	msg := "internal error"
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		msg = appErr.Msg
	}
	status := apperror.KindOf(err).Status()
	log.Debug().Err(err).Int("status", status).Str("path", c.Request.URL.Path).Msg("request failed")
	c.Data(status, "text/plain; charset=utf-8", []byte(msg+"\n"))
	c.Abort()
}

// writeUnknownRoute reports a path this proxy does not recognize. Per
// spec.md §4.G it still carries the 1-hour cache-control the root path
// gets, so a misbehaving client doesn't hammer it.
func writeUnknownRoute(c *gin.Context, err error) {
	log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("unrecognized route")
	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusNotFound, "text/plain; charset=utf-8", []byte("not found\n"))
	c.Abort()
}
