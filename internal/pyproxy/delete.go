package pyproxy

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AllexVeldman/pyoci/internal/middleware"
	"github.com/AllexVeldman/pyoci/internal/ociclient"
	"github.com/AllexVeldman/pyoci/internal/urlpath"
	"github.com/AllexVeldman/pyoci/pkg/pyname"
)

// handleDelete implements spec.md §4.F's Delete operation: forward to the
// registry and translate its response, 2xx -> 204 and 404 -> 404.
func (s *Service) handleDelete(c *gin.Context, ref urlpath.PackageRef) {
	creds := middleware.Credentials(c)
	normalized := pyname.Normalize(ref.Package)
	repo := ociclient.Repository{Host: ref.Registry, Path: ref.Repository(normalized)}

	if err := s.Client.DeleteManifest(c.Request.Context(), repo, ref.Trailer, creds); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
