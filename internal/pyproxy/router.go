package pyproxy

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AllexVeldman/pyoci/internal/apperror"
	"github.com/AllexVeldman/pyoci/internal/urlpath"
)

// Register binds the route table of spec.md §6 onto r. Every method uses a
// single catch-all route: the registry segment of a PyPI-facing path may
// itself carry a percent-encoded "/" (an encoded scheme such as
// "http%3A%2F%2Fhost:5000"), which gin's own path matching would decode and
// misinterpret, so dispatch re-derives the real path from
// Request.URL.EscapedPath() and routes it by hand via internal/urlpath.
func Register(r *gin.Engine, svc *Service) {
	r.GET("/*proxyPath", svc.dispatchGET)
	r.POST("/*proxyPath", svc.dispatchPOST)
	r.DELETE("/*proxyPath", svc.dispatchDELETE)
}

func (s *Service) dispatchGET(c *gin.Context) {
	path := c.Request.URL.EscapedPath()
	switch path {
	case s.rootPath():
		s.handleRoot(c)
		return
	case s.healthPath():
		s.handleHealth(c)
		return
	}

	ref, err := urlpath.ParsePackage(path, s.PathPrefix)
	if err != nil {
		writeUnknownRoute(c, err)
		return
	}
	switch {
	case !ref.HasTrailer:
		s.handleList(c, ref, false)
	case ref.Trailer == "json":
		s.handleList(c, ref, true)
	default:
		s.handleDownload(c, ref)
	}
}

func (s *Service) dispatchPOST(c *gin.Context) {
	path := c.Request.URL.EscapedPath()
	ns, err := urlpath.ParseNamespace(path, s.PathPrefix)
	if err != nil {
		writeError(c, apperror.Wrap(apperror.BadRequest, "unrecognized publish path", err))
		return
	}
	s.handlePublish(c, ns)
}

func (s *Service) dispatchDELETE(c *gin.Context) {
	path := c.Request.URL.EscapedPath()
	ref, err := urlpath.ParsePackage(path, s.PathPrefix)
	if err != nil || !ref.HasTrailer {
		writeUnknownRoute(c, err)
		return
	}
	s.handleDelete(c, ref)
}

// handleRoot serves the static landing page, cached for an hour per
// spec.md §4.G.
func (s *Service) handleRoot(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=3600")
	c.String(http.StatusOK, "pyoci: a PyPI-to-OCI package index proxy\n")
}

// handleHealth always returns 200; spec.md §6 asks for nothing more.
func (s *Service) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok\n")
}
