package pyproxy

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	godigest "github.com/opencontainers/go-digest"

	"github.com/AllexVeldman/pyoci/internal/apperror"
	"github.com/AllexVeldman/pyoci/internal/middleware"
	"github.com/AllexVeldman/pyoci/internal/ociclient"
	"github.com/AllexVeldman/pyoci/internal/urlpath"
	"github.com/AllexVeldman/pyoci/pkg/pyname"
)

// handleDownload implements spec.md §4.F's Download operation: parse the
// filename, find the Image Index entry whose architecture matches, pull
// its child manifest, and stream layers[0].
func (s *Service) handleDownload(c *gin.Context, ref urlpath.PackageRef) {
	creds := middleware.Credentials(c)
	normalized := pyname.Normalize(ref.Package)
	repo := ociclient.Repository{Host: ref.Registry, Path: ref.Repository(normalized)}

	dist, err := pyname.ParseFilename(ref.Trailer, ref.Package)
	if err != nil {
		writeError(c, apperror.Wrap(apperror.BadRequest, "unparseable filename", err))
		return
	}

	ctx := c.Request.Context()
	index, err := s.Client.GetIndex(ctx, repo, dist.Version, creds)
	if err != nil {
		writeError(c, err)
		return
	}

	var digest godigest.Digest
	for _, m := range index.Manifests {
		if m.Platform != nil && m.Platform.Architecture == dist.Arch {
			digest = m.Digest
			break
		}
	}
	if digest == "" {
		writeError(c, apperror.New(apperror.NotFound, "no such file"))
		return
	}

	manifest, err := s.Client.GetManifest(ctx, repo, digest, creds)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(manifest.Layers) == 0 {
		writeError(c, apperror.New(apperror.BadGateway, "manifest has no layers"))
		return
	}

	rc, size, err := s.Client.GetBlob(ctx, repo, manifest.Layers[0].Digest, creds)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", ref.Trailer))
	if size >= 0 {
		c.Header("Content-Length", strconv.FormatInt(size, 10))
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		// Client disconnected or the registry closed the body mid-stream;
		// spec.md §5 treats this as plain cancellation, not an error to report.
		return
	}
}
