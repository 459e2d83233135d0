package pyproxy

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AllexVeldman/pyoci/internal/apperror"
	"github.com/AllexVeldman/pyoci/internal/middleware"
	"github.com/AllexVeldman/pyoci/internal/ociclient"
	"github.com/AllexVeldman/pyoci/internal/urlpath"
	"github.com/AllexVeldman/pyoci/pkg/pyname"
)

// labelClassifierParts is the "PyOci :: Label :: <key> :: <value>" shape
// spec.md §4.F describes for carrying arbitrary manifest annotations
// through the upload form.
const labelClassifierParts = 4

// handlePublish implements spec.md §4.F's Publish operation: parse the
// multipart upload, verify the filename against the declared name/version,
// and run the publish state machine.
func (s *Service) handlePublish(c *gin.Context, ns urlpath.NamespaceRef) {
	creds := middleware.Credentials(c)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, apperror.Wrap(apperror.PayloadTooLarge, "request body exceeds the configured size limit", err))
			return
		}
		writeError(c, apperror.Wrap(apperror.BadRequest, "malformed multipart upload", err))
		return
	}

	if formValue(form, ":action") != "file_upload" {
		writeError(c, apperror.New(apperror.BadRequest, `missing or unsupported ":action" field`))
		return
	}
	name := formValue(form, "name")
	version := formValue(form, "version")
	if name == "" || version == "" {
		writeError(c, apperror.New(apperror.BadRequest, `"name" and "version" fields are required`))
		return
	}

	var projectURLs map[string]string
	if raw := formValue(form, "project_urls"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &projectURLs); err != nil {
			writeError(c, apperror.Wrap(apperror.BadRequest, `malformed "project_urls" field`, err))
			return
		}
	}
	labels := make(map[string]string)
	for _, classifier := range form.Value["classifiers"] {
		parseLabelClassifier(classifier, labels)
	}

	files := form.File["content"]
	if len(files) != 1 {
		writeError(c, apperror.New(apperror.BadRequest, `expected exactly one "content" file`))
		return
	}
	header := files[0]
	content, err := header.Open()
	if err != nil {
		writeError(c, apperror.Wrap(apperror.BadRequest, "opening uploaded file", err))
		return
	}
	defer content.Close()

	dist, err := pyname.ParseFilename(header.Filename, name)
	if err != nil {
		writeError(c, apperror.Wrap(apperror.BadRequest, "unparseable filename", err))
		return
	}
	if dist.Version != version {
		writeError(c, apperror.Newf(apperror.BadRequest, "filename version %q does not match declared version %q", dist.Version, version))
		return
	}

	repo := ociclient.Repository{
		Host: ns.Registry,
		Path: ns.Namespace + "/" + pyname.Normalize(name),
	}
	pub := ociclient.NewPublisher(s.Client, repo, creds)
	_, err = pub.Publish(c.Request.Context(), ociclient.FileUpload{
		Version:        dist.Version,
		Architecture:   dist.Arch,
		Content:        content,
		Size:           header.Size,
		DeclaredDigest: formValue(form, "sha256_digest"),
		ProjectURLs:    projectURLs,
		Labels:         labels,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func formValue(form *multipart.Form, key string) string {
	vals := form.Value[key]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// parseLabelClassifier extracts one "PyOci :: Label :: k :: v" classifier
// into out; anything else is silently ignored, matching ordinary PyPI
// classifiers uploaders also send in the same field.
func parseLabelClassifier(classifier string, out map[string]string) {
	parts := strings.Split(classifier, " :: ")
	if len(parts) != labelClassifierParts || parts[0] != "PyOci" || parts[1] != "Label" {
		return
	}
	out[parts[2]] = parts[3]
}
