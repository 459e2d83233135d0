package pyproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/AllexVeldman/pyoci/internal/apperror"
	"github.com/AllexVeldman/pyoci/internal/middleware"
	"github.com/AllexVeldman/pyoci/internal/ociclient"
	"github.com/AllexVeldman/pyoci/internal/transport"
	"github.com/AllexVeldman/pyoci/internal/urlpath"
	"github.com/AllexVeldman/pyoci/pkg/pyname"
)

// fileEntry is one synthesized file-listing row, per spec.md §4.F.
type fileEntry struct {
	Filename    string
	SHA256      string
	ProjectURLs map[string]string
	Labels      map[string]string
}

// reservedAnnotations are the Index descriptor annotations this proxy
// writes itself; every other key on a descriptor came from a "PyOci ::
// Label :: k :: v" classifier and round-trips into the JSON index response
// as a label, per SPEC_FULL.md §4.F.
var reservedAnnotations = map[string]bool{
	"org.opencontainers.image.created": true,
	"com.pyoci.sha256_digest":          true,
	"com.pyoci.project_urls":           true,
}

// simpleJSONAccept is the PEP 691 JSON index media type; its presence in
// Accept makes the bare listing route answer JSON, per spec.md §4.F.
const simpleJSONAccept = "application/vnd.pypi.simple.v1+json"

// handleList serves both `.../<name>/` and `.../<name>/json`; forceJSON is
// set only for the latter.
func (s *Service) handleList(c *gin.Context, ref urlpath.PackageRef, forceJSON bool) {
	creds := middleware.Credentials(c)
	normalized := pyname.Normalize(ref.Package)
	repo := ociclient.Repository{Host: ref.Registry, Path: ref.Repository(normalized)}

	entries, err := s.listFiles(c.Request.Context(), repo, creds, filenameComponent(normalized))
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	if forceJSON || strings.Contains(c.GetHeader("Accept"), simpleJSONAccept) {
		renderJSON(c, normalized, entries)
		return
	}
	renderHTML(c, normalized, entries)
}

// listFiles implements spec.md §4.F's List operation: pull every tag whose
// Image Index carries this proxy's artifactType, then synthesize one entry
// per child manifest.
func (s *Service) listFiles(ctx context.Context, repo ociclient.Repository, creds transport.Credentials, filenameName string) ([]fileEntry, error) {
	tags, err := s.Client.ListTags(ctx, repo, creds)
	if err != nil {
		return nil, err
	}
	tags = pyname.SortVersionsDescending(tags)

	var entries []fileEntry
	for _, tag := range tags {
		index, err := s.Client.GetIndex(ctx, repo, tag, creds)
		if err != nil {
			if apperror.KindOf(err) == apperror.NotFound {
				continue
			}
			return nil, err
		}
		for _, m := range index.Manifests {
			if m.Platform == nil {
				continue
			}
			kind := pyname.KindWheel
			if m.Platform.Architecture == ".tar.gz" {
				kind = pyname.KindSdist
			}
			filename, err := pyname.FormatFilename(pyname.Distribution{
				Name:    filenameName,
				Version: tag,
				Arch:    m.Platform.Architecture,
				Kind:    kind,
			})
			if err != nil {
				log.Warn().Err(err).Str("repository", repo.Path).Str("tag", tag).Msg("skipping manifest entry: cannot reconstruct filename")
				continue
			}

			entry := fileEntry{
				Filename: filename,
				SHA256:   m.Annotations["com.pyoci.sha256_digest"],
			}
			if raw, ok := m.Annotations["com.pyoci.project_urls"]; ok {
				var urls map[string]string
				if err := json.Unmarshal([]byte(raw), &urls); err == nil {
					entry.ProjectURLs = urls
				}
			}
			for k, v := range m.Annotations {
				if reservedAnnotations[k] {
					continue
				}
				if entry.Labels == nil {
					entry.Labels = map[string]string{}
				}
				entry.Labels[k] = v
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// filenameComponent derives the escaped distribution-name token PEP 427
// filenames use (runs of "-"/"_"/"." collapsed to a single "_") from the
// PEP 503 normalized name, per spec.md §9's name-normalization note: the
// Image Index never stores the uploader's raw spelling, so listing
// reconstructs filenames from the normalized form alone.
func filenameComponent(normalized string) string {
	return strings.ReplaceAll(normalized, "-", "_")
}

func renderJSON(c *gin.Context, name string, entries []fileEntry) {
	type fileJSON struct {
		Filename       string            `json:"filename"`
		URL            string            `json:"url"`
		Hashes         map[string]string `json:"hashes"`
		ProjectURLs    map[string]string `json:"project_urls,omitempty"`
		Labels         map[string]string `json:"labels,omitempty"`
		RequiresPython *string           `json:"requires-python"`
	}
	files := make([]fileJSON, 0, len(entries))
	for _, e := range entries {
		files = append(files, fileJSON{
			Filename:    e.Filename,
			URL:         e.Filename,
			Hashes:      map[string]string{"sha256": e.SHA256},
			ProjectURLs: e.ProjectURLs,
			Labels:      e.Labels,
		})
	}
	c.JSON(200, gin.H{
		"meta":  gin.H{"api-version": "1.0"},
		"name":  name,
		"files": files,
	})
}

func renderHTML(c *gin.Context, name string, entries []fileEntry) {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n  <head>\n    <meta name=\"pypi:repository-version\" content=\"1.0\">\n")
	fmt.Fprintf(&b, "    <title>Links for %s</title>\n  </head>\n  <body>\n    <h1>Links for %s</h1>\n", html.EscapeString(name), html.EscapeString(name))
	for _, e := range entries {
		href := e.Filename
		if e.SHA256 != "" {
			href += "#sha256=" + e.SHA256
		}
		fmt.Fprintf(&b, "    <a href=\"%s\">%s</a><br/>\n", html.EscapeString(href), html.EscapeString(e.Filename))
	}
	b.WriteString("  </body>\n</html>\n")
	c.Data(200, "text/html; charset=utf-8", []byte(b.String()))
}
