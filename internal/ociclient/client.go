// Package ociclient implements spec.md §4.E on top of internal/transport:
// tag listing with pagination, Image Index / Image Manifest pull and push,
// blob streaming and upload, and delete, all typed on
// github.com/opencontainers/image-spec rather than hand-rolled structs.
package ociclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	godigest "github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog/log"

	"github.com/AllexVeldman/pyoci/internal/apperror"
	pyocidigest "github.com/AllexVeldman/pyoci/internal/digest"
	"github.com/AllexVeldman/pyoci/internal/transport"
)

// errForeignArtifactType marks a GetIndex failure caused by an existing,
// well-formed Image Index whose artifactType is not ours, as opposed to a
// tag that is genuinely absent. Reads (list/download) still see this as
// apperror.NotFound per spec.md §9; Publish uses errors.Is to tell the two
// apart and answer 409 instead of overwriting the foreign tag.
var errForeignArtifactType = errors.New("existing manifest has a foreign artifactType")

// errKindForStatus maps a non-2xx registry response status to the Kind
// spec.md §7 assigns it. 404 carries a call-specific message and is
// special-cased by each caller; everything else funnels through here.
func errKindForStatus(status int) apperror.Kind {
	switch status {
	case http.StatusUnauthorized:
		return apperror.Unauthorized
	case http.StatusForbidden:
		return apperror.Forbidden
	default:
		return apperror.BadGateway
	}
}

// ArtifactType identifies an Image Index or Image Manifest produced by
// this proxy, per spec.md §3. Tags carrying a different artifactType are
// invisible to listing (spec.md §4.E) and conflict on write (spec.md §9).
const ArtifactType = "application/pyoci.package.v1"

// LayerMediaType is the mediaType of the single layer in every per-file
// Image Manifest this proxy writes.
const LayerMediaType = "application/pyoci.package.v1"

// EmptyConfigBytes is the canonical empty JSON config every Image Manifest
// points to, per spec.md §3.
var EmptyConfigBytes = []byte("{}")

// EmptyConfigDigest is the digest of EmptyConfigBytes.
var EmptyConfigDigest = pyocidigest.FromBytes(EmptyConfigBytes)

// Repository identifies an OCI repository on a specific registry host.
type Repository struct {
	Host string // e.g. "https://ghcr.io"
	Path string // "namespace/normalized-package-name"
}

func (r Repository) v2(rest string) string {
	return strings.TrimSuffix(r.Host, "/") + "/v2/" + r.Path + "/" + rest
}

func (r Repository) pullScope() string { return "repository:" + r.Path + ":pull" }
func (r Repository) pushScope() string { return "repository:" + r.Path + ":pull,push" }

// Client is the OCI Distribution API client described by spec.md §4.E.
type Client struct {
	transport *transport.Client
}

// New builds a Client over an already-configured transport.Client.
func New(t *transport.Client) *Client {
	return &Client{transport: t}
}

func (c *Client) do(ctx context.Context, method, url, scope string, creds transport.Credentials, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "building registry request", err)
	}
	if body != nil {
		transport.BufferBody(req, body)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.transport.Do(ctx, req, scope, creds)
	if err != nil {
		return nil, apperror.Wrap(apperror.BadGateway, "registry request failed", err)
	}
	return resp, nil
}

// ListTags returns every tag in the repository whose Image Index carries
// ArtifactType, following Link: rel="next" pagination (spec.md §4.E).
func (c *Client) ListTags(ctx context.Context, repo Repository, creds transport.Credentials) ([]string, error) {
	var tags []string
	next := repo.v2("tags/list")

	for next != "" {
		resp, err := c.do(ctx, http.MethodGet, next, repo.pullScope(), creds, nil, nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return nil, apperror.New(apperror.NotFound, "repository not found")
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return nil, apperror.Newf(errKindForStatus(resp.StatusCode), "tags/list returned %d: %s", resp.StatusCode, body)
		}

		var page struct {
			Tags []string `json:"tags"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			resp.Body.Close()
			return nil, apperror.Wrap(apperror.BadGateway, "parsing tags/list response", err)
		}
		link := resp.Header.Get("Link")
		resp.Body.Close()

		tags = append(tags, page.Tags...)
		next = parseNextLink(link, repo.Host)
	}

	var filtered []string
	for _, tag := range tags {
		// GetIndex itself rejects a foreign artifactType as NotFound, so a
		// successful call here already means this tag is ours.
		if _, err := c.GetIndex(ctx, repo, tag, creds); err != nil {
			if apperror.KindOf(err) == apperror.NotFound {
				continue
			}
			log.Warn().Err(err).Str("repository", repo.Path).Str("tag", tag).Msg("skipping tag: index fetch failed")
			continue
		}
		filtered = append(filtered, tag)
	}
	return filtered, nil
}

// parseNextLink extracts the rel="next" target from an RFC 5988 Link
// header, resolving it against host when it is path-absolute (registries
// commonly emit "</v2/repo/tags/list?last=x>; rel=\"next\"").
func parseNextLink(header, host string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start < 0 || end < 0 || end < start {
			continue
		}
		target := part[start+1 : end]
		if strings.HasPrefix(target, "/") {
			return strings.TrimSuffix(host, "/") + target
		}
		return target
	}
	return ""
}

// GetIndex fetches the Image Index for tag. A 404 is reported as
// apperror.NotFound ("no such version" per spec.md §4.E); a non-index
// response or an index carrying a foreign artifactType is also
// apperror.NotFound ("not a PyOCI package") wrapping errForeignArtifactType
// so Publish can tell a write-conflict apart from a truly absent tag.
func (c *Client) GetIndex(ctx context.Context, repo Repository, tag string, creds transport.Credentials) (*v1.Index, error) {
	resp, err := c.do(ctx, http.MethodGet, repo.v2("manifests/"+tag), repo.pullScope(), creds, nil, map[string]string{
		"Accept": v1.MediaTypeImageIndex,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperror.New(apperror.NotFound, "no such version")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, apperror.Newf(errKindForStatus(resp.StatusCode), "manifests/%s returned %d: %s", tag, resp.StatusCode, body)
	}

	var index v1.Index
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&index); err != nil {
		return nil, apperror.Wrap(apperror.BadGateway, "parsing image index", err)
	}
	if index.MediaType != v1.MediaTypeImageIndex {
		return nil, apperror.Wrap(apperror.NotFound, "not a PyOCI package: unexpected manifest mediaType", errForeignArtifactType)
	}
	if index.ArtifactType != ArtifactType {
		return nil, apperror.Wrap(apperror.NotFound, "not a PyOCI package: unexpected artifactType", errForeignArtifactType)
	}
	return &index, nil
}

// GetManifest fetches a single child Image Manifest by digest.
func (c *Client) GetManifest(ctx context.Context, repo Repository, dgst godigest.Digest, creds transport.Credentials) (*v1.Manifest, error) {
	resp, err := c.do(ctx, http.MethodGet, repo.v2("manifests/"+dgst.String()), repo.pullScope(), creds, nil, map[string]string{
		"Accept": v1.MediaTypeImageManifest,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperror.New(apperror.NotFound, "no such manifest")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, apperror.Newf(errKindForStatus(resp.StatusCode), "manifests/%s returned %d: %s", dgst, resp.StatusCode, body)
	}

	var manifest v1.Manifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&manifest); err != nil {
		return nil, apperror.Wrap(apperror.BadGateway, "parsing image manifest", err)
	}
	return &manifest, nil
}

// GetBlob streams a blob's body verbatim; the caller must Close it.
func (c *Client) GetBlob(ctx context.Context, repo Repository, dgst godigest.Digest, creds transport.Credentials) (io.ReadCloser, int64, error) {
	resp, err := c.do(ctx, http.MethodGet, repo.v2("blobs/"+dgst.String()), repo.pullScope(), creds, nil, nil)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, 0, apperror.New(apperror.NotFound, "no such file")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, 0, apperror.Newf(errKindForStatus(resp.StatusCode), "blobs/%s returned %d: %s", dgst, resp.StatusCode, body)
	}
	return resp.Body, resp.ContentLength, nil
}

// HeadBlob reports whether dgst already exists in the repository, used for
// the empty-config short-circuit in the publish state machine.
func (c *Client) HeadBlob(ctx context.Context, repo Repository, dgst godigest.Digest, creds transport.Credentials) (bool, error) {
	resp, err := c.do(ctx, http.MethodHead, repo.v2("blobs/"+dgst.String()), repo.pushScope(), creds, nil, nil)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, apperror.Newf(errKindForStatus(resp.StatusCode), "HEAD blobs/%s returned %d", dgst, resp.StatusCode)
	}
}

// PushBlob uploads r as a new blob, streaming it through a digest
// accumulator and verifying it against declaredDigest (if non-empty)
// before finalizing, per spec.md §4.C "verify-while-proxying". Because the
// PATCH body cannot be safely retried mid-stream, the bearer/basic header
// is obtained up front via transport.Client.Token rather than through
// Client.Do's retry loop (see internal/transport doc comment on Token).
func (c *Client) PushBlob(ctx context.Context, repo Repository, creds transport.Credentials, r io.Reader, size int64, declaredDigest string) (godigest.Digest, int64, error) {
	authz, err := c.transport.Token(ctx, repo.Host, repo.pushScope(), creds)
	if err != nil {
		return "", 0, apperror.Wrap(apperror.BadGateway, "authenticating blob upload", err)
	}

	startReq, err := http.NewRequestWithContext(ctx, http.MethodPost, repo.v2("blobs/uploads/"), nil)
	if err != nil {
		return "", 0, apperror.Wrap(apperror.Internal, "building upload-session request", err)
	}
	if authz != "" {
		startReq.Header.Set("Authorization", authz)
	}
	startResp, err := c.transport.RawDo(startReq)
	if err != nil {
		return "", 0, apperror.Wrap(apperror.BadGateway, "starting blob upload session", err)
	}
	location := startResp.Header.Get("Location")
	startResp.Body.Close()
	if startResp.StatusCode != http.StatusAccepted || location == "" {
		return "", 0, apperror.Newf(errKindForStatus(startResp.StatusCode), "blob upload session start returned %d", startResp.StatusCode)
	}
	location = resolveLocation(repo.Host, location)

	acc := pyocidigest.NewAccumulator(r)
	patchReq, err := http.NewRequestWithContext(ctx, http.MethodPatch, location, io.NopCloser(acc))
	if err != nil {
		return "", 0, apperror.Wrap(apperror.Internal, "building upload PATCH request", err)
	}
	if size >= 0 {
		patchReq.ContentLength = size
	}
	if size > 0 {
		patchReq.Header.Set("Content-Range", fmt.Sprintf("0-%d", size-1))
	}
	patchReq.Header.Set("Content-Type", "application/octet-stream")
	if authz != "" {
		patchReq.Header.Set("Authorization", authz)
	}
	patchResp, err := c.transport.RawDo(patchReq)
	if err != nil {
		return "", 0, apperror.Wrap(apperror.BadGateway, "streaming blob upload", err)
	}
	location = patchResp.Header.Get("Location")
	patchResp.Body.Close()
	if patchResp.StatusCode != http.StatusAccepted {
		return "", 0, apperror.Newf(errKindForStatus(patchResp.StatusCode), "blob upload PATCH returned %d", patchResp.StatusCode)
	}
	location = resolveLocation(repo.Host, location)

	if err := acc.Verify(declaredDigest); err != nil {
		return "", 0, apperror.Wrap(apperror.BadRequest, "uploaded content does not match declared digest", err)
	}

	finalizeURL := location
	sep := "?"
	if strings.Contains(location, "?") {
		sep = "&"
	}
	finalizeURL += sep + "digest=" + acc.Digest().String()

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, finalizeURL, nil)
	if err != nil {
		return "", 0, apperror.Wrap(apperror.Internal, "building upload PUT request", err)
	}
	if authz != "" {
		putReq.Header.Set("Authorization", authz)
	}
	putResp, err := c.transport.RawDo(putReq)
	if err != nil {
		return "", 0, apperror.Wrap(apperror.BadGateway, "finalizing blob upload", err)
	}
	defer putResp.Body.Close()
	if putResp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(putResp.Body, 1024))
		return "", 0, apperror.Newf(errKindForStatus(putResp.StatusCode), "blob upload finalize returned %d: %s", putResp.StatusCode, body)
	}

	return acc.Digest(), acc.Size(), nil
}

func resolveLocation(host, location string) string {
	if strings.HasPrefix(location, "/") {
		return strings.TrimSuffix(host, "/") + location
	}
	return location
}

// PutManifest PUTs body (an Image Manifest or Image Index, already
// marshaled) under ref (a tag or digest) and returns its digest.
func (c *Client) PutManifest(ctx context.Context, repo Repository, ref, mediaType string, body []byte, creds transport.Credentials) (godigest.Digest, error) {
	resp, err := c.do(ctx, http.MethodPut, repo.v2("manifests/"+ref), repo.pushScope(), creds, body, map[string]string{
		"Content-Type": mediaType,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", apperror.Newf(errKindForStatus(resp.StatusCode), "manifest PUT returned %d: %s", resp.StatusCode, b)
	}
	if dgst := resp.Header.Get("Docker-Content-Digest"); dgst != "" {
		return godigest.Digest(dgst), nil
	}
	return pyocidigest.FromBytes(body), nil
}

// DeleteManifest removes tag from the repository.
func (c *Client) DeleteManifest(ctx context.Context, repo Repository, tag string, creds transport.Credentials) error {
	resp, err := c.do(ctx, http.MethodDelete, repo.v2("manifests/"+tag), repo.pushScope(), creds, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return apperror.New(apperror.NotFound, "no such version")
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return apperror.Newf(errKindForStatus(resp.StatusCode), "manifest DELETE returned %d: %s", resp.StatusCode, b)
	}
}

// marshalManifest wraps json.Marshal with a uniform error message for the
// documents Publisher writes.
func marshalManifest(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}
	return b, nil
}
