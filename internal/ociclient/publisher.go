package ociclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/opencontainers/image-spec/specs-go"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog/log"

	"github.com/AllexVeldman/pyoci/internal/apperror"
	pyocidigest "github.com/AllexVeldman/pyoci/internal/digest"
	"github.com/AllexVeldman/pyoci/internal/transport"
)

// FileUpload is one distribution file being published, already decoded by
// internal/pyproxy from the multipart form.
type FileUpload struct {
	Version        string
	Architecture   string // pytag-abitag-platformtag, or ".tar.gz" for sdists
	Content        io.Reader
	Size           int64 // -1 if unknown
	DeclaredDigest string
	ProjectURLs    map[string]string // annotation on this file's Image Index entry, optional
	Labels         map[string]string // manifest-level annotations from "PyOci :: Label :: k :: v" classifiers
}

// Publisher runs the per-file publish state machine of spec.md §4.E
// against one repository.
type Publisher struct {
	client *Client
	repo   Repository
	creds  transport.Credentials
}

// NewPublisher builds a Publisher for repo, authenticating as creds.
func NewPublisher(c *Client, repo Repository, creds transport.Credentials) *Publisher {
	return &Publisher{client: c, repo: repo, creds: creds}
}

// Publish runs steps (1)-(7) of spec.md §4.E's publish state machine for
// one file and returns the Image Manifest descriptor appended to the
// Image Index.
func (p *Publisher) Publish(ctx context.Context, f FileUpload) (*v1.Descriptor, error) {
	// (1) HEAD empty-config blob, upload if missing.
	exists, err := p.client.HeadBlob(ctx, p.repo, EmptyConfigDigest, p.creds)
	if err != nil {
		return nil, err
	}
	if !exists {
		log.Debug().Str("repository", p.repo.Path).Msg("empty config blob missing, uploading")
		if _, _, err := p.client.PushBlob(ctx, p.repo, p.creds, newConfigReader(), int64(len(EmptyConfigBytes)), EmptyConfigDigest.String()); err != nil {
			return nil, fmt.Errorf("uploading empty config blob: %w", err)
		}
	}

	// (2) Upload the layer blob, verified while streaming.
	layerDigest, layerSize, err := p.client.PushBlob(ctx, p.repo, p.creds, f.Content, f.Size, f.DeclaredDigest)
	if err != nil {
		return nil, err
	}

	// (3) PUT the per-file Image Manifest.
	created := time.Now().UTC().Format(time.RFC3339)
	annotations := map[string]string{"org.opencontainers.image.created": created}
	for k, v := range f.Labels {
		annotations[k] = v
	}
	manifest := v1.Manifest{
		Versioned:    specs.Versioned{SchemaVersion: 2},
		MediaType:    v1.MediaTypeImageManifest,
		ArtifactType: ArtifactType,
		Config: v1.Descriptor{
			MediaType: v1.MediaTypeImageConfig,
			Digest:    EmptyConfigDigest,
			Size:      int64(len(EmptyConfigBytes)),
		},
		Layers: []v1.Descriptor{{
			MediaType: LayerMediaType,
			Digest:    layerDigest,
			Size:      layerSize,
		}},
		Annotations: annotations,
	}
	manifestBytes, err := marshalManifest(manifest)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "marshaling image manifest", err)
	}
	manifestDigest, err := p.client.PutManifest(ctx, p.repo, manifestBytes2digestRef(manifestBytes), v1.MediaTypeImageManifest, manifestBytes, p.creds)
	if err != nil {
		return nil, err
	}

	manifestDescriptor := v1.Descriptor{
		MediaType: v1.MediaTypeImageManifest,
		Digest:    manifestDigest,
		Size:      int64(len(manifestBytes)),
		Platform: &v1.Platform{
			Architecture: f.Architecture,
			OS:           "any",
		},
		Annotations: map[string]string{},
	}
	// Labels live on the Index descriptor (not just the per-file manifest)
	// so listFiles can surface them without a GetManifest round trip per
	// file; the reserved keys below always win over a same-named label.
	for k, v := range f.Labels {
		manifestDescriptor.Annotations[k] = v
	}
	manifestDescriptor.Annotations["org.opencontainers.image.created"] = created
	manifestDescriptor.Annotations["com.pyoci.sha256_digest"] = layerDigest.Encoded()
	if len(f.ProjectURLs) > 0 {
		if b, err := marshalManifest(f.ProjectURLs); err == nil {
			manifestDescriptor.Annotations["com.pyoci.project_urls"] = string(b)
		}
	}

	// (4) GET the existing Image Index; start fresh on 404. A tag already
	// holding a foreign artifactType is a 409, never a silent overwrite,
	// per spec.md §9.
	index, err := p.client.GetIndex(ctx, p.repo, f.Version, p.creds)
	if err != nil {
		if errors.Is(err, errForeignArtifactType) {
			return nil, apperror.Newf(apperror.Conflict, "version %s is held by a non-PyOCI manifest", f.Version)
		}
		if apperror.KindOf(err) != apperror.NotFound {
			return nil, err
		}
		index = &v1.Index{
			Versioned:    specs.Versioned{SchemaVersion: 2},
			MediaType:    v1.MediaTypeImageIndex,
			ArtifactType: ArtifactType,
			Annotations:  map[string]string{},
		}
	}

	// (5) Architecture uniqueness check.
	for _, m := range index.Manifests {
		if m.Platform != nil && m.Platform.Architecture == f.Architecture {
			return nil, apperror.Newf(apperror.Conflict, "version %s already has an upload for architecture %s", f.Version, f.Architecture)
		}
	}

	// (6) Append the entry, refresh the created timestamp.
	index.Manifests = append(index.Manifests, manifestDescriptor)
	if index.Annotations == nil {
		index.Annotations = map[string]string{}
	}
	index.Annotations["org.opencontainers.image.created"] = created

	indexBytes, err := marshalManifest(index)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "marshaling image index", err)
	}

	// (7) PUT the index under tag = version. Only this step is idempotent
	// across retries; a failure at any earlier step leaves orphan blobs
	// the registry's own GC is responsible for (spec.md §4.E).
	if _, err := p.client.PutManifest(ctx, p.repo, f.Version, v1.MediaTypeImageIndex, indexBytes, p.creds); err != nil {
		return nil, err
	}

	log.Info().
		Str("repository", p.repo.Path).
		Str("version", f.Version).
		Str("architecture", f.Architecture).
		Str("digest", manifestDigest.String()).
		Msg("published distribution file")

	return &manifestDescriptor, nil
}

func newConfigReader() io.Reader {
	return &onceReader{data: EmptyConfigBytes}
}

// onceReader hands back its buffer once; used for the tiny, fully
// in-memory empty config blob.
type onceReader struct {
	data []byte
	off  int
}

func (r *onceReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}

// manifestBytes2digestRef addresses a PUT by the manifest's own content
// digest rather than a tag, so per-file manifests are content-addressed
// and never collide across versions.
func manifestBytes2digestRef(b []byte) string {
	return pyocidigest.FromBytes(b).String()
}
