package ociclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/AllexVeldman/pyoci/internal/apperror"
	"github.com/AllexVeldman/pyoci/internal/transport"
)

// mockRegistry is a minimal, in-memory OCI Distribution API server
// sufficient to drive the publish state machine and its readers, grounded
// on the same scenario shapes as spec.md §8's S1-S7.
type mockRegistry struct {
	mu            sync.Mutex
	blobs         map[string][]byte
	manifests     map[string][]byte // key: repo+"/"+ref (tag or digest)
	mediaType     map[string]string
	tags          map[string][]string // repo -> tags in insertion order
	pendingUpload []byte               // buffers the single in-flight PATCH body
	srv           *httptest.Server
}

func newMockRegistry() *mockRegistry {
	m := &mockRegistry{
		blobs:     make(map[string][]byte),
		manifests: make(map[string][]byte),
		mediaType: make(map[string]string),
		tags:      make(map[string][]string),
	}
	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *mockRegistry) Close() { m.srv.Close() }

func (m *mockRegistry) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v2/")

	switch {
	case strings.HasSuffix(path, "/blobs/uploads/") && r.Method == http.MethodPost:
		repo := strings.TrimSuffix(path, "blobs/uploads/")
		w.Header().Set("Location", "/v2/"+repo+"blobs/uploads/session1")
		w.WriteHeader(http.StatusAccepted)
		return

	case strings.Contains(path, "blobs/uploads/session1") && r.Method == http.MethodPatch:
		body, _ := io.ReadAll(r.Body)
		m.pendingUpload = append(m.pendingUpload, body...)
		w.Header().Set("Location", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
		return

	case strings.Contains(path, "blobs/uploads/session1") && r.Method == http.MethodPut:
		dgst := r.URL.Query().Get("digest")
		repo := strings.SplitN(path, "/blobs/uploads/", 2)[0]
		m.blobs[repo+"@"+dgst] = m.pendingUpload
		m.pendingUpload = nil
		w.WriteHeader(http.StatusCreated)
		return

	case strings.Contains(path, "/blobs/") && r.Method == http.MethodHead:
		repo, dgst := splitLast(path, "/blobs/")
		if _, ok := m.blobs[repo+"@"+dgst]; ok {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
		return

	case strings.Contains(path, "/blobs/") && r.Method == http.MethodGet:
		repo, dgst := splitLast(path, "/blobs/")
		data, ok := m.blobs[repo+"@"+dgst]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
		return

	case strings.Contains(path, "/manifests/") && r.Method == http.MethodPut:
		repo, ref := splitLast(path, "/manifests/")
		body, _ := io.ReadAll(r.Body)
		m.manifests[repo+"/"+ref] = body
		m.mediaType[repo+"/"+ref] = r.Header.Get("Content-Type")
		if !strings.HasPrefix(ref, "sha256:") {
			m.tags[repo] = appendIfMissing(m.tags[repo], ref)
		}
		w.WriteHeader(http.StatusCreated)
		return

	case strings.Contains(path, "/manifests/") && r.Method == http.MethodGet:
		repo, ref := splitLast(path, "/manifests/")
		body, ok := m.manifests[repo+"/"+ref]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", m.mediaType[repo+"/"+ref])
		w.Write(body)
		return

	case strings.Contains(path, "/manifests/") && r.Method == http.MethodDelete:
		repo, ref := splitLast(path, "/manifests/")
		if _, ok := m.manifests[repo+"/"+ref]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(m.manifests, repo+"/"+ref)
		w.WriteHeader(http.StatusAccepted)
		return

	case strings.HasSuffix(path, "/tags/list") && r.Method == http.MethodGet:
		repo := strings.TrimSuffix(path, "tags/list")
		repo = strings.TrimSuffix(repo, "/")
		json.NewEncoder(w).Encode(map[string]any{"name": repo, "tags": m.tags[repo]})
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func splitLast(path, sep string) (before, after string) {
	idx := strings.LastIndex(path, sep)
	return path[:idx], path[idx+len(sep):]
}

func appendIfMissing(ss []string, s string) []string {
	for _, existing := range ss {
		if existing == s {
			return ss
		}
	}
	return append(ss, s)
}

func testClient(url string) (*Client, Repository) {
	c := New(transport.New(transport.Config{}))
	return c, Repository{Host: url, Path: "acme/hello-world"}
}

func TestPublishFirstFileCreatesIndex(t *testing.T) {
	reg := newMockRegistry()
	defer reg.Close()
	client, repo := testClient(reg.srv.URL)

	pub := NewPublisher(client, repo, transport.Credentials{})
	desc, err := pub.Publish(t.Context(), FileUpload{
		Version:      "1.2.3",
		Architecture: ".tar.gz",
		Content:      strings.NewReader("abc"),
		Size:         3,
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if desc.Digest.Encoded() == "" {
		t.Error("expected a non-empty layer digest")
	}

	index, err := client.GetIndex(t.Context(), repo, "1.2.3", transport.Credentials{})
	if err != nil {
		t.Fatalf("GetIndex() error = %v", err)
	}
	if len(index.Manifests) != 1 {
		t.Fatalf("Manifests = %d, want 1", len(index.Manifests))
	}
	if index.ArtifactType != ArtifactType {
		t.Errorf("ArtifactType = %q, want %q", index.ArtifactType, ArtifactType)
	}
}

func TestPublishSecondFileAppendsToIndex(t *testing.T) {
	reg := newMockRegistry()
	defer reg.Close()
	client, repo := testClient(reg.srv.URL)
	pub := NewPublisher(client, repo, transport.Credentials{})

	if _, err := pub.Publish(t.Context(), FileUpload{
		Version: "1.2.3", Architecture: ".tar.gz", Content: strings.NewReader("abc"), Size: 3,
	}); err != nil {
		t.Fatalf("first Publish() error = %v", err)
	}
	if _, err := pub.Publish(t.Context(), FileUpload{
		Version: "1.2.3", Architecture: "py3-none-any", Content: strings.NewReader("def"), Size: 3,
	}); err != nil {
		t.Fatalf("second Publish() error = %v", err)
	}

	index, err := client.GetIndex(t.Context(), repo, "1.2.3", transport.Credentials{})
	if err != nil {
		t.Fatalf("GetIndex() error = %v", err)
	}
	if len(index.Manifests) != 2 {
		t.Fatalf("Manifests = %d, want 2", len(index.Manifests))
	}
}

func TestPublishDuplicateArchitectureConflicts(t *testing.T) {
	reg := newMockRegistry()
	defer reg.Close()
	client, repo := testClient(reg.srv.URL)
	pub := NewPublisher(client, repo, transport.Credentials{})

	upload := func() error {
		_, err := pub.Publish(t.Context(), FileUpload{
			Version: "1.2.3", Architecture: ".tar.gz", Content: strings.NewReader("abc"), Size: 3,
		})
		return err
	}
	if err := upload(); err != nil {
		t.Fatalf("first upload error = %v", err)
	}
	err := upload()
	if err == nil {
		t.Fatal("expected conflict on duplicate architecture")
	}
}

func TestGetIndexNotFound(t *testing.T) {
	reg := newMockRegistry()
	defer reg.Close()
	client, repo := testClient(reg.srv.URL)

	_, err := client.GetIndex(t.Context(), repo, "9.9.9", transport.Credentials{})
	if err == nil {
		t.Fatal("expected error for missing version")
	}
}

func TestDeleteManifestThenGetIs404(t *testing.T) {
	reg := newMockRegistry()
	defer reg.Close()
	client, repo := testClient(reg.srv.URL)
	pub := NewPublisher(client, repo, transport.Credentials{})

	if _, err := pub.Publish(t.Context(), FileUpload{
		Version: "1.2.3", Architecture: ".tar.gz", Content: strings.NewReader("abc"), Size: 3,
	}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if err := client.DeleteManifest(t.Context(), repo, "1.2.3", transport.Credentials{}); err != nil {
		t.Fatalf("DeleteManifest() error = %v", err)
	}
	if _, err := client.GetIndex(t.Context(), repo, "1.2.3", transport.Credentials{}); err == nil {
		t.Error("expected GetIndex to fail after delete")
	}
}

func TestGetBlobStreamsContent(t *testing.T) {
	reg := newMockRegistry()
	defer reg.Close()
	client, repo := testClient(reg.srv.URL)
	pub := NewPublisher(client, repo, transport.Credentials{})

	desc, err := pub.Publish(t.Context(), FileUpload{
		Version: "1.2.3", Architecture: ".tar.gz", Content: strings.NewReader("abc"), Size: 3,
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	manifest, err := client.GetManifest(t.Context(), repo, desc.Digest, transport.Credentials{})
	if err != nil {
		t.Fatalf("GetManifest() error = %v", err)
	}
	if len(manifest.Layers) != 1 {
		t.Fatalf("Layers = %d, want 1", len(manifest.Layers))
	}

	rc, _, err := client.GetBlob(t.Context(), repo, manifest.Layers[0].Digest, transport.Credentials{})
	if err != nil {
		t.Fatalf("GetBlob() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "abc" {
		t.Errorf("blob content = %q, want %q", data, "abc")
	}
}

func TestListTagsFiltersByArtifactType(t *testing.T) {
	reg := newMockRegistry()
	defer reg.Close()
	client, repo := testClient(reg.srv.URL)
	pub := NewPublisher(client, repo, transport.Credentials{})

	if _, err := pub.Publish(t.Context(), FileUpload{
		Version: "1.0.0", Architecture: ".tar.gz", Content: strings.NewReader("x"), Size: 1,
	}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// A tag whose index carries an unrelated artifactType must be ignored.
	foreignIndex := v1.Index{MediaType: v1.MediaTypeImageIndex, ArtifactType: "application/vnd.docker.distribution.manifest.list.v2+json"}
	b, _ := json.Marshal(foreignIndex)
	if _, err := client.PutManifest(t.Context(), repo, "not-pyoci", v1.MediaTypeImageIndex, b, transport.Credentials{}); err != nil {
		t.Fatalf("PutManifest() error = %v", err)
	}

	tags, err := client.ListTags(t.Context(), repo, transport.Credentials{})
	if err != nil {
		t.Fatalf("ListTags() error = %v", err)
	}
	if len(tags) != 1 || tags[0] != "1.0.0" {
		t.Errorf("ListTags() = %v, want [1.0.0]", tags)
	}
}

func TestPublishForeignArtifactTypeConflicts(t *testing.T) {
	reg := newMockRegistry()
	defer reg.Close()
	client, repo := testClient(reg.srv.URL)

	foreignIndex := v1.Index{MediaType: v1.MediaTypeImageIndex, ArtifactType: "application/vnd.docker.distribution.manifest.list.v2+json"}
	b, _ := json.Marshal(foreignIndex)
	if _, err := client.PutManifest(t.Context(), repo, "1.2.3", v1.MediaTypeImageIndex, b, transport.Credentials{}); err != nil {
		t.Fatalf("PutManifest() error = %v", err)
	}

	pub := NewPublisher(client, repo, transport.Credentials{})
	_, err := pub.Publish(t.Context(), FileUpload{
		Version: "1.2.3", Architecture: ".tar.gz", Content: strings.NewReader("abc"), Size: 3,
	})
	if err == nil {
		t.Fatal("expected an error publishing over a foreign artifactType")
	}
	if kind := apperror.KindOf(err); kind != apperror.Conflict {
		t.Errorf("Kind = %v, want Conflict", kind)
	}

	// The foreign index at tag 1.2.3 must be left untouched.
	raw, ok := reg.manifests[repo.Path+"/1.2.3"]
	if !ok {
		t.Fatal("expected the foreign manifest to still be present")
	}
	var got v1.Index
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal surviving manifest: %v", err)
	}
	if got.ArtifactType != foreignIndex.ArtifactType {
		t.Errorf("surviving manifest ArtifactType = %q, want %q (must not have been overwritten)", got.ArtifactType, foreignIndex.ArtifactType)
	}
}

// TestStatusMappedToUnauthorized covers spec.md §7's "registry returned 401
// after token exchange" row: the registry honors the Bearer challenge,
// hands out a token, and still answers 401 on the retried request.
func TestStatusMappedToUnauthorized(t *testing.T) {
	var tokenSrv, registry *httptest.Server
	tokenSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	}))
	defer tokenSrv.Close()

	registry = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="%s",service="registry"`, tokenSrv.URL))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer registry.Close()

	client := New(transport.New(transport.Config{}))
	_, err := client.GetIndex(t.Context(), Repository{Host: registry.URL, Path: "acme/hello-world"}, "1.0.0", transport.Credentials{})
	if kind := apperror.KindOf(err); kind != apperror.Unauthorized {
		t.Errorf("Kind = %v, want Unauthorized", kind)
	}
}

// TestStatusMappedToForbidden covers spec.md §7's "registry returned 403"
// row; 403 carries no challenge and passes straight through internal/transport.
func TestStatusMappedToForbidden(t *testing.T) {
	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer registry.Close()

	client := New(transport.New(transport.Config{}))
	_, err := client.GetIndex(t.Context(), Repository{Host: registry.URL, Path: "acme/hello-world"}, "1.0.0", transport.Credentials{})
	if kind := apperror.KindOf(err); kind != apperror.Forbidden {
		t.Errorf("Kind = %v, want Forbidden", kind)
	}
}

func init() {
	// sanity: make sure the shared empty-config fixture is what spec.md §3 names.
	const want = "sha256:44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a"
	if got := EmptyConfigDigest.String(); got != want {
		panic(fmt.Sprintf("empty config digest computation failed: %q", got))
	}
}
