// Package transport implements spec.md §4.D: a single pooled HTTP client,
// the Docker/OCI token-authentication loop (grounded on
// other_examples' OCIClient.doWithAuth/fetchBearerToken), and an
// opportunistic bearer-token cache adapted from the teacher's
// internal/common/cache.go Redis wrapper.
package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Credentials are the HTTP Basic credentials the caller presented to this
// proxy, forwarded opaquely to the upstream registry. Never logged or
// stored — only hashed into the token cache key's fingerprint.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) empty() bool { return c.Username == "" && c.Password == "" }

// Config configures a Client.
type Config struct {
	// RegistryTimeout bounds every request made through the client,
	// streaming blob uploads and downloads included (reading a response
	// body counts against it). Zero means no timeout.
	RegistryTimeout time.Duration
	// MaxIdleConnsPerHost sizes the connection pool; registries are
	// contacted repeatedly for the same host across a proxy's lifetime.
	MaxIdleConnsPerHost int
	// Redis, if non-nil, backs the token cache; otherwise an in-process
	// map is used. See spec.md §9: "implementations MAY cache the bearer
	// token" — both backings satisfy the same TokenCache interface.
	Redis *redis.Client
}

// Client is the single long-lived HTTP client spec.md §4.D calls for:
// pooled connections, TLS verification on, redirects followed on GET only.
type Client struct {
	http  *http.Client
	cache TokenCache
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
	}
	httpClient := &http.Client{
		Timeout:   cfg.RegistryTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if via[0].Method != http.MethodGet {
				return http.ErrUseLastResponse
			}
			if len(via) >= 10 {
				return fmt.Errorf("transport: stopped after 10 redirects")
			}
			return nil
		},
	}

	var cache TokenCache
	if cfg.Redis != nil {
		cache = newRedisTokenCache(cfg.Redis)
	} else {
		cache = newMemoryTokenCache()
	}

	return &Client{http: httpClient, cache: cache}
}

// Do performs req against the registry, running the full
// challenge/cached-token/retry loop from spec.md §4.D. req.Body, if
// non-nil, must be replayable (req.GetBody set) — callers that stream a
// body they cannot safely resend should use Token instead and attach the
// header themselves before issuing a single streaming call.
func (c *Client) Do(ctx context.Context, req *http.Request, scope string, creds Credentials) (*http.Response, error) {
	host := req.URL.Host
	key := tokenCacheKey(host, scope, creds)

	if tok, ok := c.cache.Get(ctx, key); ok {
		resp, err := c.send(ctx, req, "Bearer "+tok)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		resp.Body.Close()
	}

	resp, err := c.send(ctx, req, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	wwwAuth := resp.Header.Get("WWW-Authenticate")
	resp.Body.Close()

	ch, ok := parseChallenge(wwwAuth)
	if !ok {
		return nil, fmt.Errorf("transport: 401 without a parseable WWW-Authenticate challenge (%q)", wwwAuth)
	}

	switch {
	case ch.isBearer():
		chScope := ch.scope()
		if chScope == "" {
			chScope = scope
		}
		token, ttl, err := c.fetchBearerToken(ctx, ch, chScope, creds)
		if err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		c.cache.Set(ctx, key, token, ttl)
		return c.send(ctx, req, "Bearer "+token)
	case ch.isBasic():
		if creds.empty() {
			return nil, fmt.Errorf("transport: registry requires credentials")
		}
		return c.send(ctx, req, "Basic "+basicAuthValue(creds))
	default:
		return nil, fmt.Errorf("transport: unsupported WWW-Authenticate scheme %q", ch.scheme)
	}
}

// Token returns a ready-to-use Authorization header value for host/scope,
// probing the registry's token endpoint if the cache is empty. Intended
// for callers about to stream a non-replayable request body (blob
// PATCH/PUT): they call Token once, then issue the streaming request
// directly with the header already attached.
func (c *Client) Token(ctx context.Context, host, scope string, creds Credentials) (string, error) {
	key := tokenCacheKey(host, scope, creds)
	if tok, ok := c.cache.Get(ctx, key); ok {
		return "Bearer " + tok, nil
	}

	probeURL := host + "/v2/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return "", fmt.Errorf("transport: building auth probe request: %w", err)
	}
	resp, err := c.send(ctx, req, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		// Registry allows anonymous access for this scope.
		return "", nil
	}
	ch, ok := parseChallenge(resp.Header.Get("WWW-Authenticate"))
	if !ok {
		return "", fmt.Errorf("transport: 401 probing %s without a parseable challenge", probeURL)
	}
	switch {
	case ch.isBearer():
		chScope := ch.scope()
		if chScope == "" {
			chScope = scope
		}
		token, ttl, err := c.fetchBearerToken(ctx, ch, chScope, creds)
		if err != nil {
			return "", fmt.Errorf("transport: %w", err)
		}
		c.cache.Set(ctx, key, token, ttl)
		return "Bearer " + token, nil
	case ch.isBasic():
		if creds.empty() {
			return "", fmt.Errorf("transport: registry requires credentials")
		}
		return "Basic " + basicAuthValue(creds), nil
	default:
		return "", fmt.Errorf("transport: unsupported WWW-Authenticate scheme %q", ch.scheme)
	}
}

// RawDo executes req on the shared pooled client with no cache lookup,
// challenge handling, or body replay — for streaming requests (blob
// PATCH/PUT) whose Authorization header was already obtained via Token and
// whose body must only be read once.
func (c *Client) RawDo(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

// send clones req (replaying its buffered body, if any), attaches authz
// when non-empty, and executes it.
func (c *Client) send(ctx context.Context, req *http.Request, authz string) (*http.Response, error) {
	clone := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("transport: replaying request body: %w", err)
		}
		clone.Body = io.NopCloser(body)
	}
	if authz != "" {
		clone.Header.Set("Authorization", authz)
	} else {
		clone.Header.Del("Authorization")
	}
	return c.http.Do(clone)
}

// fetchBearerToken performs the token-endpoint GET described in spec.md
// §4.D step 3, grounded on other_examples' OCIClient.fetchBearerToken.
func (c *Client) fetchBearerToken(ctx context.Context, ch challenge, scope string, creds Credentials) (token string, ttl time.Duration, err error) {
	realm := ch.realm()
	if realm == "" {
		return "", 0, fmt.Errorf("bearer challenge has no realm")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, realm, nil)
	if err != nil {
		return "", 0, fmt.Errorf("building token request: %w", err)
	}
	q := req.URL.Query()
	if svc := ch.service(); svc != "" {
		q.Set("service", svc)
	}
	if scope != "" {
		q.Set("scope", scope)
	}
	req.URL.RawQuery = q.Encode()

	if !creds.empty() {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", 0, fmt.Errorf("token endpoint %s returned %d: %s", realm, resp.StatusCode, body)
	}

	var parsed struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", 0, fmt.Errorf("reading token response: %w", err)
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, fmt.Errorf("parsing token response: %w", err)
	}

	token = parsed.Token
	if token == "" {
		token = parsed.AccessToken
	}
	if token == "" {
		return "", 0, fmt.Errorf("token endpoint response carried no token")
	}

	ttl = defaultTokenTTL
	if parsed.ExpiresIn > 0 {
		ttl = time.Duration(parsed.ExpiresIn) * time.Second
	}
	return token, ttl, nil
}

func basicAuthValue(creds Credentials) string {
	return base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
}

// BufferBody wraps a small, already-read payload (manifests, image
// indexes — spec.md §4.D says these are buffered, unlike blobs) so it can
// be replayed by Do's retry loop.
func BufferBody(req *http.Request, body []byte) {
	req.ContentLength = int64(len(body))
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
}
