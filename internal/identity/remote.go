package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"

	"github.com/and161185/practigate/internal/claims"
	"github.com/and161185/practigate/internal/errs"
)

const (
	claimsPath        = "/auth/v1/claims"
	remoteCallTimeout = 10 * time.Second
)

// RemoteProvider fetches claims from the remote authentication backend.
type RemoteProvider struct {
	endpoint   string
	apiKey     string
	tokens     TokenSource
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRemoteProvider constructs a provider for baseURL authenticated with apiKey.
// A nil httpClient selects a pooled cleanhttp client.
func NewRemoteProvider(baseURL, apiKey string, tokens TokenSource, httpClient *http.Client, logger *zap.Logger) (*RemoteProvider, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: provider url %q", errs.ErrMissingConfig, baseURL)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: provider credential", errs.ErrMissingConfig)
	}
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteProvider{
		endpoint:   u.String() + claimsPath,
		apiKey:     apiKey,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// For returns a provider sharing p's endpoint and HTTP client that reads the
// bearer token from tokens.
func (p *RemoteProvider) For(tokens TokenSource) *RemoteProvider {
	cp := *p
	cp.tokens = tokens
	return &cp
}

// CurrentClaims implements Provider.
func (p *RemoteProvider) CurrentClaims(ctx context.Context) (*claims.Claims, error) {
	token, err := TokenFor(ctx, p.tokens)
	if err != nil {
		if errors.Is(err, errs.ErrNoSession) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session token: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, remoteCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create claims request: %w", err)
	}
	req.Header.Set("apikey", p.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send claims request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		p.logger.Debug("identity provider reports no session", zap.Int("status", resp.StatusCode))
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("claims request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var c claims.Claims
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode claims response: %w", err)
	}
	c.Normalize()
	return &c, nil
}
