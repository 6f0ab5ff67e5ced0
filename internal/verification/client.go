package verification

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

	"github.com/gofrs/uuid/v5"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/and161185/practigate/internal/errs"
	"github.com/and161185/practigate/internal/identity"
	"github.com/and161185/practigate/internal/obs"
)

const (
	verificationsPath = "/v1/verifications"
	maxBodyBytes      = 1 << 20
	defaultTimeout    = 15 * time.Second
	probeTimeout      = 5 * time.Second
)

// ClientOptions tunes the HTTP behaviour. Zero values select defaults.
type ClientOptions struct {
	HTTPClient   *http.Client
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RateLimit is the sustained request rate per second; Burst the bucket size.
	RateLimit float64
	Burst     int
	Timeout   time.Duration
	Metrics   *obs.Metrics
}

// Client calls the verification service with the session's bearer token.
type Client struct {
	base    *url.URL
	tokens  identity.TokenSource
	http    *retryablehttp.Client
	limiter *rate.Limiter
	timeout time.Duration
	log     *zap.Logger
	metrics *obs.Metrics
}

// NewClient validates baseURL and builds a client.
func NewClient(baseURL string, tokens identity.TokenSource, logger *zap.Logger, opts ClientOptions) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("verification url %q: %w", baseURL, errs.ErrMissingConfig)
	}
	if tokens == nil {
		return nil, fmt.Errorf("verification token source: %w", errs.ErrMissingConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("verification")

	hc := opts.HTTPClient
	if hc == nil {
		hc = cleanhttp.DefaultPooledClient()
	}
	retryMax := opts.RetryMax
	if retryMax <= 0 {
		retryMax = 2
	}
	waitMin, waitMax := opts.RetryWaitMin, opts.RetryWaitMax
	if waitMin <= 0 {
		waitMin = 200 * time.Millisecond
	}
	if waitMax <= 0 {
		waitMax = 2 * time.Second
	}
	limit, burst := rate.Inf, opts.Burst
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if burst <= 0 {
		burst = 5
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = obs.NewMetrics(nil)
	}

	return &Client{
		base:   u,
		tokens: tokens,
		http: &retryablehttp.Client{
			HTTPClient:   hc,
			RetryWaitMin: waitMin,
			RetryWaitMax: waitMax,
			RetryMax:     retryMax,
			Backoff:      retryablehttp.DefaultBackoff,
			CheckRetry:   retryTransportErrors,
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
			Logger:       leveled{log.Sugar()},
		},
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		log:     log,
		metrics: metrics,
	}, nil
}

// retryTransportErrors retries only when no response arrived. Every HTTP
// status is an answer the caller maps to a code.
func retryTransportErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Submit sends a verification request. The payload never names the caller.
func (c *Client) Submit(ctx context.Context, req Request) (SubmitResult, error) {
	if strings.TrimSpace(req.LicenseNumber) == "" {
		return SubmitResult{}, &Error{Code: CodeValidation, Message: "license number is required"}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return SubmitResult{}, &Error{Code: CodeInternal, Err: err}
	}
	var out SubmitResult
	if err := c.do(ctx, "submit", http.MethodPost, verificationsPath, body, true, &out); err != nil {
		return SubmitResult{}, err
	}
	if out.ID == "" {
		return SubmitResult{}, &Error{Code: CodeInternal, Message: "service returned no verification id"}
	}
	if out.Status == "" {
		out.Status = StatusPending
	}
	return out, nil
}

// Status reads the current record for id.
func (c *Client) Status(ctx context.Context, id string) (Record, error) {
	if strings.TrimSpace(id) == "" {
		return Record{}, &Error{Code: CodeValidation, Message: "verification id is required"}
	}
	var rec Record
	if err := c.do(ctx, "status", http.MethodGet, verificationsPath+"/"+url.PathEscape(id), nil, true, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// IsAvailable probes the service with a synthetic id. Any protocol answer
// below 500 means the service is up, including 401 for a caller without
// credentials; transport failures and server errors mean it is not.
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	probe := "probe-" + uuid.Must(uuid.NewV4()).String()
	var rec Record
	err := c.do(ctx, "probe", http.MethodGet, verificationsPath+"/"+probe, nil, false, &rec)
	if err == nil || answered(err) {
		return true
	}
	c.log.Debug("verification service unavailable", zap.Error(err))
	return false
}

// answered reports whether err carries a client-error response from the service.
func answered(err error) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.Status >= 400 && ve.Status < 500
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, needAuth bool, out any) (err error) {
	code := "ok"
	defer func() {
		if err != nil {
			code = string(CodeOf(err))
		}
		c.metrics.VerificationCalls.WithLabelValues(op, code).Inc()
	}()

	token, terr := identity.TokenFor(ctx, c.tokens)
	if terr != nil && needAuth {
		if errors.Is(terr, errs.ErrNoSession) {
			return &Error{Code: CodeUnauthorized, Err: errs.ErrUnauthorized, Message: "no active session"}
		}
		return &Error{Code: CodeInternal, Err: terr}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Code: CodeNetwork, Err: err}
	}

	var rbody any
	if body != nil {
		rbody = body
	}
	req, rerr := retryablehttp.NewRequestWithContext(ctx, method, c.base.String()+path, rbody)
	if rerr != nil {
		return &Error{Code: CodeInternal, Err: rerr}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.Must(uuid.NewV4()).String())
	}
	if terr == nil && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, derr := c.http.Do(req)
	if derr != nil {
		return &Error{Code: CodeNetwork, Err: derr}
	}
	defer resp.Body.Close()

	raw, rerr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if rerr != nil {
		return &Error{Code: CodeNetwork, Err: rerr}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		verr := fromResponse(resp.StatusCode, eb)
		c.log.Debug("verification call failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("code", string(verr.Code)),
		)
		return verr
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Code: CodeInternal, Status: resp.StatusCode, Message: "malformed response", Err: err}
		}
	}
	return nil
}

// leveled adapts zap to retryablehttp.LeveledLogger.
type leveled struct{ s *zap.SugaredLogger }

var _ retryablehttp.LeveledLogger = leveled{}

func (l leveled) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveled) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l leveled) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveled) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
