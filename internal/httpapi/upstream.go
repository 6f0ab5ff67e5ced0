package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"

	"github.com/and161185/practigate/internal/boundary"
	"github.com/and161185/practigate/internal/errs"
)

// NewUpstream proxies page requests to the UI server at rawURL. Upstream
// failures surface through the boundary's fallback page.
func NewUpstream(rawURL string, logger *zap.Logger) (http.Handler, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream %q: %w", rawURL, errs.ErrMissingConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("upstream")

	p := httputil.NewSingleHostReverseProxy(u)
	p.Transport = cleanhttp.DefaultPooledTransport()
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("upstream unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		boundary.DefaultRenderer(w, r, boundary.Failure{
			Err:      &boundary.StatusError{Code: http.StatusBadGateway, Err: err},
			RetryURL: boundary.RetryURL(r),
		})
	}
	return p, nil
}
