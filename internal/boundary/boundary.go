// Package boundary keeps a failing page handler from taking the portal down
// with it: failures are caught, reported and replaced by a fallback page
// offering a retry.
package boundary

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/practigate/internal/navigation"
)

// Failure describes a caught failure.
type Failure struct {
	Err       error
	Panicked  bool
	RetryURL  string
	RequestID string
}

// Renderer writes the fallback response for f.
type Renderer func(w http.ResponseWriter, r *http.Request, f Failure)

// Options configures the boundary. Zero values select DefaultRenderer and no callback.
type Options struct {
	Render  Renderer
	OnError func(r *http.Request, f Failure)
}

// Boundary wraps handlers.
type Boundary struct {
	log     *zap.Logger
	render  Renderer
	onError func(r *http.Request, f Failure)
}

// New builds a boundary.
func New(logger *zap.Logger, opts Options) *Boundary {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Boundary{log: logger.Named("boundary"), render: opts.Render, onError: opts.OnError}
	if b.render == nil {
		b.render = DefaultRenderer
	}
	return b
}

// HandlerFunc is a handler that reports failures instead of writing them.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Middleware catches panics escaping next.
func (b *Boundary) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &trackingWriter{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			b.log.Error("handler panicked",
				zap.Any("reason", rec),
				zap.ByteString("stack", debug.Stack()),
				zap.String("path", r.URL.Path),
			)
			b.fail(tw, r, fmt.Errorf("panic: %v", rec), true)
		}()
		next.ServeHTTP(tw, r)
	})
}

// Wrap adapts h so a returned error is handled like a panic.
func (b *Boundary) Wrap(h HandlerFunc) http.Handler {
	return b.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			b.log.Warn("handler failed", zap.String("path", r.URL.Path), zap.Error(err))
			b.fail(w, r, err, false)
		}
	}))
}

func (b *Boundary) fail(w http.ResponseWriter, r *http.Request, err error, panicked bool) {
	f := Failure{
		Err:       err,
		Panicked:  panicked,
		RetryURL:  RetryURL(r),
		RequestID: middleware.GetReqID(r.Context()),
	}
	if b.onError != nil {
		b.callback(r, f)
	}
	if tw, ok := w.(*trackingWriter); ok && tw.wrote {
		// Headers are gone; nothing sensible can be rendered.
		return
	}
	b.render(w, r, f)
}

func (b *Boundary) callback(r *http.Request, f Failure) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error("error callback panicked", zap.Any("reason", rec))
		}
	}()
	b.onError(r, f)
}

// RetryURL is the same request path when it is safe, the landing page otherwise.
func RetryURL(r *http.Request) string {
	if r.Method == http.MethodGet {
		if p := r.URL.RequestURI(); navigation.IsSafeTarget(p) {
			return p
		}
	}
	return navigation.DefaultLanding
}

var fallbackPage = template.Must(template.New("fallback").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Something went wrong</title></head>
<body>
<h1>Something went wrong</h1>
<p>This page could not be displayed.{{if .RequestID}} Reference: <code>{{.RequestID}}</code>{{end}}</p>
<p><a href="{{.RetryURL}}">Try again</a></p>
</body></html>
`))

// DefaultRenderer writes a minimal HTML page with a retry link and never the error text.
func DefaultRenderer(w http.ResponseWriter, _ *http.Request, f Failure) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(StatusOf(f.Err))
	_ = fallbackPage.Execute(w, f)
}

// StatusError carries an HTTP status through a HandlerFunc error.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string { return fmt.Sprintf("%d: %v", e.Code, e.Err) }
func (e *StatusError) Unwrap() error { return e.Err }

// StatusOf returns the status carried by err, or 500.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) && se.Code >= 400 {
		return se.Code
	}
	return http.StatusInternalServerError
}

type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.wrote = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(p)
}

func (t *trackingWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		t.wrote = true
		f.Flush()
	}
}

func (t *trackingWriter) Unwrap() http.ResponseWriter { return t.ResponseWriter }
