package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/and161185/practigate/internal/claimscache"
	"github.com/and161185/practigate/internal/guard"
	"github.com/and161185/practigate/internal/verification"
)

const maxRequestBody = 64 << 10

type signInRequest struct {
	Token string `json:"token"`
}

type nextResponse struct {
	Next string `json:"next"`
}

type returnResponse struct {
	Path string `json:"path"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}

type waitRequest struct {
	MaxAttempts       int     `json:"max_attempts"`
	IntervalMs        int64   `json:"interval_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	c := a.deps.Principals.FromContext(r.Context()).Claims(r.Context(), claimscache.PurposeDisplay)
	if c == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Code:    guard.NotAuthenticated.String(),
			Message: "not signed in",
			Target:  guard.SignInPath,
		})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decode(r, &req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "bad_request", Message: "token is required"})
		return
	}
	next, err := a.deps.Sessions.SignIn(r.Context(), guard.ScopeFromContext(r.Context()), req.Token)
	if err != nil {
		a.log.Warn("sign in failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "internal", Message: "sign in failed"})
		return
	}
	writeJSON(w, http.StatusOK, nextResponse{Next: next})
}

func (a *API) signOut(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Sessions.SignOut(r.Context(), guard.ScopeFromContext(r.Context())); err != nil {
		// The identity is gone either way; leftovers are logged by the service.
		a.log.Warn("sign out incomplete", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) consumeReturn(w http.ResponseWriter, r *http.Request) {
	path, ok, err := a.deps.Sessions.ReturnPath(r.Context(), guard.ScopeFromContext(r.Context()))
	if err != nil {
		a.log.Warn("consume return path", zap.Error(err))
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, returnResponse{Path: path})
}

func (a *API) submitVerification(w http.ResponseWriter, r *http.Request) {
	var req verification.Request
	if err := decode(r, &req); err != nil {
		writeVerificationError(w, &verification.Error{Code: verification.CodeValidation, Err: err})
		return
	}
	res, err := a.deps.Licensing.Submit(r.Context(), req)
	if err != nil {
		writeVerificationError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (a *API) waitVerification(w http.ResponseWriter, r *http.Request) {
	var req waitRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeVerificationError(w, &verification.Error{Code: verification.CodeValidation, Err: err})
			return
		}
	}
	opts := verification.DefaultOptions()
	if req.MaxAttempts > 0 {
		opts.MaxAttempts = req.MaxAttempts
	}
	if req.IntervalMs > 0 {
		opts.Interval = time.Duration(req.IntervalMs) * time.Millisecond
	}
	if req.BackoffMultiplier > 0 {
		opts.BackoffMultiplier = req.BackoffMultiplier
	}

	rec, err := a.deps.Licensing.Wait(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		writeVerificationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// requirePolicy answers denials with JSON instead of redirecting.
func (a *API) requirePolicy(p guard.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out := a.deps.Guard.Evaluate(r.Context(), p)
			if out.Authorized() {
				next.ServeHTTP(w, r.WithContext(guard.WithOutcome(r.Context(), out)))
				return
			}
			status := http.StatusForbidden
			if out.Code == guard.NotAuthenticated {
				status = http.StatusUnauthorized
			}
			writeJSON(w, status, errorResponse{
				Code:    out.Code.String(),
				Message: "access denied",
				Target:  guard.DefaultTarget(out.Code, ""),
			})
		})
	}
}

// HTTPStatus maps a verification code onto the status returned to the browser.
func HTTPStatus(code verification.Code) int {
	switch code {
	case verification.CodeValidation, verification.CodeExpiredLicense, verification.CodeMalformedLicense:
		return http.StatusUnprocessableEntity
	case verification.CodeStateConflict:
		return http.StatusConflict
	case verification.CodeNotFound:
		return http.StatusNotFound
	case verification.CodeUnauthorized:
		return http.StatusUnauthorized
	case verification.CodeForbidden:
		return http.StatusForbidden
	case verification.CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case verification.CodeTimeout:
		return http.StatusGatewayTimeout
	case verification.CodeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeVerificationError(w http.ResponseWriter, err error) {
	code := verification.CodeOf(err)
	writeJSON(w, HTTPStatus(code), errorResponse{Code: string(code), Message: verification.Message(code)})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
