package navigation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/practigate/internal/errs"
	"github.com/and161185/practigate/internal/session"
)

// Return path parameters.
const (
	ReturnPathKey       = "guard.return_path"
	DefaultReturnMaxAge = 10 * time.Minute
)

// ReturnPath is the single saved "go back here" entry.
type ReturnPath struct {
	Path     string    `json:"path"`
	SavedAt  time.Time `json:"saved_at"`
	MaxAgeMs int64     `json:"max_age_ms"`
}

// MaxAge returns the entry lifetime.
func (r ReturnPath) MaxAge() time.Duration { return time.Duration(r.MaxAgeMs) * time.Millisecond }

// Expired reports whether the entry is past its lifetime at now.
func (r ReturnPath) Expired(now time.Time) bool { return !now.Before(r.SavedAt.Add(r.MaxAge())) }

// ReturnPaths manages the return path of one session.
type ReturnPaths struct {
	scope  session.Scope
	log    *zap.Logger
	maxAge time.Duration
}

// Save stores path if it passes the safety check.
func (r ReturnPaths) Save(ctx context.Context, path string, now time.Time) error {
	if !IsSafeTarget(path) {
		r.log.Warn("refusing to save unsafe return path", zap.String("path", path))
		return fmt.Errorf("return path %q: %w", path, errs.ErrUnsafeTarget)
	}
	rp := ReturnPath{Path: path, SavedAt: now, MaxAgeMs: r.maxAge.Milliseconds()}
	raw, err := json.Marshal(rp)
	if err != nil {
		return fmt.Errorf("encode return path: %w", err)
	}
	return r.scope.Put(ctx, ReturnPathKey, raw, now.Add(r.maxAge))
}

// Peek returns the saved path without clearing it. Expired, corrupt, or
// unsafe entries are deleted and reported as absent.
func (r ReturnPaths) Peek(ctx context.Context, now time.Time) (ReturnPath, bool, error) {
	raw, err := r.scope.Get(ctx, ReturnPathKey)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return ReturnPath{}, false, nil
		}
		return ReturnPath{}, false, err
	}
	var rp ReturnPath
	if err := json.Unmarshal(raw, &rp); err != nil {
		return ReturnPath{}, false, r.Clear(ctx)
	}
	if !IsSafeTarget(rp.Path) {
		r.log.Warn("discarding unsafe stored return path", zap.String("path", rp.Path))
		return ReturnPath{}, false, r.Clear(ctx)
	}
	if rp.Expired(now) {
		return ReturnPath{}, false, r.Clear(ctx)
	}
	return rp, true, nil
}

// Consume returns the saved path and clears it.
func (r ReturnPaths) Consume(ctx context.Context, now time.Time) (string, bool, error) {
	rp, ok, err := r.Peek(ctx, now)
	if err != nil || !ok {
		return "", false, err
	}
	if err := r.Clear(ctx); err != nil {
		return "", false, err
	}
	return rp.Path, true, nil
}

// ClearIfArrived drops the saved path once the user reaches it.
func (r ReturnPaths) ClearIfArrived(ctx context.Context, current string, now time.Time) error {
	rp, ok, err := r.Peek(ctx, now)
	if err != nil || !ok {
		return err
	}
	if pathOf(rp.Path) == pathOf(current) {
		return r.Clear(ctx)
	}
	return nil
}

// Clear removes the saved path.
func (r ReturnPaths) Clear(ctx context.Context) error {
	return r.scope.Delete(ctx, ReturnPathKey)
}
