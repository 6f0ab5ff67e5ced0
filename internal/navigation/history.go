package navigation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/practigate/internal/errs"
	"github.com/and161185/practigate/internal/session"
)

// Loop detection parameters.
const (
	HistoryKey = "guard.redirect_history"
	LoopWindow = 30 * time.Second
	LoopMax    = 3
)

type historyRecord struct {
	Redirects []int64 `json:"redirects_ms"`
}

// History is the redirect timeline of one session, used only for loop detection.
type History struct {
	scope session.Scope
}

func (h History) load(ctx context.Context) ([]time.Time, error) {
	raw, err := h.scope.Get(ctx, HistoryKey)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var rec historyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		// corrupt history only disables loop detection until the next write
		return nil, nil
	}
	out := make([]time.Time, 0, len(rec.Redirects))
	for _, ms := range rec.Redirects {
		out = append(out, time.UnixMilli(ms))
	}
	return out, nil
}

func inWindow(ts []time.Time, now time.Time) []time.Time {
	var out []time.Time
	for _, t := range ts {
		if now.Sub(t) < LoopWindow && !t.After(now) {
			out = append(out, t)
		}
	}
	return out
}

// Recent returns the redirects recorded inside the loop window.
func (h History) Recent(ctx context.Context, now time.Time) ([]time.Time, error) {
	ts, err := h.load(ctx)
	if err != nil {
		return nil, err
	}
	return inWindow(ts, now), nil
}

// ShouldBreak reports whether LoopMax or more redirects happened inside the window.
func (h History) ShouldBreak(ctx context.Context, now time.Time) (bool, error) {
	ts, err := h.Recent(ctx, now)
	if err != nil {
		return false, err
	}
	return len(ts) >= LoopMax, nil
}

// Record appends now, dropping entries outside the window and keeping at most LoopMax.
func (h History) Record(ctx context.Context, now time.Time) error {
	ts, err := h.Recent(ctx, now)
	if err != nil {
		return err
	}
	ts = append(ts, now)
	if len(ts) > LoopMax {
		ts = ts[len(ts)-LoopMax:]
	}
	rec := historyRecord{Redirects: make([]int64, 0, len(ts))}
	for _, t := range ts {
		rec.Redirects = append(rec.Redirects, t.UnixMilli())
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return h.scope.Put(ctx, HistoryKey, raw, now.Add(LoopWindow))
}

// Reset forgets all recorded redirects.
func (h History) Reset(ctx context.Context) error {
	return h.scope.Delete(ctx, HistoryKey)
}
