package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/and161185/practigate/internal/guard"
	"github.com/and161185/practigate/internal/identity"
	"github.com/and161185/practigate/internal/navigation"
)

type accessEvent struct {
	State  string `json:"state"`
	Code   string `json:"code,omitempty"`
	Target string `json:"target,omitempty"`
}

// subscription hands an already open event channel to Gate.Watch.
type subscription struct {
	events <-chan identity.Event
	cancel func()
}

func (s subscription) Subscribe() (<-chan identity.Event, func()) { return s.events, s.cancel }

// watchAccess streams the settled authorization state of a guarded path as
// server-sent events, re-evaluating on every session change of the caller.
// Watching never touches redirect history or return paths.
func (a *API) watchAccess(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("path")
	u, err := url.Parse(target)
	if err != nil || !navigation.IsSafeTarget(target) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "bad_request", Message: "path must be a portal path"})
		return
	}
	policy, ok := a.deps.Routes.Match(u.Path)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "not_found", Message: "path is not guarded"})
		return
	}

	ctx := r.Context()
	events, cancel := a.deps.Principals.FromContext(ctx).Changes().Subscribe()
	defer cancel()

	gate := guard.NewGate(a.deps.Guard, guard.Request{Path: target, Policy: policy})
	settled := make(chan struct{}, 1)
	gate.OnChange(func(s guard.State) {
		if s == guard.StateChecking {
			return
		}
		select {
		case settled <- struct{}{}:
		default:
		}
	})

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		a.log.Warn("access watch needs a flushing writer", zap.Error(err))
		return
	}

	gate.Evaluate(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		gate.Watch(ctx, subscription{events: events, cancel: cancel})
	}()

	for {
		select {
		case <-ctx.Done():
			<-done
			return
		case <-done:
			return
		case <-settled:
			d, ok := gate.Decision()
			if !ok {
				continue
			}
			ev := accessEvent{State: d.State.String(), Target: d.Target}
			if !d.Authorized() {
				ev.Code = d.Code.String()
			}
			raw, _ := json.Marshal(ev)
			if _, err := fmt.Fprintf(w, "event: access\ndata: %s\n\n", raw); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
