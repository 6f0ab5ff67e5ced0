package guard

import (
	"context"
	"sync"

	"github.com/and161185/practigate/internal/identity"
)

// Gate tracks the authorization state of one protected area across
// re-evaluations. A newer evaluation supersedes any older one still running,
// so only the latest result is ever committed.
type Gate struct {
	guard *Guard

	mu       sync.Mutex
	req      Request
	gen      uint64
	state    State
	decision Decision
	onChange func(State)
}

// NewGate creates a gate in StateUnknown.
func NewGate(g *Guard, req Request) *Gate {
	return &Gate{guard: g, req: req}
}

// OnChange registers a callback invoked on every transition. It runs under the
// gate's lock and must not call back into the gate.
func (gt *Gate) OnChange(fn func(State)) {
	gt.mu.Lock()
	gt.onChange = fn
	gt.mu.Unlock()
}

// State returns the current state.
func (gt *Gate) State() State {
	gt.mu.Lock()
	defer gt.mu.Unlock()
	return gt.state
}

// Visible reports whether protected content may be shown right now.
func (gt *Gate) Visible() bool { return gt.State() == StateAuthorized }

// Decision returns the last committed decision; ok is false while undecided.
func (gt *Gate) Decision() (Decision, bool) {
	gt.mu.Lock()
	defer gt.mu.Unlock()
	if gt.state != StateAuthorized && gt.state != StateUnauthorized {
		return Decision{}, false
	}
	return gt.decision, true
}

// Render calls protected only when the gate is authorized and reports whether it did.
func (gt *Gate) Render(protected func()) bool {
	if !gt.Visible() {
		return false
	}
	protected()
	return true
}

// Evaluate enters StateChecking and runs the guard. It returns the decision
// and whether it was committed; a superseded evaluation is dropped.
func (gt *Gate) Evaluate(ctx context.Context) (Decision, bool) {
	gt.mu.Lock()
	gt.gen++
	gen := gt.gen
	req := gt.req
	gt.transition(StateChecking)
	gt.mu.Unlock()

	d := gt.guard.Decide(ctx, req)

	gt.mu.Lock()
	defer gt.mu.Unlock()
	if gen != gt.gen {
		return d, false
	}
	gt.decision = d
	gt.transition(d.State)
	return d, true
}

// SetPolicy swaps the policy and re-evaluates.
func (gt *Gate) SetPolicy(ctx context.Context, p Policy) (Decision, bool) {
	gt.mu.Lock()
	gt.req.Policy = p
	gt.mu.Unlock()
	return gt.Evaluate(ctx)
}

// Watch re-evaluates on every session event until ctx ends or the subscription closes.
func (gt *Gate) Watch(ctx context.Context, sub identity.Subscriber) {
	events, cancel := sub.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			gt.Evaluate(ctx)
		}
	}
}

// transition must be called with mu held.
func (gt *Gate) transition(s State) {
	gt.state = s
	if gt.onChange != nil {
		gt.onChange(s)
	}
}
