package dispatch

import (
	"sync/atomic"
	"time"

	"github.com/frankli0324/go-http1/internal/errs"
)

// Supervisor owns the cancellable deadlines guarding dispatcher states.
// Each armed Handle either fires exactly once onto Expired or is
// cancelled, never both. Firings carry the handle itself so the consumer
// can discard a fire that raced with its own Cancel.
type Supervisor struct {
	c chan *Handle
}

func NewSupervisor() *Supervisor {
	// one slot per scope is enough: a scope is re-armed only after its
	// previous handle fired or was cancelled
	return &Supervisor{c: make(chan *Handle, 4)}
}

// Expired delivers every fired handle.
func (s *Supervisor) Expired() <-chan *Handle { return s.c }

// Arm starts a deadline for scope. A non-positive duration means the
// guard is disabled and the returned nil Handle is a no-op to Cancel.
func (s *Supervisor) Arm(d time.Duration, scope errs.TimeoutScope) *Handle {
	if d <= 0 {
		return nil
	}
	h := &Handle{sup: s, scope: scope}
	h.t = time.AfterFunc(d, h.fire)
	return h
}

const (
	armed = iota
	fired
	cancelled
)

type Handle struct {
	state int32
	t     *time.Timer
	sup   *Supervisor
	scope errs.TimeoutScope
}

func (h *Handle) Scope() errs.TimeoutScope { return h.scope }

func (h *Handle) fire() {
	if !atomic.CompareAndSwapInt32(&h.state, armed, fired) {
		return
	}
	select {
	case h.sup.c <- h:
	default:
		// dispatcher already shutting down and no longer draining
	}
}

// Cancel is idempotent and a no-op after firing.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&h.state, armed, cancelled) {
		h.t.Stop()
	}
}
