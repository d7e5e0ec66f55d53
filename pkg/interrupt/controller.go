// Package interrupt lets a human inject free-text guidance into an
// in-flight fixer invocation without restarting the conversation. True
// preemption of an external agent call is not possible, so interruption
// is deferred: Signal latches a pending flag, and the coordinator calls
// Drain only at defined checkpoints between sub-steps.
package interrupt

import "sync"

// Controller is a single-slot interruption latch. Signal and Enqueue are
// safe to call from the background input goroutine; they never touch
// session state, which keeps the coordinator the sole writer of the
// DebugSession.
type Controller struct {
	mu       sync.Mutex
	pending  bool
	guidance string
}

// NewController creates an empty controller.
func NewController() *Controller {
	return &Controller{}
}

// Signal marks an interruption as pending. It performs no other side
// effects. Signaling while a signal is already pending is a no-op; the
// slot holds at most one interruption.
func (c *Controller) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = true
}

// Enqueue stores the human's guidance text and marks the interruption
// pending. A second enqueue before the coordinator drains coalesces:
// the last guidance text wins.
func (c *Controller) Enqueue(guidance string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = true
	c.guidance = guidance
}

// Pending reports whether an interruption is waiting to be drained.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Drain consumes the pending interruption, returning any guidance text
// that was enqueued with it. The second return is false when no
// interruption was pending. Draining clears the slot entirely.
func (c *Controller) Drain() (guidance string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return "", false
	}
	guidance = c.guidance
	c.pending = false
	c.guidance = ""
	return guidance, true
}
