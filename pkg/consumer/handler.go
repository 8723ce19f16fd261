package consumer

import "context"

// Handler is the user-supplied processing capability for a queue.
//
// Process may be invoked concurrently with another consumer retrying the
// same message after a timeout takeover, so handlers that touch external
// state should be idempotent per message id. Process receives a context
// that is canceled when the handler timeout elapses; handlers SHOULD honor
// it — Go cannot preempt a goroutine, and a handler that ignores
// cancellation keeps running in the background while the fleet moves on.
type Handler interface {
	// Process handles one message. Returning an error counts as a raise
	// against the exception budget.
	Process(ctx context.Context, m *Message) error

	// OnException is invoked once after each Process run that raised
	// (including timeouts).
	OnException(err error)

	// OnFailure is invoked once when the state machine has definitively
	// given up on the message (a result code with Failure() == true).
	OnFailure(code ResultCode)
}

// HandlerFunc adapts a plain function to Handler with no-op callbacks.
type HandlerFunc func(ctx context.Context, m *Message) error

func (f HandlerFunc) Process(ctx context.Context, m *Message) error {
	return f(ctx, m)
}

func (f HandlerFunc) OnException(err error) {}

func (f HandlerFunc) OnFailure(code ResultCode) {}

// CallbackHandler bundles a processing function with optional exception and
// failure callbacks. Nil callbacks are no-ops.
type CallbackHandler struct {
	Fn       func(ctx context.Context, m *Message) error
	Errback  func(err error)
	Failback func(code ResultCode)
}

func (h *CallbackHandler) Process(ctx context.Context, m *Message) error {
	return h.Fn(ctx, m)
}

func (h *CallbackHandler) OnException(err error) {
	if h.Errback != nil {
		h.Errback(err)
	}
}

func (h *CallbackHandler) OnFailure(code ResultCode) {
	if h.Failback != nil {
		h.Failback(code)
	}
}
