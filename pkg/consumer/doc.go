/*
Package consumer implements the per-delivery processing state machine for a
redundant, at-least-once message consumer.

Publishers may send the same logical message to two independent brokers;
consumers receive deliveries from both and this package guarantees the
user-supplied handler executes successfully exactly once across the whole
fleet, despite duplicate deliveries, handler crashes, process kills and
concurrent consumers racing on the same message. Coordination happens
entirely through the deduplication store (pkg/dedup) and its atomic
primitives.

# Usage

	store := memory.New("orders")
	proc := consumer.NewProcessor(store)

	handler := consumer.HandlerFunc(func(ctx context.Context, m *consumer.Message) error {
	    return process(m.Payload)
	})

	sub.Subscribe(ctx, "orders", func(ctx context.Context, d broker.Delivery) {
	    m := consumer.NewMessage("orders", d, consumer.Options{AttemptsLimit: 3, ExceptionsLimit: 2})
	    proc.Process(ctx, m, handler)
	})

# Timeout contract

A handler runs under a hard wall-clock budget. Its context is canceled at
the deadline and the processor then abandons the goroutine; Go cannot
preempt it, so handlers that block in I/O should pass the context down to
make the abort effective. Fleet-level progress never depends on the abort:
the store's timeout sub-key lets another consumer take the message over,
which also means a handler that outlives its budget may run concurrently
with its successor. Handlers touching external state should therefore be
idempotent per message id.
*/
package consumer
