package consumer

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/joevandyk/beetle/pkg/dedup"
	"github.com/joevandyk/beetle/pkg/logger"
)

// Processor decides, per delivery, whether to run the handler now, ack and
// discard, defer, or reject, coordinating with other consumers through the
// deduplication store. One Processor serves one queue and is safe for use
// by concurrent worker goroutines; each Process call owns its Message
// exclusively.
type Processor struct {
	store dedup.Store
	clock Clock
	log   *slog.Logger
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithClock injects a clock, virtualizing every now() the state machine
// takes.
func WithClock(c Clock) ProcessorOption {
	return func(p *Processor) { p.clock = c }
}

// WithLogger injects a logger.
func WithLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.log = l }
}

// NewProcessor creates a Processor backed by the given deduplication store.
func NewProcessor(store dedup.Store, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store: store,
		clock: SystemClock(),
		log:   logger.L(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the per-delivery state machine. It never panics and never
// returns an error: any unexpected internal failure (a store error, an ack
// error, a bug, a panicking callback) is logged and reported as
// InternalError. A failure before the ack leaves the delivery unacked; a
// failure after it (purging the store keys, a callback) does not undo the
// ack.
//
// Exactly-once semantics hold per logical message id across the consumer
// fleet, with one documented exception: when a handler outlives its timeout
// a second consumer takes the message over, so user handlers may observe
// two concurrent executions for the same id and should be idempotent.
func (p *Processor) Process(ctx context.Context, m *Message, h Handler) (code ResultCode) {
	defer func() {
		if r := recover(); r != nil {
			p.log.ErrorContext(ctx, "panic in message processing",
				"queue", m.Queue, "message_id", m.ID, "panic", r, "stack", string(debug.Stack()))
			code = InternalError
		}
	}()

	code = p.run(ctx, m, h)

	if m.handlerErr != nil && !p.safely(ctx, m, "errback", func() { h.OnException(m.handlerErr) }) {
		code = InternalError
	}
	if code.Failure() && !p.safely(ctx, m, "failback", func() { h.OnFailure(code) }) {
		code = InternalError
	}
	return code
}

// run evaluates the decision tree, first match wins.
func (p *Processor) run(ctx context.Context, m *Message, h Handler) ResultCode {
	now := p.clock.Now()

	// Unparseable envelope: redelivery will not help, drop it.
	if m.DecodeErr != nil {
		p.log.WarnContext(ctx, "dropping undecodable message",
			"queue", m.Queue, "message_id", m.ID, "error", m.DecodeErr)
		if err := m.delivery.Ack(); err != nil {
			return p.internal(ctx, m, ErrAckFailed(err))
		}
		return DecodingError
	}

	if m.Expired(now) {
		p.log.InfoContext(ctx, "dropping expired message",
			"queue", m.Queue, "message_id", m.ID, "expires_at", m.ExpiresAt)
		if err := m.delivery.Ack(); err != nil {
			return p.internal(ctx, m, ErrAckFailed(err))
		}
		return Ancient
	}

	// Fast path for non-redundant single-attempt messages: at-most-once by
	// caller request, ack before running, zero store traffic.
	if m.Simple() {
		if err := m.delivery.Ack(); err != nil {
			return p.internal(ctx, m, ErrAckFailed(err))
		}
		if err := p.runHandler(ctx, m, h); err != nil {
			m.handlerErr = err
			return AttemptsLimitReached
		}
		return OK
	}

	created, err := p.store.MSetNX(ctx, m.ID, map[string]string{
		dedup.SubStatus:  dedup.StatusIncomplete,
		dedup.SubExpires: strconv.FormatInt(m.ExpiresAt, 10),
		dedup.SubTimeout: epoch(now.Add(m.opts.HandlerTimeout)),
	})
	if err != nil {
		return p.internal(ctx, m, err)
	}
	if created {
		return p.runAndRecord(ctx, m, h)
	}

	status, _, err := p.store.Get(ctx, m.ID, dedup.SubStatus)
	if err != nil {
		return p.internal(ctx, m, err)
	}
	if status == dedup.StatusCompleted {
		// The sibling redundant delivery, or a redelivery after a crash
		// between completion and ack.
		if code := p.ack(ctx, m); code != OK {
			return code
		}
		return OK
	}

	delay, ok, err := p.store.Get(ctx, m.ID, dedup.SubDelay)
	if err != nil {
		return p.internal(ctx, m, err)
	}
	if ok && parseInt64(delay) > now.Unix() {
		return Delayed
	}

	timeout, _, err := p.store.Get(ctx, m.ID, dedup.SubTimeout)
	if err != nil {
		return p.internal(ctx, m, err)
	}
	// The running handler is dead only once its deadline is strictly in
	// the past; at the tie instant it still owns the message.
	if parseInt64(timeout) >= now.Unix() {
		return HandlerNotYetTimedOut
	}

	if reached, code := p.attemptsLimitReached(ctx, m); code != OK {
		return code
	} else if reached {
		if code := p.ack(ctx, m); code != OK {
			return code
		}
		return AttemptsLimitReached
	}

	if reached, code := p.exceptionsLimitReached(ctx, m); code != OK {
		return code
	} else if reached {
		if code := p.ack(ctx, m); code != OK {
			return code
		}
		return ExceptionsLimitReached
	}

	// Takeover: the previous run timed out. Refresh the timeout so other
	// consumers back off, then race for the mutex.
	if err := p.store.Set(ctx, m.ID, dedup.SubTimeout, epoch(now.Add(m.opts.HandlerTimeout))); err != nil {
		return p.internal(ctx, m, err)
	}
	acquired, err := p.store.SetNX(ctx, m.ID, dedup.SubMutex, epoch(now))
	if err != nil {
		return p.internal(ctx, m, err)
	}
	if !acquired {
		// Lost the race. Deleting the loser-observed mutex looks wrong but
		// only removes a stale lock from a prior crashed attempt: the
		// winner refreshes its own timeout before doing real work. Under
		// heavy cross-host concurrency this can let two handlers run once
		// each; see the Process doc.
		if err := p.store.Del(ctx, m.ID, dedup.SubMutex); err != nil {
			return p.internal(ctx, m, err)
		}
		p.log.InfoContext(ctx, "lost mutex race for message takeover",
			"queue", m.Queue, "message_id", m.ID)
		return MutexLocked
	}
	return p.runAndRecord(ctx, m, h)
}

// runAndRecord executes the handler and records the outcome in the store.
func (p *Processor) runAndRecord(ctx context.Context, m *Message, h Handler) ResultCode {
	attempts, err := p.store.Incr(ctx, m.ID, dedup.SubAttempts)
	if err != nil {
		return p.internal(ctx, m, err)
	}

	handlerErr := p.runHandler(ctx, m, h)
	if handlerErr == nil {
		if err := p.store.Set(ctx, m.ID, dedup.SubStatus, dedup.StatusCompleted); err != nil {
			return p.internal(ctx, m, err)
		}
		if err := p.store.Set(ctx, m.ID, dedup.SubTimeout, "0"); err != nil {
			return p.internal(ctx, m, err)
		}
		if code := p.ack(ctx, m); code != OK {
			return code
		}
		return OK
	}

	m.handlerErr = handlerErr
	p.log.WarnContext(ctx, "handler raised",
		"queue", m.Queue, "message_id", m.ID, "attempts", attempts, "error", handlerErr)

	exceptions, err := p.store.Incr(ctx, m.ID, dedup.SubExceptions)
	if err != nil {
		return p.internal(ctx, m, err)
	}

	if attempts >= int64(m.opts.AttemptsLimit) {
		if code := p.ack(ctx, m); code != OK {
			return code
		}
		return AttemptsLimitReached
	}
	if exceptions > int64(m.opts.ExceptionsLimit) {
		if code := p.ack(ctx, m); code != OK {
			return code
		}
		return ExceptionsLimitReached
	}

	// Budget remains: release the mutex, clear the running marker and set
	// the retry delay. No ack, so the broker redelivers.
	now := p.clock.Now()
	if err := p.store.Del(ctx, m.ID, dedup.SubMutex); err != nil {
		return p.internal(ctx, m, err)
	}
	if err := p.store.Set(ctx, m.ID, dedup.SubTimeout, "0"); err != nil {
		return p.internal(ctx, m, err)
	}
	if err := p.store.Set(ctx, m.ID, dedup.SubDelay, epoch(now.Add(m.opts.RetryDelay))); err != nil {
		return p.internal(ctx, m, err)
	}
	return HandlerCrash
}

// runHandler invokes the handler under the hard wall-clock timeout. The
// handler runs in its own goroutine with a context canceled at the
// deadline; on expiry the goroutine is abandoned and the run counts as
// raised. Panics are recovered and count as raised too.
func (p *Processor) runHandler(ctx context.Context, m *Message, h Handler) error {
	hctx, cancel := context.WithTimeout(ctx, m.opts.HandlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ErrHandlerPanic(r)
			}
		}()
		done <- h.Process(hctx, m)
	}()

	select {
	case err := <-done:
		return err
	case <-hctx.Done():
		return ErrHandlerTimeout(hctx.Err())
	}
}

// ack tells the broker this delivery is consumed and maintains the store
// bookkeeping: non-redundant messages purge their keys immediately, and a
// redundant message purges when its second delivery is acked. The simple
// fast path acks the delivery directly and never reaches here.
func (p *Processor) ack(ctx context.Context, m *Message) ResultCode {
	if err := m.delivery.Ack(); err != nil {
		return p.internal(ctx, m, ErrAckFailed(err))
	}
	if !m.Redundant() {
		if err := p.store.DelKeys(ctx, m.ID); err != nil {
			return p.internal(ctx, m, err)
		}
		return OK
	}
	acks, err := p.store.Incr(ctx, m.ID, dedup.SubAckCount)
	if err != nil {
		return p.internal(ctx, m, err)
	}
	if acks == 2 {
		if err := p.store.DelKeys(ctx, m.ID); err != nil {
			return p.internal(ctx, m, err)
		}
	}
	return OK
}

// attemptsLimitReached checks the stored attempt counter against the
// policy. Reached means attempts >= limit.
func (p *Processor) attemptsLimitReached(ctx context.Context, m *Message) (bool, ResultCode) {
	raw, ok, err := p.store.Get(ctx, m.ID, dedup.SubAttempts)
	if err != nil {
		return false, p.internal(ctx, m, err)
	}
	if !ok {
		return false, OK
	}
	return parseInt64(raw) >= int64(m.opts.AttemptsLimit), OK
}

// exceptionsLimitReached checks the stored exception counter against the
// policy. Reached means exceptions > limit, so the default limit of zero
// trips on the first exception.
func (p *Processor) exceptionsLimitReached(ctx context.Context, m *Message) (bool, ResultCode) {
	raw, ok, err := p.store.Get(ctx, m.ID, dedup.SubExceptions)
	if err != nil {
		return false, p.internal(ctx, m, err)
	}
	if !ok {
		return false, OK
	}
	return parseInt64(raw) > int64(m.opts.ExceptionsLimit), OK
}

func (p *Processor) internal(ctx context.Context, m *Message, err error) ResultCode {
	p.log.ErrorContext(ctx, "internal error during message processing",
		"queue", m.Queue, "message_id", m.ID, "error", err)
	return InternalError
}

// safely runs a user callback, swallowing panics. Returns false if the
// callback panicked.
func (p *Processor) safely(ctx context.Context, m *Message, name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.ErrorContext(ctx, "handler callback panicked",
				"queue", m.Queue, "message_id", m.ID, "callback", name, "panic", r)
			ok = false
		}
	}()
	fn()
	return true
}

func epoch(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func parseInt64(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
