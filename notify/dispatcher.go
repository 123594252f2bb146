package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"campusride/core"
)

// SendCode classifies a per-recipient provider outcome.
type SendCode int

const (
	SendOK SendCode = iota
	// Permanent: the token is dead, purge it.
	SendUnregistered
	SendInvalidArgument
	// Transient: retry the recipient.
	SendInternal
	SendUnavailable
)

// Permanent reports whether the code means the token must be purged.
func (c SendCode) Permanent() bool {
	return c == SendUnregistered || c == SendInvalidArgument
}

// Transient reports whether the code warrants a retry.
func (c SendCode) Transient() bool {
	return c == SendInternal || c == SendUnavailable
}

// SendResponse is one recipient's outcome within a multicast call.
type SendResponse struct {
	Token string
	Code  SendCode
}

// BatchResult is the provider's answer to one multicast call.
type BatchResult struct {
	Responses []SendResponse
}

// Counts splits the result into success and failure totals.
func (r BatchResult) Counts() (successes, failures int) {
	for _, resp := range r.Responses {
		if resp.Code == SendOK {
			successes++
		} else {
			failures++
		}
	}
	return
}

// PushMessage is the provider-facing notification body.
type PushMessage struct {
	Title string
	Body  string
	Data  map[string]string
}

// ErrSendPermanent marks a whole-call failure that retrying cannot fix,
// such as a rejected request shape. Providers wrap it; the dispatcher
// gives up on the batch without further attempts.
var ErrSendPermanent = errors.New("permanent send failure")

// Provider is the external push service. A returned error means the
// whole call failed; errors wrapping ErrSendPermanent are not retried.
type Provider interface {
	SendMulticast(ctx context.Context, tokens []string, msg PushMessage) (BatchResult, error)
}

// TokenStore resolves member ids to push tokens and purges dead ones.
type TokenStore interface {
	TokensForMembers(ctx context.Context, ids []core.MemberID) ([]string, error)
	PurgeToken(ctx context.Context, token string) error
}

// Retry policy: base delay doubles per attempt, capped by attempt count.
const (
	DefaultMaxAttempts = 3
	DefaultRetryBase   = time.Second
)

// Dispatcher sends batched multicast pushes sized by the optimizer,
// purges permanently-invalid tokens, and retries transient failures with
// exponential backoff. Every attempt feeds the optimizer's counters.
type Dispatcher struct {
	provider  Provider
	tokens    TokenStore
	optimizer *BatchOptimizer
	logger    *slog.Logger

	maxAttempts int
	retryBase   time.Duration
	sleep       func(context.Context, time.Duration)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRetryPolicy overrides attempt count and base delay.
func WithRetryPolicy(maxAttempts int, base time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxAttempts = maxAttempts
		d.retryBase = base
	}
}

// WithDispatcherLogger overrides the default logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSleep overrides backoff sleeping (tests).
func WithSleep(fn func(context.Context, time.Duration)) DispatcherOption {
	return func(d *Dispatcher) { d.sleep = fn }
}

func NewDispatcher(provider Provider, tokens TokenStore, optimizer *BatchOptimizer, opts ...DispatcherOption) *Dispatcher {
	if provider == nil || tokens == nil || optimizer == nil {
		panic("notify.NewDispatcher requires non-nil provider, tokens, and optimizer")
	}
	d := &Dispatcher{
		provider:    provider,
		tokens:      tokens,
		optimizer:   optimizer,
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
		retryBase:   DefaultRetryBase,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch resolves tokens for the event targets, validates them, and
// sends the batches. Returns an error only when token resolution fails;
// delivery failures stay inside the retry/purge machinery.
func (d *Dispatcher) Dispatch(ctx context.Context, ev core.NotificationEvent) error {
	tokens, err := d.tokens.TokensForMembers(ctx, ev.TargetMemberIDs)
	if err != nil {
		return fmt.Errorf("failed to resolve push tokens: %w", err)
	}
	valid := tokens[:0]
	for _, t := range tokens {
		if ValidToken(t) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	msg := PushMessage{Title: ev.Title, Body: ev.Body, Data: ev.Data}
	size := d.optimizer.Size()
	for start := 0; start < len(valid); start += size {
		end := start + size
		if end > len(valid) {
			end = len(valid)
		}
		d.sendBatch(ctx, valid[start:end], msg, ev.BusinessKey)
	}
	return nil
}

func (d *Dispatcher) sendBatch(ctx context.Context, batch []string, msg PushMessage, businessKey string) {
	pending := batch
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			d.sleep(ctx, d.retryBase<<(attempt-1))
			if ctx.Err() != nil {
				return
			}
		}

		start := time.Now()
		result, err := d.provider.SendMulticast(ctx, pending, msg)
		latency := time.Since(start)

		if err != nil {
			d.optimizer.Record(0, len(pending), latency)
			if errors.Is(err, ErrSendPermanent) {
				// Retrying an identical call cannot fix a rejected request.
				d.logger.Error("multicast call rejected",
					"business_key", businessKey, "error", err)
				return
			}
			// whole-call transient failure
			d.logger.Warn("multicast call failed",
				"business_key", businessKey, "attempt", attempt+1, "error", err)
			continue
		}

		successes, failures := result.Counts()
		d.optimizer.Record(successes, failures, latency)

		var transient []string
		for _, resp := range result.Responses {
			switch {
			case resp.Code.Permanent():
				if purgeErr := d.tokens.PurgeToken(ctx, resp.Token); purgeErr != nil {
					d.logger.Warn("token purge failed", "error", purgeErr)
				}
			case resp.Code.Transient():
				transient = append(transient, resp.Token)
			}
		}
		if len(transient) == 0 {
			return
		}
		pending = transient
	}
	d.logger.Error("push delivery exhausted retries",
		"business_key", businessKey, "undelivered", len(pending))
}

// ValidToken applies the cheap format check done before any provider
// call: provider tokens are long opaque strings without whitespace.
func ValidToken(t string) bool {
	if len(t) < 32 || len(t) > 4096 {
		return false
	}
	return !strings.ContainsAny(t, " \t\n\r")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
