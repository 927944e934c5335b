package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	oauth "github.com/agentic-ai/mcp-oauth"
	"github.com/agentic-ai/mcp-oauth/instrumentation"
	"github.com/agentic-ai/mcp-oauth/security"
)

// Correlator bridges asynchronous authorization redirects back to the
// OAuth client instance that started the flow. It owns no token state;
// it only maps states to pending sessions and drives the exchange.
type Correlator struct {
	store   Store
	logger  *slog.Logger
	auditor *security.Auditor
	inst    *instrumentation.Instrumentation
	tracer  trace.Tracer
}

// CorrelatorOption configures a Correlator.
type CorrelatorOption func(*Correlator)

// WithCorrelatorLogger sets the logger.
func WithCorrelatorLogger(logger *slog.Logger) CorrelatorOption {
	return func(c *Correlator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAuditor attaches a security auditor.
func WithAuditor(auditor *security.Auditor) CorrelatorOption {
	return func(c *Correlator) {
		c.auditor = auditor
	}
}

// WithCorrelatorInstrumentation attaches metrics and tracing.
func WithCorrelatorInstrumentation(inst *instrumentation.Instrumentation) CorrelatorOption {
	return func(c *Correlator) {
		c.inst = inst
	}
}

// NewCorrelator creates a correlator over the given session store.
func NewCorrelator(store Store, opts ...CorrelatorOption) (*Correlator, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}

	c := &Correlator{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.inst == nil {
		inst, err := instrumentation.New(instrumentation.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
		}
		c.inst = inst
	}
	c.tracer = c.inst.Tracer("session")

	return c, nil
}

// Begin starts an authorization flow on the client and stores the
// pending session so the eventual callback can resume it. The returned
// session carries the authorization URL details via its fields; pass it
// to Wait to block for the outcome.
func (c *Correlator) Begin(ctx context.Context, client Flow) (*oauth.Authorization, *Session, error) {
	ctx, span := c.tracer.Start(ctx, "session.begin")
	defer span.End()

	auth, err := client.StartAuthorization(ctx)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, nil, fmt.Errorf("failed to start authorization: %w", err)
	}

	sess := newSession(auth, client)
	if err := c.store.Put(ctx, sess); err != nil {
		instrumentation.RecordError(span, err)
		return nil, nil, fmt.Errorf("failed to store session: %w", err)
	}

	c.logger.Debug("authorization session stored")
	instrumentation.SetSpanSuccess(span)

	return auth, sess, nil
}

// HandleCallback processes an authorization redirect.
//
// A provider error terminates immediately with AuthorizationDeniedError
// and no session lookup. A redirect missing code or state fails with
// ErrMalformedCallback. An unmatched state fails with ErrUnknownSession.
// Otherwise the session is consumed atomically, the owning client's
// exchange runs, and the session stays deleted regardless of outcome:
// a state value is accepted at most once.
func (c *Correlator) HandleCallback(ctx context.Context, cb Callback) error {
	ctx, span := c.tracer.Start(ctx, "session.handle_callback")
	defer span.End()

	err := c.handleCallback(ctx, cb)
	c.inst.Metrics().RecordCallbackProcessed(ctx, err == nil)
	if err != nil {
		instrumentation.RecordError(span, err)
		return err
	}
	instrumentation.SetSpanSuccess(span)
	return nil
}

func (c *Correlator) handleCallback(ctx context.Context, cb Callback) error {
	if cb.Error != "" {
		c.auditor.LogAuthorizationDenied(cb.ClientIP, cb.Error)
		c.logger.Warn("authorization denied by server",
			"error", cb.Error,
			"description", cb.ErrorDescription)
		return &oauth.AuthorizationDeniedError{Code: cb.Error, Description: cb.ErrorDescription}
	}

	if cb.Code == "" || cb.State == "" {
		return ErrMalformedCallback
	}

	sess, ok, err := c.store.GetAndDelete(ctx, cb.State)
	if err != nil {
		return fmt.Errorf("session lookup failed: %w", err)
	}
	if !ok {
		c.auditor.LogUnknownSession(cb.ClientIP, cb.State)
		c.logger.Warn("callback for unknown session")
		return ErrUnknownSession
	}

	_, exchangeErr := sess.Client.ExchangeCode(ctx, cb.Code, sess.CodeVerifier, cb.State, sess.State)
	sess.deliver(exchangeErr)

	if exchangeErr != nil {
		return fmt.Errorf("code exchange failed: %w", exchangeErr)
	}

	c.logger.Info("authorization callback completed")
	return nil
}

// Wait blocks until the session's exchange outcome arrives, the timeout
// elapses, or the context is canceled. On timeout the pending session
// is removed so a late callback cannot redeem it.
func (c *Correlator) Wait(ctx context.Context, sess *Session, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-sess.result:
		return err
	case <-timer.C:
		_ = c.store.Delete(ctx, sess.State)
		return ErrAuthorizationTimeout
	case <-ctx.Done():
		_ = c.store.Delete(ctx, sess.State)
		return ctx.Err()
	}
}
