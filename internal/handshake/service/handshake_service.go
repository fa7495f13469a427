// Package service implements the short-code login handshake: issue a code, approve it from a
// trusted device, redeem the single-use token, and verify the token on protected calls.
package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"codelink/backend/internal/logger"
	"codelink/backend/internal/security"
	"codelink/backend/internal/telemetry"
	telemetrydomain "codelink/backend/internal/telemetry/domain"
	"codelink/backend/internal/telemetry/metrics"
)

const (
	eventSource         = "handshake"
	defaultPollInterval = 500 * time.Millisecond
	tracerName          = "codelink/handshake"
)

// Operation names used for metrics and spans.
const (
	opIssue   = "issue"
	opApprove = "approve"
	opRedeem  = "redeem"
	opVerify  = "verify"
)

// Options carries the optional collaborators of HandshakeService. Zero values disable them.
type Options struct {
	Emitter       telemetry.EventEmitter
	Metrics       *metrics.Registry
	Tracer        trace.Tracer
	Logger        *slog.Logger
	RedeemMaxWait time.Duration
	PollInterval  time.Duration
}

// HandshakeService validates input, drives the Issued → Approved → Redeemed state machine through
// the registry and the vault, and reports every operation to logs, metrics, spans and events.
type HandshakeService struct {
	registry *CodeRegistry
	vault    *TokenVault

	emitter      telemetry.EventEmitter
	metrics      *metrics.Registry
	tracer       trace.Tracer
	logger       *slog.Logger
	maxWait      time.Duration
	pollInterval time.Duration
}

// NewHandshakeService returns a HandshakeService composing registry and vault.
func NewHandshakeService(registry *CodeRegistry, vault *TokenVault, opts Options) *HandshakeService {
	s := &HandshakeService{
		registry:     registry,
		vault:        vault,
		emitter:      opts.Emitter,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
		logger:       opts.Logger,
		maxWait:      opts.RedeemMaxWait,
		pollInterval: opts.PollInterval,
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	return s
}

// IssueCode allocates a login code and fingerprint for a requester.
func (s *HandshakeService) IssueCode(ctx context.Context) (issued *IssuedCode, err error) {
	ctx, finish := s.begin(ctx, opIssue)
	defer func() { finish(err) }()

	issued, err = s.registry.Issue(ctx)
	if err != nil {
		return nil, err
	}
	if issued.Attempts > 1 {
		for i := 1; i < issued.Attempts; i++ {
			s.metrics.IncIssueCollision()
		}
		s.log(ctx).Info("login code collision retried", "attempts", issued.Attempts)
	}
	s.emit(ctx, telemetrydomain.EventCodeIssued, issued.RecordID, "")
	return issued, nil
}

// Approve mints the token for loginCode. No fingerprint is needed: whoever can read the code
// off the requester's screen may approve it.
func (s *HandshakeService) Approve(ctx context.Context, loginCode string) (err error) {
	loginCode = strings.TrimSpace(loginCode)
	if !security.IsLoginCode(loginCode) {
		s.observe(opApprove, ErrInvalidInput, 0)
		return ErrInvalidInput
	}
	ctx, finish := s.begin(ctx, opApprove)
	defer func() { finish(err) }()

	rec, err := s.vault.Approve(ctx, loginCode)
	if err != nil {
		return err
	}
	s.emit(ctx, telemetrydomain.EventCodeApproved, rec.ID, "")
	return nil
}

// Redeem returns the token for a bound (loginCode, fingerprint) pair exactly once.
// ErrPending means keep polling; ErrNotBound means the pair is wrong.
func (s *HandshakeService) Redeem(ctx context.Context, loginCode, fingerprint string) (token string, err error) {
	loginCode, fingerprint, err = validatePair(loginCode, fingerprint)
	if err != nil {
		s.observe(opRedeem, err, 0)
		return "", err
	}
	ctx, finish := s.begin(ctx, opRedeem)
	defer func() { finish(err) }()
	return s.redeem(ctx, loginCode, fingerprint)
}

// RedeemWait is Redeem as a long poll: while the result is ErrPending it polls again until
// the token appears, wait elapses, or ctx is done. It stops early once the record is redeemed
// or expired. wait is capped at the configured maximum.
func (s *HandshakeService) RedeemWait(ctx context.Context, loginCode, fingerprint string, wait time.Duration) (token string, err error) {
	if s.maxWait > 0 && wait > s.maxWait {
		wait = s.maxWait
	}
	if wait <= 0 {
		return s.Redeem(ctx, loginCode, fingerprint)
	}
	loginCode, fingerprint, err = validatePair(loginCode, fingerprint)
	if err != nil {
		s.observe(opRedeem, err, 0)
		return "", err
	}
	ctx, finish := s.begin(ctx, opRedeem)
	defer func() { finish(err) }()

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		token, err = s.redeem(ctx, loginCode, fingerprint)
		if !errors.Is(err, ErrPending) || errors.Is(err, errTokenGone) {
			return token, err
		}
		select {
		case <-ctx.Done():
			return "", ErrPending
		case <-deadline.C:
			return "", ErrPending
		case <-ticker.C:
		}
	}
}

func (s *HandshakeService) redeem(ctx context.Context, loginCode, fingerprint string) (string, error) {
	token, rec, err := s.vault.Redeem(ctx, loginCode, fingerprint)
	if err != nil {
		return "", err
	}
	s.emit(ctx, telemetrydomain.EventTokenRedeemed, rec.ID, "")
	return token, nil
}

// Authorize checks a bearer token presented with a fingerprint. Missing or malformed values
// return ErrInvalidInput without touching a store; the caller treats that like false.
func (s *HandshakeService) Authorize(ctx context.Context, fingerprint, token string) (ok bool, err error) {
	fingerprint = strings.TrimSpace(fingerprint)
	token = strings.TrimSpace(token)
	if !isFingerprint(fingerprint) || !isToken(token) {
		s.observe(opVerify, ErrInvalidInput, 0)
		return false, ErrInvalidInput
	}
	ctx, finish := s.begin(ctx, opVerify)
	var reason string
	defer func() {
		if err == nil && !ok {
			finish(errUnauthorized)
			return
		}
		finish(err)
	}()

	ok, reason, err = s.vault.verify(ctx, fingerprint, token)
	if err != nil {
		return false, err
	}
	if !ok {
		s.emit(ctx, telemetrydomain.EventVerifyFailed, "", reason)
	}
	return ok, nil
}

// errUnauthorized only labels a rejected verify in metrics and spans.
var errUnauthorized = errors.New("unauthorized")

// begin starts a span for op and returns a function that ends it and records metrics.
func (s *HandshakeService) begin(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "handshake."+op)
	return ctx, func(err error) {
		outcome := s.observe(op, err, time.Since(start))
		span.SetAttributes(attribute.String("handshake.outcome", outcome))
		if errors.Is(err, ErrStoreUnavailable) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "store unavailable")
			s.log(ctx).Error("handshake store failure", "operation", op, "error", err)
		}
		span.End()
	}
}

func (s *HandshakeService) observe(op string, err error, elapsed time.Duration) string {
	outcome := outcomeOf(err)
	s.metrics.ObserveHandshake(op, outcome, elapsed)
	return outcome
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrPending):
		return metrics.OutcomePending
	case errors.Is(err, ErrInvalidInput):
		return metrics.OutcomeInvalid
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrCodeSpaceExhausted):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeRejected
	}
}

func (s *HandshakeService) emit(ctx context.Context, eventType, recordID, reason string) {
	if s.emitter == nil {
		return
	}
	ev := telemetrydomain.NewEvent(eventType, eventSource, recordID)
	ev.Reason = reason
	if id := logger.RequestIDFromContext(ctx); id != "" {
		ev.Metadata, _ = json.Marshal(map[string]string{"requestId": id})
	}
	telemetry.EmitAsync(s.emitter, ctx, ev)
}

func (s *HandshakeService) log(ctx context.Context) *slog.Logger {
	return logger.L(ctx, s.logger)
}

func validatePair(loginCode, fingerprint string) (string, string, error) {
	loginCode = strings.TrimSpace(loginCode)
	fingerprint = strings.TrimSpace(fingerprint)
	if !security.IsLoginCode(loginCode) || !isFingerprint(fingerprint) {
		return "", "", ErrInvalidInput
	}
	return loginCode, fingerprint, nil
}

func isFingerprint(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func isToken(s string) bool {
	if len(s) != 2*security.TokenBytes {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
