package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"codelink/backend/internal/handshake/repository"
	"codelink/backend/internal/security"
	telemetrydomain "codelink/backend/internal/telemetry/domain"
	"codelink/backend/internal/telemetry/metrics"
	"codelink/backend/internal/tokenstore"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []*telemetrydomain.Event
}

func (e *recordingEmitter) Emit(ctx context.Context, ev *telemetrydomain.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEmitter) waitFor(eventType string) *telemetrydomain.Event {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		for _, ev := range e.events {
			if ev.EventType == eventType {
				e.mu.Unlock()
				return ev
			}
		}
		e.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func TestHandshakeService_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issued, err := h.svc.IssueCode(ctx)
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	if err := h.svc.Approve(ctx, issued.LoginCode); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	token, err := h.svc.Redeem(ctx, issued.LoginCode, issued.Fingerprint)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("token length = %d, want 64", len(token))
	}
	if _, err := h.svc.Redeem(ctx, issued.LoginCode, issued.Fingerprint); !errors.Is(err, ErrPending) {
		t.Fatalf("second Redeem err = %v, want ErrPending", err)
	}

	ok, err := h.svc.Authorize(ctx, issued.Fingerprint, token)
	if err != nil || !ok {
		t.Fatalf("Authorize = %v, %v; want true", ok, err)
	}
	last := token[len(token)-1]
	swapped := byte('0')
	if last == '0' {
		swapped = '1'
	}
	ok, err = h.svc.Authorize(ctx, issued.Fingerprint, token[:63]+string(swapped))
	if err != nil || ok {
		t.Fatalf("Authorize mutated = %v, %v; want false", ok, err)
	}
}

func TestHandshakeService_RapidIssueUnique(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		issued, err := h.svc.IssueCode(ctx)
		if err != nil {
			t.Fatalf("IssueCode: %v", err)
		}
		if seen[issued.LoginCode] {
			t.Fatalf("login code %q issued twice while active", issued.LoginCode)
		}
		seen[issued.LoginCode] = true
	}
}

func TestHandshakeService_ValidationFailsFast(t *testing.T) {
	h := newHarness(t)
	h.repo.fail(errDBDown)
	ctx := context.Background()
	const fp = "5d1f7c8e-2b7a-4d5e-9f1c-0a6b3e4d2c10"

	approveInputs := []string{"", "12345", "012345", "48291a", "4829130"}
	for _, code := range approveInputs {
		if err := h.svc.Approve(ctx, code); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Approve(%q) err = %v, want ErrInvalidInput", code, err)
		}
	}

	redeemInputs := []struct{ code, fp string }{
		{"", fp},
		{"482913", ""},
		{"482913", "not-a-uuid"},
		{"48291", fp},
	}
	for _, in := range redeemInputs {
		if _, err := h.svc.Redeem(ctx, in.code, in.fp); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Redeem(%q, %q) err = %v, want ErrInvalidInput", in.code, in.fp, err)
		}
	}

	authInputs := []struct{ fp, token string }{
		{"", "ab"},
		{fp, ""},
		{fp, "zz"},
		{fp, "not-hex-not-hex-not-hex-not-hex-not-hex-not-hex-not-hex-not-hex!"},
	}
	for _, in := range authInputs {
		ok, err := h.svc.Authorize(ctx, in.fp, in.token)
		if ok || !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Authorize(%q, %q) = %v, %v; want false, ErrInvalidInput", in.fp, in.token, ok, err)
		}
	}
}

func TestHandshakeService_StoreFailureIsNotInvalidCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	issued, _ := h.svc.IssueCode(ctx)
	h.repo.fail(errDBDown)

	for name, err := range map[string]error{
		"approve": h.svc.Approve(ctx, issued.LoginCode),
		"redeem":  func() error { _, err := h.svc.Redeem(ctx, issued.LoginCode, issued.Fingerprint); return err }(),
	} {
		if !errors.Is(err, ErrStoreUnavailable) {
			t.Errorf("%s err = %v, want ErrStoreUnavailable", name, err)
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotBound) || errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s store failure must not look like a bad code", name)
		}
	}
	if _, err := h.svc.IssueCode(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("IssueCode err = %v, want ErrStoreUnavailable", err)
	}
}

func TestHandshakeService_RedeemWait(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	issued, _ := h.svc.IssueCode(ctx)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = h.svc.Approve(ctx, issued.LoginCode)
	}()

	token, err := h.svc.RedeemWait(ctx, issued.LoginCode, issued.Fingerprint, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("RedeemWait: %v", err)
	}
	if !isToken(token) {
		t.Errorf("token = %q", token)
	}
}

func TestHandshakeService_RedeemWait_TimesOutPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	issued, _ := h.svc.IssueCode(ctx)

	start := time.Now()
	_, err := h.svc.RedeemWait(ctx, issued.LoginCode, issued.Fingerprint, 60*time.Millisecond)
	if !errors.Is(err, ErrPending) {
		t.Fatalf("RedeemWait err = %v, want ErrPending", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("RedeemWait returned after %v, should wait", elapsed)
	}
}

func TestHandshakeService_RedeemWait_NotBoundReturnsImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	issued, _ := h.svc.IssueCode(ctx)

	start := time.Now()
	_, err := h.svc.RedeemWait(ctx, issued.LoginCode, "00000000-0000-4000-8000-000000000000", 500*time.Millisecond)
	if !errors.Is(err, ErrNotBound) {
		t.Fatalf("RedeemWait err = %v, want ErrNotBound", err)
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Error("a wrong pair should not be polled")
	}
}

func TestHandshakeService_RedeemWait_StopsAfterRedeem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	issued, _ := h.svc.IssueCode(ctx)
	if err := h.svc.Approve(ctx, issued.LoginCode); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := h.svc.Redeem(ctx, issued.LoginCode, issued.Fingerprint); err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	start := time.Now()
	_, err := h.svc.RedeemWait(ctx, issued.LoginCode, issued.Fingerprint, 500*time.Millisecond)
	if !errors.Is(err, ErrPending) {
		t.Fatalf("RedeemWait err = %v, want ErrPending", err)
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Error("a redeemed record should not be polled")
	}
}

func TestHandshakeService_RedeemWait_CapsWait(t *testing.T) {
	h := newHarness(t)
	h.svc.maxWait = 30 * time.Millisecond
	ctx := context.Background()
	issued, _ := h.svc.IssueCode(ctx)

	start := time.Now()
	_, err := h.svc.RedeemWait(ctx, issued.LoginCode, issued.Fingerprint, time.Hour)
	if !errors.Is(err, ErrPending) {
		t.Fatalf("RedeemWait err = %v, want ErrPending", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("wait should be capped at the configured maximum")
	}
}

func TestHandshakeService_EventsAndMetrics(t *testing.T) {
	h := newHarness(t)
	em := &recordingEmitter{}
	reg := metrics.NewRegistry()
	h.svc = NewHandshakeService(h.registry, h.vault, Options{Emitter: em, Metrics: reg})
	ctx := context.Background()

	issued, _ := h.svc.IssueCode(ctx)
	_, _ = h.svc.Redeem(ctx, issued.LoginCode, issued.Fingerprint)
	_ = h.svc.Approve(ctx, issued.LoginCode)
	token, _ := h.svc.Redeem(ctx, issued.LoginCode, issued.Fingerprint)
	_, _ = h.svc.Authorize(ctx, issued.Fingerprint, token[:63]+"x")
	_, _ = h.svc.Authorize(ctx, "00000000-0000-4000-8000-000000000000", token)

	for _, typ := range []string{
		telemetrydomain.EventCodeIssued,
		telemetrydomain.EventCodeApproved,
		telemetrydomain.EventTokenRedeemed,
		telemetrydomain.EventVerifyFailed,
	} {
		ev := em.waitFor(typ)
		if ev == nil {
			t.Errorf("missing %s event", typ)
			continue
		}
		if ev.Source != eventSource {
			t.Errorf("%s source = %q", typ, ev.Source)
		}
	}
	if ev := em.waitFor(telemetrydomain.EventVerifyFailed); ev != nil && ev.Reason != reasonNoRecord {
		t.Errorf("verify_failed reason = %q, want %q", ev.Reason, reasonNoRecord)
	}

	checks := []struct {
		op, outcome string
		want        float64
	}{
		{opIssue, metrics.OutcomeOK, 1},
		{opRedeem, metrics.OutcomePending, 1},
		{opRedeem, metrics.OutcomeOK, 1},
		{opApprove, metrics.OutcomeOK, 1},
		{opVerify, metrics.OutcomeInvalid, 1},
		{opVerify, metrics.OutcomeRejected, 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(reg.HandshakeOps.WithLabelValues(c.op, c.outcome)); got != c.want {
			t.Errorf("%s/%s = %v, want %v", c.op, c.outcome, got, c.want)
		}
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, metrics.OutcomeOK},
		{ErrPending, metrics.OutcomePending},
		{ErrInvalidInput, metrics.OutcomeInvalid},
		{storeError("x", errDBDown), metrics.OutcomeUnavailable},
		{ErrCodeSpaceExhausted, metrics.OutcomeUnavailable},
		{ErrNotBound, metrics.OutcomeRejected},
		{ErrAlreadyApproved, metrics.OutcomeRejected},
	}
	for _, tt := range tests {
		if got := outcomeOf(tt.err); got != tt.want {
			t.Errorf("outcomeOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestNew_AssemblesWorkingService(t *testing.T) {
	svc, err := New(repository.NewMemoryRepository(), tokenstore.NewMemoryStore(), Config{
		Pepper:      testPepper,
		BcryptCost:  security.MinTokenCost,
		CodeTTL:     testCodeTTL,
		TokenTTL:    testTokenTTL,
		MaxAttempts: 3,
	}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	issued, err := svc.IssueCode(ctx)
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	if err := svc.Approve(ctx, issued.LoginCode); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	token, err := svc.Redeem(ctx, issued.LoginCode, issued.Fingerprint)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	ok, err := svc.Authorize(ctx, issued.Fingerprint, token)
	if err != nil || !ok {
		t.Fatalf("Authorize = %v, %v; want true, nil", ok, err)
	}
}

func TestNew_RejectsEmptyPepper(t *testing.T) {
	_, err := New(repository.NewMemoryRepository(), tokenstore.NewMemoryStore(), Config{TokenTTL: testTokenTTL}, Options{})
	if err == nil {
		t.Fatal("New with empty pepper should fail")
	}
}
