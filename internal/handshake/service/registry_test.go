package service

import (
	"context"
	"errors"
	"testing"

	"codelink/backend/internal/security"
)

func TestCodeRegistry_Issue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issued, err := h.registry.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !security.IsLoginCode(issued.LoginCode) {
		t.Errorf("LoginCode = %q, want six digits", issued.LoginCode)
	}
	if !isFingerprint(issued.Fingerprint) {
		t.Errorf("Fingerprint = %q, want a UUID", issued.Fingerprint)
	}
	if !issued.ExpiresAt.Equal(h.clock.Now().Add(testCodeTTL)) {
		t.Errorf("ExpiresAt = %v", issued.ExpiresAt)
	}
	rec := h.repo.record(issued.RecordID)
	if rec.HashAndSalt != "" {
		t.Error("new record must not have a hash")
	}
	if rec.LoginCode != issued.LoginCode || rec.Fingerprint != issued.Fingerprint {
		t.Errorf("persisted record %+v does not match issued %+v", rec, issued)
	}
}

func TestCodeRegistry_Issue_RetriesCollision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	codes := []string{"482913", "482913", "482913", "731206"}
	h.registry.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	first, err := h.registry.Issue(ctx)
	if err != nil {
		t.Fatalf("first Issue: %v", err)
	}
	second, err := h.registry.Issue(ctx)
	if err != nil {
		t.Fatalf("second Issue: %v", err)
	}
	if first.LoginCode == second.LoginCode {
		t.Fatalf("two active records share login code %q", first.LoginCode)
	}
	if second.LoginCode != "731206" || second.Attempts != 3 {
		t.Errorf("second = %q after %d attempts, want 731206 after 3", second.LoginCode, second.Attempts)
	}
}

func TestCodeRegistry_Issue_Exhausted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registry.newCode = func() (string, error) { return "482913", nil }

	if _, err := h.registry.Issue(ctx); err != nil {
		t.Fatalf("first Issue: %v", err)
	}
	_, err := h.registry.Issue(ctx)
	if !errors.Is(err, ErrCodeSpaceExhausted) {
		t.Fatalf("Issue err = %v, want ErrCodeSpaceExhausted", err)
	}
}

func TestCodeRegistry_Issue_ReusesStaleCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registry.newCode = func() (string, error) { return "482913", nil }

	old, err := h.registry.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Past the approval deadline but inside the token grace: still held.
	h.clock.Advance(testCodeTTL + testTokenTTL/2)
	if _, err := h.registry.Issue(ctx); !errors.Is(err, ErrCodeSpaceExhausted) {
		t.Fatalf("Issue inside grace err = %v, want ErrCodeSpaceExhausted", err)
	}

	h.clock.Advance(testTokenTTL / 2)
	fresh, err := h.registry.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue after grace: %v", err)
	}
	if fresh.LoginCode != old.LoginCode {
		t.Fatalf("expected code reuse, got %q", fresh.LoginCode)
	}
	if h.repo.record(old.RecordID).CodeReleasedAt == nil {
		t.Error("stale holder should be released")
	}
	if _, err := h.registry.VerifyBinding(ctx, old.LoginCode, old.Fingerprint); !errors.Is(err, ErrNotBound) {
		t.Errorf("released pair should no longer bind, err = %v", err)
	}
}

func TestCodeRegistry_Issue_StoreUnavailable(t *testing.T) {
	h := newHarness(t)
	h.repo.fail(errDBDown)

	_, err := h.registry.Issue(context.Background())
	if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, errDBDown) {
		t.Fatalf("Issue err = %v, want ErrStoreUnavailable wrapping the cause", err)
	}
}

func TestCodeRegistry_VerifyBinding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, _ := h.registry.Issue(ctx)
	b, _ := h.registry.Issue(ctx)

	rec, err := h.registry.VerifyBinding(ctx, a.LoginCode, a.Fingerprint)
	if err != nil || rec.ID != a.RecordID {
		t.Fatalf("VerifyBinding(a) = %v, %v", rec, err)
	}
	tests := []struct {
		name, code, fp string
	}{
		{"fingerprint of another record", a.LoginCode, b.Fingerprint},
		{"code of another record", b.LoginCode, a.Fingerprint},
		{"unknown pair", "100000", "00000000-0000-4000-8000-000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.registry.VerifyBinding(ctx, tt.code, tt.fp); !errors.Is(err, ErrNotBound) {
				t.Errorf("VerifyBinding err = %v, want ErrNotBound", err)
			}
		})
	}

	h.repo.fail(errDBDown)
	if _, err := h.registry.VerifyBinding(ctx, a.LoginCode, a.Fingerprint); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("VerifyBinding err = %v, want ErrStoreUnavailable", err)
	}
}
