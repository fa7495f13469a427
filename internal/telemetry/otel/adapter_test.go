package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"codelink/backend/internal/telemetry/domain"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), domain.NewEvent(domain.EventCodeIssued, "test", "")); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
}

func TestEmit_NilEvent_ReturnsNil(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	if err := NewEventEmitter(provider).Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(ctx, nil): %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
}

func attrsOf(rec otellog.Record) map[string]string {
	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	return attrs
}

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	created := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	event := &domain.Event{
		EventType: domain.EventCodeApproved,
		Source:    "handshake",
		RecordID:  "rec-1",
		Metadata:  []byte(`{"attempts":1}`),
		CreatedAt: created,
	}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := capture.rec

	if got := rec.Body().AsBytes(); string(got) != `{"attempts":1}` {
		t.Errorf("body = %q", got)
	}
	if !rec.Timestamp().Equal(created) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), created)
	}
	if rec.Severity() != otellog.SeverityInfo {
		t.Errorf("severity = %v, want info", rec.Severity())
	}
	attrs := attrsOf(rec)
	want := map[string]string{"event_type": domain.EventCodeApproved, "source": "handshake", "record_id": "rec-1"}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %s = %q, want %q", k, attrs[k], v)
		}
	}
	if _, ok := attrs["reason"]; ok {
		t.Error("empty reason should not be set")
	}
}

func TestEmit_VerifyFailedIsWarn(t *testing.T) {
	capture := &recordCapture{}
	event := domain.NewEvent(domain.EventVerifyFailed, "handshake", "")
	event.Reason = "mismatch"
	_ = NewEventEmitterWithLogger(capture).Emit(context.Background(), event)

	if capture.rec.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want warn", capture.rec.Severity())
	}
	if attrsOf(capture.rec)["reason"] != "mismatch" {
		t.Error("reason attribute missing")
	}
}

func TestEmit_ZeroTimestamp_SetsCurrentTime(t *testing.T) {
	capture := &recordCapture{}
	before := time.Now().UTC()
	_ = NewEventEmitterWithLogger(capture).Emit(context.Background(), &domain.Event{EventType: domain.EventCodeIssued})
	if capture.rec.Timestamp().Before(before) {
		t.Errorf("timestamp = %v, want >= %v", capture.rec.Timestamp(), before)
	}
	if !capture.rec.Body().Empty() {
		t.Error("body should be empty without metadata")
	}
}
