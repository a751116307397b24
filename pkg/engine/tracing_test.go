package engine

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openfroyo/capstan/pkg/telemetry"
)

func newRecordingTracer() (*telemetry.Tracer, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return telemetry.NewTracerWithProvider(provider, "engine-test"), recorder
}

func spanCounts(recorder *tracetest.SpanRecorder) map[string]int {
	counts := make(map[string]int)
	for _, span := range recorder.Ended() {
		counts[span.Name()]++
	}
	return counts
}

func TestResolveOpensSpans(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)

	strategy := &fakeStrategy{
		name: "fake-install",
		onInstall: func(_ Target) {
			ft.on("command -v tool", ExecResult{ExitCode: 0, Stdout: "/usr/bin/tool"})
		},
	}
	d := newDescriptor("tool", "tool", matchAll)
	d.Installable = true
	d.Strategy = strategy

	reg := NewRegistry()
	reg.MustRegister(d)

	tracer, recorder := newRecordingTracer()
	r := NewResolver(reg, Options{Tracer: tracer})

	if _, err := r.Resolve(context.Background(), "tool", ft); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	counts := spanCounts(recorder)
	if counts["engine.resolve"] != 1 {
		t.Errorf("engine.resolve spans = %d, want 1", counts["engine.resolve"])
	}
	// The pre-install probe finds the tool absent, the post-install
	// probe verifies it.
	if counts["engine.probe"] != 2 {
		t.Errorf("engine.probe spans = %d, want 2", counts["engine.probe"])
	}
	if counts["engine.install"] != 1 {
		t.Errorf("engine.install spans = %d, want 1", counts["engine.install"])
	}
}

func TestResolveSpansNestUnderResolution(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)
	ft.on("command -v tool", ExecResult{ExitCode: 0, Stdout: "/usr/bin/tool"})

	d := newDescriptor("tool", "tool", matchAll)
	reg := NewRegistry()
	reg.MustRegister(d)

	tracer, recorder := newRecordingTracer()
	r := NewResolver(reg, Options{Tracer: tracer})

	if _, err := r.Resolve(context.Background(), "tool", ft); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	var resolveSpan, probeSpan sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "engine.resolve":
			resolveSpan = span
		case "engine.probe":
			probeSpan = span
		}
	}
	if resolveSpan == nil || probeSpan == nil {
		t.Fatalf("missing spans, recorded %v", spanCounts(recorder))
	}

	if probeSpan.Parent().SpanID() != resolveSpan.SpanContext().SpanID() {
		t.Error("probe span should be a child of the resolution span")
	}
	if resolveSpan.Status().Code != codes.Ok {
		t.Errorf("resolution span status = %v, want Ok", resolveSpan.Status().Code)
	}
}

func TestResolveFailureMarksSpanError(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)
	// No probe handler: the capability is absent and not installable.

	d := newDescriptor("tool", "tool", matchAll)
	reg := NewRegistry()
	reg.MustRegister(d)

	tracer, recorder := newRecordingTracer()
	r := NewResolver(reg, Options{Tracer: tracer})

	if _, err := r.Resolve(context.Background(), "tool", ft); err == nil {
		t.Fatal("Resolve should fail for an absent, non-installable capability")
	}

	var resolveSpan sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "engine.resolve" {
			resolveSpan = span
		}
	}
	if resolveSpan == nil {
		t.Fatal("no resolution span recorded")
	}
	if resolveSpan.Status().Code != codes.Error {
		t.Errorf("resolution span status = %v, want Error", resolveSpan.Status().Code)
	}
}

func TestResolveCacheHitOpensNoSpan(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)
	ft.on("command -v tool", ExecResult{ExitCode: 0, Stdout: "/usr/bin/tool"})

	d := newDescriptor("tool", "tool", matchAll)
	reg := NewRegistry()
	reg.MustRegister(d)

	tracer, recorder := newRecordingTracer()
	r := NewResolver(reg, Options{Tracer: tracer})

	for i := 0; i < 2; i++ {
		if _, err := r.Resolve(context.Background(), "tool", ft); err != nil {
			t.Fatalf("Resolve %d failed: %v", i, err)
		}
	}

	if counts := spanCounts(recorder); counts["engine.resolve"] != 1 {
		t.Errorf("cache hit opened extra resolution spans, got %d", counts["engine.resolve"])
	}
}
