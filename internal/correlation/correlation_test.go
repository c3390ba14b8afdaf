package correlation

import (
	"context"
	"testing"
)

func TestFromCorrelationIDPreservesGivenID(t *testing.T) {
	b := FromCorrelationID("corr-123")
	if b.CorrelationID != "corr-123" {
		t.Fatalf("expected correlationId preserved, got %q", b.CorrelationID)
	}
	if b.TraceID != "corr-123" {
		t.Fatalf("expected traceId to mirror correlationId for a root bundle, got %q", b.TraceID)
	}
	if b.SpanID == "" {
		t.Fatalf("expected a freshly minted span id")
	}
	if b.ParentID != "" {
		t.Fatalf("expected no parent id for a root bundle, got %q", b.ParentID)
	}
}

func TestFromCorrelationIDEmptyMintsFreshBundle(t *testing.T) {
	b1 := FromCorrelationID("")
	b2 := FromCorrelationID("")
	if b1.CorrelationID == "" {
		t.Fatalf("expected a minted correlation id")
	}
	if b1.CorrelationID == b2.CorrelationID {
		t.Fatalf("expected distinct minted correlation ids across calls")
	}
}

func TestChildInheritsCorrelationAndTraceButMintsNewSpan(t *testing.T) {
	parent := New()
	child := parent.Child()
	if child.CorrelationID != parent.CorrelationID {
		t.Fatalf("expected child to inherit correlationId")
	}
	if child.TraceID != parent.TraceID {
		t.Fatalf("expected child to inherit traceId")
	}
	if child.ParentID != parent.SpanID {
		t.Fatalf("expected child's parentId to be parent's spanId, got %q want %q", child.ParentID, parent.SpanID)
	}
	if child.SpanID == parent.SpanID {
		t.Fatalf("expected child to mint a fresh spanId")
	}
}

func TestWithContextAndFromContextRoundTrip(t *testing.T) {
	b := New()
	ctx := WithContext(context.Background(), b)
	got := FromContext(ctx)
	if got != b {
		t.Fatalf("expected bundle round trip, got %+v want %+v", got, b)
	}
}

func TestFromContextWithoutBoundBundleMintsFresh(t *testing.T) {
	got := FromContext(context.Background())
	if got.CorrelationID == "" {
		t.Fatalf("expected a fresh bundle when none is bound")
	}
}
