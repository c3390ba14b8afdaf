package jobs

import (
	"errors"
	"testing"
)

func TestClassifyAndClassifyOf(t *testing.T) {
	base := errors.New("connection reset")
	wrapped := Classify(KindTransient, base)
	if ClassifyOf(wrapped) != KindTransient {
		t.Fatalf("expected KindTransient, got %v", ClassifyOf(wrapped))
	}
	if !errors.Is(wrapped, wrapped) {
		t.Fatalf("expected errors.Is self-match")
	}
	if got := errors.Unwrap(wrapped); got != base {
		t.Fatalf("expected unwrap to return base error, got %v", got)
	}
}

func TestClassifyNilReturnsNil(t *testing.T) {
	if Classify(KindTransient, nil) != nil {
		t.Fatalf("expected Classify(nil) == nil")
	}
}

func TestClassifyOfUnclassifiedIsUnknown(t *testing.T) {
	if got := ClassifyOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("expected KindUnknown for unclassified error, got %v", got)
	}
}

func TestRetryableClasses(t *testing.T) {
	retryable := []Kind{KindTransient, KindRateLimited}
	terminal := []Kind{KindPermanent, KindInvalidPayload, KindCancelled, KindPartialFailure, KindFatal, KindUnknown}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("expected %v to be retryable", k)
		}
	}
	for _, k := range terminal {
		if k.Retryable() {
			t.Errorf("expected %v to not be retryable", k)
		}
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindTransient:      "Transient",
		KindRateLimited:     "RateLimited",
		KindPermanent:       "Permanent",
		KindInvalidPayload:  "InvalidPayload",
		KindCancelled:       "Cancelled",
		KindPartialFailure:  "PartialFailure",
		KindFatal:           "Fatal",
		KindUnknown:         "Unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
