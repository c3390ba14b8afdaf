package obs

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestTimeReturnsTheWrappedFunctionsError(t *testing.T) {
	log, _ := zap.NewDevelopment()
	want := errors.New("boom")
	got := Time(log, "SCRAPE", "scrape.process", func() error { return want })
	if !errors.Is(got, want) {
		t.Fatalf("expected Time to pass through the wrapped error, got %v", got)
	}
}

func TestTimeReturnsNilOnSuccess(t *testing.T) {
	log, _ := zap.NewDevelopment()
	called := false
	err := Time(log, "LABEL", "label.process", func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !called {
		t.Fatalf("expected the wrapped function to have been invoked")
	}
}
