package anthropic

import (
	"testing"

	"github.com/reviewharvest/pipeline/internal/jobs"
)

func TestNewClampsTemperatureAboveContractCeiling(t *testing.T) {
	c := New("sk-ant-test", "claude-3-5-sonnet-20241022", 0.9, 0)
	if c.temperature != 0.1 {
		t.Fatalf("expected temperature clamped to 0.1, got %v", c.temperature)
	}
}

func TestNewPreservesTemperatureAtOrBelowCeiling(t *testing.T) {
	c := New("sk-ant-test", "claude-3-5-sonnet-20241022", 0.05, 0)
	if c.temperature != 0.05 {
		t.Fatalf("expected temperature preserved at 0.05, got %v", c.temperature)
	}
}

func TestNewDefaultsModelWhenEmpty(t *testing.T) {
	c := New("sk-ant-test", "", 0, 0)
	if c.ModelVersion() != "claude-3-5-sonnet-20241022" {
		t.Fatalf("expected default model, got %q", c.ModelVersion())
	}
}

func TestNewPreservesExplicitModel(t *testing.T) {
	c := New("sk-ant-test", "claude-3-opus-20240229", 0, 0)
	if c.ModelVersion() != "claude-3-opus-20240229" {
		t.Fatalf("expected explicit model preserved, got %q", c.ModelVersion())
	}
}

func TestClassifyStatusCodeMapsToJobKinds(t *testing.T) {
	cases := []struct {
		status int
		want   jobs.Kind
	}{
		{429, jobs.KindRateLimited},
		{500, jobs.KindTransient},
		{503, jobs.KindTransient},
		{400, jobs.KindPermanent},
		{401, jobs.KindPermanent},
		{404, jobs.KindPermanent},
	}
	for _, c := range cases {
		if got := classifyStatusCode(c.status); got != c.want {
			t.Errorf("classifyStatusCode(%d) = %v, want %v", c.status, got, c.want)
		}
	}
}
