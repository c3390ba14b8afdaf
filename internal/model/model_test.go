package model

import "testing"

func TestClampSentimentDefaultsToNeutral(t *testing.T) {
	l := Label{Sentiment: "bogus", Severity: 3}
	l.Clamp(nil)
	if l.Sentiment != SentimentNeutral {
		t.Fatalf("expected sentiment to fall back to neutral, got %q", l.Sentiment)
	}
}

func TestClampSeverityBounds(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{-5, 1},
		{0, 1},
		{1, 1},
		{5, 5},
		{9, 5},
	}
	for _, c := range cases {
		l := Label{Sentiment: SentimentNegative, Severity: c.in}
		l.Clamp(nil)
		if l.Severity != c.want {
			t.Errorf("severity %d: want %d, got %d", c.in, c.want, l.Severity)
		}
	}
}

func TestClampConfidenceBounds(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.5, 1},
	}
	for _, c := range cases {
		l := Label{Sentiment: SentimentNeutral, Confidence: c.in}
		l.Clamp(nil)
		if l.Confidence != c.want {
			t.Errorf("confidence %v: want %v, got %v", c.in, c.want, l.Confidence)
		}
	}
}

func TestClampDirectQuoteTruncatedTo100(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	l := Label{Sentiment: SentimentPositive, DirectQuote: string(long)}
	l.Clamp(nil)
	if len(l.DirectQuote) != 100 {
		t.Fatalf("expected quote truncated to exactly 100 chars, got %d", len(l.DirectQuote))
	}
}

func TestClampThemeFallsBackWhenNotInTaxonomy(t *testing.T) {
	valid := map[string]struct{}{"Performance": {}, "Pricing": {}}
	l := Label{Sentiment: SentimentNeutral, Theme: "Nonsense"}
	l.Clamp(valid)
	if l.Theme != FallbackTheme {
		t.Fatalf("expected fallback theme, got %q", l.Theme)
	}

	l2 := Label{Sentiment: SentimentNeutral, Theme: "Pricing"}
	l2.Clamp(valid)
	if l2.Theme != "Pricing" {
		t.Fatalf("expected theme preserved when in taxonomy, got %q", l2.Theme)
	}
}

func TestClampPositiveAndNeutralDefaultSeverityToOne(t *testing.T) {
	for _, s := range []Sentiment{SentimentPositive, SentimentNeutral} {
		l := Label{Sentiment: s, Severity: 0}
		l.Clamp(nil)
		if l.Severity != 1 {
			t.Errorf("sentiment %s: expected default severity 1, got %d", s, l.Severity)
		}
	}
}

func TestClampIsFixedPoint(t *testing.T) {
	valid := map[string]struct{}{"Performance": {}}
	l := Label{Sentiment: SentimentNegative, Severity: 4, Confidence: 0.75, Theme: "Performance", DirectQuote: "crashes constantly"}
	l.Clamp(valid)
	before := l
	l.Clamp(valid)
	if l != before {
		t.Fatalf("clamp is not a fixed point: %+v != %+v", l, before)
	}
}
