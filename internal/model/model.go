// Package model holds the persistent domain entities the pipeline reads
// and writes: apps, reviews, and the labels an LLM classifier attaches to
// them.
package model

import "time"

// App is a tracked application in the review catalog.
type App struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Developer   string `json:"developer,omitempty"`
	Category    string `json:"category,omitempty"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Review is a single user review, unique by ID across the whole catalog.
type Review struct {
	ID                 string `json:"id"`
	AppID              string `json:"appId"`
	Country            string `json:"country"`
	AuthorName         string `json:"authorName"`
	Score              int    `json:"score"`
	Title              string `json:"title,omitempty"`
	Text               string `json:"text,omitempty"`
	Version            string `json:"version,omitempty"`
	URL                string `json:"url,omitempty"`
	SubmittedAt        time.Time
	DeveloperReplyAt   *time.Time
	DeveloperReplyText string `json:"developerReplyText,omitempty"`
	HelpfulVotes       int    `json:"helpfulVotes"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Sentiment is the closed enum a Label's sentiment field is clamped to.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// FallbackTheme is used whenever a label's theme doesn't resolve against
// the static taxonomy.
const FallbackTheme = "General Feedback"

// Label is the structured sentiment/topic annotation attached to exactly
// one Review.
type Label struct {
	ID             int64     `json:"id,omitempty"`
	ReviewID       string    `json:"reviewId"`
	Theme          string    `json:"theme"`
	Sentiment      Sentiment `json:"sentiment"`
	Severity       int       `json:"severity"`
	FeatureRequest bool      `json:"featureRequest"`
	DirectQuote    string    `json:"directQuote,omitempty"`
	Confidence     float64   `json:"confidence"`
	ModelVersion   string    `json:"modelVersion"`
	CreatedAt      time.Time
}

// Clamp enforces the invariants from the data model: severity in [1,5],
// confidence in [0,1], sentiment restricted to the closed enum, theme
// either a taxonomy entry or the fallback. validThemes is nil-safe; a nil
// or empty set means "accept any non-empty theme" (caller already
// validated theme against the taxonomy); an empty theme still becomes
// the fallback.
func (l *Label) Clamp(validThemes map[string]struct{}) {
	switch l.Sentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		l.Sentiment = SentimentNeutral
	}
	if l.Severity < 1 {
		l.Severity = 1
	}
	if l.Severity > 5 {
		l.Severity = 5
	}
	if l.Sentiment == SentimentPositive || l.Sentiment == SentimentNeutral {
		if l.Severity < 1 {
			l.Severity = 1
		}
	}
	if l.Confidence < 0 {
		l.Confidence = 0
	}
	if l.Confidence > 1 {
		l.Confidence = 1
	}
	if len(l.DirectQuote) > 100 {
		l.DirectQuote = l.DirectQuote[:100]
	}
	if len(validThemes) > 0 {
		if _, ok := validThemes[l.Theme]; !ok {
			l.Theme = FallbackTheme
		}
	} else if l.Theme == "" {
		l.Theme = FallbackTheme
	}
}
