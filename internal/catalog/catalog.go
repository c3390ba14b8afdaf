// Package catalog defines the external app-store catalog collaborator.
// The contract is intentionally opaque to the rest of the pipeline:
// Client just resolves app metadata and paginated raw reviews for an
// app/country/sort/page tuple.
package catalog

import "context"

// SortMethod selects how the catalog orders a review page.
type SortMethod string

const (
	SortRecent  SortMethod = "recent"
	SortHelpful SortMethod = "helpful"
)

// AppInfo is the catalog's view of an app; every field besides ID is
// best-effort and may be empty when the catalog doesn't carry it.
type AppInfo struct {
	ID          string
	Title       string
	Description string
	Version     string
	Developer   string
	Category    string
}

// RawReview is the unnormalized review shape the catalog returns, before
// internal/scrape normalizes author defaults, country casing, timestamps,
// and helpful-vote clamping.
type RawReview struct {
	ID                 string
	AuthorName         string
	Score              int
	Title              string
	Text               string
	Version            string
	URL                string
	SubmittedAt        string // RFC3339 or catalog-native timestamp; normalized by the caller
	DeveloperReplyAt   string
	DeveloperReplyText string
	HelpfulVotes       int
}

// Client is the collaborator the scrape processor depends on. Every
// method takes appID/country explicitly rather than binding them at
// construction, since a single Client instance is shared across
// concurrent SCRAPE jobs for different apps.
type Client interface {
	App(ctx context.Context, appID, country string) (AppInfo, error)
	Reviews(ctx context.Context, appID, country string, page int, sort SortMethod, throttleMs int) ([]RawReview, error)
}

// UnknownApp is the graceful-degradation fallback used when the
// catalog's App lookup fails: the scrape processor still upserts an App
// row rather than failing the whole job.
func UnknownApp(appID string) AppInfo {
	return AppInfo{ID: appID, Title: "Unknown"}
}
