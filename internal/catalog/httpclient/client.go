// Package httpclient is the real catalog.Client, backed by an
// iTunes-Search-style JSON API and retried with cenkalti/backoff/v4.
// This is a distinct retry concern from internal/queue's job-level
// backoff: here we're retrying a single outbound HTTP call within one
// reservation's visibility window, not rescheduling a job.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/reviewharvest/pipeline/internal/catalog"
	"github.com/reviewharvest/pipeline/internal/jobs"
)

// Client implements catalog.Client over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// New constructs a Client against baseURL (e.g. "https://itunes.apple.com").
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}, timeout: timeout}
}

type lookupResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		TrackName        string `json:"trackName"`
		Description      string `json:"description"`
		Version          string `json:"version"`
		SellerName       string `json:"sellerName"`
		PrimaryGenreName string `json:"primaryGenreName"`
	} `json:"results"`
}

func (c *Client) App(ctx context.Context, appID, country string) (catalog.AppInfo, error) {
	u := fmt.Sprintf("%s/lookup?id=%s&country=%s", c.baseURL, url.QueryEscape(appID), url.QueryEscape(country))
	var out lookupResponse
	if err := c.getJSON(ctx, u, &out); err != nil {
		return catalog.AppInfo{}, err
	}
	if out.ResultCount == 0 || len(out.Results) == 0 {
		return catalog.AppInfo{}, fmt.Errorf("catalog: no app found for id=%s country=%s", appID, country)
	}
	r := out.Results[0]
	return catalog.AppInfo{
		ID:          appID,
		Title:       r.TrackName,
		Description: r.Description,
		Version:     r.Version,
		Developer:   r.SellerName,
		Category:    r.PrimaryGenreName,
	}, nil
}

type rssFeed struct {
	Feed struct {
		Entry []struct {
			ID struct {
				Label string `json:"label"`
			} `json:"id"`
			Author struct {
				Name struct {
					Label string `json:"label"`
				} `json:"name"`
			} `json:"author"`
			Rating struct {
				Label string `json:"label"`
			} `json:"im:rating"`
			Title struct {
				Label string `json:"label"`
			} `json:"title"`
			Content struct {
				Label string `json:"label"`
			} `json:"content"`
			Version struct {
				Label string `json:"label"`
			} `json:"im:version"`
			Updated struct {
				Label string `json:"label"`
			} `json:"updated"`
		} `json:"entry"`
	} `json:"feed"`
}

func (c *Client) Reviews(ctx context.Context, appID, country string, page int, sort catalog.SortMethod, throttleMs int) ([]catalog.RawReview, error) {
	if throttleMs > 0 {
		timer := time.NewTimer(time.Duration(throttleMs) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, jobs.Classify(jobs.KindCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	sortParam := "mostRecent"
	if sort == catalog.SortHelpful {
		sortParam = "mostHelpful"
	}
	u := fmt.Sprintf("%s/%s/rss/customerreviews/page=%d/sortby=%s/id=%s/json",
		c.baseURL, url.PathEscape(country), page, sortParam, url.QueryEscape(appID))

	var feed rssFeed
	if err := c.getJSON(ctx, u, &feed); err != nil {
		return nil, err
	}

	out := make([]catalog.RawReview, 0, len(feed.Feed.Entry))
	for _, e := range feed.Feed.Entry {
		score, _ := strconv.Atoi(e.Rating.Label)
		out = append(out, catalog.RawReview{
			ID:          e.ID.Label,
			AuthorName:  e.Author.Name.Label,
			Score:       score,
			Title:       e.Title.Label,
			Text:        e.Content.Label,
			Version:     e.Version.Label,
			SubmittedAt: e.Updated.Label,
		})
	}
	return out, nil
}

// getJSON performs a GET with exponential backoff retry on transient
// failures (connection errors, 5xx, 429), classifying the final error
// into the job error taxonomy on permanent failure.
func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(jobs.Classify(jobs.KindPermanent, err))
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(jobs.Classify(jobs.KindCancelled, ctx.Err()))
			}
			return jobs.Classify(jobs.KindTransient, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return jobs.Classify(jobs.KindRateLimited, fmt.Errorf("catalog: rate limited (429)"))
		case resp.StatusCode >= 500:
			return jobs.Classify(jobs.KindTransient, fmt.Errorf("catalog: server error %d", resp.StatusCode))
		case resp.StatusCode >= 400:
			return backoff.Permanent(jobs.Classify(jobs.KindPermanent, fmt.Errorf("catalog: request failed %d", resp.StatusCode)))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(jobs.Classify(jobs.KindPermanent, fmt.Errorf("catalog: decode response: %w", err)))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	return nil
}
