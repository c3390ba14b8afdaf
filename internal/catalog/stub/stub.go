// Package stub is an in-memory catalog.Client for tests, letting
// internal/scrape be exercised without network access.
package stub

import (
	"context"
	"fmt"
	"sync"

	"github.com/reviewharvest/pipeline/internal/catalog"
)

// Client is a fixed-fixture catalog backed by maps seeded via Seed.
type Client struct {
	mu      sync.Mutex
	apps    map[string]catalog.AppInfo
	reviews map[string][]catalog.RawReview // key: appID|country|sort
	errs    map[string]error
}

// New returns an empty stub; use SeedApp/SeedReviews/SeedError to
// populate fixtures before exercising a processor against it.
func New() *Client {
	return &Client{
		apps:    map[string]catalog.AppInfo{},
		reviews: map[string][]catalog.RawReview{},
		errs:    map[string]error{},
	}
}

func (c *Client) SeedApp(appID string, info catalog.AppInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apps[appID] = info
}

// SeedReviews registers the full set of reviews returned across all
// pages for appID/country/sort; Reviews paginates this slice in pages of
// 5 and returns an empty page once exhausted, matching end-of-stream
// semantics real catalogs exhibit.
func (c *Client) SeedReviews(appID, country string, sort catalog.SortMethod, reviews []catalog.RawReview) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reviews[key(appID, country, sort)] = reviews
}

// SeedError forces App or Reviews (distinguished by op) to fail for
// appID.
func (c *Client) SeedError(op, appID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[op+"|"+appID] = err
}

func (c *Client) App(ctx context.Context, appID, country string) (catalog.AppInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.errs["app|"+appID]; ok {
		return catalog.AppInfo{}, err
	}
	if info, ok := c.apps[appID]; ok {
		return info, nil
	}
	return catalog.AppInfo{}, fmt.Errorf("stub: no app fixture for %q", appID)
}

func (c *Client) Reviews(ctx context.Context, appID, country string, page int, sort catalog.SortMethod, throttleMs int) ([]catalog.RawReview, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.errs["reviews|"+appID]; ok {
		return nil, err
	}
	all := c.reviews[key(appID, country, sort)]
	const pageSize = 5
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func key(appID, country string, sort catalog.SortMethod) string {
	return appID + "|" + country + "|" + string(sort)
}
