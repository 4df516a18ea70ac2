package recipes

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Known feed locations
const (
	FeedURL          = "https://d3jbb8n5wk0qxi.cloudfront.net/recipes.json"
	EmptyFeedURL     = "https://d3jbb8n5wk0qxi.cloudfront.net/recipes-empty.json"
	MalformedFeedURL = "https://d3jbb8n5wk0qxi.cloudfront.net/recipes-malformed.json"
)

// Client downloads the recipe feed
type Client struct {
	HTTP *http.Client
	URL  string
}

// Get downloads and decodes the feed. The raw body is returned alongside the decoded response so callers can
// persist it.
func (c *Client) Get(ctx context.Context) ([]byte, Response, error) {
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	feedURL := c.URL
	if feedURL == "" {
		feedURL = FeedURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, Response{}, fmt.Errorf("failed to prepare feed request: %w", err)
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, Response{}, fmt.Errorf("failed to download feed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, Response{}, fmt.Errorf("failed to download feed: received status code %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, Response{}, fmt.Errorf("failed to read feed: %w", err)
	}

	response, err := Decode(body)
	if err != nil {
		return body, Response{}, err
	}
	return body, response, nil
}
