package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"searchindex/internal/domain"
)

const defaultAppView = "https://public.api.bsky.app"

// Client is a minimal BlueSky AppView API client for searching posts. It
// implements domain.Fetcher.
type Client struct {
	appview    string
	httpClient *http.Client
}

// NewClient creates a new BlueSky API client. If appview is empty, it
// defaults to the public AppView instance.
func NewClient(appview string) *Client {
	if appview == "" {
		appview = defaultAppView
	}
	return &Client{
		appview: appview,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SearchPosts fetches up to limit posts matching term via
// app.bsky.feed.searchPosts and converts them to domain records with their
// reference tokens extracted.
func (c *Client) SearchPosts(ctx context.Context, term string, limit int) ([]domain.FetchedPost, error) {
	if limit < 1 || limit > 100 {
		limit = 25
	}

	params := url.Values{
		"q":     []string{term},
		"limit": []string{strconv.Itoa(limit)},
	}

	var resp searchPostsResponse
	if err := c.get(ctx, "/xrpc/app.bsky.feed.searchPosts", params, &resp); err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}

	fetched := make([]domain.FetchedPost, 0, len(resp.Posts))
	for _, p := range resp.Posts {
		fetched = append(fetched, convertPost(p))
	}
	return fetched, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.appview+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
