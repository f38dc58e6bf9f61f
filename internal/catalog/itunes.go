package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultITunesURL = "https://itunes.apple.com/search"

// ITunesClient queries the iTunes Search API for podcast episodes.
type ITunesClient struct {
	url    string
	limit  int
	client *http.Client
}

// NewITunesClient creates a search client. limit defaults to 25.
func NewITunesClient(searchURL string, limit int, timeout time.Duration) *ITunesClient {
	if searchURL == "" {
		searchURL = defaultITunesURL
	}
	if limit <= 0 {
		limit = 25
	}
	return &ITunesClient{url: searchURL, limit: limit, client: &http.Client{Timeout: timeout}}
}

type itunesResponse struct {
	ResultCount int            `json:"resultCount"`
	Results     []itunesResult `json:"results"`
}

type itunesResult struct {
	FeedURL        string `json:"feedUrl"`
	CollectionName string `json:"collectionName"`
	TrackName      string `json:"trackName"`
	EpisodeURL     string `json:"episodeUrl"`
}

// Search implements Searcher. The first result's feed is used as-is;
// there is no ranking among candidates.
func (c *ITunesClient) Search(ctx context.Context, term string) (string, error) {
	q := url.Values{}
	q.Set("term", term)
	q.Set("entity", "podcastEpisode")
	q.Set("limit", strconv.Itoa(c.limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search itunes: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search itunes: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed itunesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("search itunes: decode response: %w", err)
	}
	if parsed.ResultCount == 0 || len(parsed.Results) == 0 {
		return "", &NotFoundError{Term: term}
	}

	first := parsed.Results[0]
	if first.FeedURL == "" {
		return "", &FeedParseError{Reason: "No feedUrl in iTunes result for: " + term}
	}
	return first.FeedURL, nil
}
