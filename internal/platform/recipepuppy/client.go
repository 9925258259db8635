// Package recipepuppy calls the Recipe Puppy search API, a third-party
// catalog that answers keyword queries with (title, ingredients) pairs.
package recipepuppy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"recipecellar/internal/recipe"
)

// ErrUnreachable wraps network-level failures; ErrMalformed wraps
// unexpected status codes and undecodable bodies. Callers decide whether
// to surface the failure or fall back to an empty result; the client never
// retries.
var (
	ErrUnreachable = errors.New("recipe catalog unreachable")
	ErrMalformed   = errors.New("malformed recipe catalog response")
)

// DefaultBaseURL is the public Recipe Puppy endpoint.
const DefaultBaseURL = "http://www.recipepuppy.com/api/"

// Client is a client for the Recipe Puppy API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new Recipe Puppy client. An empty baseURL selects
// the public endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
	}
}

type searchResponse struct {
	Results []struct {
		Title       string `json:"title"`
		Ingredients string `json:"ingredients"`
	} `json:"results"`
}

// Search issues one GET with the query in the q parameter and returns the
// catalog's results in their ranked order.
func (c *Client) Search(ctx context.Context, query string) ([]recipe.SearchResult, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog base URL: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrMalformed, resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload.Results == nil {
		return nil, fmt.Errorf("%w: missing results array", ErrMalformed)
	}

	results := make([]recipe.SearchResult, 0, len(payload.Results))
	for _, r := range payload.Results {
		results = append(results, recipe.SearchResult{Title: r.Title, Ingredients: r.Ingredients})
	}
	return results, nil
}
