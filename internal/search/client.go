package search

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

const snippetMaxLen = 500

type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client is the web search boundary. Snippets are truncated before they
// leave this package.
type Client interface {
	Search(ctx context.Context, query string, numResults int) ([]Result, error)
}

// YouClient queries the You.com index API.
type YouClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewYouClient(baseURL, apiKey string) *YouClient {
	if baseURL == "" {
		baseURL = "https://ydc-index.io/v1/search"
	}
	return &YouClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type youResp struct {
	Results struct {
		Web []struct {
			Title       string   `json:"title"`
			URL         string   `json:"url"`
			Snippets    []string `json:"snippets"`
			Description string   `json:"description"`
		} `json:"web"`
	} `json:"results"`
}

func (c *YouClient) Search(ctx context.Context, query string, numResults int) ([]Result, error) {
	if numResults <= 0 {
		numResults = 5
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("count", strconv.Itoa(numResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("search: %s", msg)
	}

	var decoded youResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(decoded.Results.Web))
	for _, hit := range decoded.Results.Web {
		snippet := hit.Description
		if len(hit.Snippets) > 0 {
			snippet = strings.Join(hit.Snippets, " ")
		}
		results = append(results, Result{
			Title:   hit.Title,
			URL:     hit.URL,
			Snippet: truncate(snippet, snippetMaxLen),
		})
	}
	return results, nil
}

// FormatResults renders results as a numbered list for LLM consumption.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}
	parts := make([]string, 0, len(results))
	for i, r := range results {
		parts = append(parts, fmt.Sprintf("[%d] %s\n    URL: %s\n    %s", i+1, r.Title, r.URL, r.Snippet))
	}
	return strings.Join(parts, "\n\n")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
