package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nuridam/policy-agent-backend/internal/platform/envutil"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
)

// Result is a single web search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
	Score   float64
}

// Client is the web search client. Implementations must treat failures as
// recoverable: callers degrade to document-only answers when search is down.
type Client interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	depth      string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("TAVILY_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("TAVILY_API_KEY not set")
	}

	return &client{
		log:     log.With("component", "tavily"),
		baseURL: strings.TrimRight(envutil.String("TAVILY_BASE_URL", "https://api.tavily.com"), "/"),
		apiKey:  apiKey,
		depth:   envutil.String("TAVILY_SEARCH_DEPTH", "basic"),
		httpClient: &http.Client{
			Timeout: envutil.Duration("TAVILY_TIMEOUT", 15*time.Second),
		},
	}, nil
}

type searchRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth,omitempty"`
}

type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (c *client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query required")
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	body := searchRequest{
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: c.depth,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/search", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tavily http %d: %s", resp.StatusCode, truncate(raw, 512))
	}

	var decoded searchResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("tavily decode error: %w", err)
	}

	out := make([]Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		out = append(out, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Score:   r.Score,
		})
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
