package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(rt roundTripFunc) *client {
	return &client{
		log:        logger.NewNop(),
		baseURL:    "https://api.tavily.test",
		apiKey:     "test-key",
		depth:      "basic",
		httpClient: &http.Client{Transport: rt, Timeout: time.Second},
	}
}

func TestSearchRequestShape(t *testing.T) {
	var captured searchRequest
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/search" {
			t.Fatalf("path = %q, want /search", req.URL.Path)
		}
		raw, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(raw, &captured); err != nil {
			t.Fatalf("request decode: %v", err)
		}
		return &http.Response{
			StatusCode: 200,
			Body: io.NopCloser(bytes.NewBufferString(`{"results":[
				{"title":"청년 월세 지원 안내","url":"https://example.go.kr/a","content":"신청 방법 안내","score":0.91},
				{"title":"missing url","url":"","content":"dropped","score":0.5}
			]}`)),
		}, nil
	})

	results, err := c.Search(context.Background(), "청년 월세 지원 신청 방법", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if captured.Query != "청년 월세 지원 신청 방법" || captured.MaxResults != 3 {
		t.Fatalf("captured = %+v", captured)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1 (empty url dropped)", len(results))
	}
	if results[0].URL != "https://example.go.kr/a" || results[0].Score != 0.91 {
		t.Fatalf("results[0] = %+v", results[0])
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	if _, err := c.Search(context.Background(), "  ", 3); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestSearchHTTPError(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 502,
			Body:       io.NopCloser(bytes.NewBufferString(`bad gateway`)),
		}, nil
	})
	if _, err := c.Search(context.Background(), "policy", 3); err == nil {
		t.Fatal("expected error for 502")
	}
}
