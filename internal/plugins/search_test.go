package plugins

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glimchat/glim/internal/config"
	"github.com/glimchat/glim/internal/log"
)

func searxStub(t *testing.T, results []searxResult) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("format = %q, want json", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearch_WebSearch(t *testing.T) {
	srv := searxStub(t, []searxResult{
		{Title: "Go", URL: "https://go.dev", Content: "The Go programming language"},
		{Title: "Go wiki", URL: "https://go.dev/wiki"},
	})

	s := NewSearch(config.SearchConfig{BaseURL: srv.URL, MaxResults: 5}, log.NewNop())
	result, err := s.Handle(context.Background(), "webSearch", map[string]any{"query": "golang"})
	if err != nil {
		t.Fatal(err)
	}

	got := result.(map[string]any)
	results := got["results"].([]map[string]any)
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0]["title"] != "Go" || results[0]["snippet"] != "The Go programming language" {
		t.Errorf("first result = %v", results[0])
	}
	if _, hasSnippet := results[1]["snippet"]; hasSnippet {
		t.Error("empty snippet must be omitted")
	}
}

func TestSearch_MaxResultsTruncates(t *testing.T) {
	many := make([]searxResult, 20)
	for i := range many {
		many[i] = searxResult{Title: "r", URL: "https://x"}
	}
	srv := searxStub(t, many)

	s := NewSearch(config.SearchConfig{BaseURL: srv.URL, MaxResults: 3}, log.NewNop())
	result, err := s.Handle(context.Background(), "webSearch", map[string]any{"query": "q"})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(result.(map[string]any)["results"].([]map[string]any)); got != 3 {
		t.Errorf("results = %d, want 3", got)
	}
}

func TestSearch_ImageSearch(t *testing.T) {
	srv := searxStub(t, []searxResult{
		{Title: "A cat", URL: "https://cats.example/1", ImgSrc: "https://cats.example/1.jpg"},
	})

	s := NewSearch(config.SearchConfig{BaseURL: srv.URL}, log.NewNop())
	result, err := s.Handle(context.Background(), "imageSearch", map[string]any{"query": "cat"})
	if err != nil {
		t.Fatal(err)
	}
	results := result.(map[string]any)["results"].([]map[string]any)
	if results[0]["imageUrl"] != "https://cats.example/1.jpg" {
		t.Errorf("imageUrl = %v", results[0]["imageUrl"])
	}
}

func TestSearch_Unconfigured(t *testing.T) {
	s := NewSearch(config.SearchConfig{}, log.NewNop())
	if _, err := s.Handle(context.Background(), "webSearch", map[string]any{"query": "q"}); err == nil {
		t.Fatal("want error when no backend configured")
	}
}
