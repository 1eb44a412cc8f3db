package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/glimchat/glim/internal/config"
	"github.com/glimchat/glim/internal/log"
	"github.com/glimchat/glim/internal/plugin"
)

// SearchID is the plugin identity of the built-in web search plugin.
const SearchID = "OfficialSearch"

const defaultMaxResults = 8

// Search queries a SearXNG instance for web and image results.
type Search struct {
	baseURL    string
	maxResults int
	client     *http.Client
	logger     log.Logger
}

// NewSearch creates the search plugin from configuration.
func NewSearch(cfg config.SearchConfig, logger log.Logger) *Search {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Search{
		baseURL:    cfg.BaseURL,
		maxResults: maxResults,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (s *Search) ID() string { return SearchID }

func (s *Search) Manifest() *plugin.Manifest {
	return &plugin.Manifest{
		SchemaVersion:       "v1",
		NameForModel:        SearchID,
		NameForHuman:        "Web Search",
		DescriptionForModel: "Search the web for up-to-date information, or search for images.",
		DescriptionForHuman: "Web and image search.",
		Document: internalDocument(SearchID, map[string]plugin.PathItem{
			"/search": {Get: &plugin.Operation{
				OperationID: "webSearch",
				Summary:     "Search the web.",
				Parameters: []plugin.Parameter{{
					Name:     "query",
					In:       plugin.InQuery,
					Required: true,
					Schema:   stringSchema("Search query."),
				}},
			}},
			"/search/images": {Get: &plugin.Operation{
				OperationID: "imageSearch",
				Summary:     "Search for images.",
				Parameters: []plugin.Parameter{{
					Name:     "query",
					In:       plugin.InQuery,
					Required: true,
					Schema:   stringSchema("Image search query."),
				}},
			}},
		}),
	}
}

// searxResult is the subset of a SearXNG JSON result the handlers surface.
type searxResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	ImgSrc  string `json:"img_src"`
}

func (s *Search) Handle(ctx context.Context, operationID string, args map[string]any) (any, error) {
	if s.baseURL == "" {
		return nil, fmt.Errorf("search backend not configured")
	}
	query := stringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	switch operationID {
	case "webSearch":
		return s.search(ctx, query, "")
	case "imageSearch":
		return s.search(ctx, query, "images")
	default:
		return nil, fmt.Errorf("unknown operation %q", operationID)
	}
}

func (s *Search) search(ctx context.Context, query, category string) (any, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	if category != "" {
		params.Set("categories", category)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned %s", resp.Status)
	}

	var payload struct {
		Results []searxResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := payload.Results
	if len(results) > s.maxResults {
		results = results[:s.maxResults]
	}

	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		entry := map[string]any{"title": r.Title, "url": r.URL}
		if r.Content != "" {
			entry["snippet"] = r.Content
		}
		if category == "images" && r.ImgSrc != "" {
			entry["imageUrl"] = r.ImgSrc
		}
		out = append(out, entry)
	}
	return map[string]any{"query": query, "results": out}, nil
}
