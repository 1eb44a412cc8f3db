package plugins

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/glimchat/glim/internal/log"
	"github.com/glimchat/glim/internal/plugin"
)

// ArxivID is the plugin identity of the built-in paper search plugin.
const ArxivID = "OfficialArxiv"

const arxivMaxResults = 10

// Arxiv searches arXiv for academic papers via its Atom query API.
type Arxiv struct {
	baseURL string
	client  *http.Client
	logger  log.Logger
}

// NewArxiv creates the paper search plugin.
func NewArxiv(logger log.Logger) *Arxiv {
	return &Arxiv{
		baseURL: "https://export.arxiv.org/api/query",
		client:  &http.Client{Timeout: 20 * time.Second},
		logger:  logger,
	}
}

func (a *Arxiv) ID() string { return ArxivID }

func (a *Arxiv) Manifest() *plugin.Manifest {
	return &plugin.Manifest{
		SchemaVersion:       "v1",
		NameForModel:        ArxivID,
		NameForHuman:        "Paper Search",
		DescriptionForModel: "Search arXiv for academic papers by topic, title or author.",
		DescriptionForHuman: "Finds academic papers on arXiv.",
		Document: internalDocument(ArxivID, map[string]plugin.PathItem{
			"/papers": {Get: &plugin.Operation{
				OperationID: "searchPapers",
				Summary:     "Search arXiv for papers.",
				Parameters: []plugin.Parameter{
					{
						Name:     "query",
						In:       plugin.InQuery,
						Required: true,
						Schema:   stringSchema("Topic, title or author to search for."),
					},
					{
						Name:   "maxResults",
						In:     plugin.InQuery,
						Schema: integerSchema("Number of papers to return, up to 10."),
					},
				},
			}},
		}),
	}
}

// atomFeed is the slice of the arXiv Atom response the handler surfaces.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

func (a *Arxiv) Handle(ctx context.Context, operationID string, args map[string]any) (any, error) {
	if operationID != "searchPapers" {
		return nil, fmt.Errorf("unknown operation %q", operationID)
	}
	query := stringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	limit := intArg(args, "maxResults", arxivMaxResults)
	if limit < 1 || limit > arxivMaxResults {
		limit = arxivMaxResults
	}

	params := url.Values{}
	params.Set("search_query", "all:"+query)
	params.Set("max_results", fmt.Sprint(limit))
	params.Set("sortBy", "relevance")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv returned %s", resp.Status)
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decoding arxiv feed: %w", err)
	}

	papers := make([]map[string]any, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		authors := make([]string, 0, len(e.Authors))
		for _, au := range e.Authors {
			authors = append(authors, au.Name)
		}
		papers = append(papers, map[string]any{
			"title":     strings.Join(strings.Fields(e.Title), " "),
			"url":       e.ID,
			"summary":   strings.TrimSpace(e.Summary),
			"published": e.Published,
			"authors":   authors,
		})
	}
	return map[string]any{"query": query, "papers": papers}, nil
}
