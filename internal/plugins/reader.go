package plugins

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"

	"github.com/glimchat/glim/internal/config"
	"github.com/glimchat/glim/internal/log"
	"github.com/glimchat/glim/internal/plugin"
)

// ReaderID is the plugin identity of the built-in URL reader plugin.
const ReaderID = "OfficialReader"

const (
	readerUserAgent     = "Mozilla/5.0 (compatible; GlimReader/1.0)"
	defaultReaderLimit  = 2 << 20
	defaultReaderTime   = 20 * time.Second
	maxExtractedLinks   = 100
	maxReadableRunes    = 40000
)

// Reader fetches a URL and extracts its readable article content, or crawls
// a page for its outgoing links.
type Reader struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	logger   log.Logger
}

// NewReader creates the URL reader plugin from configuration.
func NewReader(cfg config.ReaderConfig, logger log.Logger) *Reader {
	timeout := defaultReaderTime
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultReaderLimit
	}
	return &Reader{
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

func (r *Reader) ID() string { return ReaderID }

func (r *Reader) Manifest() *plugin.Manifest {
	return &plugin.Manifest{
		SchemaVersion:       "v1",
		NameForModel:        ReaderID,
		NameForHuman:        "URL Reader",
		DescriptionForModel: "Read the main content of a web page, or list the links a page points to.",
		DescriptionForHuman: "Reads web pages so the assistant can discuss them.",
		Document: internalDocument(ReaderID, map[string]plugin.PathItem{
			"/read": {Get: &plugin.Operation{
				OperationID: "readUrl",
				Summary:     "Extract the readable content of a web page.",
				Parameters: []plugin.Parameter{{
					Name:     "url",
					In:       plugin.InQuery,
					Required: true,
					Schema:   stringSchema("Absolute http(s) URL to read."),
				}},
			}},
			"/links": {Get: &plugin.Operation{
				OperationID: "extractLinks",
				Summary:     "List the links and headings on a web page.",
				Parameters: []plugin.Parameter{{
					Name:     "url",
					In:       plugin.InQuery,
					Required: true,
					Schema:   stringSchema("Absolute http(s) URL to crawl."),
				}},
			}},
		}),
	}
}

func (r *Reader) Handle(ctx context.Context, operationID string, args map[string]any) (any, error) {
	rawURL := stringArg(args, "url")
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	switch operationID {
	case "readUrl":
		return r.read(ctx, rawURL)
	case "extractLinks":
		return r.extractLinks(rawURL)
	default:
		return nil, fmt.Errorf("unknown operation %q", operationID)
	}
}

func (r *Reader) read(ctx context.Context, rawURL string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", readerUserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", rawURL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}

	pageURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return nil, fmt.Errorf("extracting content from %s: %w", rawURL, err)
	}

	text := truncateRunes(strings.TrimSpace(article.TextContent), maxReadableRunes)
	result := map[string]any{
		"url":   rawURL,
		"title": article.Title,
		"text":  text,
	}
	if article.Excerpt != "" {
		result["excerpt"] = article.Excerpt
	} else if desc := metaDescription(body); desc != "" {
		result["excerpt"] = desc
	}
	if article.SiteName != "" {
		result["siteName"] = article.SiteName
	}
	return result, nil
}

// metaDescription pulls the meta description as an excerpt fallback when
// readability finds none.
func metaDescription(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	desc, _ := doc.Find(`meta[name="description"]`).Attr("content")
	return strings.TrimSpace(desc)
}

// pageLink is one outgoing link found by extractLinks.
type pageLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

func (r *Reader) extractLinks(rawURL string) (any, error) {
	c := colly.NewCollector(
		colly.UserAgent(readerUserAgent),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(r.timeout)

	var links []pageLink
	var headings []string

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if len(links) >= maxExtractedLinks {
			return
		}
		href := e.Request.AbsoluteURL(e.Attr("href"))
		text := strings.TrimSpace(e.Text)
		if href == "" || text == "" {
			return
		}
		links = append(links, pageLink{Text: text, URL: href})
	})
	c.OnHTML("h1, h2, h3", func(e *colly.HTMLElement) {
		if t := strings.TrimSpace(e.Text); t != "" {
			headings = append(headings, t)
		}
	})

	if err := c.Visit(rawURL); err != nil {
		return nil, fmt.Errorf("crawling %s: %w", rawURL, err)
	}
	c.Wait()

	return map[string]any{
		"url":      rawURL,
		"headings": headings,
		"links":    links,
	}, nil
}

// validateURL requires an absolute http(s) URL with a host.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("only http and https URLs are supported, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
