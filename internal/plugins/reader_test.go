package plugins

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glimchat/glim/internal/config"
	"github.com/glimchat/glim/internal/log"
)

const articleHTML = `<!doctype html>
<html>
<head>
  <title>Gophers in the Wild</title>
  <meta name="description" content="A field guide to gophers.">
</head>
<body>
  <h1>Gophers in the Wild</h1>
  <nav><a href="/home">Home</a></nav>
  <article>
    <p>Gophers are burrowing rodents found across North and Central America.
    They spend most of their lives underground, digging extensive tunnel
    systems with their powerful forelimbs and large claws.</p>
    <p>Unlike many rodents, gophers are largely solitary and each maintains
    its own territory, which it defends against intruders of its own kind.</p>
    <a href="/species">Species list</a>
  </article>
</body>
</html>`

func readerServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(articleHTML))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReader_ReadURL(t *testing.T) {
	srv := readerServer(t)
	r := NewReader(config.ReaderConfig{}, log.NewNop())

	result, err := r.Handle(context.Background(), "readUrl", map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	got := result.(map[string]any)
	if got["title"] != "Gophers in the Wild" {
		t.Errorf("title = %v", got["title"])
	}
	text := got["text"].(string)
	if !strings.Contains(text, "burrowing rodents") {
		t.Errorf("article text lost: %q", text)
	}
	if strings.Contains(text, "<p>") {
		t.Error("text still contains markup")
	}
}

func TestReader_ExtractLinks(t *testing.T) {
	srv := readerServer(t)
	r := NewReader(config.ReaderConfig{}, log.NewNop())

	result, err := r.Handle(context.Background(), "extractLinks", map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	got := result.(map[string]any)

	headings := got["headings"].([]string)
	if len(headings) != 1 || headings[0] != "Gophers in the Wild" {
		t.Errorf("headings = %v", headings)
	}

	links := got["links"].([]pageLink)
	if len(links) != 2 {
		t.Fatalf("links = %v", links)
	}
	// Relative hrefs resolve against the page URL.
	if links[1].Text != "Species list" || links[1].URL != srv.URL+"/species" {
		t.Errorf("link = %+v", links[1])
	}
}

func TestReader_RejectsBadURLs(t *testing.T) {
	r := NewReader(config.ReaderConfig{}, log.NewNop())
	for _, raw := range []string{"ftp://x.example/file", "not a url at all", "file:///etc/passwd", "/relative"} {
		if _, err := r.Handle(context.Background(), "readUrl", map[string]any{"url": raw}); err == nil {
			t.Errorf("url %q accepted, want rejection", raw)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	got := truncateRunes("a very long piece of text", 6)
	if !strings.HasPrefix(got, "a very") || len([]rune(got)) != 7 {
		t.Errorf("got %q", got)
	}
}
