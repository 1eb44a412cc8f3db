package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriter_EventFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Event(t.Context(), "answer", map[string]string{"text": "hi"}); err != nil {
		t.Fatal(err)
	}

	body := rec.Body.String()
	want := "event: answer\ndata: {\"text\":\"hi\"}\n\n"
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestWriter_Comment(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Comment("keepalive"); err != nil {
		t.Fatal(err)
	}
	if got := rec.Body.String(); got != ": keepalive\n\n" {
		t.Errorf("body = %q", got)
	}
}

func TestWriter_CancelledContext(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Event(ctx, "answer", "x"); err == nil {
		t.Error("expected error on cancelled context")
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body written after cancel: %q", rec.Body.String())
	}
}

// noFlush hides the Flusher that httptest.ResponseRecorder provides.
type noFlush struct {
	http.ResponseWriter
}

func TestNewWriter_RequiresFlusher(t *testing.T) {
	if _, err := NewWriter(noFlush{httptest.NewRecorder()}); err == nil {
		t.Error("expected error for non-flushing writer")
	} else if !strings.Contains(err.Error(), "flusher") {
		t.Errorf("err = %v", err)
	}
}
