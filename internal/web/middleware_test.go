package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glimchat/glim/internal/log"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAccessCode_Disabled(t *testing.T) {
	h := RequireAccessCode("", log.NewNop())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRequireAccessCode_Rejects(t *testing.T) {
	h := RequireAccessCode("secret", log.NewNop())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Code != 40100 {
		t.Errorf("code = %d", body.Code)
	}
}

func TestRequireAccessCode_AcceptsHeaderAndBearer(t *testing.T) {
	h := RequireAccessCode("secret", log.NewNop())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("X-Access-Code", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("header auth status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("bearer auth status = %d", rec.Code)
	}
}

func TestRequireAccessCode_ExemptPaths(t *testing.T) {
	h := RequireAccessCode("secret", log.NewNop())(okHandler())

	for _, path := range []string{"/api/health", "/api/capabilities"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(log.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestLoggingWriter_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &loggingWriter{ResponseWriter: rec}

	var _ http.Flusher = w
	w.Flush()
	if !rec.Flushed {
		t.Error("flush not forwarded")
	}
}
