// Package gateway implements the outbound HTTP relay used to reach external
// plugin endpoints. A request is described declaratively by a Descriptor;
// the gateway performs path substitution, query encoding and payload
// assembly, then proxies the upstream response transparently.
package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Descriptor declares one outbound request. It is built fresh per call and
// never reused.
type Descriptor struct {
	BaseURL  string            `json:"baseUrl"`
	Method   string            `json:"method,omitempty"`
	Body     map[string]any    `json:"body,omitempty"`
	FormData map[string]string `json:"formData,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Path     map[string]string `json:"path,omitempty"`
	Query    map[string]string `json:"query,omitempty"`
	Cookie   map[string]string `json:"cookie,omitempty"`
}

// BuildURL applies path substitution and query encoding to a base URL.
//
// Path placeholders use the literal syntax {name} and are replaced by exact
// string substitution without URL encoding. Query parameters are appended
// percent-encoded, in sorted key order for deterministic output.
func BuildURL(base string, pathParams, queryParams map[string]string) string {
	out := base
	for name, value := range pathParams {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	if len(queryParams) == 0 {
		return out
	}

	keys := make([]string, 0, len(queryParams))
	for k := range queryParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(out)
	if strings.Contains(out, "?") {
		sb.WriteByte('&')
	} else {
		sb.WriteByte('?')
	}
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(queryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(queryEscape(queryParams[k]))
	}
	return sb.String()
}

// queryEscape percent-encodes a query component, rendering spaces as %20
// rather than "+".
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// NewRequest assembles the http.Request a descriptor describes.
//
// The payload is formData as multipart when present, else the JSON body.
// Cookie entries merge into a single Cookie header joined by "; ", appended
// to any caller-provided Cookie header rather than overwriting it.
func NewRequest(d *Descriptor) (*http.Request, error) {
	if d == nil || d.BaseURL == "" {
		return nil, fmt.Errorf("descriptor has no baseUrl")
	}
	method := strings.ToUpper(d.Method)
	if method == "" {
		method = http.MethodGet
	}

	target := BuildURL(d.BaseURL, d.Path, d.Query)

	var body io.Reader
	contentType := ""
	switch {
	case len(d.FormData) > 0:
		buf := &bytes.Buffer{}
		w := multipart.NewWriter(buf)
		for _, k := range sortedKeys(d.FormData) {
			if err := w.WriteField(k, d.FormData[k]); err != nil {
				return nil, fmt.Errorf("writing form field %q: %w", k, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		body = buf
		contentType = w.FormDataContentType()
	case d.Body != nil:
		raw, err := json.Marshal(d.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding body: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequest(method, target, body)
	if err != nil {
		return nil, err
	}
	for name, value := range d.Headers {
		req.Header.Set(name, value)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	if len(d.Cookie) > 0 {
		pairs := make([]string, 0, len(d.Cookie))
		for _, k := range sortedKeys(d.Cookie) {
			pairs = append(pairs, k+"="+d.Cookie[k])
		}
		merged := strings.Join(pairs, "; ")
		if existing := req.Header.Get("Cookie"); existing != "" {
			merged = existing + "; " + merged
		}
		req.Header.Set("Cookie", merged)
	}
	return req, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
