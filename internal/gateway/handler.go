package gateway

import (
	"encoding/json"
	"io"
	"net/http"
)

// Error codes surfaced by the relay endpoint.
const (
	codeBadDescriptor   = 40001
	codeUpstreamFailure = 50002
)

// maxDescriptorBytes bounds the inbound descriptor payload.
const maxDescriptorBytes = 1 << 20

// hopByHopHeaders are dropped when proxying; they describe the upstream
// connection, not the relayed response.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// Handler exposes the relay as an HTTP endpoint accepting a JSON Descriptor
// and forwarding the upstream status, headers and body verbatim.
//
// Network failures become a structured {code, message} response instead of
// an opaque 502.
func (c *Client) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var d Descriptor
		dec := json.NewDecoder(io.LimitReader(r.Body, maxDescriptorBytes))
		if err := dec.Decode(&d); err != nil {
			writeError(w, http.StatusBadRequest, codeBadDescriptor, "invalid gateway descriptor: "+err.Error())
			return
		}
		if d.BaseURL == "" {
			writeError(w, http.StatusBadRequest, codeBadDescriptor, "descriptor has no baseUrl")
			return
		}

		resp, err := c.Do(r.Context(), &d)
		if err != nil {
			c.logger.Warn("gateway relay failed", "url", d.BaseURL, "error", err)
			writeError(w, http.StatusBadGateway, codeUpstreamFailure, err.Error())
			return
		}
		defer resp.Body.Close()

		header := w.Header()
		for name, values := range resp.Header {
			if _, hop := hopByHopHeaders[name]; hop {
				continue
			}
			for _, v := range values {
				header.Add(name, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, io.LimitReader(resp.Body, c.maxResponseBytes)); err != nil {
			// Headers are already out; nothing left to do but log.
			c.logger.Debug("gateway body copy interrupted", "url", d.BaseURL, "error", err)
		}
	})
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message})
}
