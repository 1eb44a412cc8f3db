// Package plugin implements the plugin framework: declarative manifests,
// normalized OpenAPI documents, the registry of installed plugins and
// enabled tool declarations, and the schema translation between OpenAPI
// operations and model-facing function declarations.
package plugin

import (
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// InternalScheme is the base-URL prefix denoting an in-process handler.
// A document whose server URL is "@plugins/<id>" is dispatched to the
// registered internal handler <id>, never over HTTP.
const InternalScheme = "@plugins/"

// Separator joins plugin ID and operation ID in tool names.
// Call names split on the FIRST occurrence: operation IDs may not contain it,
// so a single split suffices.
const Separator = "__"

// ToolName builds the model-facing tool name for an operation.
func ToolName(pluginID, operationID string) string {
	return pluginID + Separator + operationID
}

// SplitToolName splits a call name into plugin ID and operation ID.
// Returns ok=false if the separator is absent.
func SplitToolName(name string) (pluginID, operationID string, ok bool) {
	pluginID, operationID, ok = strings.Cut(name, Separator)
	return pluginID, operationID, ok && pluginID != "" && operationID != ""
}

// Manifest is the declarative description of a callable external capability.
// NameForModel is the stable plugin identity.
type Manifest struct {
	SchemaVersion       string  `json:"schema_version,omitempty"`
	NameForModel        string  `json:"name_for_model"`
	NameForHuman        string  `json:"name_for_human"`
	DescriptionForModel string  `json:"description_for_model,omitempty"`
	DescriptionForHuman string  `json:"description_for_human,omitempty"`
	API                 *APIRef `json:"api,omitempty"`
	LogoURL             string  `json:"logo_url,omitempty"`
	ContactEmail        string  `json:"contact_email,omitempty"`
	LegalInfoURL        string  `json:"legal_info_url,omitempty"`

	// Document, when set, is the inline OpenAPI document; otherwise the
	// document is fetched from API.URL and normalized externally.
	Document *Document `json:"openapi,omitempty"`
}

// APIRef is the indirection to a fetchable API description.
type APIRef struct {
	Type string `json:"type,omitempty"` // "openapi" is the only recognized value
	URL  string `json:"url"`
}

// Document is a normalized OpenAPI document: the source of truth for call
// resolution. Dereferencing happens before a document reaches this type.
type Document struct {
	OpenAPI string              `json:"openapi,omitempty"`
	Info    *Info               `json:"info,omitempty"`
	Servers []Server            `json:"servers,omitempty"`
	Paths   map[string]PathItem `json:"paths"`
}

// Info carries document metadata.
type Info struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
}

// Server declares a base URL for the document's operations.
type Server struct {
	URL string `json:"url"`
}

// BaseURL returns the document's first server URL, or "" if none declared.
func (d *Document) BaseURL() string {
	if d == nil || len(d.Servers) == 0 {
		return ""
	}
	return d.Servers[0].URL
}

// PathItem holds the operations declared under one path, keyed by method.
type PathItem struct {
	Get     *Operation `json:"get,omitempty"`
	Put     *Operation `json:"put,omitempty"`
	Post    *Operation `json:"post,omitempty"`
	Delete  *Operation `json:"delete,omitempty"`
	Options *Operation `json:"options,omitempty"`
	Head    *Operation `json:"head,omitempty"`
	Patch   *Operation `json:"patch,omitempty"`
	Trace   *Operation `json:"trace,omitempty"`
}

// methodOrder fixes the iteration order over a path item's operations.
var methodOrder = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// operation returns the operation for a lowercase method name.
func (p *PathItem) operation(method string) *Operation {
	switch method {
	case "get":
		return p.Get
	case "put":
		return p.Put
	case "post":
		return p.Post
	case "delete":
		return p.Delete
	case "options":
		return p.Options
	case "head":
		return p.Head
	case "patch":
		return p.Patch
	case "trace":
		return p.Trace
	}
	return nil
}

// Operation is one path+method entry with its parameter/body schema.
type Operation struct {
	OperationID string       `json:"operationId"`
	Summary     string       `json:"summary,omitempty"`
	Description string       `json:"description,omitempty"`
	Parameters  []Parameter  `json:"parameters,omitempty"`
	RequestBody *RequestBody `json:"requestBody,omitempty"`
}

// Parameter locations. "formData" is a legacy location kept for compatibility
// with Swagger-era documents; it maps to multipart fields.
const (
	InQuery    = "query"
	InPath     = "path"
	InHeader   = "header"
	InCookie   = "cookie"
	InFormData = "formData"
)

// Parameter describes one operation input. Every parameter has exactly one
// `in` location; argument routing is computed from it, never guessed.
type Parameter struct {
	Name     string             `json:"name"`
	In       string             `json:"in"`
	Required bool               `json:"required,omitempty"`
	Schema   *jsonschema.Schema `json:"schema,omitempty"`
}

// RequestBody declares the operation's body schema per media type.
type RequestBody struct {
	Content map[string]MediaType `json:"content,omitempty"`
}

// MediaType wraps one media type's schema.
type MediaType struct {
	Schema *jsonschema.Schema `json:"schema,omitempty"`
}

// FirstSchema returns the first declared media type's schema, preferring
// application/json when present.
func (rb *RequestBody) FirstSchema() *jsonschema.Schema {
	if rb == nil || len(rb.Content) == 0 {
		return nil
	}
	if mt, ok := rb.Content["application/json"]; ok && mt.Schema != nil {
		return mt.Schema
	}
	for _, mt := range rb.Content {
		if mt.Schema != nil {
			return mt.Schema
		}
	}
	return nil
}

// TargetKind distinguishes in-process handlers from external endpoints.
type TargetKind int

const (
	// TargetExternal dispatches over HTTP through the gateway.
	TargetExternal TargetKind = iota
	// TargetInternal dispatches to a registered in-process handler.
	TargetInternal
)

// Target is where a plugin's calls execute, resolved once at install time
// rather than re-sniffed per call.
type Target struct {
	Kind      TargetKind
	HandlerID string // set for internal targets
	BaseURL   string // set for external targets; "" means no server declared
}

// resolveTarget computes the target from a document's base URL.
func resolveTarget(doc *Document) Target {
	base := doc.BaseURL()
	if strings.HasPrefix(base, InternalScheme) {
		return Target{Kind: TargetInternal, HandlerID: strings.TrimPrefix(base, InternalScheme)}
	}
	return Target{Kind: TargetExternal, BaseURL: base}
}
