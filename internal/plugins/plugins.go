// Package plugins ships the official built-in plugins: weather, time, web
// search, URL reading and paper search. Each one registers an inline
// manifest whose server URL uses the internal scheme, so calls dispatch to
// the in-process handler instead of the HTTP gateway.
package plugins

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/glimchat/glim/internal/config"
	"github.com/glimchat/glim/internal/dispatch"
	"github.com/glimchat/glim/internal/log"
	"github.com/glimchat/glim/internal/plugin"
)

// Builtin is one official plugin: a manifest plus its in-process handler.
type Builtin interface {
	ID() string
	Manifest() *plugin.Manifest
	Handle(ctx context.Context, operationID string, args map[string]any) (any, error)
}

// All constructs the official plugin set from configuration.
func All(cfg *config.Config, logger log.Logger) []Builtin {
	return []Builtin{
		NewWeather(logger),
		NewClock(),
		NewSearch(cfg.Search, logger),
		NewReader(cfg.Reader, logger),
		NewArxiv(logger),
	}
}

// Register registers every builtin's manifest with the registry and binds
// its handler to the dispatcher.
func Register(reg *plugin.Registry, d *dispatch.Dispatcher, builtins []Builtin) error {
	for _, b := range builtins {
		if err := reg.Register(b.Manifest()); err != nil {
			return fmt.Errorf("registering builtin %q: %w", b.ID(), err)
		}
		d.RegisterHandler(b.ID(), b.Handle)
	}
	return nil
}

// internalDocument builds an inline document served by the plugin's own
// internal handler.
func internalDocument(id string, paths map[string]plugin.PathItem) *plugin.Document {
	return &plugin.Document{
		OpenAPI: "3.0.1",
		Servers: []plugin.Server{{URL: plugin.InternalScheme + id}},
		Paths:   paths,
	}
}

func stringSchema(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func integerSchema(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: description}
}

// stringArg extracts a string argument, tolerating absence.
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg extracts an integer argument; JSON numbers arrive as float64.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
