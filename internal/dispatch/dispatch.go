// Package dispatch executes batches of model-emitted function calls against
// installed plugins, either through in-process handlers or over HTTP via the
// gateway.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/glimchat/glim/internal/gateway"
	"github.com/glimchat/glim/internal/plugin"
	"github.com/glimchat/glim/internal/session"
)

// Error codes surfaced through the OnError callback.
const (
	CodeMalformedCallName  = 40002
	CodeMissingServerURL   = 40003
	CodePluginNotInstalled = 40401
	CodeOperationNotFound  = 40402
	CodeHandlerFailure     = 50001
	CodeUpstreamFailure    = 50002
)

// maxResultBytes bounds how much of an upstream body becomes a call result.
const maxResultBytes = 4 << 20

// HandlerFunc executes one internal plugin operation. Arguments arrive
// flattened after routing, so hallucinated fields are already dropped.
type HandlerFunc func(ctx context.Context, operationID string, args map[string]any) (any, error)

// Events receives per-call lifecycle notifications. Any field may be nil.
type Events struct {
	// OnPending fires before a call executes, keyed by call name.
	OnPending func(callName string)
	// OnSettled fires after a call finishes, success or failure. It always
	// follows OnPending for the same call.
	OnSettled func(callName string)
	// OnError fires when a call fails, with a structured code and message.
	// A failed call never aborts the rest of the batch.
	OnError func(callName string, code int, message string)
}

func (e Events) pending(name string) {
	if e.OnPending != nil {
		e.OnPending(name)
	}
}

func (e Events) settled(name string) {
	if e.OnSettled != nil {
		e.OnSettled(name)
	}
}

func (e Events) fail(name string, code int, message string) {
	if e.OnError != nil {
		e.OnError(name, code, message)
	}
}

// Dispatcher resolves and executes function calls against the registry.
type Dispatcher struct {
	registry *plugin.Registry
	client   *gateway.Client
	handlers map[string]HandlerFunc
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Dispatcher. A zero timeout disables the per-call deadline.
func New(registry *plugin.Registry, client *gateway.Client, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		client:   client,
		handlers: make(map[string]HandlerFunc),
		timeout:  timeout,
		logger:   logger,
	}
}

// RegisterHandler binds an in-process handler to an internal scheme ID.
func (d *Dispatcher) RegisterHandler(id string, fn HandlerFunc) {
	d.handlers[id] = fn
}

// Batch holds the outcome of executing one turn's function calls.
type Batch struct {
	// Results maps call name to result value, successes only.
	Results map[string]any
	// order lists successful call names in emission order.
	order []string
}

// Empty reports whether no call in the batch produced a result.
func (b *Batch) Empty() bool { return len(b.order) == 0 }

// ResponseParts builds the function-response parts for the batch, one per
// successful call, in the emission order of the original calls.
func (b *Batch) ResponseParts() []session.Part {
	parts := make([]session.Part, 0, len(b.order))
	for _, name := range b.order {
		parts = append(parts, session.Part{FunctionResponse: &session.FunctionResponse{
			Name: name,
			Response: map[string]any{
				"name":    name,
				"content": b.Results[name],
			},
		}})
	}
	return parts
}

// Execute runs a batch of function calls sequentially, in emission order.
// One call's failure never prevents subsequent calls from executing.
func (d *Dispatcher) Execute(ctx context.Context, calls []session.FunctionCall, ev Events) *Batch {
	ctx, span := otel.Tracer("glim/dispatch").Start(ctx, "dispatch.batch")
	span.SetAttributes(attribute.Int("calls", len(calls)))
	defer span.End()

	batch := &Batch{Results: make(map[string]any, len(calls))}
	for _, call := range calls {
		ev.pending(call.Name)
		value, err := d.executeCall(ctx, call)
		ev.settled(call.Name)
		if err != nil {
			code, message := classify(err)
			d.logger.Warn("function call failed",
				"call", call.Name, "code", code, "error", err)
			ev.fail(call.Name, code, message)
			continue
		}
		batch.Results[call.Name] = value
		batch.order = append(batch.order, call.Name)
	}
	return batch
}

// callError carries the structured code for a failed call stage.
type callError struct {
	code int
	err  error
}

func (e *callError) Error() string { return e.err.Error() }
func (e *callError) Unwrap() error { return e.err }

func failWith(code int, err error) error {
	return &callError{code: code, err: err}
}

// classify maps a call failure onto its surfaced {code, message} pair.
func classify(err error) (int, string) {
	var ce *callError
	if errors.As(err, &ce) {
		return ce.code, ce.err.Error()
	}
	return CodeHandlerFailure, err.Error()
}

func (d *Dispatcher) executeCall(ctx context.Context, call session.FunctionCall) (any, error) {
	pluginID, operationID, ok := plugin.SplitToolName(call.Name)
	if !ok {
		return nil, failWith(CodeMalformedCallName, fmt.Errorf("malformed call name %q", call.Name))
	}

	if !d.registry.Installed(pluginID) {
		return nil, failWith(CodePluginNotInstalled, fmt.Errorf("%w: %q", plugin.ErrNotInstalled, pluginID))
	}
	ref, err := d.registry.FindOperation(pluginID, operationID)
	if err != nil {
		return nil, failWith(CodeOperationNotFound, err)
	}
	target, ok := d.registry.Target(pluginID)
	if !ok {
		return nil, failWith(CodePluginNotInstalled, fmt.Errorf("%w: %q", plugin.ErrNotInstalled, pluginID))
	}
	if target.Kind == plugin.TargetExternal && target.BaseURL == "" {
		return nil, failWith(CodeMissingServerURL, fmt.Errorf("%w: plugin %q", plugin.ErrMissingServerURL, pluginID))
	}

	routed := plugin.RouteArguments(ref.Op, call.Args)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if target.Kind == plugin.TargetInternal {
		return d.executeInternal(ctx, target.HandlerID, operationID, routed)
	}
	return d.executeExternal(ctx, target.BaseURL, ref, routed)
}

func (d *Dispatcher) executeInternal(ctx context.Context, handlerID, operationID string, routed plugin.Routed) (any, error) {
	fn, ok := d.handlers[handlerID]
	if !ok {
		return nil, failWith(CodePluginNotInstalled, fmt.Errorf("no internal handler registered for %q", handlerID))
	}
	value, err := fn(ctx, operationID, flatten(routed))
	if err != nil {
		return nil, failWith(CodeHandlerFailure, fmt.Errorf("handler %q: %w", handlerID, err))
	}
	return value, nil
}

func (d *Dispatcher) executeExternal(ctx context.Context, baseURL string, ref plugin.OperationRef, routed plugin.Routed) (any, error) {
	desc := &gateway.Descriptor{
		BaseURL:  joinURL(baseURL, ref.Path),
		Method:   ref.Method,
		Body:     routed.Body,
		FormData: routed.FormData,
		Headers:  routed.Headers,
		Path:     routed.Path,
		Query:    routed.Query,
		Cookie:   routed.Cookie,
	}

	resp, err := d.client.Do(ctx, desc)
	if err != nil {
		return nil, failWith(CodeUpstreamFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return nil, failWith(CodeUpstreamFailure, fmt.Errorf("reading response from %s: %w", desc.BaseURL, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, failWith(CodeUpstreamFailure, errors.New(upstreamMessage(body, resp.Status)))
	}

	// JSON results stay structured; anything else is passed through as text.
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return string(body), nil
	}
	return value, nil
}

// upstreamMessage prefers the parsed body's "message" field over the status
// line for non-2xx responses.
func upstreamMessage(body []byte, status string) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return status
}

// flatten merges routed buckets into one argument map for internal handlers,
// which have no use for HTTP part placement.
func flatten(routed plugin.Routed) map[string]any {
	out := make(map[string]any)
	for k, v := range routed.Body {
		out[k] = v
	}
	for _, bucket := range []map[string]string{
		routed.Query, routed.Path, routed.Headers, routed.Cookie, routed.FormData,
	} {
		for k, v := range bucket {
			out[k] = v
		}
	}
	return out
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}
