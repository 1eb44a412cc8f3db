package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/glimchat/glim/internal/gateway"
	"github.com/glimchat/glim/internal/log"
	"github.com/glimchat/glim/internal/plugin"
	"github.com/glimchat/glim/internal/session"
)

// recorder captures dispatch lifecycle callbacks.
type recorder struct {
	pending []string
	settled []string
	failed  map[string]int
}

func newRecorder() *recorder {
	return &recorder{failed: make(map[string]int)}
}

func (r *recorder) events() Events {
	return Events{
		OnPending: func(name string) { r.pending = append(r.pending, name) },
		OnSettled: func(name string) { r.settled = append(r.settled, name) },
		OnError:   func(name string, code int, _ string) { r.failed[name] = code },
	}
}

func internalRegistry(t *testing.T, id string, ops map[string]plugin.PathItem) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry(log.NewNop())
	m := &plugin.Manifest{
		NameForModel: id,
		NameForHuman: id,
		Document: &plugin.Document{
			Servers: []plugin.Server{{URL: plugin.InternalScheme + id}},
			Paths:   ops,
		},
	}
	if err := r.Register(m); err != nil {
		t.Fatal(err)
	}
	if err := r.SetEnabled(id, true); err != nil {
		t.Fatal(err)
	}
	return r
}

func queryOp(operationID string, params ...string) *plugin.Operation {
	op := &plugin.Operation{OperationID: operationID}
	for _, p := range params {
		op.Parameters = append(op.Parameters, plugin.Parameter{Name: p, In: plugin.InQuery})
	}
	return op
}

func TestExecute_InternalHandler(t *testing.T) {
	reg := internalRegistry(t, "clock", map[string]plugin.PathItem{
		"/now": {Get: queryOp("currentTime", "timezone")},
	})

	d := New(reg, gateway.NewClient(log.NewNop()), time.Second, log.NewNop())
	d.RegisterHandler("clock", func(_ context.Context, operationID string, args map[string]any) (any, error) {
		if operationID != "currentTime" {
			t.Errorf("operationID = %q", operationID)
		}
		return map[string]any{"timezone": args["timezone"], "time": "12:00"}, nil
	})

	rec := newRecorder()
	batch := d.Execute(context.Background(), []session.FunctionCall{
		{Name: "clock__currentTime", Args: map[string]any{"timezone": "UTC"}},
	}, rec.events())

	if batch.Empty() {
		t.Fatal("batch has no results")
	}
	result, ok := batch.Results["clock__currentTime"].(map[string]any)
	if !ok || result["time"] != "12:00" {
		t.Errorf("result = %v", batch.Results)
	}
	if len(rec.failed) != 0 {
		t.Errorf("unexpected failures: %v", rec.failed)
	}
}

func TestExecute_BatchIsolation(t *testing.T) {
	reg := internalRegistry(t, "tools", map[string]plugin.PathItem{
		"/a": {Get: queryOp("first", "x")},
		"/b": {Get: queryOp("second", "x")},
		"/c": {Get: queryOp("third", "x")},
	})

	d := New(reg, gateway.NewClient(log.NewNop()), time.Second, log.NewNop())
	d.RegisterHandler("tools", func(_ context.Context, operationID string, _ map[string]any) (any, error) {
		if operationID == "second" {
			return nil, errors.New("boom")
		}
		return operationID + " ok", nil
	})

	rec := newRecorder()
	batch := d.Execute(context.Background(), []session.FunctionCall{
		{Name: "tools__first"},
		{Name: "tools__second"},
		{Name: "tools__third"},
	}, rec.events())

	if len(batch.Results) != 2 {
		t.Fatalf("results = %v, want first and third", batch.Results)
	}
	if batch.Results["tools__third"] != "third ok" {
		t.Error("a failed call must not block later calls")
	}
	if code := rec.failed["tools__second"]; code != CodeHandlerFailure {
		t.Errorf("failure code = %d, want %d", code, CodeHandlerFailure)
	}

	// Pending state is opened and settled for every call, failures included.
	wantOrder := []string{"tools__first", "tools__second", "tools__third"}
	if !reflect.DeepEqual(rec.pending, wantOrder) {
		t.Errorf("pending = %v", rec.pending)
	}
	if !reflect.DeepEqual(rec.settled, wantOrder) {
		t.Errorf("settled = %v", rec.settled)
	}

	// Response parts carry only successes, in emission order.
	parts := batch.ResponseParts()
	if len(parts) != 2 {
		t.Fatalf("parts = %d", len(parts))
	}
	if parts[0].FunctionResponse.Name != "tools__first" || parts[1].FunctionResponse.Name != "tools__third" {
		t.Errorf("part order = [%s, %s]", parts[0].FunctionResponse.Name, parts[1].FunctionResponse.Name)
	}
	if parts[0].FunctionResponse.Response["content"] != "first ok" {
		t.Errorf("response shape = %v", parts[0].FunctionResponse.Response)
	}
}

func TestExecute_AllCallsFail(t *testing.T) {
	reg := internalRegistry(t, "tools", map[string]plugin.PathItem{
		"/a": {Get: queryOp("only", "x")},
	})
	d := New(reg, gateway.NewClient(log.NewNop()), time.Second, log.NewNop())
	d.RegisterHandler("tools", func(context.Context, string, map[string]any) (any, error) {
		return nil, errors.New("down")
	})

	batch := d.Execute(context.Background(), []session.FunctionCall{{Name: "tools__only"}}, Events{})
	if !batch.Empty() {
		t.Error("batch with zero successes must report Empty")
	}
	if parts := batch.ResponseParts(); len(parts) != 0 {
		t.Errorf("parts = %v, want none", parts)
	}
}

func TestExecute_DeadlineCancelsSlowCall(t *testing.T) {
	reg := internalRegistry(t, "slow", map[string]plugin.PathItem{
		"/wait": {Get: queryOp("wait")},
	})
	d := New(reg, gateway.NewClient(log.NewNop()), 50*time.Millisecond, log.NewNop())
	d.RegisterHandler("slow", func(ctx context.Context, _ string, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	rec := newRecorder()
	start := time.Now()
	batch := d.Execute(context.Background(), []session.FunctionCall{{Name: "slow__wait"}}, rec.events())
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Execute returned after %v, deadline not enforced", elapsed)
	}
	if !batch.Empty() {
		t.Error("timed-out call must not produce a response")
	}
	if rec.failed["slow__wait"] != CodeHandlerFailure {
		t.Errorf("failure code = %d, want %d", rec.failed["slow__wait"], CodeHandlerFailure)
	}
}

func TestExecute_ResolutionFailures(t *testing.T) {
	reg := internalRegistry(t, "clock", map[string]plugin.PathItem{
		"/now": {Get: queryOp("currentTime", "timezone")},
	})
	d := New(reg, gateway.NewClient(log.NewNop()), time.Second, log.NewNop())

	tests := []struct {
		name     string
		call     string
		wantCode int
	}{
		{"malformed name", "nounderscore", CodeMalformedCallName},
		{"unknown plugin", "ghost__op", CodePluginNotInstalled},
		{"unknown operation", "clock__missing", CodeOperationNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			batch := d.Execute(context.Background(), []session.FunctionCall{{Name: tt.call}}, rec.events())
			if !batch.Empty() {
				t.Errorf("unexpected results: %v", batch.Results)
			}
			if code := rec.failed[tt.call]; code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			// Pending still settles on failure.
			if len(rec.settled) != 1 {
				t.Errorf("settled = %v", rec.settled)
			}
		})
	}
}

func TestExecute_MissingServerURL(t *testing.T) {
	reg := plugin.NewRegistry(log.NewNop())
	if err := reg.Register(&plugin.Manifest{
		NameForModel: "bare",
		Document: &plugin.Document{
			// No servers declared.
			Paths: map[string]plugin.PathItem{"/x": {Get: queryOp("op", "q")}},
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetEnabled("bare", true); err != nil {
		t.Fatal(err)
	}

	d := New(reg, gateway.NewClient(log.NewNop()), time.Second, log.NewNop())
	rec := newRecorder()
	d.Execute(context.Background(), []session.FunctionCall{{Name: "bare__op"}}, rec.events())
	if code := rec.failed["bare__op"]; code != CodeMissingServerURL {
		t.Errorf("code = %d, want %d", code, CodeMissingServerURL)
	}
}

func TestExecute_ExternalCall(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forecast/Paris" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("units"); got != "metric" {
			t.Errorf("units = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"temperature": 21.5})
	}))
	defer upstream.Close()

	reg := plugin.NewRegistry(log.NewNop())
	if err := reg.Register(&plugin.Manifest{
		NameForModel: "weather",
		Document: &plugin.Document{
			Servers: []plugin.Server{{URL: upstream.URL}},
			Paths: map[string]plugin.PathItem{
				"/forecast/{city}": {Get: &plugin.Operation{
					OperationID: "forecast",
					Parameters: []plugin.Parameter{
						{Name: "city", In: plugin.InPath, Required: true},
						{Name: "units", In: plugin.InQuery},
					},
				}},
			},
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetEnabled("weather", true); err != nil {
		t.Fatal(err)
	}

	d := New(reg, gateway.NewClient(log.NewNop()), time.Second, log.NewNop())
	batch := d.Execute(context.Background(), []session.FunctionCall{
		{Name: "weather__forecast", Args: map[string]any{"city": "Paris", "units": "metric"}},
	}, Events{})

	result, ok := batch.Results["weather__forecast"].(map[string]any)
	if !ok {
		t.Fatalf("result = %v", batch.Results)
	}
	if result["temperature"] != 21.5 {
		t.Errorf("temperature = %v", result["temperature"])
	}
}

func TestExecute_ExternalErrorMessageFromBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"message": "rate limited, slow down"})
	}))
	defer upstream.Close()

	reg := plugin.NewRegistry(log.NewNop())
	if err := reg.Register(&plugin.Manifest{
		NameForModel: "api",
		Document: &plugin.Document{
			Servers: []plugin.Server{{URL: upstream.URL}},
			Paths:   map[string]plugin.PathItem{"/x": {Get: queryOp("op", "q")}},
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetEnabled("api", true); err != nil {
		t.Fatal(err)
	}

	d := New(reg, gateway.NewClient(log.NewNop()), time.Second, log.NewNop())
	var gotMessage string
	d.Execute(context.Background(), []session.FunctionCall{{Name: "api__op"}}, Events{
		OnError: func(_ string, _ int, message string) { gotMessage = message },
	})
	if gotMessage != "rate limited, slow down" {
		t.Errorf("message = %q, want body message field", gotMessage)
	}
}

func TestUpstreamMessage(t *testing.T) {
	if got := upstreamMessage([]byte(`{"message": "m"}`), "500 Oops"); got != "m" {
		t.Errorf("got %q", got)
	}
	if got := upstreamMessage([]byte(`not json`), "500 Oops"); got != "500 Oops" {
		t.Errorf("got %q", got)
	}
	if got := upstreamMessage([]byte(`{"other": 1}`), "404 Not Found"); got != "404 Not Found" {
		t.Errorf("got %q", got)
	}
}
