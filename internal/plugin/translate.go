package plugin

import (
	"fmt"
	"strconv"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"
)

// ToolDeclaration is the model-facing function signature derived from one
// plugin operation.
type ToolDeclaration struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parametersSchema,omitempty"`
}

// FunctionDeclaration converts the declaration into the model SDK's shape.
func (t ToolDeclaration) FunctionDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  toGenAISchema(t.Parameters),
	}
}

// ToolDeclarations derives one declaration per callable operation in the
// document, in deterministic path/method order.
//
// An operation is callable when it declares either parameters or a request
// body. Operations with neither are silently skipped: not every operation
// need be callable.
func ToolDeclarations(pluginID string, doc *Document) []ToolDeclaration {
	if doc == nil {
		return nil
	}

	var out []ToolDeclaration
	for _, path := range sortedPaths(doc) {
		item := doc.Paths[path]
		for _, method := range methodOrder {
			op := item.operation(method)
			if op == nil {
				continue
			}
			schema := operationSchema(op)
			if schema == nil {
				continue
			}
			out = append(out, ToolDeclaration{
				Name:        ToolName(pluginID, op.OperationID),
				Description: operationDescription(op),
				Parameters:  schema,
			})
		}
	}
	return out
}

// operationSchema builds the parameter schema for one operation.
//
// With parameters present, all parameter schemas merge into one object schema
// whose required list is the union of individually required parameter names.
// Otherwise the first request-body media type's schema is used verbatim.
// Neither present yields nil (no tool).
func operationSchema(op *Operation) *jsonschema.Schema {
	if len(op.Parameters) > 0 {
		merged := &jsonschema.Schema{
			Type:       "object",
			Properties: make(map[string]*jsonschema.Schema, len(op.Parameters)),
		}
		for _, p := range op.Parameters {
			s := p.Schema
			if s == nil {
				s = &jsonschema.Schema{Type: "string"}
			}
			merged.Properties[p.Name] = s
			if p.Required {
				merged.Required = append(merged.Required, p.Name)
			}
		}
		return merged
	}
	if op.RequestBody != nil {
		return op.RequestBody.FirstSchema()
	}
	return nil
}

// operationDescription resolves the declaration description:
// summary, else description, else the operationId.
func operationDescription(op *Operation) string {
	if op.Summary != "" {
		return op.Summary
	}
	if op.Description != "" {
		return op.Description
	}
	return op.OperationID
}

// Routed holds argument buckets keyed by request part. Nil maps mean the
// aspect is absent; absent and empty are treated identically downstream, but
// the wire format for external plugins only carries non-empty buckets.
type Routed struct {
	Body     map[string]any
	FormData map[string]string
	Headers  map[string]string
	Path     map[string]string
	Query    map[string]string
	Cookie   map[string]string
}

// RouteArguments assigns each call argument to its request part.
//
// With declared parameters, each argument routes by its parameter's `in`
// location; arguments matching no parameter are dropped. Without parameters
// but with a request body, every argument routes into the JSON body under its
// own key. The drop of unmatched arguments is deliberate permissiveness: the
// model may emit extra or hallucinated fields, and they must not error.
func RouteArguments(op *Operation, args map[string]any) Routed {
	var r Routed
	if op == nil || len(args) == 0 {
		return r
	}

	if len(op.Parameters) > 0 {
		byName := make(map[string]*Parameter, len(op.Parameters))
		for i := range op.Parameters {
			byName[op.Parameters[i].Name] = &op.Parameters[i]
		}
		for name, value := range args {
			p, ok := byName[name]
			if !ok {
				continue // unmatched argument: dropped
			}
			switch p.In {
			case InQuery:
				if r.Query == nil {
					r.Query = make(map[string]string)
				}
				r.Query[name] = stringifyArg(value)
			case InPath:
				if r.Path == nil {
					r.Path = make(map[string]string)
				}
				r.Path[name] = stringifyArg(value)
			case InHeader:
				if r.Headers == nil {
					r.Headers = make(map[string]string)
				}
				r.Headers[name] = stringifyArg(value)
			case InCookie:
				if r.Cookie == nil {
					r.Cookie = make(map[string]string)
				}
				r.Cookie[name] = stringifyArg(value)
			case InFormData:
				if r.FormData == nil {
					r.FormData = make(map[string]string)
				}
				r.FormData[name] = stringifyArg(value)
			}
		}
		return r
	}

	if op.RequestBody != nil {
		r.Body = make(map[string]any, len(args))
		for name, value := range args {
			r.Body[name] = value
		}
	}
	return r
}

// stringifyArg renders an argument value for a string-valued request part.
func stringifyArg(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		// JSON numbers decode as float64; render integers without exponent.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// toGenAISchema converts a JSON schema into the model SDK's schema shape.
func toGenAISchema(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genAIType(s.Type),
		Format:      s.Format,
		Description: s.Description,
	}
	if len(s.Required) > 0 {
		out.Required = append([]string(nil), s.Required...)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenAISchema(prop)
		}
	}
	if s.Items != nil {
		out.Items = toGenAISchema(s.Items)
	}
	for _, e := range s.Enum {
		out.Enum = append(out.Enum, fmt.Sprint(e))
	}
	return out
}

// genAIType maps JSON schema type names onto the SDK's type enum.
func genAIType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}
