package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/glimchat/glim/internal/plugin"
	"github.com/glimchat/glim/internal/session"
)

// Generator is the model client seam. The production implementation wraps
// the genai SDK; tests substitute scripted streams.
type Generator interface {
	// GenerateStream starts a streaming generation.
	GenerateStream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
	// Generate performs a single non-streaming generation, used for titles
	// and summary compaction.
	Generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// genaiGenerator adapts the genai SDK client.
type genaiGenerator struct {
	client *genai.Client
}

// NewGenerator wraps a genai client as a Generator.
func NewGenerator(client *genai.Client) Generator {
	return &genaiGenerator{client: client}
}

func (g *genaiGenerator) GenerateStream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	return g.client.Models.GenerateContentStream(ctx, model, contents, cfg)
}

func (g *genaiGenerator) Generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return g.client.Models.GenerateContent(ctx, model, contents, cfg)
}

// toContents converts stored history into model SDK contents. Function-role
// messages carry their responses under the user role, per the API's content
// model.
func toContents(msgs []*session.Message) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		c, err := toContent(m)
		if err != nil {
			return nil, err
		}
		if len(c.Parts) > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

func toContent(m *session.Message) (*genai.Content, error) {
	role := genai.RoleUser
	if m.Role == session.RoleModel {
		role = genai.RoleModel
	}

	c := &genai.Content{Role: role}
	for _, p := range m.Parts {
		switch {
		case p.Text != "":
			c.Parts = append(c.Parts, &genai.Part{Text: p.Text, Thought: p.Thought})
		case p.InlineData != nil:
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("decoding inline data on message %s: %w", m.ID, err)
			}
			c.Parts = append(c.Parts, &genai.Part{InlineData: &genai.Blob{
				MIMEType: p.InlineData.MIMEType,
				Data:     data,
			}})
		case p.FileData != nil:
			c.Parts = append(c.Parts, &genai.Part{FileData: &genai.FileData{
				MIMEType: p.FileData.MIMEType,
				FileURI:  p.FileData.FileURI,
			}})
		case p.FunctionCall != nil:
			c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
				Name: p.FunctionCall.Name,
				Args: p.FunctionCall.Args,
			}})
		case p.FunctionResponse != nil:
			c.Parts = append(c.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     p.FunctionResponse.Name,
				Response: p.FunctionResponse.Response,
			}})
		}
	}
	return c, nil
}

// toTools converts enabled tool declarations into the SDK's tool list.
func toTools(decls []plugin.ToolDeclaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	fns := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		fns = append(fns, d.FunctionDeclaration())
	}
	return []*genai.Tool{{FunctionDeclarations: fns}}
}
