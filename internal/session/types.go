// Package session manages conversation persistence: conversations, their
// message history, and the summary used for history compaction.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser     Role = "user"
	RoleModel    Role = "model"
	RoleFunction Role = "function"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModel, RoleFunction:
		return true
	}
	return false
}

// TitleMaxLength is the maximum conversation title length in runes.
const TitleMaxLength = 80

// Conversation is one chat thread.
type Conversation struct {
	ID           uuid.UUID
	Title        string
	Model        string
	SystemPrompt string

	// Summary holds compacted older history; SummaryUpto is the sequence
	// number (exclusive) the summary covers.
	Summary     string
	SummaryUpto int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Part is one element of a message body. Exactly one field group is set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
	FileData         *FileData         `json:"fileData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// InlineData is base64-embedded media content.
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FileData references uploaded media by URI.
type FileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

// FunctionCall is a model-emitted request to invoke a named tool.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries one tool result back into history.
// Response conventionally holds {"name": ..., "content": ...}.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Attachment describes a user-supplied file on a message.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	URI      string `json:"uri,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is one entry in a conversation's history.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           Role
	Parts          []Part
	Attachments    []Attachment
	SequenceNumber int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Text returns the concatenated non-thought text of the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Text != "" && !p.Thought {
			out += p.Text
		}
	}
	return out
}

// NewUserMessage builds a user message from plain text.
func NewUserMessage(conversationID uuid.UUID, text string) *Message {
	return &Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Parts:          []Part{{Text: text}},
	}
}
