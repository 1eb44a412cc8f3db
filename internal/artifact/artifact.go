// Package artifact manages versioned per-conversation documents that the
// user edits alongside the chat, with model-assisted transforms.
package artifact

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// ErrInvalidFilename is returned for filenames that fail validation.
var ErrInvalidFilename = errors.New("invalid artifact filename")

// Type classifies artifact content.
type Type string

const (
	TypeText     Type = "text"
	TypeMarkdown Type = "markdown"
	TypeCode     Type = "code"
)

// Valid reports whether t is a known artifact type.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeMarkdown, TypeCode:
		return true
	}
	return false
}

// Artifact is one versioned document. Filename is unique within a
// conversation; saving an existing filename bumps Version.
type Artifact struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	MessageID      *uuid.UUID
	Filename       string
	Type           Type
	Language       string
	Title          string
	Content        string
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const maxFilenameLen = 120

// ValidateFilename rejects empty names, path traversal and separators.
func ValidateFilename(name string) error {
	if name == "" || len(name) > maxFilenameLen {
		return ErrInvalidFilename
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return ErrInvalidFilename
	}
	if strings.TrimSpace(name) != name {
		return ErrInvalidFilename
	}
	return nil
}
