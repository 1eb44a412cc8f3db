package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists artifacts in PostgreSQL. Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a new Store instance.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

const artifactColumns = `id, conversation_id, message_id, filename, type,
	language, title, content, version, created_at, updated_at`

// Save inserts the artifact or, when the filename already exists in the
// conversation, replaces its content and bumps the version. The stored row
// is returned either way.
func (s *Store) Save(ctx context.Context, a *Artifact) (*Artifact, error) {
	if err := ValidateFilename(a.Filename); err != nil {
		return nil, err
	}
	if !a.Type.Valid() {
		return nil, fmt.Errorf("unknown artifact type %q", a.Type)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO artifacts (conversation_id, message_id, filename, type, language, title, content)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (conversation_id, filename) DO UPDATE SET
			message_id = EXCLUDED.message_id,
			type       = EXCLUDED.type,
			language   = EXCLUDED.language,
			title      = EXCLUDED.title,
			content    = EXCLUDED.content,
			version    = artifacts.version + 1,
			updated_at = now()
		RETURNING `+artifactColumns,
		a.ConversationID, a.MessageID, a.Filename, string(a.Type), a.Language, a.Title, a.Content)

	saved, err := scanArtifact(row)
	if err != nil {
		return nil, fmt.Errorf("saving artifact %q: %w", a.Filename, err)
	}
	s.logger.Debug("saved artifact",
		"conversation", saved.ConversationID, "filename", saved.Filename, "version", saved.Version)
	return saved, nil
}

// Get retrieves one artifact by conversation and filename.
func (s *Store) Get(ctx context.Context, conversationID uuid.UUID, filename string) (*Artifact, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts WHERE conversation_id = $1 AND filename = $2`,
		conversationID, filename)

	a, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting artifact %q: %w", filename, err)
	}
	return a, nil
}

// ByID retrieves one artifact by its ID.
func (s *Store) ByID(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts WHERE id = $1`, id)

	a, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting artifact %s: %w", id, err)
	}
	return a, nil
}

// List returns a conversation's artifacts ordered by filename.
func (s *Store) List(ctx context.Context, conversationID uuid.UUID) ([]*Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts WHERE conversation_id = $1
		ORDER BY filename`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete removes an artifact. Returns ErrNotFound if it does not exist.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM artifacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting artifact %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanArtifact(row pgx.Row) (*Artifact, error) {
	var a Artifact
	var typ string
	if err := row.Scan(&a.ID, &a.ConversationID, &a.MessageID, &a.Filename, &typ,
		&a.Language, &a.Title, &a.Content, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Type = Type(typ)
	return &a, nil
}
