package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages conversation persistence with a PostgreSQL backend.
//
// Store is safe for concurrent use by multiple goroutines. Message sequence
// numbers are assigned inside a transaction holding a row lock on the
// conversation, so concurrent appends cannot collide.
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

// CreateConversation creates a new conversation and returns it.
func (s *Store) CreateConversation(ctx context.Context, title, model, systemPrompt string) (*Conversation, error) {
	title = truncateTitle(title)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (title, model, system_prompt)
		VALUES ($1, $2, $3)
		RETURNING id, title, model, system_prompt, summary, summary_upto, created_at, updated_at`,
		title, model, systemPrompt)

	c, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	s.logger.Debug("created conversation", "id", c.ID, "model", model)
	return c, nil
}

// Conversation retrieves a conversation by ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) Conversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, model, system_prompt, summary, summary_upto, created_at, updated_at
		FROM conversations WHERE id = $1`, id)

	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting conversation %s: %w", id, err)
	}
	return c, nil
}

// ListConversations returns conversations ordered by most recent activity.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, model, system_prompt, summary, summary_upto, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return out, nil
}

// DeleteConversation removes a conversation and, by cascade, its messages.
func (s *Store) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTitle sets the conversation title, truncating to TitleMaxLength runes.
func (s *Store) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1`,
		id, truncateTitle(title))
	if err != nil {
		return fmt.Errorf("updating title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSummary stores the compacted-history summary and the sequence number
// (exclusive) it covers.
func (s *Store) UpdateSummary(ctx context.Context, id uuid.UUID, summary string, upto int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET summary = $2, summary_upto = $3, updated_at = now() WHERE id = $1`,
		id, summary, upto)
	if err != nil {
		return fmt.Errorf("updating summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessages appends messages to a conversation in order, assigning
// consecutive sequence numbers. The whole batch is atomic.
func (s *Store) AppendMessages(ctx context.Context, conversationID uuid.UUID, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	for _, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidRole, m.Role)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// Row lock serializes concurrent appends to the same conversation.
	var locked uuid.UUID
	if err := tx.QueryRow(ctx,
		`SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("locking conversation: %w", err)
	}

	var maxSeq int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE conversation_id = $1`,
		conversationID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("getting max sequence number: %w", err)
	}

	now := time.Now()
	for i, m := range msgs {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.ConversationID = conversationID
		m.SequenceNumber = maxSeq + i + 1
		m.CreatedAt = now

		if err := insertMessage(ctx, tx, m); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, conversationID); err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}
	return nil
}

// Messages returns a conversation's history in sequence order, newest last.
// A limit of 0 loads everything.
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*Message, error) {
	// Load the newest N, then restore chronological order.
	// NULLIF turns limit 0 into LIMIT NULL (no limit).
	q := `
		SELECT id, conversation_id, role, parts, attachments, sequence_number, created_at, updated_at
		FROM (
			SELECT * FROM messages WHERE conversation_id = $1
			ORDER BY sequence_number DESC LIMIT NULLIF($2::int, 0)
		) recent ORDER BY sequence_number ASC`
	if limit < 0 {
		limit = 0
	}

	msgs, err := queryMessages(ctx, s.pool, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	return msgs, nil
}

// MessagesAfter returns messages with sequence numbers strictly greater than seq.
func (s *Store) MessagesAfter(ctx context.Context, conversationID uuid.UUID, seq int) ([]*Message, error) {
	msgs, err := queryMessages(ctx, s.pool, `
		SELECT id, conversation_id, role, parts, attachments, sequence_number, created_at, updated_at
		FROM messages WHERE conversation_id = $1 AND sequence_number > $2
		ORDER BY sequence_number ASC`, conversationID, seq)
	if err != nil {
		return nil, fmt.Errorf("querying messages after %d: %w", seq, err)
	}
	return msgs, nil
}

// UpdateMessageParts replaces a message's parts in place (edit/regenerate flows).
func (s *Store) UpdateMessageParts(ctx context.Context, id uuid.UUID, parts []Part) error {
	data, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("marshaling parts: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET parts = $2, updated_at = now() WHERE id = $1`, id, data)
	if err != nil {
		return fmt.Errorf("updating message parts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveMessage deletes a message. Used both for explicit deletes and for
// revoking a pending answer before resubmission.
func (s *Store) RemoveMessage(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("removing message %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// queryMessages runs a message select against a pool or transaction and
// scans every row.
func queryMessages(ctx context.Context, q querier, sql string, args ...any) ([]*Message, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// insertMessage writes one message row, encoding the JSONB columns.
func insertMessage(ctx context.Context, q querier, m *Message) error {
	parts, err := json.Marshal(m.Parts)
	if err != nil {
		return fmt.Errorf("marshaling parts: %w", err)
	}
	var attachments []byte
	if len(m.Attachments) > 0 {
		attachments, err = json.Marshal(m.Attachments)
		if err != nil {
			return fmt.Errorf("marshaling attachments: %w", err)
		}
	}
	if _, err := q.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, parts, attachments, sequence_number)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ConversationID, string(m.Role), parts, attachments, m.SequenceNumber); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// scanConversation reads one conversation row.
func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.Title, &c.Model, &c.SystemPrompt,
		&c.Summary, &c.SummaryUpto, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// scanMessage reads one message row, decoding the JSONB columns.
func scanMessage(row pgx.Row) (*Message, error) {
	var (
		m           Message
		role        string
		parts       []byte
		attachments []byte
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &role, &parts, &attachments,
		&m.SequenceNumber, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	m.Role = Role(role)
	if err := json.Unmarshal(parts, &m.Parts); err != nil {
		return nil, fmt.Errorf("unmarshaling parts: %w", err)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshaling attachments: %w", err)
		}
	}
	return &m, nil
}

// truncateTitle bounds a title to TitleMaxLength runes.
func truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= TitleMaxLength {
		return title
	}
	return string(runes[:TitleMaxLength-3]) + "..."
}
