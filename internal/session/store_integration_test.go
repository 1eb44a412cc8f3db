package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/glimchat/glim/internal/database"
	"github.com/glimchat/glim/internal/log"
)

// startPostgres boots a disposable Postgres, runs migrations and returns a
// connected store. Skipped when no container runtime is available.
func startPostgres(t *testing.T) *Store {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("glim_test"),
		tcpostgres.WithUsername("glim"),
		tcpostgres.WithPassword("glim"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("starting postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminating container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	if err := database.Migrate(connStr); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	pool, err := database.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(pool.Close)

	return NewStore(pool, log.NewNop())
}

func TestStore_ConversationLifecycle(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "trip planning", "gemini-2.5-flash", "be brief")
	if err != nil {
		t.Fatal(err)
	}
	if conv.ID == uuid.Nil || conv.Title != "trip planning" {
		t.Fatalf("conversation = %+v", conv)
	}

	got, err := store.Conversation(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Model != "gemini-2.5-flash" || got.SystemPrompt != "be brief" {
		t.Errorf("loaded = %+v", got)
	}

	if err := store.UpdateTitle(ctx, conv.ID, "weekend trip"); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateSummary(ctx, conv.ID, "talked about trains", 3); err != nil {
		t.Fatal(err)
	}
	got, err = store.Conversation(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "weekend trip" || got.Summary != "talked about trains" || got.SummaryUpto != 3 {
		t.Errorf("after updates = %+v", got)
	}

	list, err := store.ListConversations(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("list = %d conversations", len(list))
	}

	if err := store.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Conversation(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: %v", err)
	}
}

func TestStore_MessageSequencing(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "", "gemini-2.5-flash", "")
	if err != nil {
		t.Fatal(err)
	}

	first := NewUserMessage(conv.ID, "hello")
	second := &Message{ID: uuid.New(), ConversationID: conv.ID, Role: RoleModel, Parts: []Part{{Text: "hi there"}}}
	if err := store.AppendMessages(ctx, conv.ID, []*Message{first, second}); err != nil {
		t.Fatal(err)
	}
	third := NewUserMessage(conv.ID, "weather?")
	if err := store.AppendMessages(ctx, conv.ID, []*Message{third}); err != nil {
		t.Fatal(err)
	}

	msgs, err := store.Messages(ctx, conv.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %d", len(msgs))
	}
	for i, m := range msgs {
		if m.SequenceNumber != i+1 {
			t.Errorf("message %d sequence = %d", i, m.SequenceNumber)
		}
	}

	// Limit returns the most recent tail.
	tail, err := store.Messages(ctx, conv.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].Text() != "hi there" || tail[1].Text() != "weather?" {
		t.Errorf("tail = %+v", tail)
	}

	after, err := store.MessagesAfter(ctx, conv.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 || after[0].SequenceNumber != 2 {
		t.Errorf("after = %+v", after)
	}
}

func TestStore_UpdateAndRemoveMessage(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "", "gemini-2.5-flash", "")
	if err != nil {
		t.Fatal(err)
	}
	placeholder := &Message{ID: uuid.New(), ConversationID: conv.ID, Role: RoleModel}
	if err := store.AppendMessages(ctx, conv.ID, []*Message{placeholder}); err != nil {
		t.Fatal(err)
	}

	parts := []Part{
		{Text: "thinking it over", Thought: true},
		{Text: "The answer is 42."},
		{FunctionCall: &FunctionCall{Name: "Weather__forecast", Args: map[string]any{"location": "Taipei"}}},
	}
	if err := store.UpdateMessageParts(ctx, placeholder.ID, parts); err != nil {
		t.Fatal(err)
	}

	msgs, err := store.Messages(ctx, conv.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || len(msgs[0].Parts) != 3 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Text() != "The answer is 42." {
		t.Errorf("text = %q", msgs[0].Text())
	}
	fc := msgs[0].Parts[2].FunctionCall
	if fc == nil || fc.Name != "Weather__forecast" || fc.Args["location"] != "Taipei" {
		t.Errorf("function call = %+v", fc)
	}

	if err := store.RemoveMessage(ctx, placeholder.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.RemoveMessage(ctx, placeholder.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove: %v", err)
	}
}
