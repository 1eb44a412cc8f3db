// Package chat implements the conversation orchestrator: it owns history,
// runs model turns, demultiplexes the token stream, executes function call
// batches and feeds their results back until the model settles on an answer.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/glimchat/glim/internal/dispatch"
	"github.com/glimchat/glim/internal/log"
	"github.com/glimchat/glim/internal/plugin"
	"github.com/glimchat/glim/internal/session"
	"github.com/glimchat/glim/internal/stream"
)

// Error codes surfaced through EventSink.TurnFailed.
const (
	CodeNothingToRegenerate = 40004
	CodeTurnBusy            = 40901
	CodeModelFailure        = 50003
)

// FallbackAnswer replaces a completely empty model response.
const FallbackAnswer = "I couldn't generate a response. Please try rephrasing your question."

// Store is the slice of the session store the orchestrator needs.
type Store interface {
	Conversation(ctx context.Context, id uuid.UUID) (*session.Conversation, error)
	Messages(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*session.Message, error)
	MessagesAfter(ctx context.Context, conversationID uuid.UUID, seq int) ([]*session.Message, error)
	AppendMessages(ctx context.Context, conversationID uuid.UUID, msgs []*session.Message) error
	UpdateMessageParts(ctx context.Context, id uuid.UUID, parts []session.Part) error
	RemoveMessage(ctx context.Context, id uuid.UUID) error
	UpdateSummary(ctx context.Context, id uuid.UUID, summary string, upto int) error
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
}

// Config carries the orchestrator's dependencies and tuning.
type Config struct {
	Generator  Generator
	Store      Store
	Registry   *plugin.Registry
	Dispatcher *dispatch.Dispatcher
	Logger     log.Logger

	DefaultModel    string
	SystemPrompt    string
	Temperature     float32
	MaxOutputTokens int32

	// MaxToolTurns bounds the call-and-resubmit loop within one user turn.
	MaxToolTurns int
	// MaxHistoryMessages bounds how much history is loaded per turn.
	MaxHistoryMessages int32
	// IsThinkingModel reports whether a model's stream carries thoughts.
	IsThinkingModel func(model string) bool

	Retry       RetryConfig
	Breaker     BreakerConfig
	RateLimiter *rate.Limiter
	TokenBudget TokenBudget
}

func (cfg Config) validate() error {
	if cfg.Generator == nil {
		return errors.New("generator is required")
	}
	if cfg.Store == nil {
		return errors.New("session store is required")
	}
	if cfg.Registry == nil {
		return errors.New("plugin registry is required")
	}
	if cfg.Dispatcher == nil {
		return errors.New("dispatcher is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Orchestrator drives conversations. Safe for concurrent use; concurrent
// turns on the same conversation are rejected with ErrTurnInFlight.
type Orchestrator struct {
	gen        Generator
	store      Store
	registry   *plugin.Registry
	dispatcher *dispatch.Dispatcher
	logger     log.Logger

	defaultModel    string
	systemPrompt    string
	temperature     float32
	maxOutputTokens int32
	maxToolTurns    int
	maxHistory      int32
	isThinking      func(string) bool

	retry       RetryConfig
	breaker     *breaker
	rateLimiter *rate.Limiter
	tokenBudget TokenBudget

	mu       sync.Mutex
	inFlight map[uuid.UUID]context.CancelFunc
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxToolTurns := cfg.MaxToolTurns
	if maxToolTurns <= 0 {
		maxToolTurns = 5
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}
	budget := cfg.TokenBudget
	if budget.MaxHistoryTokens == 0 {
		budget = DefaultTokenBudget()
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}
	isThinking := cfg.IsThinkingModel
	if isThinking == nil {
		isThinking = func(string) bool { return false }
	}

	return &Orchestrator{
		gen:             cfg.Generator,
		store:           cfg.Store,
		registry:        cfg.Registry,
		dispatcher:      cfg.Dispatcher,
		logger:          cfg.Logger,
		defaultModel:    cfg.DefaultModel,
		systemPrompt:    cfg.SystemPrompt,
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
		maxToolTurns:    maxToolTurns,
		maxHistory:      cfg.MaxHistoryMessages,
		isThinking:      isThinking,
		retry:           retry,
		breaker:         newBreaker(cfg.Breaker),
		rateLimiter:     limiter,
		tokenBudget:     budget,
		inFlight:        make(map[uuid.UUID]context.CancelFunc),
	}, nil
}

// Stop cancels the conversation's in-flight turn, if any.
func (o *Orchestrator) Stop(conversationID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.inFlight[conversationID]
	if ok {
		cancel()
	}
	return ok
}

// begin registers an in-flight turn and returns its cancellable context.
func (o *Orchestrator) begin(ctx context.Context, conversationID uuid.UUID) (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[conversationID]; busy {
		return nil, ErrTurnInFlight
	}
	turnCtx, cancel := context.WithCancel(ctx)
	o.inFlight[conversationID] = cancel
	return turnCtx, nil
}

func (o *Orchestrator) end(conversationID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.inFlight[conversationID]; ok {
		cancel()
		delete(o.inFlight, conversationID)
	}
}

// Submit runs one full user turn: persist the user message, stream the model
// response, execute any function calls and resubmit until the model answers
// in text or the tool-turn budget runs out.
func (o *Orchestrator) Submit(ctx context.Context, conversationID uuid.UUID, text string, attachments []session.Attachment, sink EventSink) error {
	turnCtx, err := o.begin(ctx, conversationID)
	if err != nil {
		sink.TurnFailed(CodeTurnBusy, err.Error())
		return err
	}
	defer o.end(conversationID)

	turnCtx, span := otel.Tracer("glim/chat").Start(turnCtx, "chat.turn")
	span.SetAttributes(attribute.String("conversation.id", conversationID.String()))
	defer span.End()

	conv, err := o.store.Conversation(turnCtx, conversationID)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}

	userMsg := session.NewUserMessage(conversationID, text)
	userMsg.Attachments = attachments
	if err := o.store.AppendMessages(turnCtx, conversationID, []*session.Message{userMsg}); err != nil {
		return fmt.Errorf("appending user message: %w", err)
	}
	sink.MessageAppended(userMsg)

	history, err := o.store.Messages(turnCtx, conversationID, o.maxHistory)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	contents, err := toContents(o.afterSummary(conv, history))
	if err != nil {
		return err
	}

	return o.runTurns(turnCtx, conv, contents, len(history) <= 1, text, sink)
}

// Regenerate revokes the model's latest response, along with any function
// responses trailing the last user message, and replays the turn from that
// user message.
func (o *Orchestrator) Regenerate(ctx context.Context, conversationID uuid.UUID, sink EventSink) error {
	turnCtx, err := o.begin(ctx, conversationID)
	if err != nil {
		sink.TurnFailed(CodeTurnBusy, err.Error())
		return err
	}
	defer o.end(conversationID)

	turnCtx, span := otel.Tracer("glim/chat").Start(turnCtx, "chat.regenerate")
	span.SetAttributes(attribute.String("conversation.id", conversationID.String()))
	defer span.End()

	conv, err := o.store.Conversation(turnCtx, conversationID)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}
	history, err := o.store.Messages(turnCtx, conversationID, o.maxHistory)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	last := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == session.RoleUser {
			last = i
			break
		}
	}
	if last == -1 {
		sink.TurnFailed(CodeNothingToRegenerate, ErrNothingToRegenerate.Error())
		return ErrNothingToRegenerate
	}
	for _, m := range history[last+1:] {
		if err := o.store.RemoveMessage(turnCtx, m.ID); err != nil {
			return fmt.Errorf("revoking message %s: %w", m.ID, err)
		}
		sink.MessageRetracted(m.ID)
	}
	history = history[:last+1]

	contents, err := toContents(o.afterSummary(conv, history))
	if err != nil {
		return err
	}

	return o.runTurns(turnCtx, conv, contents, len(history) <= 1, history[last].Text(), sink)
}

// runTurns drives the call-and-resubmit loop for one turn whose prompt
// contents are already assembled.
func (o *Orchestrator) runTurns(turnCtx context.Context, conv *session.Conversation, contents []*genai.Content, firstExchange bool, userText string, sink EventSink) error {
	conversationID := conv.ID
	model := conv.Model
	if model == "" {
		model = o.defaultModel
	}
	genCfg := o.generateConfig(conv)

	for turn := 0; turn < o.maxToolTurns; turn++ {
		outcome, err := o.streamTurn(turnCtx, conversationID, model, contents, genCfg, sink)
		if err != nil {
			if errors.Is(err, stream.ErrCancelled) || errors.Is(err, context.Canceled) {
				o.logger.Debug("turn cancelled", "conversation", conversationID)
				return nil
			}
			sink.TurnFailed(CodeModelFailure, err.Error())
			return err
		}

		if len(outcome.calls) == 0 {
			sink.TurnFinished()
			o.finishTurn(turnCtx, conv, firstExchange, userText, outcome.answer)
			return nil
		}

		batch := o.dispatcher.Execute(turnCtx, outcome.calls, dispatch.Events{
			OnPending: sink.CallPending,
			OnSettled: sink.CallSettled,
			OnError:   sink.CallFailed,
		})
		if batch.Empty() {
			// Every call failed: no function-response message, no resubmission.
			o.logger.Warn("all function calls failed", "conversation", conversationID, "calls", len(outcome.calls))
			sink.TurnFinished()
			return nil
		}

		fnMsg := &session.Message{
			ID:             uuid.New(),
			ConversationID: conversationID,
			Role:           session.RoleFunction,
			Parts:          batch.ResponseParts(),
		}
		if err := o.store.AppendMessages(turnCtx, conversationID, []*session.Message{fnMsg}); err != nil {
			return fmt.Errorf("appending function responses: %w", err)
		}
		sink.MessageAppended(fnMsg)

		// Resubmit with the model's call turn and our responses, no user text.
		modelContent, err := toContent(outcome.message)
		if err != nil {
			return err
		}
		fnContent, err := toContent(fnMsg)
		if err != nil {
			return err
		}
		contents = append(contents, modelContent, fnContent)
	}

	o.logger.Warn("tool turn budget exhausted", "conversation", conversationID, "maxToolTurns", o.maxToolTurns)
	sink.TurnFinished()
	return nil
}

// turnOutcome is the result of one streamed model response.
type turnOutcome struct {
	message *session.Message
	answer  string
	calls   []session.FunctionCall
}

// streamTurn appends a placeholder model message, streams one response into
// it and returns the parsed outcome. On stream failure the placeholder is
// retracted rather than left dangling.
func (o *Orchestrator) streamTurn(ctx context.Context, conversationID uuid.UUID, model string, contents []*genai.Content, genCfg *genai.GenerateContentConfig, sink EventSink) (*turnOutcome, error) {
	if err := o.breaker.allow(); err != nil {
		return nil, err
	}
	if err := o.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	placeholder := &session.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           session.RoleModel,
	}
	if err := o.store.AppendMessages(ctx, conversationID, []*session.Message{placeholder}); err != nil {
		return nil, fmt.Errorf("appending placeholder: %w", err)
	}
	sink.MessageAppended(placeholder)

	splitter := stream.New(stream.Options{
		ThinkingModel: o.isThinking(model),
		OnStatement:   sink.Statement,
		ChannelBuffer: 16,
	})

	var wg sync.WaitGroup
	var thoughtText, answerText strings.Builder
	wg.Add(2)
	go func() {
		defer wg.Done()
		for text := range splitter.Thoughts() {
			thoughtText.WriteString(text)
			sink.Thought(text)
		}
	}()
	go func() {
		defer wg.Done()
		for text := range splitter.Answers() {
			answerText.WriteString(text)
			sink.Answer(text)
		}
	}()

	seq := o.gen.GenerateStream(ctx, model, contents, genCfg)
	calls, runErr := splitter.Run(ctx, toChunks(seq))
	wg.Wait()

	if runErr != nil {
		if !errors.Is(runErr, stream.ErrCancelled) && !errors.Is(runErr, context.Canceled) {
			o.breaker.failure()
		}
		o.retract(ctx, placeholder.ID, sink)
		return nil, runErr
	}
	o.breaker.success()

	answer := answerText.String()
	if strings.TrimSpace(answer) == "" && len(calls) == 0 {
		o.logger.Warn("empty model response", "conversation", conversationID, "model", model)
		answer = FallbackAnswer
	}

	var parts []session.Part
	if t := thoughtText.String(); t != "" {
		parts = append(parts, session.Part{Text: t, Thought: true})
	}
	if answer != "" {
		parts = append(parts, session.Part{Text: answer})
	}
	for i := range calls {
		parts = append(parts, session.Part{FunctionCall: &calls[i]})
	}
	placeholder.Parts = parts
	if err := o.store.UpdateMessageParts(ctx, placeholder.ID, parts); err != nil {
		return nil, fmt.Errorf("storing model message: %w", err)
	}

	return &turnOutcome{message: placeholder, answer: answer, calls: calls}, nil
}

// retract removes a placeholder after a stream error. Removal is best
// effort: the turn already failed, and the retraction context may itself be
// cancelled, so fall back to a detached context.
func (o *Orchestrator) retract(ctx context.Context, id uuid.UUID, sink EventSink) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := o.store.RemoveMessage(ctx, id); err != nil {
		o.logger.Error("retracting placeholder failed", "message", id, "error", err)
		return
	}
	sink.MessageRetracted(id)
}

// finishTurn runs post-turn housekeeping: title generation on the first
// exchange and summary compaction. Both are best effort.
func (o *Orchestrator) finishTurn(ctx context.Context, conv *session.Conversation, firstExchange bool, userText, answer string) {
	ctx = context.WithoutCancel(ctx)
	if firstExchange && conv.Title == "" {
		o.generateTitle(ctx, conv, userText, answer)
	}
	o.maybeCompact(ctx, conv)
}

// toChunks adapts the SDK stream into splitter chunks.
func toChunks(seq func(yield func(*genai.GenerateContentResponse, error) bool)) func(yield func(stream.Chunk, error) bool) {
	return func(yield func(stream.Chunk, error) bool) {
		for resp, err := range seq {
			if err != nil {
				yield(stream.Chunk{}, err)
				return
			}
			if !yield(stream.FromGenAI(resp), nil) {
				return
			}
		}
	}
}

// afterSummary drops history the conversation summary already covers.
func (o *Orchestrator) afterSummary(conv *session.Conversation, history []*session.Message) []*session.Message {
	if conv.Summary == "" || conv.SummaryUpto <= 0 {
		return history
	}
	for i, m := range history {
		if m.SequenceNumber > conv.SummaryUpto {
			return history[i:]
		}
	}
	return nil
}

func (o *Orchestrator) generateConfig(conv *session.Conversation) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Tools: toTools(o.registry.EnabledTools()),
	}
	if o.temperature > 0 {
		t := o.temperature
		cfg.Temperature = &t
	}
	if o.maxOutputTokens > 0 {
		cfg.MaxOutputTokens = o.maxOutputTokens
	}

	system := o.systemPrompt
	if conv.SystemPrompt != "" {
		system = conv.SystemPrompt
	}
	if conv.Summary != "" {
		system += "\n\nSummary of the conversation so far:\n" + conv.Summary
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	model := conv.Model
	if model == "" {
		model = o.defaultModel
	}
	if o.isThinking(model) {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return cfg
}
