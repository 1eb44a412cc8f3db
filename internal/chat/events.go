package chat

import (
	"github.com/google/uuid"

	"github.com/glimchat/glim/internal/session"
)

// EventSink receives turn lifecycle events for delivery to the client.
// Implementations must not block for long; they are called inline on the
// turn's goroutine.
type EventSink interface {
	// Thought delivers one thought-channel text delta.
	Thought(text string)
	// Answer delivers one answer-channel text delta.
	Answer(text string)
	// Statement delivers a completed sentence from the answer channel.
	Statement(sentence string)

	// MessageAppended fires when a message is persisted to history.
	MessageAppended(msg *session.Message)
	// MessageRetracted fires when a placeholder answer is withdrawn after a
	// stream error.
	MessageRetracted(id uuid.UUID)

	// CallPending, CallSettled and CallFailed mirror function call
	// execution, keyed by call name.
	CallPending(name string)
	CallSettled(name string)
	CallFailed(name string, code int, message string)

	// TurnFinished fires once when the turn completes normally.
	TurnFinished()
	// TurnFailed fires once when the turn aborts with a user-visible error.
	TurnFailed(code int, message string)
}

// NopSink discards all events. Embed it to implement part of EventSink.
type NopSink struct{}

func (NopSink) Thought(string)                  {}
func (NopSink) Answer(string)                   {}
func (NopSink) Statement(string)                {}
func (NopSink) MessageAppended(*session.Message) {}
func (NopSink) MessageRetracted(uuid.UUID)      {}
func (NopSink) CallPending(string)              {}
func (NopSink) CallSettled(string)              {}
func (NopSink) CallFailed(string, int, string)  {}
func (NopSink) TurnFinished()                   {}
func (NopSink) TurnFailed(int, string)          {}
