package chat

import "errors"

var (
	// ErrTurnInFlight indicates the conversation already has a running turn.
	// The caller must wait or stop the current turn first.
	ErrTurnInFlight = errors.New("a turn is already in flight for this conversation")

	// ErrNoResponse indicates the model produced neither text nor calls.
	ErrNoResponse = errors.New("model produced an empty response")

	// ErrNothingToRegenerate indicates the conversation has no user message
	// to replay a response for.
	ErrNothingToRegenerate = errors.New("no user message to regenerate from")
)
