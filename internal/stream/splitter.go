// Package stream demultiplexes a model token stream into independent thought
// and answer channels, detects sentence boundaries for incremental speech,
// and collects function calls for delivery after the stream ends.
package stream

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/glimchat/glim/internal/session"
)

// ErrCancelled reports that the splitter was stopped before the stream
// naturally ended. Text already delivered stays delivered; collected
// function calls are discarded.
var ErrCancelled = errors.New("stream cancelled")

// State is the splitter's demultiplexing phase.
type State int32

const (
	StateAwaitingThought State = iota
	StateInThought
	StateInAnswer
	StateDone
	StateCancelled
)

// Part is one content fragment of a stream chunk.
type Part struct {
	Text         string
	Thought      bool
	FunctionCall *session.FunctionCall
}

// Chunk is one model stream delta.
type Chunk struct {
	Parts []Part
}

// FromGenAI flattens a model SDK response chunk across all candidates.
func FromGenAI(resp *genai.GenerateContentResponse) Chunk {
	var c Chunk
	if resp == nil {
		return c
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p == nil {
				continue
			}
			part := Part{Text: p.Text, Thought: p.Thought}
			if p.FunctionCall != nil {
				part.FunctionCall = &session.FunctionCall{
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				}
			}
			c.Parts = append(c.Parts, part)
		}
	}
	return c
}

// Options configures a Splitter.
type Options struct {
	// ThinkingModel enables thought classification. Without it every text
	// part goes straight to the answer channel.
	ThinkingModel bool
	// OnStatement fires when the answer accumulator crosses a sentence
	// boundary. Best-effort segmentation; may be nil.
	OnStatement func(sentence string)
	// OnFinish fires exactly once on natural completion. It carries no
	// payload: accumulated text lives with the consumer.
	OnFinish func()
	// ChannelBuffer sizes the two output channels. Zero means unbuffered.
	ChannelBuffer int
}

// Splitter consumes one model stream and fans its text out to a thought
// channel and an answer channel. A Splitter is single-use.
type Splitter struct {
	opts     Options
	state    atomic.Int32
	stopped  atomic.Bool
	thoughts chan string
	answers  chan string

	calls    []session.FunctionCall
	sentence sentenceBuffer
}

// New creates a Splitter in StateAwaitingThought.
func New(opts Options) *Splitter {
	return &Splitter{
		opts:     opts,
		thoughts: make(chan string, opts.ChannelBuffer),
		answers:  make(chan string, opts.ChannelBuffer),
	}
}

// Thoughts is the stream of thought-classified text.
func (s *Splitter) Thoughts() <-chan string { return s.thoughts }

// Answers is the stream of answer text.
func (s *Splitter) Answers() <-chan string { return s.answers }

// State returns the current demultiplexing phase.
func (s *Splitter) State() State { return State(s.state.Load()) }

// Cancel sets the cooperative stop flag. It takes effect between chunks;
// a chunk already being classified finishes delivery.
func (s *Splitter) Cancel() { s.stopped.Store(true) }

// Run consumes the chunk sequence until it ends, errs, or is cancelled.
// Both channels are closed on every exit path. Function calls are returned
// only on natural completion, flattened in chunk order.
func (s *Splitter) Run(ctx context.Context, seq iter.Seq2[Chunk, error]) ([]session.FunctionCall, error) {
	defer close(s.thoughts)
	defer close(s.answers)

	for chunk, err := range seq {
		if err != nil {
			s.state.Store(int32(StateDone))
			return nil, err
		}
		if s.stopped.Load() || ctx.Err() != nil {
			s.state.Store(int32(StateCancelled))
			return nil, ErrCancelled
		}
		if err := s.consume(ctx, chunk); err != nil {
			s.state.Store(int32(StateCancelled))
			return nil, err
		}
	}

	if s.stopped.Load() {
		s.state.Store(int32(StateCancelled))
		return nil, ErrCancelled
	}

	s.state.Store(int32(StateDone))
	if rest := s.sentence.flush(); rest != "" && s.opts.OnStatement != nil {
		s.opts.OnStatement(rest)
	}
	if s.opts.OnFinish != nil {
		s.opts.OnFinish()
	}
	return s.calls, nil
}

// consume classifies and delivers one chunk's parts.
func (s *Splitter) consume(ctx context.Context, chunk Chunk) error {
	textParts := 0
	for _, p := range chunk.Parts {
		if p.FunctionCall == nil && p.Text != "" {
			textParts++
		}
	}

	textIndex := 0
	for _, p := range chunk.Parts {
		if p.FunctionCall != nil {
			s.calls = append(s.calls, *p.FunctionCall)
			continue
		}
		if p.Text == "" {
			continue
		}

		if s.classify(p, textIndex, textParts) {
			if err := s.send(ctx, s.thoughts, p.Text); err != nil {
				return err
			}
		} else {
			if err := s.send(ctx, s.answers, p.Text); err != nil {
				return err
			}
			for _, sentence := range s.sentence.push(p.Text) {
				if s.opts.OnStatement != nil {
					s.opts.OnStatement(sentence)
				}
			}
		}
		textIndex++
	}
	return nil
}

// classify reports whether a text part belongs to the thought channel.
//
// Only thinking models produce thoughts, and only before the first answer
// token: once in StateInAnswer the split never reverts, even for parts
// individually flagged as thought.
func (s *Splitter) classify(p Part, textIndex, textParts int) bool {
	if !s.opts.ThinkingModel {
		s.state.Store(int32(StateInAnswer))
		return false
	}
	if s.State() == StateInAnswer {
		return false
	}

	// Explicit tag, or the two-text-parts heuristic: exactly two text parts
	// in one chunk means thought first, answer second.
	if p.Thought || (textParts == 2 && textIndex == 0) {
		s.state.Store(int32(StateInThought))
		return true
	}
	s.state.Store(int32(StateInAnswer))
	return false
}

// send delivers text to a channel, honoring context cancellation so an
// abandoned consumer cannot wedge the stream.
func (s *Splitter) send(ctx context.Context, ch chan string, text string) error {
	select {
	case ch <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
