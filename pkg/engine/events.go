package engine

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/provider"
	"github.com/rhuss/parley/pkg/stream"
)

// streamStep is the state of one streamed model call.
type streamStep struct {
	acc      *stream.Accumulator
	throttle *stream.Throttle
}

// handleStream consumes a streamed completion. The stream is read until
// the backend closes it, even after the answer is complete.
func (r *turnRun) handleStream(ctx context.Context, events <-chan provider.StreamEvent) (bool, error) {
	s := &streamStep{
		acc:      stream.New(),
		throttle: stream.NewThrottle(r.engine.cfg.PublishInterval),
	}

	more, finished := true, false
	for ev := range events {
		if ev.Err != nil {
			return false, ev.Err
		}
		if ev.Chunk == nil {
			continue
		}
		if ev.Chunk.Usage != nil {
			recordUsage(r.engine.completion.Name(), r.turn.Model, *ev.Chunk.Usage)
		}

		choices := slices.Clone(ev.Chunk.Choices)
		sort.SliceStable(choices, func(i, j int) bool { return choices[i].Index < choices[j].Index })
		for _, c := range choices {
			if endsChoice(c) {
				finished = true
			}
			done, err := r.streamChoice(ctx, s, c)
			if err != nil {
				return false, err
			}
			if done {
				more = false
			}
		}
	}
	if !finished {
		return false, api.NewTransportError("stream_incomplete", "completion stream ended before any choice finished")
	}
	return more, nil
}

// endsChoice reports whether a streamed choice carries its finish reason or
// the end of a data-source turn.
func endsChoice(c provider.ChunkChoice) bool {
	if c.FinishReason != "" {
		return true
	}
	for _, m := range c.Messages {
		if m.EndTurn {
			return true
		}
	}
	return false
}

// streamChoice applies one streamed choice and reports whether it ended
// the turn.
func (r *turnRun) streamChoice(ctx context.Context, s *streamStep, c provider.ChunkChoice) (bool, error) {
	switch {
	case c.FinishReason != "":
		if _, err := s.acc.ApplyDelta(c.Delta); err != nil {
			return false, err
		}
		return r.finishStream(ctx, s, c)

	case c.Delta == nil && len(c.Messages) > 0:
		endTurn, changed, err := s.acc.ApplyDataSourceBatch(c.Messages)
		if err != nil {
			return false, err
		}
		if changed {
			r.publishInterim(ctx, s, false)
		}
		if !endTurn {
			return false, nil
		}
		if s.acc.HasCitations() {
			r.response.Citations = append(r.response.Citations, s.acc.Citations()...)
		}
		r.publishInterim(ctx, s, true)
		r.answer(s.acc.Role(), s.acc.Content(), r.response.Citations)
		return true, nil

	default:
		changed, err := s.acc.ApplyDelta(c.Delta)
		if err != nil {
			return false, err
		}
		if changed {
			r.publishInterim(ctx, s, false)
		}
		return false, nil
	}
}

// finishStream handles the finish reason of a streamed choice.
func (r *turnRun) finishStream(ctx context.Context, s *streamStep, c provider.ChunkChoice) (bool, error) {
	debug.Log("stream", "choice finished", "choice", c.Index, "finish_reason", c.FinishReason)
	switch c.FinishReason {
	case provider.FinishToolCalls:
		calls := s.acc.ToolCalls()
		if len(calls) == 0 {
			logUnhandledFinish(c.FinishReason, c.Index)
			return false, nil
		}
		if err := r.runToolCalls(ctx, s.acc.Role(), calls); err != nil {
			return false, err
		}
		return false, nil
	case provider.FinishStop:
		r.publishInterim(ctx, s, true)
		r.answer(s.acc.Role(), s.acc.Content(), nil)
		return true, nil
	default:
		logUnhandledFinish(c.FinishReason, c.Index)
		return false, nil
	}
}

// publishInterim sends pending text to the stream when the throttle
// allows it or force is set.
func (r *turnRun) publishInterim(ctx context.Context, s *streamStep, force bool) {
	if r.turn.StreamID == "" {
		return
	}
	if !s.throttle.Ready(s.acc.Pending(), force, time.Now()) {
		return
	}
	r.engine.publish(ctx, r.turn, api.NewInterimDelta(s.acc.TakePending()))
}
