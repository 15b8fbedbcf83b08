package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"codechat/internal/domain"
	"codechat/internal/metrics"
)

// EventSink is the outbound half of one streamed response.
type EventSink interface {
	// Send writes and flushes one frame. An error means the client is gone.
	Send(ev domain.StreamEvent) error
	Close() error
}

// RelayState is the lifecycle of one streamed turn. Completed and Failed
// are terminal.
type RelayState int

const (
	StateIdle RelayState = iota
	StateStreaming
	StateCompleted
	StateFailed
)

func (s RelayState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RelayResult summarizes a finished stream.
type RelayResult struct {
	State   RelayState
	Outcome string
	Deltas  int

	// Reply is the stored AI message; nil when nothing was persisted.
	Reply *domain.ChatMessage
}

var errRelayClosed = errors.New("usecase: relay no longer streaming")

// relay forwards one provider stream to an EventSink. It is the
// domain.StreamSink handed to the completion client and is used by a
// single goroutine.
type relay struct {
	svc  *ChatService
	ctx  context.Context
	turn *Turn
	out  EventSink

	state       RelayState
	accumulated strings.Builder
	started     time.Time
	result      RelayResult
}

func (r *relay) run() RelayResult {
	if r.turn == nil {
		_ = r.out.Send(domain.ErrorEvent("internal error"))
		_ = r.out.Close()
		return RelayResult{State: StateFailed, Outcome: metrics.OutcomeProviderErr}
	}
	r.started = r.svc.now()
	r.state = StateStreaming
	end := r.svc.metrics.StreamStarted()

	r.svc.llm.CompleteStream(r.ctx, r.turn.Prompt, r)

	if r.state == StateStreaming {
		// The provider returned without a terminal callback; only an aborted
		// OnDelta does that.
		r.fail(metrics.OutcomeDisconnected)
	}
	if err := r.out.Close(); err != nil {
		r.svc.log.Debug("close event sink", "session_id", r.turn.SessionID, "err", err)
	}

	r.result.State = r.state
	end(r.result.Outcome, r.svc.now().Sub(r.started))
	r.svc.metrics.RecordTurn(metrics.ModeStream, r.result.Outcome)
	r.svc.log.Info("chat stream finished",
		"session_id", r.turn.SessionID,
		"new_session", r.turn.IsNewSession,
		"state", r.state.String(),
		"outcome", r.result.Outcome,
		"deltas", r.result.Deltas,
		"duration_ms", r.svc.now().Sub(r.turn.started).Milliseconds(),
	)
	return r.result
}

func (r *relay) OnDelta(text string) error {
	if r.state != StateStreaming {
		return errRelayClosed
	}
	if err := r.ctx.Err(); err != nil {
		r.fail(metrics.OutcomeDisconnected)
		return err
	}
	if err := r.out.Send(domain.DeltaEvent(text)); err != nil {
		r.fail(metrics.OutcomeDisconnected)
		return err
	}
	if r.result.Deltas == 0 {
		r.svc.metrics.RecordTimeToFirstDelta(r.svc.now().Sub(r.started))
	}
	r.result.Deltas++
	r.svc.metrics.RecordDelta()
	r.accumulated.WriteString(text)
	return nil
}

// OnDone sends the terminal frame and stores the reply. fullText wins over
// the accumulated deltas when the two differ.
func (r *relay) OnDone(fullText string, meta domain.Completion) {
	if r.state != StateStreaming {
		return
	}
	r.state = StateCompleted
	r.result.Outcome = metrics.OutcomeCompleted

	if acc := r.accumulated.String(); acc != fullText {
		r.svc.log.Warn("stream deltas diverge from final text",
			"session_id", r.turn.SessionID,
			"accumulated_len", len(acc),
			"full_len", len(fullText),
		)
	}
	if err := r.out.Send(domain.DoneEvent(fullText, r.turn.SessionID, r.turn.IsNewSession)); err != nil {
		// The generation is complete, so the reply is stored regardless.
		r.svc.metrics.RecordClientDisconnect()
		r.svc.log.Warn("client left before done frame", "session_id", r.turn.SessionID, "err", err)
	}

	meta.Text = fullText
	usage := r.svc.usage(r.turn.Prompt, meta)
	r.svc.metrics.RecordTokens(meta.Model, usage.PromptTokens, usage.CompletionTokens)
	msg, err := r.svc.persistReply(context.WithoutCancel(r.ctx), r.turn, meta, usage, metrics.ModeStream)
	if err == nil {
		r.result.Reply = &msg
	}
}

// OnError ends the stream with an error frame. Nothing generated so far is
// stored.
func (r *relay) OnError(message string) {
	if r.state != StateStreaming {
		return
	}
	if r.ctx.Err() != nil {
		r.fail(metrics.OutcomeDisconnected)
		return
	}
	r.fail(metrics.OutcomeProviderErr)
	if err := r.out.Send(domain.ErrorEvent(message)); err != nil {
		r.svc.log.Debug("send error frame", "session_id", r.turn.SessionID, "err", err)
	}
	r.svc.log.Warn("chat stream failed", "session_id", r.turn.SessionID, "reason", message)
}

func (r *relay) fail(outcome string) {
	r.state = StateFailed
	r.result.Outcome = outcome
	r.accumulated.Reset()
	if outcome == metrics.OutcomeDisconnected {
		r.svc.metrics.RecordClientDisconnect()
	}
}
