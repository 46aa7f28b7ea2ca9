package council

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avlachos/conclave/internal/llm"
)

// Querier sends one chat request to one named model. Implemented by
// llm.Client; tests substitute fakes.
type Querier interface {
	Chat(ctx context.Context, model string, msgs []llm.Message) (string, error)
}

// Dispatcher wraps a Querier with a per-call timeout and normalizes every
// failure into an AgentResponse. Nothing escapes as an error: one agent's
// failure must never abort its peers.
type Dispatcher struct {
	q       Querier
	timeout time.Duration
}

func NewDispatcher(q Querier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Dispatcher{q: q, timeout: timeout}
}

func (d *Dispatcher) Send(ctx context.Context, agent string, msgs []llm.Message) AgentResponse {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	text, err := d.q.Chat(ctx, agent, msgs)
	if err != nil {
		kind := classify(err)
		slog.Warn("agent query failed", "agent", agent, "kind", kind, "error", err)
		return AgentResponse{Agent: agent, ErrKind: kind}
	}
	return AgentResponse{Agent: agent, Text: text}
}

func classify(err error) ErrorKind {
	var statusErr *llm.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrKindTimeout
	case errors.As(err, &statusErr):
		return ErrKindHTTP
	case errors.Is(err, llm.ErrEmptyCompletion):
		return ErrKindBadResponse
	default:
		return ErrKindUnknown
	}
}
