package runner

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/avlachos/conclave/internal/natsbus"
)

// askReply is the response shape for bus requests.
type askReply struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	Answer         string `json:"answer,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ServeBus answers council questions arriving over the NATS request/reply
// subject. A request missing a conversation id gets a fresh conversation.
func (r *Runner) ServeBus(bus *natsbus.Client) (*nats.Subscription, error) {
	return bus.Subscribe(natsbus.TopicAsk, func(msg *nats.Msg) {
		go r.handleBusAsk(msg)
	})
}

func (r *Runner) handleBusAsk(msg *nats.Msg) {
	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.replyBus(msg, askReply{Status: "error", Error: "invalid request: " + err.Error()})
		return
	}

	if req.ConversationID == "" {
		conv, err := r.store.CreateConversation(newConversationID())
		if err != nil {
			r.replyBus(msg, askReply{Status: "error", Error: err.Error()})
			return
		}
		req.ConversationID = conv.ID
	}

	result, err := r.AskSync(context.Background(), req)
	if err != nil && result == nil {
		r.replyBus(msg, askReply{ConversationID: req.ConversationID, Status: "error", Error: err.Error()})
		return
	}

	reply := askReply{
		ConversationID: req.ConversationID,
		Status:         result.Metadata.Status,
		Answer:         result.FinalText(),
	}
	if err != nil {
		reply.Error = err.Error()
	}
	r.replyBus(msg, reply)
}

func (r *Runner) replyBus(msg *nats.Msg, reply askReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		slog.Error("failed to marshal bus reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("failed to respond on bus", "error", err)
	}
}

func newConversationID() string {
	return uuid.NewString()
}
