package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/avlachos/conclave/internal/roster"
	"github.com/avlachos/conclave/internal/runner"
)

// sendMessageStream runs the council and streams progress as Server-Sent
// Events, one "data:" line per event. The client dropping the connection
// does not abort the run; the outcome still lands in the conversation.
func (s *Server) sendMessageStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseMessageRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, err := s.runner.Ask(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, runner.ErrConversationNotFound):
			jsonError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, runner.ErrConversationBusy):
			jsonError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, roster.ErrTooFewMembers), errors.Is(err, roster.ErrNoChairman), errors.Is(err, roster.ErrEmptyMemberID):
			jsonError(w, err.Error(), http.StatusBadRequest)
		default:
			jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	gone := r.Context().Done()
	for ev := range events {
		if !runner.FilterStream(ev) {
			continue
		}
		select {
		case <-gone:
			// Keep draining so the run can settle; just stop writing.
			continue
		default:
		}

		data, err := runner.MarshalEvent(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}
