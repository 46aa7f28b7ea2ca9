package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/avlachos/conclave/internal/council"
	"github.com/avlachos/conclave/internal/roster"
	"github.com/avlachos/conclave/internal/runner"
	"github.com/avlachos/conclave/internal/scheduler"
	"github.com/avlachos/conclave/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Models
	mux.HandleFunc("GET /api/models", s.listModels)

	// Conversations
	mux.HandleFunc("GET /api/conversations", s.listConversations)
	mux.HandleFunc("POST /api/conversations", s.createConversation)
	mux.HandleFunc("GET /api/conversations/{id}", s.getConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.deleteConversation)

	// Messages: one council run per call
	mux.HandleFunc("POST /api/conversations/{id}/message", s.sendMessage)
	mux.HandleFunc("POST /api/conversations/{id}/message/stream", s.sendMessageStream)

	// Scheduled questions
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.updateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// Stored API key
	mux.HandleFunc("GET /api/credentials", s.getCredentialStatus)
	mux.HandleFunc("PUT /api/credentials", s.putCredential)
	mux.HandleFunc("DELETE /api/credentials", s.deleteCredential)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.catalog.Models(r.Context(), r.Header.Get(apiKeyHeader))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	jsonResponse(w, map[string]any{
		"models": models,
		"defaults": map[string]any{
			"council":  s.council.Members,
			"chairman": s.council.Chairman,
		},
	})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.store.ListConversations()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conversations == nil {
		conversations = []store.Conversation{}
	}
	jsonResponse(w, conversations)
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.CreateConversation(uuid.New().String())
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, conv)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.store.GetConversation(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conv == nil {
		jsonError(w, "conversation not found", http.StatusNotFound)
		return
	}

	turns, err := s.store.GetTurns(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if turns == nil {
		turns = []store.Turn{}
	}
	jsonResponse(w, map[string]any{
		"id":         conv.ID,
		"title":      conv.Title,
		"created_at": conv.CreatedAt,
		"updated_at": conv.UpdatedAt,
		"turns":      turns,
	})
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteConversation(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

type messageBody struct {
	Content  string   `json:"content"`
	Council  []string `json:"council_models,omitempty"`
	Chairman string   `json:"chairman_model,omitempty"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseMessageRequest(w, r)
	if !ok {
		return
	}

	result, err := s.runner.AskSync(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, runner.ErrConversationNotFound):
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		case errors.Is(err, runner.ErrConversationBusy):
			jsonError(w, err.Error(), http.StatusConflict)
			return
		case errors.Is(err, roster.ErrTooFewMembers), errors.Is(err, roster.ErrNoChairman), errors.Is(err, roster.ErrEmptyMemberID):
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, council.ErrAllAgentsFailed), errors.Is(err, council.ErrChairmanFailed):
			// Partial outcome: report it with the error, not instead of it.
			jsonResponse(w, map[string]any{"result": result, "error": err.Error()})
			return
		default:
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	jsonResponse(w, map[string]any{"result": result})
}

func (s *Server) parseMessageRequest(w http.ResponseWriter, r *http.Request) (runner.Request, bool) {
	var body messageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return runner.Request{}, false
	}
	if body.Content == "" {
		jsonError(w, "content is required", http.StatusBadRequest)
		return runner.Request{}, false
	}

	return runner.Request{
		ConversationID: r.PathValue("id"),
		Question:       body.Content,
		Council:        body.Council,
		Chairman:       body.Chairman,
		APIKey:         r.Header.Get(apiKeyHeader),
	}, true
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	questions, err := s.store.ListScheduledQuestions()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(questions))
	for _, q := range questions {
		out = append(out, scheduleToAPI(q))
	}
	jsonResponse(w, out)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Schedule string `json:"schedule"`
		Question string `json:"question"`
		Enabled  *bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Schedule == "" || body.Question == "" {
		jsonError(w, "name, schedule, and question are required", http.StatusBadRequest)
		return
	}

	normalized, err := scheduler.Normalize(body.Schedule)
	if err != nil {
		jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
		return
	}

	// Every schedule gets its own conversation so history accumulates.
	conv, err := s.store.CreateConversation(uuid.New().String())
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.UpdateConversationTitle(conv.ID, body.Name); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := "active"
	if body.Enabled != nil && !*body.Enabled {
		status = "paused"
	}

	q := store.ScheduledQuestion{
		ID:             uuid.New().String(),
		Name:           body.Name,
		Schedule:       normalized,
		Question:       body.Question,
		ConversationID: conv.ID,
		Status:         status,
	}
	if status == "active" {
		q.NextRunAt = scheduler.NextRun(normalized)
	}

	if err := s.store.SaveScheduledQuestion(&q); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleToAPI(q))
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := s.store.GetScheduledQuestion(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return
	}

	var body struct {
		Name     *string `json:"name"`
		Schedule *string `json:"schedule"`
		Question *string `json:"question"`
		Enabled  *bool   `json:"enabled"`
		Status   *string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Name != nil {
		existing.Name = *body.Name
	}
	if body.Question != nil {
		existing.Question = *body.Question
	}

	// Handle enabled bool → status mapping
	if body.Enabled != nil {
		if *body.Enabled {
			existing.Status = "active"
		} else if existing.Status != "completed" {
			existing.Status = "paused"
		}
	} else if body.Status != nil {
		existing.Status = *body.Status
	}

	if body.Schedule != nil {
		normalized, err := scheduler.Normalize(*body.Schedule)
		if err != nil {
			jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
			return
		}
		existing.Schedule = normalized
	}

	if existing.Status == "active" {
		existing.NextRunAt = scheduler.NextRun(existing.Schedule)
	} else {
		existing.NextRunAt = nil
	}

	if err := s.store.SaveScheduledQuestion(existing); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleToAPI(*existing))
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteScheduledQuestion(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getCredentialStatus(w http.ResponseWriter, r *http.Request) {
	has, err := s.runner.HasCredential()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]bool{"configured": has})
}

func (s *Server) putCredential(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.APIKey == "" {
		jsonError(w, "api_key is required", http.StatusBadRequest)
		return
	}
	if err := s.runner.StoreCredential(body.APIKey); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "saved"})
}

func (s *Server) deleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.DeleteCredential(); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	conversations, _ := s.store.ListConversations()
	schedules, _ := s.store.ListScheduledQuestions()

	activeSchedules := 0
	for _, q := range schedules {
		if q.Status == "active" {
			activeSchedules++
		}
	}

	jsonResponse(w, map[string]any{
		"status":           "ok",
		"service":          "conclave",
		"version":          s.version,
		"uptime":           formatUptime(time.Since(s.startedAt)),
		"conversations":    len(conversations),
		"active_schedules": activeSchedules,
		"council":          s.council.Members,
		"chairman":         s.council.Chairman,
		"timestamp":        time.Now().UTC(),
	})
}

func scheduleToAPI(q store.ScheduledQuestion) map[string]any {
	m := map[string]any{
		"id":               q.ID,
		"name":             q.Name,
		"schedule":         q.Schedule,
		"schedule_display": scheduler.Describe(q.Schedule),
		"question":         q.Question,
		"conversation_id":  q.ConversationID,
		"enabled":          q.Status == "active",
		"status":           q.Status,
	}
	if q.LastRunAt != nil {
		m["last_run"] = formatMessageTime(*q.LastRunAt)
	}
	if q.NextRunAt != nil {
		m["next_run"] = formatMessageTime(*q.NextRunAt)
	}
	if q.LastError != "" {
		m["last_error"] = q.LastError
	}
	return m
}

func formatMessageTime(t time.Time) string {
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
