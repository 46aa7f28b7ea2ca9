// Package scheduler fires recurring council questions. Each scheduled
// question owns a conversation; every firing appends one more exchange to it.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/avlachos/conclave/internal/config"
	"github.com/avlachos/conclave/internal/natsbus"
	"github.com/avlachos/conclave/internal/runner"
	"github.com/avlachos/conclave/internal/store"
)

type Scheduler struct {
	store        *store.Store
	runner       *runner.Runner
	bus          *natsbus.Client
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, run *runner.Runner, bus *natsbus.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		runner:       run,
		bus:          bus,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig changes the poll interval and signals the run loop to reset
// its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.pollInterval = pollInterval
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler config reloaded", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.GetDueQuestions(time.Now())
	if err != nil {
		slog.Error("failed to get due questions", "error", err)
		return
	}

	for _, q := range due {
		s.execute(ctx, q)
	}
}

func (s *Scheduler) execute(ctx context.Context, q store.ScheduledQuestion) {
	slog.Info("executing scheduled question", "id", q.ID, "name", q.Name)

	_, err := s.runner.AskSync(ctx, runner.Request{
		ConversationID: q.ConversationID,
		Question:       q.Question,
	})

	var lastStatus, lastError string
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled question failed", "id", q.ID, "error", err)
	} else {
		lastStatus = "success"
	}

	nextRun := NextRun(q.Schedule)

	if err := s.store.UpdateQuestionRun(q.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update question run", "id", q.ID, "error", err)
	}

	s.publishExecuted(q, lastStatus)

	// A spent "once" schedule retires itself.
	if nextRun == nil {
		slog.Info("no next run, marking question as completed", "id", q.ID, "name", q.Name)
		if err := s.store.UpdateQuestionStatus(q.ID, "completed"); err != nil {
			slog.Error("failed to complete question", "id", q.ID, "error", err)
		}
	}
}

func (s *Scheduler) publishExecuted(q store.ScheduledQuestion, status string) {
	if s.bus == nil {
		return
	}

	event := map[string]any{
		"type":      "question_executed",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"id":     q.ID,
			"name":   q.Name,
			"status": status,
		},
	}
	if err := s.bus.PublishJSON(natsbus.TopicScheduleEvents(q.ID), event); err != nil {
		slog.Warn("failed to publish schedule event", "id", q.ID, "error", err)
	}
}
