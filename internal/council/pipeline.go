package council

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avlachos/conclave/internal/llm"
)

// Event types emitted over the run's event stream, in pipeline order.
const (
	EventStage1Start    = "stage1_start"
	EventStage1Complete = "stage1_complete"
	EventStage2Start    = "stage2_start"
	EventStage2Complete = "stage2_complete"
	EventStage3Start    = "stage3_start"
	EventStage3Complete = "stage3_complete"
	EventTitleComplete  = "title_complete"
	EventComplete       = "complete"
	EventError          = "error"
)

// Event is one progress notification from a running pipeline.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// EventFunc receives pipeline events as each stage settles. It is called
// from the pipeline's goroutine; implementations must not block for long.
type EventFunc func(Event)

// Ranker policies: who participates in stage 2.
const (
	RankersAll       = "all"
	RankersSucceeded = "succeeded"
)

// Terminal pipeline errors. Both come back alongside a partial Result.
var (
	ErrAllAgentsFailed = errors.New("all council agents failed")
	ErrChairmanFailed  = errors.New("chairman synthesis failed")
)

// Pipeline runs the three council stages against a Dispatcher. One Pipeline
// is safe for concurrent runs; all per-run state lives in Run's frame.
type Pipeline struct {
	d       *Dispatcher
	rankers string
}

func NewPipeline(d *Dispatcher, rankers string) *Pipeline {
	if rankers == "" {
		rankers = RankersAll
	}
	return &Pipeline{d: d, rankers: rankers}
}

// Run executes a full council deliberation. It always returns a Result;
// the error is non-nil only for the two terminal outcomes, and even then
// the Result holds everything produced before the abort. A nil emit is
// fine for callers that do not care about progress.
func (p *Pipeline) Run(ctx context.Context, question string, history []llm.Message, councilAgents []string, chairman string, emit EventFunc) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}

	started := time.Now().UTC()
	res := &Result{
		Question: question,
		Metadata: Metadata{
			RunID:     uuid.NewString(),
			Council:   councilAgents,
			Chairman:  chairman,
			StartedAt: started,
		},
	}
	finish := func(status string) {
		res.Metadata.Status = status
		res.Metadata.CompletedAt = time.Now().UTC()
		res.Metadata.DurationMs = res.Metadata.CompletedAt.Sub(started).Milliseconds()
	}

	log := slog.With("run", res.Metadata.RunID)
	log.Info("council run starting", "question_len", len(question), "council", len(councilAgents), "chairman", chairman)

	// Stage 1: every member answers independently.
	emit(Event{Type: EventStage1Start})
	res.Stage1 = runStage(ctx, p.d, councilAgents, func(string) []llm.Message {
		return stage1Messages(question, history)
	})
	emit(Event{Type: EventStage1Complete, Data: res.Stage1})

	succeeded := res.Stage1.Succeeded()
	if len(succeeded) == 0 {
		log.Error("all agents failed in stage 1")
		finish(StatusAllFailed)
		emit(Event{Type: EventError, Data: map[string]string{"message": "all council agents failed to respond"}})
		return res, ErrAllAgentsFailed
	}
	log.Info("stage 1 complete", "succeeded", len(succeeded), "failed", len(councilAgents)-len(succeeded))

	// Stage 2: anonymized cross-ranking. A member that failed stage 1 can
	// still rank under the "all" policy; it just has no answer in the set.
	emit(Event{Type: EventStage2Start})
	labels := newLabelMap(res.Stage1)
	view := labels.View(res.Stage1)

	rankers := councilAgents
	if p.rankers == RankersSucceeded {
		rankers = succeeded
	}

	rankSet := runStage(ctx, p.d, rankers, func(string) []llm.Message {
		return stage2Messages(question, view)
	})
	stage2 := &Stage2{LabelMap: labels}
	for _, agent := range rankSet.Order {
		resp := rankSet.Responses[agent]
		if resp.Failed() {
			stage2.Rankings = append(stage2.Rankings, Ranking{Agent: agent, ErrKind: resp.ErrKind})
			continue
		}
		stage2.Rankings = append(stage2.Rankings, parseRanking(agent, resp.Text, labels))
	}
	stage2.Aggregate = aggregate(stage2.Rankings, labels, res.Stage1)
	res.Stage2 = stage2
	emit(Event{Type: EventStage2Complete, Data: stage2})
	log.Info("stage 2 complete", "rankings", len(stage2.Rankings))

	// Stage 3: chairman synthesis over the full de-anonymized record.
	emit(Event{Type: EventStage3Start})
	chairResp := p.d.Send(ctx, chairman, stage3Messages(question, history, res.Stage1, stage2))
	res.Stage3 = &Stage3{Chairman: chairman, Response: chairResp}
	emit(Event{Type: EventStage3Complete, Data: res.Stage3})

	if chairResp.Failed() {
		log.Error("chairman synthesis failed", "chairman", chairman, "kind", chairResp.ErrKind)
		finish(StatusChairmanFailed)
		emit(Event{Type: EventError, Data: map[string]string{"message": "chairman failed to synthesize a final answer"}})
		return res, ErrChairmanFailed
	}

	finish(StatusComplete)
	emit(Event{Type: EventComplete, Data: res.Metadata})
	log.Info("council run complete", "duration_ms", res.Metadata.DurationMs)
	return res, nil
}

// Title generates a short conversation title from the opening question using
// the given model. On any failure it falls back to a truncation of the
// question itself, so callers always get something displayable.
func (p *Pipeline) Title(ctx context.Context, model, question string) string {
	resp := p.d.Send(ctx, model, titleMessages(question))
	if resp.Failed() {
		return fallbackTitle(question)
	}
	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Text), `"`))
	if title == "" {
		return fallbackTitle(question)
	}
	if len(title) > 80 {
		title = title[:80]
	}
	return title
}

func fallbackTitle(question string) string {
	q := strings.TrimSpace(question)
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > 60 {
		q = q[:60] + "..."
	}
	if q == "" {
		q = "New conversation"
	}
	return q
}
