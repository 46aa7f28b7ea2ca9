package council

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avlachos/conclave/internal/llm"
)

// fakeQuerier routes calls through a script function. Safe for the
// pipeline's concurrent fan-out.
type fakeQuerier struct {
	mu    sync.Mutex
	calls []string
	fn    func(model string, msgs []llm.Message) (string, error)
}

func (f *fakeQuerier) Chat(ctx context.Context, model string, msgs []llm.Message) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, model)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.fn(model, msgs)
}

func (f *fakeQuerier) callCount(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == model {
			n++
		}
	}
	return n
}

// scriptAnswersAndRankings answers stage-1 prompts with a per-model answer
// and ranks every stage-2 prompt by echoing the labels it finds, in order.
func scriptAnswersAndRankings(answers map[string]string) func(string, []llm.Message) (string, error) {
	return func(model string, msgs []llm.Message) (string, error) {
		content := msgs[len(msgs)-1].Content
		if strings.Contains(content, "FINAL RANKING") {
			var found []string
			for _, m := range labelPattern.FindAllStringSubmatch(content, -1) {
				found = append(found, "Response "+m[1])
			}
			return "FINAL RANKING: " + strings.Join(found, ", "), nil
		}
		if strings.Contains(content, "chairman of a council") {
			return "the synthesis", nil
		}
		ans, ok := answers[model]
		if !ok {
			return "", fmt.Errorf("no script for %s", model)
		}
		return ans, nil
	}
}

func collectEvents() (EventFunc, *[]string) {
	var mu sync.Mutex
	types := &[]string{}
	return func(e Event) {
		mu.Lock()
		*types = append(*types, e.Type)
		mu.Unlock()
	}, types
}

func TestPipelineHappyPath(t *testing.T) {
	q := &fakeQuerier{fn: scriptAnswersAndRankings(map[string]string{
		"m/one": "answer one",
		"m/two": "answer two",
	})}
	p := NewPipeline(NewDispatcher(q, time.Second), RankersAll)
	emit, events := collectEvents()

	res, err := p.Run(context.Background(), "why?", nil, []string{"m/one", "m/two"}, "m/chair", emit)
	if err != nil {
		t.Fatal(err)
	}

	if res.Metadata.Status != StatusComplete {
		t.Fatalf("status = %q", res.Metadata.Status)
	}
	if res.FinalText() != "the synthesis" {
		t.Fatalf("FinalText = %q", res.FinalText())
	}
	if got := res.Stage1.Succeeded(); len(got) != 2 {
		t.Fatalf("succeeded = %v", got)
	}
	if res.Stage2 == nil || len(res.Stage2.Rankings) != 2 || len(res.Stage2.Aggregate) != 2 {
		t.Fatalf("stage2 = %+v", res.Stage2)
	}
	for _, r := range res.Stage2.Rankings {
		if !r.Valid {
			t.Fatalf("ranking from %s should be valid: %+v", r.Agent, r)
		}
	}

	want := []string{
		EventStage1Start, EventStage1Complete,
		EventStage2Start, EventStage2Complete,
		EventStage3Start, EventStage3Complete,
		EventComplete,
	}
	if strings.Join(*events, " ") != strings.Join(want, " ") {
		t.Fatalf("events = %v, want %v", *events, want)
	}
}

func TestPipelineSurvivesOneAgentFailure(t *testing.T) {
	q := &fakeQuerier{fn: func(model string, msgs []llm.Message) (string, error) {
		if model == "m/flaky" {
			return "", errors.New("boom")
		}
		return scriptAnswersAndRankings(map[string]string{
			"m/one": "answer one",
			"m/two": "answer two",
		})(model, msgs)
	}}
	p := NewPipeline(NewDispatcher(q, time.Second), RankersAll)

	res, err := p.Run(context.Background(), "why?", nil, []string{"m/one", "m/flaky", "m/two"}, "m/chair", nil)
	if err != nil {
		t.Fatal(err)
	}

	if res.Stage1.Responses["m/flaky"].ErrKind != ErrKindUnknown {
		t.Fatalf("flaky response = %+v", res.Stage1.Responses["m/flaky"])
	}
	if got := res.Stage1.Succeeded(); len(got) != 2 {
		t.Fatalf("succeeded = %v", got)
	}
	// Only the two successes get labels, but all three rank under "all".
	if res.Stage2.LabelMap.Len() != 2 {
		t.Fatalf("label map size = %d", res.Stage2.LabelMap.Len())
	}
	if len(res.Stage2.Rankings) != 3 {
		t.Fatalf("rankings = %d, want 3", len(res.Stage2.Rankings))
	}
	if len(res.Stage2.Aggregate) != 2 {
		t.Fatalf("aggregate = %v", res.Stage2.Aggregate)
	}
}

func TestPipelineRankersSucceededPolicy(t *testing.T) {
	q := &fakeQuerier{fn: func(model string, msgs []llm.Message) (string, error) {
		if model == "m/flaky" {
			return "", errors.New("boom")
		}
		return scriptAnswersAndRankings(map[string]string{
			"m/one": "answer one",
			"m/two": "answer two",
		})(model, msgs)
	}}
	p := NewPipeline(NewDispatcher(q, time.Second), RankersSucceeded)

	res, err := p.Run(context.Background(), "why?", nil, []string{"m/one", "m/flaky", "m/two"}, "m/chair", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Stage2.Rankings) != 2 {
		t.Fatalf("rankings = %d, want 2", len(res.Stage2.Rankings))
	}
	// Stage 1 once, no stage 2 under the succeeded policy.
	if q.callCount("m/flaky") != 1 {
		t.Fatalf("flaky called %d times, want 1", q.callCount("m/flaky"))
	}
}

func TestPipelineAbortsWhenAllAgentsFail(t *testing.T) {
	q := &fakeQuerier{fn: func(model string, msgs []llm.Message) (string, error) {
		return "", errors.New("down")
	}}
	p := NewPipeline(NewDispatcher(q, time.Second), RankersAll)
	emit, events := collectEvents()

	res, err := p.Run(context.Background(), "why?", nil, []string{"m/one", "m/two"}, "m/chair", emit)
	if !errors.Is(err, ErrAllAgentsFailed) {
		t.Fatalf("err = %v", err)
	}
	if res == nil || res.Metadata.Status != StatusAllFailed {
		t.Fatalf("result = %+v", res)
	}
	if res.Stage2 != nil || res.Stage3 != nil {
		t.Fatal("stages 2 and 3 must not run after a stage-1 wipeout")
	}
	if len(res.Stage1.Responses) != 2 {
		t.Fatalf("stage1 should record every failure: %+v", res.Stage1)
	}
	if q.callCount("m/chair") != 0 {
		t.Fatal("chairman must not be called")
	}

	want := []string{EventStage1Start, EventStage1Complete, EventError}
	if strings.Join(*events, " ") != strings.Join(want, " ") {
		t.Fatalf("events = %v, want %v", *events, want)
	}
}

func TestPipelineChairmanFailureKeepsPartialResult(t *testing.T) {
	q := &fakeQuerier{fn: func(model string, msgs []llm.Message) (string, error) {
		if model == "m/chair" {
			return "", errors.New("down")
		}
		return scriptAnswersAndRankings(map[string]string{
			"m/one": "answer one",
			"m/two": "answer two",
		})(model, msgs)
	}}
	p := NewPipeline(NewDispatcher(q, time.Second), RankersAll)
	emit, events := collectEvents()

	res, err := p.Run(context.Background(), "why?", nil, []string{"m/one", "m/two"}, "m/chair", emit)
	if !errors.Is(err, ErrChairmanFailed) {
		t.Fatalf("err = %v", err)
	}
	if res.Metadata.Status != StatusChairmanFailed {
		t.Fatalf("status = %q", res.Metadata.Status)
	}
	if res.Stage2 == nil || len(res.Stage2.Aggregate) != 2 {
		t.Fatalf("stage2 should survive: %+v", res.Stage2)
	}
	if res.Stage3 == nil || !res.Stage3.Response.Failed() {
		t.Fatalf("stage3 = %+v", res.Stage3)
	}
	if res.FinalText() != "" {
		t.Fatalf("FinalText = %q, want empty", res.FinalText())
	}

	want := []string{
		EventStage1Start, EventStage1Complete,
		EventStage2Start, EventStage2Complete,
		EventStage3Start, EventStage3Complete,
		EventError,
	}
	if strings.Join(*events, " ") != strings.Join(want, " ") {
		t.Fatalf("events = %v, want %v", *events, want)
	}
}

func TestPipelineSlowAgentTimesOutAlone(t *testing.T) {
	q := &fakeQuerier{fn: func(model string, msgs []llm.Message) (string, error) {
		if strings.Contains(msgs[len(msgs)-1].Content, "chairman of a council") {
			return "the synthesis", nil
		}
		if model == "m/slow" && !strings.Contains(msgs[len(msgs)-1].Content, "FINAL RANKING") {
			time.Sleep(200 * time.Millisecond)
			return "too late", context.DeadlineExceeded
		}
		return scriptAnswersAndRankings(map[string]string{
			"m/one": "answer one",
			"m/two": "answer two",
		})(model, msgs)
	}}
	p := NewPipeline(NewDispatcher(q, 50*time.Millisecond), RankersAll)

	res, err := p.Run(context.Background(), "why?", nil, []string{"m/one", "m/slow", "m/two"}, "m/chair", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stage1.Responses["m/slow"].ErrKind != ErrKindTimeout {
		t.Fatalf("slow agent = %+v", res.Stage1.Responses["m/slow"])
	}
	if got := res.Stage1.Succeeded(); len(got) != 2 {
		t.Fatalf("succeeded = %v", got)
	}
	if res.Metadata.Status != StatusComplete {
		t.Fatalf("status = %q", res.Metadata.Status)
	}
}

func TestTitleFallsBackToQuestion(t *testing.T) {
	q := &fakeQuerier{fn: func(model string, msgs []llm.Message) (string, error) {
		return "", errors.New("down")
	}}
	p := NewPipeline(NewDispatcher(q, time.Second), RankersAll)

	title := p.Title(context.Background(), "m/chair", "  what   is\nthe meaning of life?  ")
	if title != "what is the meaning of life?" {
		t.Fatalf("title = %q", title)
	}

	long := strings.Repeat("words ", 30)
	title = p.Title(context.Background(), "m/chair", long)
	if !strings.HasSuffix(title, "...") || len(title) != 63 {
		t.Fatalf("long fallback = %q (len %d)", title, len(title))
	}
}

func TestTitleTrimsQuotes(t *testing.T) {
	q := &fakeQuerier{fn: func(model string, msgs []llm.Message) (string, error) {
		return "\"Meaning of Life\"\n", nil
	}}
	p := NewPipeline(NewDispatcher(q, time.Second), RankersAll)

	if got := p.Title(context.Background(), "m/chair", "q"); got != "Meaning of Life" {
		t.Fatalf("title = %q", got)
	}
}
