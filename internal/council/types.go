package council

import (
	"encoding/json"
	"time"
)

// ErrorKind classifies why one agent call failed. Failures are data, not
// faults: a single agent going dark must never take the stage down with it.
type ErrorKind string

const (
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindHTTP        ErrorKind = "http_error"
	ErrKindBadResponse ErrorKind = "bad_response"
	ErrKindUnknown     ErrorKind = "unknown"
)

// AgentResponse is the settled outcome of one dispatch to one agent.
// Exactly one of Text / ErrKind is meaningful.
type AgentResponse struct {
	Agent   string    `json:"agent"`
	Text    string    `json:"text,omitempty"`
	ErrKind ErrorKind `json:"error,omitempty"`
}

func (r AgentResponse) Failed() bool {
	return r.ErrKind != ""
}

// Stage1Set holds every invoked agent's response, failures included, in the
// original council order regardless of completion order.
type Stage1Set struct {
	Order     []string                 `json:"order"`
	Responses map[string]AgentResponse `json:"responses"`
}

// Succeeded returns the agents whose answer came back, in council order.
func (s Stage1Set) Succeeded() []string {
	var out []string
	for _, agent := range s.Order {
		if r, ok := s.Responses[agent]; ok && !r.Failed() {
			out = append(out, agent)
		}
	}
	return out
}

// Ranking is one agent's attempt at ordering the anonymized answers,
// best first. Labels is empty and Valid false when the agent failed to
// produce anything interpretable as an ordering.
type Ranking struct {
	Agent   string    `json:"agent"`
	Raw     string    `json:"raw,omitempty"`
	Labels  []string  `json:"labels,omitempty"`
	Valid   bool      `json:"valid"`
	ErrKind ErrorKind `json:"error,omitempty"`
}

// AggregateEntry is one agent's consensus standing after Borda scoring.
type AggregateEntry struct {
	Agent      string `json:"agent"`
	Score      int    `json:"score"`
	FirstPlace int    `json:"first_place"`
}

// Stage2 bundles the peer-review stage: every submitted ranking (invalid
// ones retained for display), the label-to-agent map, and the consensus.
type Stage2 struct {
	Rankings  []Ranking        `json:"rankings"`
	LabelMap  LabelMap         `json:"label_map"`
	Aggregate []AggregateEntry `json:"aggregate"`
}

// Stage3 is the chairman's synthesis.
type Stage3 struct {
	Chairman string        `json:"chairman"`
	Response AgentResponse `json:"response"`
}

// Run statuses recorded in Result metadata.
const (
	StatusComplete       = "complete"
	StatusAllFailed      = "all_agents_failed"
	StatusChairmanFailed = "chairman_failed"
)

type Metadata struct {
	RunID       string    `json:"run_id"`
	Council     []string  `json:"council"`
	Chairman    string    `json:"chairman"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// Result is the full outcome of one council run, the unit persisted as one
// assistant turn. Partial results are still populated on abort so the caller
// can show what the council managed before things went sideways.
type Result struct {
	Question string   `json:"question"`
	Stage1   Stage1Set `json:"stage1"`
	Stage2   *Stage2  `json:"stage2,omitempty"`
	Stage3   *Stage3  `json:"stage3,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// FinalText returns the chairman's answer, or "" when the run never got one.
func (r *Result) FinalText() string {
	if r.Stage3 == nil || r.Stage3.Response.Failed() {
		return ""
	}
	return r.Stage3.Response.Text
}

func (r *Result) JSON() json.RawMessage {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return data
}
