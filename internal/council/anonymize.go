package council

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"sort"
)

// LabelMap is a per-run bijection between anonymizing labels and the agents
// whose stage-1 answer they stand for. Failed responses are never labeled.
// The reverse mapping stays inside this type; stage-2 payloads only ever see
// the labels.
type LabelMap struct {
	labelToAgent map[string]string
	agentToLabel map[string]string
}

// newLabelMap labels the stage-1 successes. Assignment order is shuffled with
// crypto/rand so a label never betrays the agent's position in the council
// list or its name.
func newLabelMap(stage1 Stage1Set) LabelMap {
	agents := stage1.Succeeded()
	shuffled := make([]string, len(agents))
	copy(shuffled, agents)
	for i := len(shuffled) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			continue
		}
		j := int(n.Int64())
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	m := LabelMap{
		labelToAgent: make(map[string]string, len(shuffled)),
		agentToLabel: make(map[string]string, len(shuffled)),
	}
	for i, agent := range shuffled {
		label := labelName(i)
		m.labelToAgent[label] = agent
		m.agentToLabel[agent] = label
	}
	return m
}

func labelName(i int) string {
	return "Response " + string(rune('A'+i))
}

func (m LabelMap) Len() int {
	return len(m.labelToAgent)
}

// Agent resolves a label back to its agent.
func (m LabelMap) Agent(label string) (string, bool) {
	agent, ok := m.labelToAgent[label]
	return agent, ok
}

// Label returns the label assigned to an agent's answer.
func (m LabelMap) Label(agent string) (string, bool) {
	label, ok := m.agentToLabel[agent]
	return label, ok
}

// Labels returns all labels in display order (Response A, Response B, ...).
func (m LabelMap) Labels() []string {
	out := make([]string, 0, len(m.labelToAgent))
	for label := range m.labelToAgent {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// LabeledAnswer pairs a label with the answer text, with no agent identity
// attached. This is the only view stage 2 is allowed to see.
type LabeledAnswer struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// View builds the anonymized candidate set in label order. Every stage-2
// participant ranks this identical slice.
func (m LabelMap) View(stage1 Stage1Set) []LabeledAnswer {
	labels := m.Labels()
	out := make([]LabeledAnswer, 0, len(labels))
	for _, label := range labels {
		agent := m.labelToAgent[label]
		out = append(out, LabeledAnswer{Label: label, Text: stage1.Responses[agent].Text})
	}
	return out
}

func (m LabelMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.labelToAgent)
}

func (m *LabelMap) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.labelToAgent = raw
	m.agentToLabel = make(map[string]string, len(raw))
	for label, agent := range raw {
		m.agentToLabel[agent] = label
	}
	return nil
}
