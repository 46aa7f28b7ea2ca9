package council

import (
	"fmt"
	"strings"

	"github.com/avlachos/conclave/internal/llm"
)

// stage1Messages is the prompt every council member answers: the prior
// conversation turns followed by the new question, nothing else. Members
// never see each other at this point.
func stage1Messages(question string, history []llm.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: "user", Content: question})
	return msgs
}

// stage2Messages asks one ranker to evaluate the anonymized answer set.
// The ranker's own answer is in there under some label it cannot identify.
func stage2Messages(question string, answers []LabeledAnswer) []llm.Message {
	var sb strings.Builder

	sb.WriteString("You are evaluating candidate answers to a question. ")
	sb.WriteString("Judge each on accuracy, completeness, and clarity.\n\n")

	sb.WriteString("## Question\n\n")
	sb.WriteString(question)
	sb.WriteString("\n\n## Candidate Answers\n\n")

	for _, a := range answers {
		fmt.Fprintf(&sb, "### %s\n\n%s\n\n", a.Label, a.Text)
	}

	sb.WriteString("First explain your assessment of each answer. Then end with a line starting with FINAL RANKING: ")
	sb.WriteString("followed by the labels from best to worst, for example:\n\n")
	sb.WriteString("FINAL RANKING: ")
	labels := make([]string, len(answers))
	for i, a := range answers {
		labels[i] = a.Label
	}
	sb.WriteString(strings.Join(labels, ", "))
	sb.WriteString("\n\nRank every answer exactly once.")

	return []llm.Message{{Role: "user", Content: sb.String()}}
}

// stage3Messages hands the chairman everything: the question, each member's
// answer under its own name, and the peer review verdicts. The chairman is
// told to synthesize, not to pick a winner.
func stage3Messages(question string, history []llm.Message, stage1 Stage1Set, stage2 *Stage2) []llm.Message {
	var sb strings.Builder

	sb.WriteString("You are the chairman of a council of AI models. ")
	sb.WriteString("Council members answered the user's question independently, then ranked each other's answers anonymously. ")
	sb.WriteString("Synthesize the best elements of their work into one definitive answer. ")
	sb.WriteString("Do not mention the council, the members, or the ranking process; just answer the user.\n\n")

	sb.WriteString("## Question\n\n")
	sb.WriteString(question)
	sb.WriteString("\n\n## Council Answers\n\n")

	for _, agent := range stage1.Succeeded() {
		fmt.Fprintf(&sb, "### %s\n\n%s\n\n", agent, stage1.Responses[agent].Text)
	}

	if stage2 != nil {
		sb.WriteString("## Peer Rankings\n\n")
		for _, r := range stage2.Rankings {
			if !r.Valid {
				continue
			}
			resolved := make([]string, 0, len(r.Labels))
			for _, label := range r.Labels {
				if agent, ok := stage2.LabelMap.Agent(label); ok {
					resolved = append(resolved, agent)
				}
			}
			fmt.Fprintf(&sb, "- %s ranked: %s\n", r.Agent, strings.Join(resolved, " > "))
		}
		sb.WriteString("\n")
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: "user", Content: sb.String()})
	return msgs
}

// titleMessages asks for a short conversation title from the opening question.
func titleMessages(question string) []llm.Message {
	var sb strings.Builder
	sb.WriteString("Write a title for a conversation that starts with the message below. ")
	sb.WriteString("At most 6 words, no quotes, no trailing punctuation. Respond with the title only.\n\n")
	sb.WriteString(question)
	return []llm.Message{{Role: "user", Content: sb.String()}}
}
