// cask puts a question to a running conclave gateway over NATS and prints
// the chairman's answer. Handy for scripts and cron jobs that want a council
// opinion without going through the web API.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const askTopic = "council.ask"

type askRequest struct {
	ConversationID string   `json:"conversation_id,omitempty"`
	Question       string   `json:"question"`
	Council        []string `json:"council,omitempty"`
	Chairman       string   `json:"chairman,omitempty"`
}

type askReply struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	Answer         string `json:"answer,omitempty"`
	Error          string `json:"error,omitempty"`
}

func sendAsk(natsURL string, req askRequest, timeout time.Duration) (*askReply, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := conn.Request(askTopic, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("ask request: %w", err)
	}

	var reply askReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	return &reply, nil
}

func parseArgs(args []string) (flags map[string]string, positional []string) {
	flags = make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			flags[args[i][2:]] = args[i+1]
			i++
			continue
		}
		positional = append(positional, args[i])
	}
	return flags, positional
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  cask ask "question" [--conversation id] [--council "model1,model2"] [--chairman model]`)
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}
	timeout := 10 * time.Minute
	if v := os.Getenv("CASK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = d
		}
	}

	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "ask":
		flags, positional := parseArgs(os.Args[2:])
		question := flags["question"]
		if question == "" && len(positional) > 0 {
			question = strings.Join(positional, " ")
		}
		if question == "" {
			fatal("a question is required")
		}

		req := askRequest{
			ConversationID: flags["conversation"],
			Question:       question,
			Chairman:       flags["chairman"],
		}
		if flags["council"] != "" {
			for _, m := range strings.Split(flags["council"], ",") {
				if m = strings.TrimSpace(m); m != "" {
					req.Council = append(req.Council, m)
				}
			}
		}

		reply, err := sendAsk(natsURL, req, timeout)
		if err != nil {
			fatal("%v", err)
		}
		if reply.Error != "" && reply.Answer == "" {
			fatal("%s", reply.Error)
		}
		if reply.Error != "" {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", reply.Error)
		}
		fmt.Fprintf(os.Stderr, "Conversation: %s\n", reply.ConversationID)
		fmt.Println(reply.Answer)

	default:
		fatal("unknown command: %s", os.Args[1])
	}
}
