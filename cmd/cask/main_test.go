package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/avlachos/conclave/internal/config"
	"github.com/avlachos/conclave/internal/natsbus"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		wantFlags      map[string]string
		wantPositional []string
	}{
		{
			name:      "empty",
			args:      []string{},
			wantFlags: map[string]string{},
		},
		{
			name:      "single flag",
			args:      []string{"--conversation", "conv-1"},
			wantFlags: map[string]string{"conversation": "conv-1"},
		},
		{
			name:           "positional question with flags",
			args:           []string{"why", "is", "the", "sky", "blue", "--chairman", "m/chair"},
			wantFlags:      map[string]string{"chairman": "m/chair"},
			wantPositional: []string{"why", "is", "the", "sky", "blue"},
		},
		{
			name:           "flag without value becomes positional",
			args:           []string{"--conversation"},
			wantFlags:      map[string]string{},
			wantPositional: []string{"--conversation"},
		},
		{
			name:           "short prefix not treated as flag",
			args:           []string{"-c", "x"},
			wantFlags:      map[string]string{},
			wantPositional: []string{"-c", "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotFlags, gotPositional := parseArgs(tt.args)
			if len(gotFlags) != len(tt.wantFlags) {
				t.Errorf("parseArgs(%v) flags = %v, want %v", tt.args, gotFlags, tt.wantFlags)
			}
			for k, v := range tt.wantFlags {
				if gotFlags[k] != v {
					t.Errorf("parseArgs(%v)[%q] = %q, want %q", tt.args, k, gotFlags[k], v)
				}
			}
			if len(gotPositional) != len(tt.wantPositional) {
				t.Fatalf("parseArgs(%v) positional = %v, want %v", tt.args, gotPositional, tt.wantPositional)
			}
			for i, v := range tt.wantPositional {
				if gotPositional[i] != v {
					t.Errorf("positional[%d] = %q, want %q", i, gotPositional[i], v)
				}
			}
		})
	}
}

func startTestNATS(t *testing.T) *natsbus.Bus {
	t.Helper()
	bus, err := natsbus.New(config.NATSConfig{
		Port:    0,
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestSendAsk(t *testing.T) {
	bus := startTestNATS(t)
	url := bus.ClientURL()

	conn, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	_, err = conn.Subscribe(askTopic, func(msg *nats.Msg) {
		var req askRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		if req.Question != "why is the sky blue" {
			t.Errorf("question = %q", req.Question)
		}
		if len(req.Council) != 2 || req.Council[0] != "m/one" {
			t.Errorf("council = %v", req.Council)
		}
		resp, _ := json.Marshal(askReply{
			ConversationID: "conv-1",
			Status:         "complete",
			Answer:         "scattering",
		})
		msg.Respond(resp)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	conn.Flush()

	reply, err := sendAsk(url, askRequest{
		Question: "why is the sky blue",
		Council:  []string{"m/one", "m/two"},
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("sendAsk: %v", err)
	}
	if reply.Answer != "scattering" || reply.ConversationID != "conv-1" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestSendAskErrorReply(t *testing.T) {
	bus := startTestNATS(t)
	url := bus.ClientURL()

	conn, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	_, err = conn.Subscribe(askTopic, func(msg *nats.Msg) {
		resp, _ := json.Marshal(askReply{Status: "error", Error: "every council member failed"})
		msg.Respond(resp)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	conn.Flush()

	reply, err := sendAsk(url, askRequest{Question: "doomed"}, 5*time.Second)
	if err != nil {
		t.Fatalf("sendAsk: %v", err)
	}
	if reply.Error != "every council member failed" {
		t.Errorf("error = %q", reply.Error)
	}
}
