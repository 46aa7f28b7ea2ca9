// Package runner drives council deliberations end to end: it guards
// conversations against concurrent runs, feeds prior turns back in as
// context, streams progress events, and persists the settled outcome.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avlachos/conclave/internal/config"
	"github.com/avlachos/conclave/internal/council"
	"github.com/avlachos/conclave/internal/llm"
	"github.com/avlachos/conclave/internal/natsbus"
	"github.com/avlachos/conclave/internal/roster"
	"github.com/avlachos/conclave/internal/store"
	"github.com/avlachos/conclave/internal/vault"
)

const credentialName = "openrouter"

var (
	ErrConversationBusy     = errors.New("a council run is already in progress for this conversation")
	ErrConversationNotFound = errors.New("conversation not found")
)

// Request is one question put to the council. Council, Chairman, and APIKey
// are optional overrides; empty values fall back to stored credentials and
// configured defaults.
type Request struct {
	ConversationID string   `json:"conversation_id"`
	Question       string   `json:"question"`
	Council        []string `json:"council,omitempty"`
	Chairman       string   `json:"chairman,omitempty"`
	APIKey         string   `json:"-"`
}

type Runner struct {
	cfg    config.CouncilConfig
	store  *store.Store
	client *llm.Client
	roster *roster.Roster
	vault  *vault.Vault
	bus    *natsbus.Client

	timeout time.Duration

	inflightMu sync.Mutex
	inflight   map[string]bool
}

func New(cfg config.CouncilConfig, s *store.Store, client *llm.Client, ros *roster.Roster, v *vault.Vault, bus *natsbus.Client, timeout time.Duration) *Runner {
	return &Runner{
		cfg:      cfg,
		store:    s,
		client:   client,
		roster:   ros,
		vault:    v,
		bus:      bus,
		timeout:  timeout,
		inflight: make(map[string]bool),
	}
}

// Ask validates the request, appends the user turn, and starts the council
// in the background. The returned channel carries progress events and closes
// once the run (and title generation, on a first message) has settled. The
// caller going away does not cancel the run; its outcome still lands in the
// store.
func (r *Runner) Ask(ctx context.Context, req Request) (<-chan council.Event, error) {
	if req.Question == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	conv, err := r.store.GetConversation(req.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}

	apiKey := r.resolveKey(req.APIKey)
	members, chairman, err := r.roster.Resolve(ctx, req.Council, req.Chairman, apiKey)
	if err != nil {
		return nil, err
	}

	if !r.acquire(req.ConversationID) {
		return nil, ErrConversationBusy
	}

	turns, err := r.store.GetTurns(req.ConversationID)
	if err != nil {
		r.release(req.ConversationID)
		return nil, err
	}
	firstMessage := len(turns) == 0
	history := historyFromTurns(turns)

	userTurn := &store.Turn{
		ConversationID: req.ConversationID,
		Role:           store.RoleUser,
		Content:        req.Question,
	}
	if err := r.store.AppendTurn(userTurn); err != nil {
		r.release(req.ConversationID)
		return nil, fmt.Errorf("append user turn: %w", err)
	}

	events := make(chan council.Event, 64)
	pipe := council.NewPipeline(council.NewDispatcher(r.client.WithKey(apiKey), r.timeout), r.cfg.Rankers)

	// The run outlives the caller's request on purpose.
	go r.execute(context.Background(), pipe, req, members, chairman, history, firstMessage, events)

	return events, nil
}

// AskSync runs a full deliberation and blocks until it settles, draining
// events internally. Used by the CLI bridge, Telegram, and the scheduler.
func (r *Runner) AskSync(ctx context.Context, req Request) (*council.Result, error) {
	events, err := r.Ask(ctx, req)
	if err != nil {
		return nil, err
	}

	var result *council.Result
	for ev := range events {
		if ev.Type == eventResult {
			if res, ok := ev.Data.(*council.Result); ok {
				result = res
			}
		}
	}
	if result == nil {
		return nil, fmt.Errorf("council run produced no result")
	}
	if result.Metadata.Status == council.StatusAllFailed {
		return result, council.ErrAllAgentsFailed
	}
	if result.Metadata.Status == council.StatusChairmanFailed {
		return result, council.ErrChairmanFailed
	}
	return result, nil
}

// eventResult is an internal event carrying the settled Result to in-process
// consumers. It is never forwarded to the stream or the bus.
const eventResult = "_result"

func (r *Runner) execute(ctx context.Context, pipe *council.Pipeline, req Request, members []string, chairman string, history []llm.Message, firstMessage bool, events chan<- council.Event) {
	defer r.release(req.ConversationID)
	defer close(events)

	var wg sync.WaitGroup
	if firstMessage {
		wg.Add(1)
		go func() {
			defer wg.Done()
			title := pipe.Title(ctx, chairman, req.Question)
			if err := r.store.UpdateConversationTitle(req.ConversationID, title); err != nil {
				slog.Warn("failed to save conversation title", "conversation", req.ConversationID, "error", err)
			}
			events <- council.Event{Type: council.EventTitleComplete, Data: map[string]string{"title": title}}
		}()
	}

	// Bus events are keyed by conversation so subscribers can follow a
	// thread without knowing run ids up front.
	emit := func(ev council.Event) {
		events <- ev
		if r.bus != nil {
			if err := r.bus.PublishJSON(natsbus.TopicRunEvents(req.ConversationID), ev); err != nil {
				slog.Warn("failed to publish run event", "conversation", req.ConversationID, "type", ev.Type, "error", err)
			}
		}
	}

	result, runErr := pipe.Run(ctx, req.Question, history, members, chairman, emit)

	// The deliberation record lands as exactly one assistant turn, and only
	// when the council produced something worth keeping. A stage-1 wipeout
	// writes nothing; retrying the question starts clean.
	if !errors.Is(runErr, council.ErrAllAgentsFailed) {
		turn := &store.Turn{
			ConversationID: req.ConversationID,
			Role:           store.RoleAssistant,
			Content:        result.FinalText(),
			Payload:        result.JSON(),
		}
		if err := r.store.AppendTurn(turn); err != nil {
			slog.Error("failed to persist council result", "conversation", req.ConversationID, "run", result.Metadata.RunID, "error", err)
		}
	}

	wg.Wait()
	events <- council.Event{Type: eventResult, Data: result}
}

// resolveKey picks the API key for one run: an explicit override wins, then
// a vault-stored credential, then the configured default baked into the
// client (empty string keeps it).
func (r *Runner) resolveKey(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if r.vault == nil {
		return ""
	}
	cred, err := r.store.GetCredential(credentialName)
	if err != nil || cred == nil {
		return ""
	}
	key, err := r.vault.DecryptString(cred.Value, cred.Nonce)
	if err != nil {
		slog.Warn("failed to decrypt stored credential", "name", credentialName, "error", err)
		return ""
	}
	return key
}

func (r *Runner) acquire(conversationID string) bool {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if r.inflight[conversationID] {
		return false
	}
	r.inflight[conversationID] = true
	return true
}

func (r *Runner) release(conversationID string) {
	r.inflightMu.Lock()
	delete(r.inflight, conversationID)
	r.inflightMu.Unlock()
}

// historyFromTurns rebuilds the chat context from stored turns. Assistant
// turns contribute only the chairman's final text; the deliberation record
// in the payload stays out of model context.
func historyFromTurns(turns []store.Turn) []llm.Message {
	var msgs []llm.Message
	for _, t := range turns {
		if t.Content == "" {
			continue
		}
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

// StoreCredential encrypts and stores an API key for later runs.
func (r *Runner) StoreCredential(key string) error {
	if r.vault == nil {
		return fmt.Errorf("no vault configured")
	}
	value, nonce, err := r.vault.EncryptString(key)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	return r.store.SaveCredential(&store.Credential{Name: credentialName, Value: value, Nonce: nonce})
}

// DeleteCredential removes the stored API key.
func (r *Runner) DeleteCredential() error {
	return r.store.DeleteCredential(credentialName)
}

// HasCredential reports whether an API key is stored.
func (r *Runner) HasCredential() (bool, error) {
	cred, err := r.store.GetCredential(credentialName)
	if err != nil {
		return false, err
	}
	return cred != nil, nil
}

// FilterStream reports whether an event should be forwarded to external
// consumers. The internal result marker stays in-process.
func FilterStream(ev council.Event) bool {
	return ev.Type != eventResult
}

// MarshalEvent renders one event for the wire.
func MarshalEvent(ev council.Event) ([]byte, error) {
	return json.Marshal(ev)
}
