// Package orchestrator runs a chat turn end to end: agent resolution,
// context retrieval, provider generation, and history persistence.
//
// Each turn moves through a fixed set of states. Retrieval, web search,
// and history are collaborators: when one fails the turn degrades and
// continues, it never fails outright. Only validation and generation
// failures fail a turn.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/sage/internal/agent"
	"github.com/koopa0/sage/internal/history"
	"github.com/koopa0/sage/internal/log"
	"github.com/koopa0/sage/internal/provider"
	"github.com/koopa0/sage/internal/vector"
	"github.com/koopa0/sage/internal/websearch"
)

// State labels a turn's progress for logs and traces.
type State string

const (
	StateReceived   State = "received"
	StateResolved   State = "resolved"
	StateRetrieving State = "retrieving"
	StateGenerating State = "generating"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// ErrEmptyMessage rejects requests with no user message.
var ErrEmptyMessage = errors.New("empty message")

// Encoder embeds the user message for retrieval.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Index answers similarity queries.
type Index interface {
	Query(vec []float32, k int) ([]vector.Result, error)
}

// Generator dispatches generation to the provider chain.
type Generator interface {
	Generate(ctx context.Context, req provider.Request, opts provider.Options) (*provider.Result, error)
	GenerateStream(ctx context.Context, req provider.Request, opts provider.Options) (*provider.CommittedStream, error)
}

// History persists and recalls conversation turns.
type History interface {
	Append(ctx context.Context, threadID uuid.UUID, agentID string, msgs ...history.Message) error
	Recent(ctx context.Context, threadID uuid.UUID, limit int) ([]history.Message, error)
}

// Searcher provides live web results.
type Searcher interface {
	Search(ctx context.Context, query string) ([]websearch.Result, error)
}

// Request is one chat turn.
type Request struct {
	Message  string
	ThreadID uuid.UUID // zero starts a new thread
	AgentID  string

	// Provider and Model override the profile's preference.
	Provider string
	Model    string

	// APIKeys are per-request credential overrides by provider id.
	APIKeys map[string]string
}

// Source records one retrieved chunk that entered the prompt.
type Source struct {
	SourceID string  `json:"sourceId"`
	Score    float64 `json:"score"`
}

// Result is a completed non-streaming turn.
type Result struct {
	ThreadID uuid.UUID
	Text     string
	Provider string

	// Degraded marks a turn that completed without some collaborator.
	Degraded       bool
	DegradedReason string

	Sources []Source
}

// Config configures an Orchestrator.
type Config struct {
	Registry *agent.Registry
	Router   Generator

	// Optional collaborators. Nil disables the concern; turns degrade
	// instead of failing.
	Encoder Encoder
	Index   Index
	History History
	Search  Searcher

	// Timeout bounds a whole turn, independent of per-provider retries.
	Timeout time.Duration

	// HistoryLimit is how many prior messages are recalled per turn.
	HistoryLimit int

	// PromptBudget caps the assembled prompt size in bytes.
	PromptBudget int

	Logger log.Logger
}

const (
	defaultTimeout      = 2 * time.Minute
	defaultHistoryLimit = 20
	defaultPromptBudget = 24 * 1024
)

// Orchestrator coordinates one chat turn at a time. It is stateless
// between turns and safe for concurrent use.
type Orchestrator struct {
	registry     *agent.Registry
	router       Generator
	encoder      Encoder
	index        Index
	history      History
	search       Searcher
	timeout      time.Duration
	historyLimit int
	promptBudget int
	logger       log.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("orchestrator: registry is required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("orchestrator: router is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("orchestrator: logger is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.PromptBudget <= 0 {
		cfg.PromptBudget = defaultPromptBudget
	}

	return &Orchestrator{
		registry:     cfg.Registry,
		router:       cfg.Router,
		encoder:      cfg.Encoder,
		index:        cfg.Index,
		history:      cfg.History,
		search:       cfg.Search,
		timeout:      cfg.Timeout,
		historyLimit: cfg.HistoryLimit,
		promptBudget: cfg.PromptBudget,
		logger:       cfg.Logger,
	}, nil
}

// turn carries the per-request working set through the states.
type turn struct {
	req      Request
	threadID uuid.UUID
	profile  agent.Profile

	past    []history.Message
	chunks  []vector.Result
	web     []websearch.Result
	degrade []string
}

func (o *Orchestrator) transition(threadID uuid.UUID, s State) {
	o.logger.Debug("turn state", "thread_id", threadID, "state", string(s))
}

// prepare runs the shared Received → Resolved → Retrieving stages.
func (o *Orchestrator) prepare(ctx context.Context, req Request) (*turn, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	t := &turn{req: req, threadID: req.ThreadID}
	if t.threadID == uuid.Nil {
		t.threadID = uuid.New()
	}
	o.transition(t.threadID, StateReceived)

	profile, err := o.registry.Resolve(req.AgentID)
	if err != nil {
		return nil, err
	}
	t.profile = profile
	o.transition(t.threadID, StateResolved)

	o.transition(t.threadID, StateRetrieving)
	o.recall(ctx, t)
	o.retrieve(ctx, t)
	o.searchWeb(ctx, t)
	return t, nil
}

// recall loads recent thread history. Failure degrades the turn.
func (o *Orchestrator) recall(ctx context.Context, t *turn) {
	if o.history == nil || t.req.ThreadID == uuid.Nil {
		return
	}
	past, err := o.history.Recent(ctx, t.threadID, o.historyLimit)
	if err != nil {
		o.degraded(t, "history unavailable", err)
		return
	}
	t.past = past
}

// retrieve embeds the message and queries the index. Failure degrades
// the turn.
func (o *Orchestrator) retrieve(ctx context.Context, t *turn) {
	if !t.profile.Retrieval || o.encoder == nil || o.index == nil {
		return
	}

	vec, err := o.encoder.Encode(ctx, t.req.Message)
	if err != nil {
		o.degraded(t, "embedding failed", err)
		return
	}
	chunks, err := o.index.Query(vec, t.profile.TopK)
	if err != nil {
		o.degraded(t, "retrieval failed", err)
		return
	}
	t.chunks = chunks
}

// searchWeb runs the optional web search. Failure degrades the turn.
func (o *Orchestrator) searchWeb(ctx context.Context, t *turn) {
	if !t.profile.WebSearch || o.search == nil {
		return
	}
	results, err := o.search.Search(ctx, t.req.Message)
	if err != nil {
		o.degraded(t, "web search failed", err)
		return
	}
	t.web = results
}

func (o *Orchestrator) degraded(t *turn, reason string, err error) {
	o.logger.Warn("turn degraded", "thread_id", t.threadID, "reason", reason, "error", err)
	t.degrade = append(t.degrade, reason)
}

func (o *Orchestrator) options(t *turn) provider.Options {
	preferred := t.req.Provider
	if preferred == "" {
		preferred = t.profile.Provider
	}
	return provider.Options{Provider: preferred, Keys: t.req.APIKeys}
}

func (t *turn) sources() []Source {
	if len(t.chunks) == 0 {
		return nil
	}
	out := make([]Source, len(t.chunks))
	for i, c := range t.chunks {
		out[i] = Source{SourceID: c.Chunk.SourceID, Score: c.Score}
	}
	return out
}

// Chat runs one non-streaming turn.
func (o *Orchestrator) Chat(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	t, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	o.transition(t.threadID, StateGenerating)
	res, err := o.router.Generate(ctx, o.request(t), o.options(t))
	if err != nil {
		o.transition(t.threadID, StateFailed)
		return nil, err
	}

	o.persist(ctx, t, res.Text, res.Provider)
	o.transition(t.threadID, StateCompleted)

	return &Result{
		ThreadID:       t.threadID,
		Text:           res.Text,
		Provider:       res.Provider,
		Degraded:       len(t.degrade) > 0,
		DegradedReason: strings.Join(t.degrade, "; "),
		Sources:        t.sources(),
	}, nil
}

// persist records the exchange best-effort. A failing store never fails
// the turn.
func (o *Orchestrator) persist(ctx context.Context, t *turn, answer, providerName string) {
	if o.history == nil {
		return
	}

	// The turn is already complete; don't let request cancellation drop
	// the write.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := o.history.Append(pctx, t.threadID, t.profile.ID,
		history.Message{Role: history.RoleUser, Content: t.req.Message},
		history.Message{Role: history.RoleAssistant, Content: answer, Provider: providerName},
	)
	if err != nil {
		o.logger.Warn("history persistence failed", "thread_id", t.threadID, "error", err)
	}
}
