// Package conductor runs one conversation as a turn-by-turn state machine:
// prompt composition, role rewriting, streaming aggregation, convergence
// scoring, and termination.
package conductor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pidginlab/pidgin/pkg/config"
	"github.com/pidginlab/pidgin/pkg/convergence"
	"github.com/pidginlab/pidgin/pkg/events"
	"github.com/pidginlab/pidgin/pkg/models"
	"github.com/pidginlab/pidgin/pkg/prompts"
	"github.com/pidginlab/pidgin/pkg/protocol"
	"github.com/pidginlab/pidgin/pkg/providers"
	"github.com/pidginlab/pidgin/pkg/tokens"
)

// Agent bundles everything the conductor needs for one side.
type Agent struct {
	Info      protocol.Agent
	Model     *models.Model
	Provider  providers.Provider
	Context   *tokens.Manager
	Awareness *prompts.Awareness
}

// Options configures one conversation.
type Options struct {
	ExperimentID   string
	ConversationID string
	Config         *config.ExperimentConfig
	Bus            *events.Bus
	AgentA, AgentB *Agent

	// FirstSpeaker overrides the config (the runner alternates it per
	// repetition). Empty means resolve from the config, including random.
	FirstSpeaker protocol.AgentID

	// Branch seeds the conversation from a parent's history.
	Branch *BranchSeed
}

// Outcome is how a conversation ended.
type Outcome struct {
	Reason           events.EndReason
	TurnCount        int
	FinalConvergence *float64
	Err              error
}

// Conductor is the per-conversation state machine. One goroutine runs it;
// Interrupt may be called from any goroutine.
type Conductor struct {
	opts       Options
	calculator *convergence.Calculator
	retry      providers.RetryPolicy

	agents   map[protocol.AgentID]*Agent
	messages []protocol.Message
	history  []float64

	stopRequested atomic.Bool
	interrupts    chan events.InterruptAction
}

// New validates the wiring and builds a conductor.
func New(opts Options) (*Conductor, error) {
	if opts.AgentA == nil || opts.AgentB == nil {
		return nil, fmt.Errorf("conductor requires both agents")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("conductor requires an event bus")
	}
	calculator, err := convergence.NewCalculator(opts.Config.ConvergenceProfile)
	if err != nil {
		return nil, err
	}
	return &Conductor{
		opts:       opts,
		calculator: calculator,
		retry:      providers.DefaultRetryPolicy(),
		agents: map[protocol.AgentID]*Agent{
			protocol.AgentA: opts.AgentA,
			protocol.AgentB: opts.AgentB,
		},
		interrupts: make(chan events.InterruptAction, 4),
	}, nil
}

// Interrupt asks the running conversation to stop, pause, or resume. Stop
// takes effect at the next turn boundary.
func (c *Conductor) Interrupt(action events.InterruptAction) {
	c.opts.Bus.Emit(&events.InterruptRequest{Action: action})
	if action == events.InterruptStop {
		c.stopRequested.Store(true)
	}
	select {
	case c.interrupts <- action:
	default:
	}
}

// Run executes the conversation to termination. The returned Outcome always
// has a reason; Err is set only for provider-fatal endings.
func (c *Conductor) Run(ctx context.Context) Outcome {
	cfg := c.opts.Config
	first := c.resolveFirstSpeaker()

	initialPrompt, err := c.initialPrompt()
	if err != nil {
		// Config validation catches this before any daemon starts; a failure
		// here means the conductor was constructed outside that path.
		return c.finish(events.EndProviderFatal, err)
	}

	c.opts.Bus.Emit(&events.ConversationStart{
		ExperimentID:  c.opts.ExperimentID,
		AgentA:        c.opts.AgentA.Info,
		AgentB:        c.opts.AgentB.Info,
		InitialPrompt: initialPrompt,
		MaxTurns:      cfg.MaxTurns,
		FirstSpeaker:  first,
	})
	for _, id := range []protocol.AgentID{protocol.AgentA, protocol.AgentB} {
		if sys := c.baseSystemPrompt(id); sys != "" {
			c.opts.Bus.Emit(&events.SystemPrompt{AgentID: id, Content: sys})
		}
	}

	startTurn := 1
	if c.opts.Branch != nil {
		c.opts.Bus.Emit(&events.ConversationBranched{
			ParentID:    c.opts.Branch.ParentID,
			BranchPoint: c.opts.Branch.BranchPoint,
		})
		startTurn = c.opts.Branch.BranchPoint + 1
	}
	c.messages = append(c.messages, protocol.Message{
		Role:      protocol.RoleUser,
		Content:   initialPrompt,
		Timestamp: time.Now().UTC(),
	})
	if c.opts.Branch != nil {
		c.replayBranch()
	}

	for n := startTurn; n <= cfg.MaxTurns; n++ {
		if reason, done := c.checkStop(ctx); done {
			return c.finish(reason, nil)
		}
		c.opts.Bus.Emit(&events.TurnStart{Turn: n})

		var pair [2]string
		for i, speaker := range []protocol.AgentID{first, first.Other()} {
			content, err := c.speak(ctx, speaker, n)
			if err != nil {
				if ctx.Err() != nil {
					return c.finish(events.EndInterrupted, nil)
				}
				return c.finish(events.EndProviderFatal, err)
			}
			pair[i] = content
		}

		score := c.calculator.Score(pair[0], pair[1])
		c.history = append(c.history, score)
		c.opts.Bus.Emit(&events.TurnComplete{Turn: n, ConvergenceScore: score})

		if cfg.ConvergenceThreshold != nil && score >= *cfg.ConvergenceThreshold {
			switch cfg.ConvergenceAction {
			case config.ActionStop:
				return c.finish(events.EndHighConvergence, nil)
			case config.ActionPause:
				if reason, done := c.pause(ctx, n); done {
					return c.finish(reason, nil)
				}
			case config.ActionNotify:
				slog.Info("convergence threshold reached",
					"conversation", c.opts.ConversationID, "turn", n, "score", score)
			}
		}
	}
	return c.finish(events.EndMaxTurns, nil)
}

func (c *Conductor) finish(reason events.EndReason, err error) Outcome {
	outcome := Outcome{Reason: reason, TurnCount: len(c.history), Err: err}
	if len(c.history) > 0 {
		last := c.history[len(c.history)-1]
		outcome.FinalConvergence = &last
	}
	end := &events.ConversationEnd{
		Reason:           reason,
		TurnCount:        outcome.TurnCount,
		FinalConvergence: outcome.FinalConvergence,
	}
	if err != nil {
		end.Error = err.Error()
	}
	c.opts.Bus.Emit(end)
	for _, agent := range c.agents {
		if cerr := agent.Provider.Cleanup(); cerr != nil {
			slog.Debug("provider cleanup", "agent", agent.Info.ID, "error", cerr)
		}
	}
	return outcome
}

func (c *Conductor) checkStop(ctx context.Context) (events.EndReason, bool) {
	if ctx.Err() != nil || c.stopRequested.Load() {
		return events.EndInterrupted, true
	}
	select {
	case action := <-c.interrupts:
		if action == events.InterruptStop {
			return events.EndInterrupted, true
		}
		if action == events.InterruptPause {
			if reason, done := c.pause(ctx, len(c.history)); done {
				return reason, true
			}
		}
	default:
	}
	return "", false
}

// pause blocks until a resume arrives. A stop or daemon shutdown while
// paused ends the conversation as paused_indefinite.
func (c *Conductor) pause(ctx context.Context, turn int) (events.EndReason, bool) {
	c.opts.Bus.Emit(&events.ConversationPaused{Turn: turn})
	for {
		select {
		case <-ctx.Done():
			return events.EndPausedIndefinite, true
		case action := <-c.interrupts:
			switch action {
			case events.InterruptResume:
				c.opts.Bus.Emit(&events.ConversationResumed{Turn: turn})
				return "", false
			case events.InterruptStop:
				return events.EndPausedIndefinite, true
			}
		}
	}
}

// speak runs one provider call for one agent and appends the message.
func (c *Conductor) speak(ctx context.Context, speaker protocol.AgentID, turn int) (string, error) {
	agent := c.agents[speaker]
	bus := c.opts.Bus

	view := c.providerView(speaker, turn)
	fit := agent.Context.Fit(view)
	if fit.Truncated {
		bus.Emit(&events.ContextTruncation{
			AgentID:       speaker,
			Turn:          turn,
			OriginalCount: fit.OriginalCount,
			KeptCount:     fit.KeptCount,
			Dropped:       fit.Dropped,
		})
	}

	bus.Emit(&events.MessageRequest{AgentID: speaker, Turn: turn, Model: agent.Info.ModelID})

	req := providers.Request{
		Messages:       fit.Messages,
		Temperature:    agent.Info.Temperature,
		Thinking:       agent.Info.ThinkingEnabled,
		ThinkingBudget: agent.Info.ThinkingBudget,
		MaxTokens:      c.opts.Config.MaxOutputTokens,
	}

	started := time.Now()
	chunkIndex := 0
	completion, err := providers.Collect(ctx, agent.Provider, req, providers.CollectOptions{
		Policy: c.retry,
		OnChunk: func(chunk providers.Chunk) {
			if chunk.Kind != providers.ChunkResponse {
				return
			}
			bus.Emit(&events.MessageChunk{
				AgentID: speaker,
				Turn:    turn,
				Content: chunk.Content,
				Index:   chunkIndex,
			})
			chunkIndex++
		},
		OnRetry: func(notice providers.RetryNotice) {
			c.emitRetry(speaker, turn, notice)
		},
	})
	if err != nil {
		bus.Emit(&events.APIError{
			AgentID:   speaker,
			Turn:      turn,
			Kind:      string(providers.KindOf(err)),
			Message:   err.Error(),
			Retryable: providers.Retryable(err),
		})
		return "", err
	}

	if completion.Thinking != "" {
		bus.Emit(&events.ThinkingComplete{AgentID: speaker, Turn: turn, Content: completion.Thinking})
	}
	bus.Emit(&events.MessageComplete{
		AgentID:    speaker,
		Turn:       turn,
		Content:    completion.Content,
		Usage:      completion.Usage,
		DurationMS: time.Since(started).Milliseconds(),
	})

	if c.opts.Config.ChooseNames && agent.Info.ChosenName == "" {
		if name := prompts.ExtractChosenName(completion.Content); name != "" {
			agent.Info.ChosenName = name
		}
	}

	c.messages = append(c.messages, protocol.Message{
		Role:      protocol.RoleAssistant,
		Content:   completion.Content,
		AgentID:   speaker,
		Timestamp: time.Now().UTC(),
	})
	return completion.Content, nil
}

func (c *Conductor) emitRetry(speaker protocol.AgentID, turn int, notice providers.RetryNotice) {
	switch providers.KindOf(notice.Err) {
	case providers.ErrRateLimited:
		c.opts.Bus.Emit(&events.RateLimited{
			AgentID: speaker,
			Turn:    turn,
			Attempt: notice.Attempt,
			DelayMS: notice.Delay.Milliseconds(),
			Message: notice.Err.Error(),
		})
	case providers.ErrTimeout:
		c.opts.Bus.Emit(&events.ProviderTimeout{
			AgentID: speaker,
			Turn:    turn,
			Attempt: notice.Attempt,
			Message: notice.Err.Error(),
		})
	default:
		c.opts.Bus.Emit(&events.APIError{
			AgentID:   speaker,
			Turn:      turn,
			Kind:      string(providers.KindOf(notice.Err)),
			Message:   notice.Err.Error(),
			Retryable: true,
		})
	}
}

// providerView rewrites history into the speaker's viewpoint: its own
// messages become assistant, the other agent's become user, and only its
// own system prompt is included.
func (c *Conductor) providerView(speaker protocol.AgentID, turn int) []protocol.Message {
	var view []protocol.Message
	if sys := c.baseSystemPrompt(speaker); sys != "" {
		view = append(view, protocol.Message{Role: protocol.RoleSystem, Content: sys})
	}
	if extra := c.agents[speaker].Awareness.TurnPrompt(turn); extra != "" {
		view = append(view, protocol.Message{Role: protocol.RoleSystem, Content: extra})
	}
	for _, msg := range c.messages {
		role := protocol.RoleUser
		if msg.AgentID == speaker {
			role = protocol.RoleAssistant
		}
		view = append(view, protocol.Message{Role: role, Content: msg.Content})
	}
	return view
}

func (c *Conductor) baseSystemPrompt(id protocol.AgentID) string {
	agent := c.agents[id]
	partner := c.agents[id.Other()]
	sys := agent.Awareness.SystemPrompt(partner.Info.DisplayName)
	if c.opts.Config.ChooseNames {
		if sys != "" {
			sys += "\n\n"
		}
		sys += prompts.NameInstruction
	}
	return sys
}

func (c *Conductor) initialPrompt() (string, error) {
	if c.opts.Branch != nil && c.opts.Branch.InitialPrompt != "" {
		return c.opts.Branch.InitialPrompt, nil
	}
	cfg := c.opts.Config
	if cfg.Dimensions != "" {
		return prompts.GenerateDimensional(cfg.Dimensions)
	}
	return cfg.InitialPrompt, nil
}

func (c *Conductor) resolveFirstSpeaker() protocol.AgentID {
	if c.opts.FirstSpeaker != "" {
		return c.opts.FirstSpeaker
	}
	switch c.opts.Config.FirstSpeaker {
	case config.FirstSpeakerAgentB:
		return protocol.AgentB
	case config.FirstSpeakerRandom:
		if rand.Intn(2) == 0 {
			return protocol.AgentA
		}
		return protocol.AgentB
	default:
		return protocol.AgentA
	}
}
