// Package experiment fans an experiment out into conversations: admission
// control, staggered launch, per-vendor caps, and outcome aggregation.
package experiment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/pidginlab/pidgin/pkg/conductor"
	"github.com/pidginlab/pidgin/pkg/config"
	"github.com/pidginlab/pidgin/pkg/events"
	"github.com/pidginlab/pidgin/pkg/manifest"
	"github.com/pidginlab/pidgin/pkg/models"
	"github.com/pidginlab/pidgin/pkg/observability"
	"github.com/pidginlab/pidgin/pkg/prompts"
	"github.com/pidginlab/pidgin/pkg/protocol"
	"github.com/pidginlab/pidgin/pkg/providers"
	"github.com/pidginlab/pidgin/pkg/sharedstate"
	"github.com/pidginlab/pidgin/pkg/tokens"
)

// launchStagger spaces successive conversation launches to avoid a
// connection spike against the vendors.
const launchStagger = 2 * time.Second

// newProvider is swapped out in tests.
var newProvider = providers.New

// NewExperimentID returns a fresh experiment identifier.
func NewExperimentID() string {
	return uuid.NewString()
}

// NewConversationID returns "conv_" plus eight hex characters.
func NewConversationID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform entropy source is broken.
		return fmt.Sprintf("conv_%08x", time.Now().UnixNano()&0xffffffff)
	}
	return "conv_" + hex.EncodeToString(buf)
}

// Branch, when set on a runner, seeds every conversation from a parent log.
type Branch struct {
	ParentLog   string
	BranchPoint int
}

// Outcome summarizes a finished experiment.
type Outcome struct {
	Status    string
	Completed int
	Failed    int
}

// Runner executes one experiment's conversations.
type Runner struct {
	ExperimentID string
	Dir          string
	Config       *config.ExperimentConfig
	Tracker      *manifest.Tracker
	State        *sharedstate.Publisher
	Branch       *Branch

	// Stagger overrides launchStagger; tests shrink it.
	Stagger time.Duration

	mu         sync.Mutex
	conductors map[string]*conductor.Conductor
	snapshot   sharedstate.Snapshot
}

// Run launches all conversations and blocks until they settle or ctx is
// cancelled. Cancellation is cooperative: in-flight conversations observe it
// at their next turn boundary.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	cfg := r.Config
	stagger := r.Stagger
	if stagger == 0 {
		stagger = launchStagger
	}
	r.conductors = make(map[string]*conductor.Conductor)
	r.snapshot = sharedstate.Snapshot{
		ExperimentID:  r.ExperimentID,
		Status:        manifest.StatusRunning,
		Total:         cfg.Repetitions,
		Conversations: make(map[string]sharedstate.ConversationState),
	}

	expLog, err := events.NewJSONLSink(filepath.Join(r.Dir, "experiment.jsonl"))
	if err != nil {
		return Outcome{Status: manifest.StatusFailed}, err
	}
	expBus := events.NewBus(r.ExperimentID, expLog)
	defer expBus.Close()
	expBus.Emit(&events.ExperimentStart{
		ExperimentID: r.ExperimentID,
		Name:         cfg.Name,
		Total:        cfg.Repetitions,
	})

	r.Tracker.SetStatus(manifest.StatusRunning)
	r.publish()
	observability.ExperimentsRunning.Inc()
	defer observability.ExperimentsRunning.Dec()

	sem := semaphore.NewWeighted(int64(cfg.MaxParallel))
	vendorSems := r.vendorSemaphores()

	var wg sync.WaitGroup
	var mu sync.Mutex
	completed, failed := 0, 0

	for rep := 0; rep < cfg.Repetitions; rep++ {
		if ctx.Err() != nil {
			break
		}
		if rep > 0 {
			if err := sleepCtx(ctx, stagger); err != nil {
				break
			}
		}

		convID := NewConversationID()
		r.Tracker.AddConversation(convID, &manifest.Conversation{
			Status:      manifest.ConvCreated,
			JSONLFile:   convID + ".jsonl",
			AgentAModel: cfg.AgentAModel,
			AgentBModel: cfg.AgentBModel,
			TurnsTotal:  cfg.MaxTurns,
		})
		r.updateSnapshot(convID, sharedstate.ConversationState{
			Status: manifest.ConvCreated, MaxTurns: cfg.MaxTurns,
		})

		if err := sem.Acquire(ctx, 1); err != nil {
			// Never admitted; the slot stays created.
			break
		}

		wg.Add(1)
		go func(convID string, rep int) {
			defer wg.Done()
			defer sem.Release(1)

			outcome, err := r.runConversation(ctx, convID, rep, vendorSems)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				failed++
				slog.Error("conversation failed", "conversation", convID, "error", err)
				return
			}
			switch outcome.Reason {
			case events.EndProviderFatal:
				failed++
			case events.EndInterrupted, events.EndPausedIndefinite:
				// Counted by neither bucket; the experiment settles as
				// interrupted.
			default:
				completed++
			}
		}(convID, rep)
	}

	wg.Wait()

	status := manifest.StatusCompleted
	if ctx.Err() != nil {
		status = manifest.StatusInterrupted
	} else if completed == 0 && failed > 0 {
		status = manifest.StatusFailed
	}
	r.Tracker.SetStatus(status)
	r.mu.Lock()
	r.snapshot.Status = status
	r.mu.Unlock()
	r.publish()

	expBus.Emit(&events.ExperimentEnd{
		ExperimentID: r.ExperimentID,
		Status:       status,
		Completed:    completed,
		Failed:       failed,
	})
	return Outcome{Status: status, Completed: completed, Failed: failed}, nil
}

// Interrupt forwards an interrupt to every in-flight conversation.
func (r *Runner) Interrupt(action events.InterruptAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conductors {
		c.Interrupt(action)
	}
}

func (r *Runner) runConversation(ctx context.Context, convID string, rep int, vendorSems map[models.Vendor]*semaphore.Weighted) (conductor.Outcome, error) {
	cfg := r.Config

	agentA, err := r.buildAgent(protocol.AgentA, cfg.AgentAModel, cfg.AwarenessA, cfg.TemperatureFor(true))
	if err != nil {
		r.markFailed(convID, err)
		return conductor.Outcome{}, err
	}
	agentB, err := r.buildAgent(protocol.AgentB, cfg.AgentBModel, cfg.AwarenessB, cfg.TemperatureFor(false))
	if err != nil {
		r.markFailed(convID, err)
		return conductor.Outcome{}, err
	}

	// Vendor caps bound concurrent conversations per backend. Acquire in a
	// fixed order so two conversations can never deadlock each other.
	for _, vendor := range orderedVendors(agentA.Model.Vendor, agentB.Model.Vendor) {
		vsem := vendorSems[vendor]
		if vsem == nil {
			continue
		}
		if err := vsem.Acquire(ctx, 1); err != nil {
			// Cancelled while queued; the slot stays created.
			return conductor.Outcome{}, err
		}
		defer vsem.Release(1)
	}

	sink, err := events.NewJSONLSink(filepath.Join(r.Dir, convID+".jsonl"))
	if err != nil {
		r.markFailed(convID, err)
		return conductor.Outcome{}, err
	}
	bus := events.NewBus(convID, sink)
	defer bus.Close()
	r.observe(convID, bus, sink)

	var seed *conductor.BranchSeed
	if r.Branch != nil {
		seed, err = conductor.LoadBranchSeed(r.Branch.ParentLog, r.Branch.BranchPoint)
		if err != nil {
			r.markFailed(convID, err)
			return conductor.Outcome{}, err
		}
	}

	cond, err := conductor.New(conductor.Options{
		ExperimentID:   r.ExperimentID,
		ConversationID: convID,
		Config:         cfg,
		Bus:            bus,
		AgentA:         agentA,
		AgentB:         agentB,
		FirstSpeaker:   r.firstSpeakerFor(rep),
		Branch:         seed,
	})
	if err != nil {
		r.markFailed(convID, err)
		return conductor.Outcome{}, err
	}

	r.mu.Lock()
	r.conductors[convID] = cond
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.conductors, convID)
		r.mu.Unlock()
	}()

	r.Tracker.UpdateConversation(convID, func(c *manifest.Conversation) {
		c.Status = manifest.ConvRunning
	})
	observability.ConversationsStarted.Inc()

	outcome := cond.Run(ctx)
	return outcome, nil
}

func (r *Runner) buildAgent(id protocol.AgentID, modelID, awarenessSpec string, temperature *float64) (*conductor.Agent, error) {
	model, err := models.Resolve(modelID)
	if err != nil {
		return nil, err
	}
	awareness, err := prompts.LoadAwareness(awarenessSpec)
	if err != nil {
		return nil, err
	}
	provider, err := newProvider(providers.Config{
		Model:     model,
		MaxTokens: r.Config.MaxOutputTokens,
	})
	if err != nil {
		return nil, err
	}
	info := protocol.Agent{
		ID:          id,
		ModelID:     modelID,
		DisplayName: model.DisplayName,
		Temperature: temperature,
	}
	if r.Config.ThinkBudget > 0 {
		info.ThinkingEnabled = true
		info.ThinkingBudget = r.Config.ThinkBudget
	}
	return &conductor.Agent{
		Info:      info,
		Model:     model,
		Provider:  provider,
		Context:   tokens.NewManager(model, r.Config.AllowTruncation),
		Awareness: awareness,
	}, nil
}

// firstSpeakerFor alternates a non-random first speaker across repetitions.
func (r *Runner) firstSpeakerFor(rep int) protocol.AgentID {
	switch r.Config.FirstSpeaker {
	case config.FirstSpeakerRandom:
		return "" // resolved per conversation by the conductor
	case config.FirstSpeakerAgentB:
		if rep%2 == 0 {
			return protocol.AgentB
		}
		return protocol.AgentA
	default:
		if rep%2 == 0 {
			return protocol.AgentA
		}
		return protocol.AgentB
	}
}

// observe wires the bus into the manifest, shared state and metrics.
func (r *Runner) observe(convID string, bus *events.Bus, sink *events.JSONLSink) {
	bus.Subscribe(events.TypeTurnComplete, func(ev events.Event) {
		tc := ev.(*events.TurnComplete)
		score := tc.ConvergenceScore
		lines := sink.Lines()
		r.Tracker.UpdateConversation(convID, func(c *manifest.Conversation) {
			c.TurnsComplete = tc.Turn
			c.LastConvergence = &score
			c.LastLine = lines
		})
		r.updateSnapshot(convID, sharedstate.ConversationState{
			Status: manifest.ConvRunning, Turn: tc.Turn,
			MaxTurns: r.Config.MaxTurns, Convergence: &score,
		})
		observability.TurnsCompleted.Inc()
		observability.ConvergenceScore.Set(score)
	})
	bus.Subscribe(events.TypeRateLimited, func(events.Event) {
		observability.ProviderRetries.WithLabelValues("rate_limited").Inc()
	})
	bus.Subscribe(events.TypeProviderTimeout, func(events.Event) {
		observability.ProviderRetries.WithLabelValues("timeout").Inc()
	})
	bus.Subscribe(events.TypeConversationPaused, func(events.Event) {
		r.Tracker.UpdateConversation(convID, func(c *manifest.Conversation) {
			c.Status = manifest.ConvPaused
		})
	})
	bus.Subscribe(events.TypeConversationResumed, func(events.Event) {
		r.Tracker.UpdateConversation(convID, func(c *manifest.Conversation) {
			c.Status = manifest.ConvRunning
		})
	})
	bus.Subscribe(events.TypeConversationEnd, func(ev events.Event) {
		end := ev.(*events.ConversationEnd)
		var status string
		switch end.Reason {
		case events.EndProviderFatal:
			status = manifest.ConvFailed
			observability.ConversationsFailed.Inc()
		case events.EndInterrupted, events.EndPausedIndefinite:
			status = manifest.ConvInterrupted
		default:
			status = manifest.ConvCompleted
			observability.ConversationsCompleted.Inc()
		}
		lines := sink.Lines()
		r.Tracker.UpdateConversation(convID, func(c *manifest.Conversation) {
			c.Status = status
			c.TurnsComplete = end.TurnCount
			c.Error = end.Error
			c.LastLine = lines
		})
		state := sharedstate.ConversationState{
			Status: status, Turn: end.TurnCount, MaxTurns: r.Config.MaxTurns,
		}
		if end.FinalConvergence != nil {
			state.Convergence = end.FinalConvergence
		}
		r.updateSnapshot(convID, state)
	})
}

func (r *Runner) markFailed(convID string, err error) {
	r.Tracker.UpdateConversation(convID, func(c *manifest.Conversation) {
		c.Status = manifest.ConvFailed
		c.Error = err.Error()
	})
	r.updateSnapshot(convID, sharedstate.ConversationState{
		Status: manifest.ConvFailed, MaxTurns: r.Config.MaxTurns,
	})
	observability.ConversationsFailed.Inc()
}

func (r *Runner) vendorSemaphores() map[models.Vendor]*semaphore.Weighted {
	limit := int64(r.Config.VendorCap)
	if limit <= 0 {
		limit = 8
	}
	sems := make(map[models.Vendor]*semaphore.Weighted)
	for _, id := range []string{r.Config.AgentAModel, r.Config.AgentBModel} {
		model, err := models.Resolve(id)
		if err != nil {
			continue
		}
		// Local and in-process backends have no rate limits to respect.
		if !model.Vendor.RequiresCredentials() {
			continue
		}
		if _, ok := sems[model.Vendor]; !ok {
			sems[model.Vendor] = semaphore.NewWeighted(limit)
		}
	}
	return sems
}

func orderedVendors(a, b models.Vendor) []models.Vendor {
	if a == b {
		return []models.Vendor{a}
	}
	if a < b {
		return []models.Vendor{a, b}
	}
	return []models.Vendor{b, a}
}

func (r *Runner) updateSnapshot(convID string, state sharedstate.ConversationState) {
	r.mu.Lock()
	r.snapshot.Conversations[convID] = state
	completed, failed := 0, 0
	for _, c := range r.snapshot.Conversations {
		switch c.Status {
		case manifest.ConvCompleted:
			completed++
		case manifest.ConvFailed:
			failed++
		}
	}
	r.snapshot.Completed = completed
	r.snapshot.Failed = failed
	r.mu.Unlock()
	r.publish()
}

// publish is best-effort: observers losing a snapshot beat a stalled turn
// loop.
func (r *Runner) publish() {
	if r.State == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.State.Publish(&r.snapshot); err != nil {
		slog.Debug("shared state publish failed", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
