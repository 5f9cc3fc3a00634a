package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/bmcmon/internal/errors"
	"codeberg.org/mutker/bmcmon/internal/logger"
	"codeberg.org/mutker/bmcmon/internal/metrics"
	"codeberg.org/mutker/bmcmon/internal/store"
)

const defaultPollInterval = 5 * time.Minute

type worker struct {
	cancel context.CancelFunc
	busy   *atomic.Bool
}

// Orchestrator owns one polling loop per entity and keeps the loops in sync
// with configuration changes. Each entity polls on its own interval; a cycle
// still in flight when the next tick arrives causes that tick to be skipped.
type Orchestrator struct {
	entities  store.EntityRepository
	alerts    store.AlertRepository
	evaluator *Evaluator
	notifier  Notifier

	defaultInterval time.Duration

	mu      sync.Mutex
	workers map[string]*worker
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithDefaultPollInterval sets the interval used when an entity carries none.
func WithDefaultPollInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.defaultInterval = d
		}
	}
}

// NewOrchestrator builds an orchestrator over the given repositories.
func NewOrchestrator(entities store.EntityRepository, alerts store.AlertRepository, evaluator *Evaluator, notifier Notifier, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		entities:        entities,
		alerts:          alerts,
		evaluator:       evaluator,
		notifier:        notifier,
		defaultInterval: defaultPollInterval,
		workers:         make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Start loads every configured entity and schedules its polling loop. The
// given context bounds all loops; cancelling it is equivalent to Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.baseCtx != nil {
		o.mu.Unlock()
		return errors.New().New(ErrAlreadyStarted)
	}
	o.baseCtx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	entities, err := o.entities.List(ctx)
	if err != nil {
		return err
	}

	for _, entity := range entities {
		o.Upsert(entity)
	}

	logger.Info().Int("entities", len(entities)).Msg("Polling started")

	return nil
}

// Stop cancels every polling loop and waits for in-flight cycles to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.workers = make(map[string]*worker)
	o.mu.Unlock()

	o.wg.Wait()
}

// Upsert schedules or reschedules the entity's polling loop. An existing loop
// is cancelled first; its in-flight cycle finishes against the old snapshot
// and the fresh loop reloads the entity at every tick.
func (o *Orchestrator) Upsert(entity *store.Entity) {
	interval := o.defaultInterval
	if entity.PollIntervalSeconds > 0 {
		interval = time.Duration(entity.PollIntervalSeconds) * time.Second
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.baseCtx == nil {
		return
	}
	busy := &atomic.Bool{}
	if existing, ok := o.workers[entity.ID]; ok {
		existing.cancel()
		// The replacement loop inherits the busy flag so an in-flight cycle
		// keeps excluding ticks across the handoff.
		busy = existing.busy
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	w := &worker{cancel: cancel, busy: busy}
	o.workers[entity.ID] = w

	o.wg.Add(1)
	go o.runLoop(ctx, entity.ID, interval, w.busy)

	logger.Info().
		Str("entity", entity.Name).
		Dur("interval", interval).
		Msg("Scheduled polling loop")
}

// Remove cancels the entity's polling loop if one exists.
func (o *Orchestrator) Remove(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if w, ok := o.workers[id]; ok {
		w.cancel()
		delete(o.workers, id)
	}
}

func (o *Orchestrator) runLoop(ctx context.Context, id string, interval time.Duration, busy *atomic.Bool) {
	defer o.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !busy.CompareAndSwap(false, true) {
				metrics.PollCyclesTotal.WithLabelValues(id, "skipped").Inc()
				logger.Warn().Str("entity_id", id).Msg("Previous poll cycle still running, skipping tick")
				continue
			}

			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				defer busy.Store(false)
				o.pollOnce(ctx, id)
			}()
		}
	}
}

// pollOnce reloads the entity so each cycle sees current configuration. An
// entity deleted between ticks tears its loop down here.
func (o *Orchestrator) pollOnce(ctx context.Context, id string) {
	entity, err := o.entities.Get(ctx, id)
	if err != nil {
		if errors.HasCode(err, store.ErrEntityNotFound) {
			logger.Warn().Str("entity_id", id).Msg("Entity removed before poll")
			o.Remove(id)
		} else {
			logger.Error().Err(err).Str("entity_id", id).Msg("Failed to load entity for poll")
		}

		return
	}

	_ = o.evaluator.RunCycle(ctx, entity)
}

// SaveEntity persists the entity and reconciles its polling loop. Alert kinds
// the update disables have any live record cleared with actor manual, sending
// the cleared notification on the edge.
func (o *Orchestrator) SaveEntity(ctx context.Context, entity *store.Entity) error {
	if err := o.entities.Save(ctx, entity); err != nil {
		return err
	}

	for _, kind := range store.AlertKinds() {
		if entity.AlertEnabled(kind) {
			continue
		}
		_ = clearAlert(ctx, o.alerts, o.notifier, entity, kind, store.ClearedManual)
	}

	o.Upsert(entity)

	return nil
}

// ClearAlert clears one live alert on behalf of an operator and sends the
// cleared notification on the edge.
func (o *Orchestrator) ClearAlert(ctx context.Context, entityID string, kind store.AlertKind) error {
	entity, err := o.entities.Get(ctx, entityID)
	if err != nil {
		return err
	}

	return clearAlert(ctx, o.alerts, o.notifier, entity, kind, store.ClearedManual)
}

// LiveAlerts lists live alerts, optionally scoped to one entity.
func (o *Orchestrator) LiveAlerts(ctx context.Context, entityID string) ([]*store.Alert, error) {
	return o.alerts.ListLive(ctx, entityID)
}
