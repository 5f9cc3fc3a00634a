package poll

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/bmcmon/internal/logger"
	"codeberg.org/mutker/bmcmon/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSweepInterval           = 5 * time.Minute
	defaultOfflineThresholdMinutes = 15
)

// StalenessMonitor raises connectivity for entities whose polls have stopped
// succeeding, catching the case where the poller itself cannot even start a
// cycle. It only considers entities with connectivity alerting enabled and at
// least one notification channel.
type StalenessMonitor struct {
	entities store.EntityRepository
	alerts   store.AlertRepository
	notifier Notifier

	interval time.Duration
	now      func() time.Time
}

// StalenessOption configures a StalenessMonitor.
type StalenessOption func(*StalenessMonitor)

// WithSweepInterval overrides the fixed interval between sweeps.
func WithSweepInterval(d time.Duration) StalenessOption {
	return func(m *StalenessMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func withClock(now func() time.Time) StalenessOption {
	return func(m *StalenessMonitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewStalenessMonitor builds a monitor over the given repositories.
func NewStalenessMonitor(entities store.EntityRepository, alerts store.AlertRepository, notifier Notifier, opts ...StalenessOption) *StalenessMonitor {
	m := &StalenessMonitor{
		entities: entities,
		alerts:   alerts,
		notifier: notifier,
		interval: defaultSweepInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Run sweeps on a fixed interval until the context is cancelled.
func (m *StalenessMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", m.interval).Msg("Staleness monitor started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				logger.Error().Err(err).Msg("Staleness sweep failed")
			}
		}
	}
}

// Sweep checks every entity once, in parallel.
func (m *StalenessMonitor) Sweep(ctx context.Context) error {
	entities, err := m.entities.List(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, entity := range entities {
		entity := entity
		g.Go(func() error {
			return m.checkEntity(ctx, entity)
		})
	}

	return g.Wait()
}

func (m *StalenessMonitor) checkEntity(ctx context.Context, entity *store.Entity) error {
	if !entity.AlertEnabled(store.KindConnectivity) {
		return nil
	}
	if len(entity.ChannelIDs) == 0 {
		return nil
	}

	thresholdMinutes := entity.OfflineThresholdMinutes
	if thresholdMinutes <= 0 {
		thresholdMinutes = defaultOfflineThresholdMinutes
	}
	threshold := time.Duration(thresholdMinutes) * time.Minute
	now := m.now().UTC()

	if entity.LastSuccessfulPoll == nil {
		// Never polled: give the entity the threshold's worth of grace from
		// creation before declaring it unresponsive.
		elapsed := now.Sub(entity.CreatedAt.UTC())
		if elapsed >= threshold {
			message := fmt.Sprintf(
				"Server has not responded since creation (%.1f minutes ago).\n\nCheck network connectivity and BMC settings.",
				elapsed.Minutes(),
			)

			return activateAlert(ctx, m.alerts, m.notifier, entity, store.KindConnectivity, message)
		}

		return nil
	}

	elapsed := now.Sub(entity.LastSuccessfulPoll.UTC())
	if elapsed >= threshold {
		message := fmt.Sprintf(
			"Server has been offline for %.1f minutes (threshold: %d minutes).\n\nLast successful poll: %s",
			elapsed.Minutes(),
			thresholdMinutes,
			entity.LastSuccessfulPoll.UTC().Format(time.RFC3339),
		)

		return activateAlert(ctx, m.alerts, m.notifier, entity, store.KindConnectivity, message)
	}

	return clearAlert(ctx, m.alerts, m.notifier, entity, store.KindConnectivity, store.ClearedAuto)
}
