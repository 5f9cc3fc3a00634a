package poll

import (
	"context"

	"codeberg.org/mutker/bmcmon/internal/logger"
	"codeberg.org/mutker/bmcmon/internal/metrics"
	"codeberg.org/mutker/bmcmon/internal/store"
)

// activateAlert records the condition and notifies only when the record
// actually transitioned to active. Re-activations of a live alert are silent.
func activateAlert(ctx context.Context, alerts store.AlertRepository, notifier Notifier, entity *store.Entity, kind store.AlertKind, message string) error {
	transition, err := alerts.Activate(ctx, entity.ID, kind, message)
	if err != nil {
		logger.Error().
			Err(err).
			Str("entity", entity.Name).
			Str("kind", string(kind)).
			Msg("Failed to record alert activation")

		return err
	}
	if !transition.Changed() {
		return nil
	}

	metrics.AlertTransitionsTotal.WithLabelValues(string(kind), "activated").Inc()
	refreshLiveGauge(ctx, alerts)
	logger.Warn().
		Str("entity", entity.Name).
		Str("kind", string(kind)).
		Str("message", message).
		Msg("Alert activated")

	if notifier != nil {
		notifier.Dispatch(ctx, entity, kind, message, false)
	}

	return nil
}

// clearAlert clears the condition if live and notifies only on the edge.
func clearAlert(ctx context.Context, alerts store.AlertRepository, notifier Notifier, entity *store.Entity, kind store.AlertKind, actor string) error {
	transition, err := alerts.ClearIfActive(ctx, entity.ID, kind, actor)
	if err != nil {
		logger.Error().
			Err(err).
			Str("entity", entity.Name).
			Str("kind", string(kind)).
			Msg("Failed to record alert clear")

		return err
	}
	if !transition.Changed() {
		return nil
	}

	metrics.AlertTransitionsTotal.WithLabelValues(string(kind), "cleared").Inc()
	refreshLiveGauge(ctx, alerts)
	logger.Info().
		Str("entity", entity.Name).
		Str("kind", string(kind)).
		Str("actor", actor).
		Msg("Alert cleared")

	if notifier != nil {
		notifier.Dispatch(ctx, entity, kind, "", true)
	}

	return nil
}

func refreshLiveGauge(ctx context.Context, alerts store.AlertRepository) {
	if n, err := alerts.CountLive(ctx); err == nil {
		metrics.LiveAlerts.Set(float64(n))
	}
}
