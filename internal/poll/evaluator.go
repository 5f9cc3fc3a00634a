package poll

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/bmcmon/internal/bmc"
	"codeberg.org/mutker/bmcmon/internal/errors"
	"codeberg.org/mutker/bmcmon/internal/fancurve"
	"codeberg.org/mutker/bmcmon/internal/logger"
	"codeberg.org/mutker/bmcmon/internal/metrics"
	"codeberg.org/mutker/bmcmon/internal/secret"
	"codeberg.org/mutker/bmcmon/internal/store"
)

const (
	// criticalTemperatureC is the fixed CPU threshold for the
	// temperature_critical condition.
	criticalTemperatureC = 80.0

	// eventQueryLimit bounds the system event log read per cycle.
	eventQueryLimit = 5
)

// Evaluator runs one full poll cycle for an entity: telemetry reads, fan
// control, condition evaluation and alert state transitions.
type Evaluator struct {
	entities store.EntityRepository
	alerts   store.AlertRepository
	secrets  secret.Resolver
	notifier Notifier

	newClient      ClientFactory
	commandTimeout time.Duration
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithCommandTimeout bounds each telemetry command issued during a cycle.
func WithCommandTimeout(d time.Duration) EvaluatorOption {
	return func(ev *Evaluator) {
		if d > 0 {
			ev.commandTimeout = d
		}
	}
}

// WithClientFactory substitutes the telemetry client constructor.
func WithClientFactory(factory ClientFactory) EvaluatorOption {
	return func(ev *Evaluator) {
		if factory != nil {
			ev.newClient = factory
		}
	}
}

// NewEvaluator builds an evaluator over the given repositories. Credentials
// are resolved per cycle and never stored on the evaluator.
func NewEvaluator(entities store.EntityRepository, alerts store.AlertRepository, secrets secret.Resolver, notifier Notifier, opts ...EvaluatorOption) *Evaluator {
	ev := &Evaluator{
		entities: entities,
		alerts:   alerts,
		secrets:  secrets,
		notifier: notifier,
	}
	for _, opt := range opts {
		opt(ev)
	}
	if ev.newClient == nil {
		ev.newClient = func(target bmc.Target) bmc.Client {
			return bmc.NewClient(target, bmc.WithTimeout(ev.commandTimeout))
		}
	}

	return ev
}

// RunCycle polls the entity once. A transport, auth or unexpected failure on
// the core telemetry reads fails the cycle and raises connectivity; secondary
// condition checks never do.
func (ev *Evaluator) RunCycle(ctx context.Context, entity *store.Entity) error {
	start := time.Now()
	err := ev.runCycle(ctx, entity)
	metrics.PollCycleDuration.Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.PollCyclesTotal.WithLabelValues(entity.ID, status).Inc()

	return err
}

func (ev *Evaluator) runCycle(ctx context.Context, entity *store.Entity) error {
	client, err := ev.clientFor(entity)
	if err != nil {
		ev.handleCycleFailure(ctx, entity, err)
		return err
	}

	temperatures, err := client.QueryTemperatures(ctx)
	if err != nil {
		ev.handleCycleFailure(ctx, entity, err)
		return err
	}

	fans, err := client.QueryFans(ctx)
	if err != nil {
		ev.handleCycleFailure(ctx, entity, err)
		return err
	}
	logger.Debug().Str("entity", entity.Name).Str("fans", fans).Msg("Fan readings")

	if temperature, ok := bmc.ParseCPUTemperature(temperatures); ok {
		logger.Info().
			Str("entity", entity.Name).
			Float64("cpu_temp", temperature).
			Msg("CPU temperature")

		if err := ev.applyFanControl(ctx, entity, client, temperature); err != nil {
			ev.handleCycleFailure(ctx, entity, err)
			return err
		}

		if entity.AlertEnabled(store.KindTemperatureCritical) {
			if temperature >= criticalTemperatureC {
				message := fmt.Sprintf("CPU temperature critical: %g°C", temperature)
				_ = activateAlert(ctx, ev.alerts, ev.notifier, entity, store.KindTemperatureCritical, message)
			} else {
				_ = clearAlert(ctx, ev.alerts, ev.notifier, entity, store.KindTemperatureCritical, store.ClearedAuto)
			}
		}
	} else {
		logger.Warn().Str("entity", entity.Name).Msg("Could not parse CPU temperature")
	}

	ev.checkConditions(ctx, entity, client)

	if err := ev.entities.TouchLastPoll(ctx, entity.ID, time.Now().UTC()); err != nil {
		logger.Error().Err(err).Str("entity", entity.Name).Msg("Failed to stamp last successful poll")
	}

	if entity.AlertEnabled(store.KindConnectivity) {
		_ = clearAlert(ctx, ev.alerts, ev.notifier, entity, store.KindConnectivity, store.ClearedAuto)
	}

	return nil
}

func (ev *Evaluator) clientFor(entity *store.Entity) (bmc.Client, error) {
	username, err := ev.secrets.Decrypt(entity.UsernameEncrypted)
	if err != nil {
		return nil, err
	}
	password, err := ev.secrets.Decrypt(entity.PasswordEncrypted)
	if err != nil {
		return nil, err
	}

	return ev.newClient(bmc.Target{
		Vendor:   entity.Vendor,
		Host:     entity.Host,
		Port:     entity.Port,
		Username: username,
		Password: password,
	}), nil
}

// handleCycleFailure raises connectivity for a failed cycle. The wording
// distinguishes unreachable targets from command and unexpected failures.
func (ev *Evaluator) handleCycleFailure(ctx context.Context, entity *store.Entity, err error) {
	logger.Error().Err(err).Str("entity", entity.Name).Msg("Poll cycle failed")

	if !entity.AlertEnabled(store.KindConnectivity) {
		return
	}

	var message string
	switch {
	case errors.IsTransport(err):
		message = fmt.Sprintf("Server unreachable: %s\n\nCheck network connectivity and BMC settings.", err.Error())
	case errors.IsAuth(err) || errors.HasCode(err, bmc.ErrCommandFailed):
		message = fmt.Sprintf("IPMI communication error: %s", err.Error())
	default:
		message = fmt.Sprintf("Unexpected error during poll: %s", err.Error())
	}

	_ = activateAlert(ctx, ev.alerts, ev.notifier, entity, store.KindConnectivity, message)
}

// applyFanControl sets the base curve target for all fans, then re-targets
// overridden fans. Below the second zone threshold an overridden fan holds
// its configured minimum; above it the fan follows the curve like the rest.
func (ev *Evaluator) applyFanControl(ctx context.Context, entity *store.Entity, client bmc.Client, temperature float64) error {
	baseRPM, ok := fancurve.ComputeTarget(entity.Zones, temperature)
	if !ok {
		logger.Debug().Str("entity", entity.Name).Msg("No fan zones configured")
		return nil
	}

	gate, hasGate := fancurve.SecondZoneThreshold(entity.Zones)

	logger.Info().
		Str("entity", entity.Name).
		Int("target_rpm", baseRPM).
		Float64("cpu_temp", temperature).
		Msg("Setting base fan speed")

	if err := ev.setFanSpeed(ctx, entity, client, baseRPM, ""); err != nil {
		return err
	}

	for _, override := range entity.FanOverrides {
		if override.FanIdentifier == "" || override.MinRPM == nil {
			continue
		}

		target := baseRPM
		if hasGate && temperature <= gate {
			target = *override.MinRPM
			logger.Info().
				Str("entity", entity.Name).
				Str("fan", override.FanIdentifier).
				Int("target_rpm", target).
				Float64("cpu_temp", temperature).
				Float64("gate", gate).
				Msg("Applying fan override")
		}

		if err := ev.setFanSpeed(ctx, entity, client, target, override.FanIdentifier); err != nil {
			return err
		}
	}

	return nil
}

func (ev *Evaluator) setFanSpeed(ctx context.Context, entity *store.Entity, client bmc.Client, rpm int, fan string) error {
	if err := client.SetFanSpeed(ctx, rpm, fan); err != nil {
		metrics.FanCommandsTotal.WithLabelValues(entity.ID, "failed").Inc()
		return err
	}
	metrics.FanCommandsTotal.WithLabelValues(entity.ID, "success").Inc()

	return nil
}

type conditionCheck struct {
	kind    store.AlertKind
	query   func(ctx context.Context) (string, error)
	present func(output string) bool
	prefix  string
}

// checkConditions evaluates the secondary alert conditions. The client reads
// missing sensor types as empty output, which clears the condition; only a
// transport or auth failure leaves that condition's state untouched for the
// cycle. Entities with no notification channels skip the checks entirely.
func (ev *Evaluator) checkConditions(ctx context.Context, entity *store.Entity, client bmc.Client) {
	if len(entity.ChannelIDs) == 0 {
		return
	}

	checks := []conditionCheck{
		{
			kind:    store.KindMemoryErrors,
			query:   client.QueryMemory,
			present: bmc.HasStatusErrors,
			prefix:  "Memory errors detected:\n",
		},
		{
			kind:    store.KindPowerFailure,
			query:   client.QueryPowerSupplies,
			present: bmc.HasStatusErrors,
			prefix:  "Power supply issue detected:\n",
		},
		{
			kind:    store.KindIntrusion,
			query:   client.QueryIntrusion,
			present: bmc.HasIntrusion,
			prefix:  "Chassis intrusion detected:\n",
		},
		{
			kind:    store.KindVoltageIssues,
			query:   client.QueryVoltages,
			present: bmc.HasStatusErrors,
			prefix:  "Voltage issues detected:\n",
		},
		{
			kind: store.KindSystemEvents,
			query: func(ctx context.Context) (string, error) {
				return client.QueryRecentEvents(ctx, eventQueryLimit)
			},
			present: bmc.HasCriticalEvents,
			prefix:  "Critical system events detected:\n",
		},
	}

	for _, check := range checks {
		if !entity.AlertEnabled(check.kind) {
			continue
		}

		output, err := check.query(ctx)
		if err != nil {
			metrics.CheckFailuresTotal.WithLabelValues(string(check.kind)).Inc()
			logger.Debug().
				Err(err).
				Str("entity", entity.Name).
				Str("kind", string(check.kind)).
				Msg("Condition check query failed")
			continue
		}

		if output != "" && check.present(output) {
			_ = activateAlert(ctx, ev.alerts, ev.notifier, entity, check.kind, check.prefix+output)
		} else {
			_ = clearAlert(ctx, ev.alerts, ev.notifier, entity, check.kind, store.ClearedAuto)
		}
	}
}
