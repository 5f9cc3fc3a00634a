package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeberg.org/mutker/bmcmon/internal/errors"
	"codeberg.org/mutker/bmcmon/internal/logger"
	"codeberg.org/mutker/bmcmon/internal/metrics"
	"codeberg.org/mutker/bmcmon/internal/secret"
	"codeberg.org/mutker/bmcmon/internal/store"
	"github.com/go-resty/resty/v2"
)

var alertSubjects = map[store.AlertKind]string{
	store.KindConnectivity:        "Server Connectivity Alert",
	store.KindMemoryErrors:        "Memory Error Alert",
	store.KindPowerFailure:        "Power Supply Failure",
	store.KindIntrusion:           "Chassis Intrusion Alert",
	store.KindVoltageIssues:       "Voltage Issue Alert",
	store.KindSystemEvents:        "Critical System Event",
	store.KindTemperatureCritical: "Critical Temperature Alert",
}

func kindTitle(kind store.AlertKind) string {
	words := strings.Split(string(kind), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}

	return strings.Join(words, " ")
}

func kindSubject(kind store.AlertKind) string {
	if subject, ok := alertSubjects[kind]; ok {
		return subject
	}

	return kindTitle(kind)
}

// Dispatcher fans a transition out to every enabled channel an entity
// references. Channels fail independently; a delivery failure never fails
// the poll cycle, and the next evaluation is the only retry mechanism.
type Dispatcher struct {
	channels store.ChannelRepository
	secrets  secret.Resolver
	client   *resty.Client

	telegramAPIBase string
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(d time.Duration) DispatcherOption {
	return func(dsp *Dispatcher) {
		if d > 0 {
			dsp.client.SetTimeout(d)
		}
	}
}

// WithTelegramAPIBase overrides the Telegram API endpoint, used by tests.
func WithTelegramAPIBase(base string) DispatcherOption {
	return func(dsp *Dispatcher) {
		dsp.telegramAPIBase = base
	}
}

// NewDispatcher builds a dispatcher resolving channel endpoints through the
// given secret resolver.
func NewDispatcher(channels store.ChannelRepository, secrets secret.Resolver, opts ...DispatcherOption) *Dispatcher {
	dsp := &Dispatcher{
		channels: channels,
		secrets:  secrets,
		client:   newHTTPClient(defaultSendTimeout),
	}
	for _, opt := range opts {
		opt(dsp)
	}

	return dsp
}

// FormatMessage builds the subject/body pair for one transition. Clears get
// a distinct short phrasing so channels show recovery at a glance.
func FormatMessage(entity *store.Entity, kind store.AlertKind, detail string, cleared bool) Message {
	var subject, body string
	if cleared {
		subject = kindSubject(kind) + " Cleared"
		body = "Server: " + entity.Name
	} else {
		subject = kindSubject(kind)
		body = fmt.Sprintf("Server: %s\n\n%s:\n%s", entity.Name, kindTitle(kind), detail)
	}

	direction := "activated"
	if cleared {
		direction = "cleared"
	}

	return Message{
		Subject: subject,
		Body:    body,
		Metadata: map[string]string{
			"entity_id":  entity.ID,
			"alert_kind": string(kind),
			"direction":  direction,
		},
	}
}

// Dispatch delivers the transition to every enabled channel the entity
// references. Each channel is attempted regardless of earlier failures.
func (dsp *Dispatcher) Dispatch(ctx context.Context, entity *store.Entity, kind store.AlertKind, detail string, cleared bool) {
	if len(entity.ChannelIDs) == 0 {
		return
	}

	channels, err := dsp.channels.ListEnabledByIDs(ctx, entity.ChannelIDs)
	if err != nil {
		logger.Error().Err(err).Str("entity", entity.Name).Msg("Failed to load notification channels")
		return
	}
	if len(channels) == 0 {
		logger.Debug().Str("entity", entity.Name).Msg("No enabled notification channels")
		return
	}

	message := FormatMessage(entity, kind, detail, cleared)

	for _, channel := range channels {
		if err := dsp.sendToChannel(ctx, channel, message); err != nil {
			metrics.NotificationsTotal.WithLabelValues(channel.Type, "failed").Inc()
			logger.Error().
				Err(err).
				Str("channel", channel.Name).
				Str("entity", entity.Name).
				Str("kind", string(kind)).
				Msg("Failed to deliver notification")
			continue
		}

		metrics.NotificationsTotal.WithLabelValues(channel.Type, "sent").Inc()
		logger.Info().
			Str("channel", channel.Name).
			Str("entity", entity.Name).
			Str("kind", string(kind)).
			Bool("cleared", cleared).
			Msg("Notification sent")
	}
}

// Test sends a fixed diagnostic message to one channel and surfaces the
// delivery error to the caller, for an operator-facing connectivity check.
func (dsp *Dispatcher) Test(ctx context.Context, channelID string) error {
	channel, err := dsp.channels.Get(ctx, channelID)
	if err != nil {
		return err
	}

	return dsp.sendToChannel(ctx, channel, Message{
		Subject: "bmcmon Test Notification",
		Body:    "Channel " + channel.Name + " is configured correctly.",
	})
}

func (dsp *Dispatcher) sendToChannel(ctx context.Context, channel *store.Channel, message Message) error {
	provider, err := dsp.buildProvider(channel)
	if err != nil {
		return err
	}

	return provider.Send(ctx, message)
}

func (dsp *Dispatcher) buildProvider(channel *store.Channel) (Provider, error) {
	errFactory := errors.New()

	endpoint, err := dsp.secrets.Decrypt(channel.EndpointEncrypted)
	if err != nil {
		return nil, errFactory.Wrap(ErrEndpointResolve, err)
	}

	switch channel.Type {
	case store.ChannelSlack:
		return &slackProvider{endpoint: endpoint, client: dsp.client}, nil
	case store.ChannelTeams:
		return &teamsProvider{endpoint: endpoint, client: dsp.client}, nil
	case store.ChannelDiscord:
		return &discordProvider{endpoint: endpoint, client: dsp.client}, nil
	case store.ChannelTelegram:
		chatID := channel.Metadata["chat_id"]
		if chatID == "" {
			return nil, errFactory.WithData(ErrMissingChatID, channel.Name)
		}
		return &telegramProvider{
			botToken: endpoint,
			chatID:   chatID,
			client:   dsp.client,
			apiBase:  dsp.telegramAPIBase,
		}, nil
	default:
		return nil, errFactory.WithData(ErrUnsupportedType, channel.Type)
	}
}
