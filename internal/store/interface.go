package store

import (
	"context"
	"time"

	"codeberg.org/mutker/bmcmon/internal/fancurve"
)

// AlertKind identifies one of the independent alert conditions evaluated per
// cycle.
type AlertKind string

const (
	KindConnectivity        AlertKind = "connectivity"
	KindMemoryErrors        AlertKind = "memory_errors"
	KindPowerFailure        AlertKind = "power_failure"
	KindIntrusion           AlertKind = "intrusion"
	KindVoltageIssues       AlertKind = "voltage_issues"
	KindSystemEvents        AlertKind = "system_events"
	KindTemperatureCritical AlertKind = "temperature_critical"
)

// AlertKinds lists every known kind in evaluation order.
func AlertKinds() []AlertKind {
	return []AlertKind{
		KindConnectivity,
		KindMemoryErrors,
		KindPowerFailure,
		KindIntrusion,
		KindVoltageIssues,
		KindSystemEvents,
		KindTemperatureCritical,
	}
}

// Clear actors.
const (
	ClearedAuto   = "auto"
	ClearedManual = "manual"
)

// Transition is the outcome of an activate or clear operation. Only
// Activated and Cleared represent edges that warrant a notification.
type Transition string

const (
	TransitionActivated     Transition = "activated"
	TransitionAlreadyActive Transition = "already_active"
	TransitionCleared       Transition = "cleared"
	TransitionNotActive     Transition = "not_active"
)

// Changed reports whether the operation crossed an activate/clear edge.
func (t Transition) Changed() bool {
	return t == TransitionActivated || t == TransitionCleared
}

// Entity is one monitored hardware unit: address, credentials, fan curve and
// alert configuration. The engine reads it and writes back only
// LastSuccessfulPoll.
type Entity struct {
	ID                      string
	Name                    string
	Vendor                  string
	Host                    string
	Port                    int
	UsernameEncrypted       string
	PasswordEncrypted       string
	PollIntervalSeconds     int
	Zones                   []fancurve.Zone
	FanOverrides            []FanOverride
	AlertConfig             map[AlertKind]bool
	ChannelIDs              []string
	OfflineThresholdMinutes int
	LastSuccessfulPoll      *time.Time
	CreatedAt               time.Time
}

// AlertEnabled reports whether the given kind is switched on for the entity.
// Absent kinds default to disabled.
func (e *Entity) AlertEnabled(kind AlertKind) bool {
	return e.AlertConfig[kind]
}

// FanOverride pins a minimum RPM for one named fan while the entity's
// temperature stays at or below the second zone threshold. An override with
// no MinRPM is inert.
type FanOverride struct {
	ID            string
	FanIdentifier string
	MinRPM        *int
	MaxRPM        *int
	LowerTempC    *int
	UpperTempC    *int
}

// Channel provider kinds.
const (
	ChannelSlack    = "slack"
	ChannelTeams    = "teams"
	ChannelDiscord  = "discord"
	ChannelTelegram = "telegram"
)

// Channel is a configured notification destination. The endpoint (webhook
// URL or bot token) is stored encrypted and resolved on demand.
type Channel struct {
	ID                string
	Name              string
	Type              string
	EndpointEncrypted string
	Enabled           bool
	Metadata          map[string]string
	CreatedAt         time.Time
}

// Alert is the durable record of one (entity, kind) condition. A record with
// no ClearedAt is live; at most one live record per (entity, kind) exists.
type Alert struct {
	ID               string
	EntityID         string
	Kind             AlertKind
	Message          string
	FirstTriggeredAt time.Time
	LastUpdatedAt    time.Time
	ClearedAt        *time.Time
	ClearedBy        string
}

// Live reports whether the alert has not been cleared.
func (a *Alert) Live() bool {
	return a.ClearedAt == nil
}

// EntityRepository owns monitored-entity configuration.
type EntityRepository interface {
	Save(ctx context.Context, entity *Entity) error
	Get(ctx context.Context, id string) (*Entity, error)
	List(ctx context.Context) ([]*Entity, error)
	Delete(ctx context.Context, id string) error
	TouchLastPoll(ctx context.Context, id string, at time.Time) error
}

// ChannelRepository owns notification channel configuration.
type ChannelRepository interface {
	Save(ctx context.Context, channel *Channel) error
	Get(ctx context.Context, id string) (*Channel, error)
	List(ctx context.Context) ([]*Channel, error)
	ListEnabledByIDs(ctx context.Context, ids []string) ([]*Channel, error)
	Delete(ctx context.Context, id string) error
}

// AlertRepository owns durable alert state. Activate and ClearIfActive are
// atomic with respect to the live-record uniqueness invariant even under
// concurrent writers.
type AlertRepository interface {
	Activate(ctx context.Context, entityID string, kind AlertKind, message string) (Transition, error)
	ClearIfActive(ctx context.Context, entityID string, kind AlertKind, actor string) (Transition, error)
	ListLive(ctx context.Context, entityID string) ([]*Alert, error)
	List(ctx context.Context, entityID string) ([]*Alert, error)
	CountLive(ctx context.Context) (int, error)
}
