package poll

import (
	"context"

	"codeberg.org/mutker/bmcmon/internal/bmc"
	"codeberg.org/mutker/bmcmon/internal/store"
)

// Notifier delivers alert transitions to the entity's configured channels.
// Delivery failures stay inside the notifier; polling never depends on them.
type Notifier interface {
	Dispatch(ctx context.Context, entity *store.Entity, kind store.AlertKind, detail string, cleared bool)
}

// ClientFactory builds a telemetry client for one resolved target. Tests
// substitute it to avoid spawning ipmitool.
type ClientFactory func(target bmc.Target) bmc.Client
