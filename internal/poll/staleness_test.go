package poll

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/bmcmon/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(s *store.Store, notifier Notifier, now func() time.Time) *StalenessMonitor {
	opts := []StalenessOption{}
	if now != nil {
		opts = append(opts, withClock(now))
	}

	return NewStalenessMonitor(s.Entities, s.Alerts, notifier, opts...)
}

func TestStalenessNeverPolled(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, nil)

	// Entity created "20 minutes ago" relative to the sweep clock.
	clock := func() time.Time { return time.Now().Add(20 * time.Minute) }
	notifier := &fakeNotifier{}
	m := newTestMonitor(s, notifier, clock)

	require.NoError(t, m.Sweep(ctx))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, store.KindConnectivity, live[0].Kind)
	assert.Contains(t, live[0].Message, "has not responded since creation")

	records := notifier.recorded()
	require.Len(t, records, 1)
	assert.False(t, records[0].cleared)
}

func TestStalenessNeverPolledWithinGrace(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, nil)

	m := newTestMonitor(s, &fakeNotifier{}, nil)
	require.NoError(t, m.Sweep(ctx))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestStalenessOfflineAfterLastPoll(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, nil)
	require.NoError(t, s.Entities.TouchLastPoll(ctx, entity.ID, time.Now().Add(-20*time.Minute)))

	notifier := &fakeNotifier{}
	m := newTestMonitor(s, notifier, nil)

	require.NoError(t, m.Sweep(ctx))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Contains(t, live[0].Message, "has been offline for")
	assert.Contains(t, live[0].Message, "threshold: 15 minutes")
}

func TestStalenessClearsWhenFresh(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, nil)
	require.NoError(t, s.Entities.TouchLastPoll(ctx, entity.ID, time.Now().Add(-time.Minute)))

	_, err := s.Alerts.Activate(ctx, entity.ID, store.KindConnectivity, "offline")
	require.NoError(t, err)

	notifier := &fakeNotifier{}
	m := newTestMonitor(s, notifier, nil)

	require.NoError(t, m.Sweep(ctx))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, live)

	records := notifier.recorded()
	require.Len(t, records, 1)
	assert.True(t, records[0].cleared)
}

func TestStalenessRespectsEntityThreshold(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, func(e *store.Entity) {
		e.OfflineThresholdMinutes = 30
	})
	require.NoError(t, s.Entities.TouchLastPoll(ctx, entity.ID, time.Now().Add(-20*time.Minute)))

	m := newTestMonitor(s, &fakeNotifier{}, nil)
	require.NoError(t, m.Sweep(ctx))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestStalenessSkipsEntitiesWithoutChannels(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, func(e *store.Entity) {
		e.ChannelIDs = nil
	})

	clock := func() time.Time { return time.Now().Add(20 * time.Minute) }
	m := newTestMonitor(s, &fakeNotifier{}, clock)
	require.NoError(t, m.Sweep(ctx))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestStalenessSkipsDisabledConnectivity(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, func(e *store.Entity) {
		e.AlertConfig = map[store.AlertKind]bool{store.KindConnectivity: false}
	})

	clock := func() time.Time { return time.Now().Add(20 * time.Minute) }
	m := newTestMonitor(s, &fakeNotifier{}, clock)
	require.NoError(t, m.Sweep(ctx))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, live)
}
