package store_test

import (
	"context"
	"sync"
	"testing"

	"codeberg.org/mutker/bmcmon/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func saveTestEntity(t *testing.T, s *store.Store, alertConfig map[store.AlertKind]bool) *store.Entity {
	t.Helper()

	entity := &store.Entity{
		Name:                    "rack1-node1",
		Vendor:                  "supermicro",
		Host:                    "10.0.0.40",
		Port:                    623,
		UsernameEncrypted:       "enc-user",
		PasswordEncrypted:       "enc-pass",
		PollIntervalSeconds:     300,
		AlertConfig:             alertConfig,
		OfflineThresholdMinutes: 15,
	}
	require.NoError(t, s.Entities.Save(context.Background(), entity))

	return entity
}

func TestActivateIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	entity := saveTestEntity(t, s, map[store.AlertKind]bool{store.KindConnectivity: true})

	transition, err := s.Alerts.Activate(ctx, entity.ID, store.KindConnectivity, "unreachable")
	require.NoError(t, err)
	assert.Equal(t, store.TransitionActivated, transition)

	transition, err = s.Alerts.Activate(ctx, entity.ID, store.KindConnectivity, "still unreachable")
	require.NoError(t, err)
	assert.Equal(t, store.TransitionAlreadyActive, transition)

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "unreachable", live[0].Message, "message must not change on re-activation")
	assert.False(t, live[0].LastUpdatedAt.Before(live[0].FirstTriggeredAt))
}

func TestClearIfActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	entity := saveTestEntity(t, s, map[store.AlertKind]bool{store.KindMemoryErrors: true})

	// Clearing with nothing live is a no-op.
	transition, err := s.Alerts.ClearIfActive(ctx, entity.ID, store.KindMemoryErrors, store.ClearedAuto)
	require.NoError(t, err)
	assert.Equal(t, store.TransitionNotActive, transition)

	_, err = s.Alerts.Activate(ctx, entity.ID, store.KindMemoryErrors, "DIMM A1 correctable errors")
	require.NoError(t, err)

	transition, err = s.Alerts.ClearIfActive(ctx, entity.ID, store.KindMemoryErrors, store.ClearedAuto)
	require.NoError(t, err)
	assert.Equal(t, store.TransitionCleared, transition)

	// A second clear is again a no-op.
	transition, err = s.Alerts.ClearIfActive(ctx, entity.ID, store.KindMemoryErrors, store.ClearedAuto)
	require.NoError(t, err)
	assert.Equal(t, store.TransitionNotActive, transition)

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestReactivateAfterClearCreatesNewRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	entity := saveTestEntity(t, s, map[store.AlertKind]bool{store.KindConnectivity: true})

	_, err := s.Alerts.Activate(ctx, entity.ID, store.KindConnectivity, "down")
	require.NoError(t, err)
	_, err = s.Alerts.ClearIfActive(ctx, entity.ID, store.KindConnectivity, store.ClearedAuto)
	require.NoError(t, err)

	transition, err := s.Alerts.Activate(ctx, entity.ID, store.KindConnectivity, "down again")
	require.NoError(t, err)
	assert.Equal(t, store.TransitionActivated, transition)

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "down again", live[0].Message)
}

func TestManualClearActor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	entity := saveTestEntity(t, s, map[store.AlertKind]bool{store.KindIntrusion: true})

	_, err := s.Alerts.Activate(ctx, entity.ID, store.KindIntrusion, "chassis open")
	require.NoError(t, err)

	transition, err := s.Alerts.ClearIfActive(ctx, entity.ID, store.KindIntrusion, store.ClearedManual)
	require.NoError(t, err)
	assert.Equal(t, store.TransitionCleared, transition)
}

func TestConcurrentWritersSingleLiveRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	entity := saveTestEntity(t, s, map[store.AlertKind]bool{store.KindConnectivity: true})

	// Race a poll-success clear against a staleness activate for the same
	// (entity, kind). Whatever the interleaving, at most one live record may
	// remain.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.Alerts.Activate(ctx, entity.ID, store.KindConnectivity, "stale")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := s.Alerts.ClearIfActive(ctx, entity.ID, store.KindConnectivity, store.ClearedAuto)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(live), 1)
}

func TestListLiveAllEntities(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	first := saveTestEntity(t, s, map[store.AlertKind]bool{store.KindConnectivity: true})
	second := saveTestEntity(t, s, map[store.AlertKind]bool{store.KindConnectivity: true})

	_, err := s.Alerts.Activate(ctx, first.ID, store.KindConnectivity, "down")
	require.NoError(t, err)
	_, err = s.Alerts.Activate(ctx, second.ID, store.KindVoltageIssues, "12V rail low")
	require.NoError(t, err)

	all, err := s.Alerts.ListLive(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	count, err := s.Alerts.CountLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	scoped, err := s.Alerts.ListLive(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, store.KindConnectivity, scoped[0].Kind)
}
