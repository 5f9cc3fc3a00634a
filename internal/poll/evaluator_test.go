package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"codeberg.org/mutker/bmcmon/internal/bmc"
	"codeberg.org/mutker/bmcmon/internal/errors"
	"codeberg.org/mutker/bmcmon/internal/fancurve"
	"codeberg.org/mutker/bmcmon/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthroughResolver stores credentials unencrypted for tests.
type passthroughResolver struct{}

func (passthroughResolver) Encrypt(value string) (string, error) { return value, nil }
func (passthroughResolver) Decrypt(value string) (string, error) { return value, nil }

type fanCall struct {
	rpm int
	fan string
}

type fakeClient struct {
	mu sync.Mutex

	temps      string
	tempsErr   error
	tempsCalls atomic.Int32
	fans       string
	memory     string
	memoryErr  error
	power      string
	intrusion  string
	voltages   string
	events     string

	fanErr   error
	fanCalls []fanCall
}

func (c *fakeClient) QueryTemperatures(context.Context) (string, error) {
	c.tempsCalls.Add(1)
	return c.temps, c.tempsErr
}
func (c *fakeClient) QueryFans(context.Context) (string, error)   { return c.fans, nil }
func (c *fakeClient) QueryMemory(context.Context) (string, error) { return c.memory, c.memoryErr }
func (c *fakeClient) QueryPowerSupplies(context.Context) (string, error) {
	return c.power, nil
}
func (c *fakeClient) QueryIntrusion(context.Context) (string, error) { return c.intrusion, nil }
func (c *fakeClient) QueryVoltages(context.Context) (string, error)  { return c.voltages, nil }
func (c *fakeClient) QueryRecentEvents(context.Context, int) (string, error) {
	return c.events, nil
}

func (c *fakeClient) SetFanSpeed(_ context.Context, rpm int, fan string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fanErr != nil {
		return c.fanErr
	}
	c.fanCalls = append(c.fanCalls, fanCall{rpm: rpm, fan: fan})

	return nil
}

func (c *fakeClient) recordedFanCalls() []fanCall {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]fanCall(nil), c.fanCalls...)
}

func healthyClient() *fakeClient {
	return &fakeClient{
		temps:    "CPU Temp         | 04h | ok  |  7.1 | 48 degrees C",
		fans:     "FAN1             | 41h | ok  | 29.1 | 3600 RPM",
		memory:   "DIMM A1          | 10h | ok  | 32.1 | Presence Detected",
		power:    "PS1 Status       | c8h | ok  | 10.1 | Presence detected",
		voltages: "12V              | 30h | ok  |  7.18 | 12.24 Volts",
	}
}

type dispatchRecord struct {
	kind    store.AlertKind
	detail  string
	cleared bool
}

type fakeNotifier struct {
	mu      sync.Mutex
	records []dispatchRecord
}

func (n *fakeNotifier) Dispatch(_ context.Context, _ *store.Entity, kind store.AlertKind, detail string, cleared bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, dispatchRecord{kind: kind, detail: detail, cleared: cleared})
}

func (n *fakeNotifier) recorded() []dispatchRecord {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]dispatchRecord(nil), n.records...)
}

func openPollStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func savePollEntity(t *testing.T, s *store.Store, mutate func(*store.Entity)) *store.Entity {
	t.Helper()

	entity := &store.Entity{
		Name:                "node-1",
		Vendor:              "supermicro",
		Host:                "10.0.0.5",
		UsernameEncrypted:   "admin",
		PasswordEncrypted:   "hunter2",
		PollIntervalSeconds: 60,
		Zones: []fancurve.Zone{
			{TempThreshold: 50, TargetRPM: 1800},
			{TempThreshold: 52, TargetRPM: 3500},
			{TempThreshold: 70, TargetRPM: 5000},
		},
		AlertConfig: map[store.AlertKind]bool{store.KindConnectivity: true},
		ChannelIDs:  []string{"chan-1"},
	}
	if mutate != nil {
		mutate(entity)
	}
	require.NoError(t, s.Entities.Save(context.Background(), entity))

	return entity
}

func newTestEvaluator(s *store.Store, client bmc.Client, notifier Notifier) *Evaluator {
	return NewEvaluator(s.Entities, s.Alerts, passthroughResolver{}, notifier,
		WithClientFactory(func(bmc.Target) bmc.Client { return client }))
}

func TestCycleSuccessClearsConnectivityAndStampsPoll(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, nil)

	_, err := s.Alerts.Activate(ctx, entity.ID, store.KindConnectivity, "down")
	require.NoError(t, err)

	notifier := &fakeNotifier{}
	ev := newTestEvaluator(s, healthyClient(), notifier)

	require.NoError(t, ev.RunCycle(ctx, entity))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, live)

	reloaded, err := s.Entities.Get(ctx, entity.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.LastSuccessfulPoll)

	records := notifier.recorded()
	require.Len(t, records, 1)
	assert.Equal(t, store.KindConnectivity, records[0].kind)
	assert.True(t, records[0].cleared)
}

func TestCredentialsResolvedPerCycle(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, nil)

	var captured bmc.Target
	client := healthyClient()
	ev := NewEvaluator(s.Entities, s.Alerts, passthroughResolver{}, &fakeNotifier{},
		WithClientFactory(func(target bmc.Target) bmc.Client {
			captured = target
			return client
		}))

	require.NoError(t, ev.RunCycle(ctx, entity))
	assert.Equal(t, "admin", captured.Username)
	assert.Equal(t, "hunter2", captured.Password)
	assert.Equal(t, "10.0.0.5", captured.Host)
	assert.Equal(t, "supermicro", captured.Vendor)
}

func TestFanControlBaseAndOverride(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	minRPM := 900
	entity := savePollEntity(t, s, func(e *store.Entity) {
		e.FanOverrides = []store.FanOverride{
			{FanIdentifier: "FAN4", MinRPM: &minRPM},
			{FanIdentifier: "FANA"}, // no MinRPM, inert
		}
	})

	client := healthyClient()
	ev := newTestEvaluator(s, client, &fakeNotifier{})

	require.NoError(t, ev.RunCycle(ctx, entity))

	assert.Equal(t, []fanCall{
		{rpm: 1800, fan: ""},
		{rpm: 900, fan: "FAN4"},
	}, client.recordedFanCalls())
}

func TestFanOverrideInactiveAboveGate(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	minRPM := 900
	entity := savePollEntity(t, s, func(e *store.Entity) {
		e.FanOverrides = []store.FanOverride{{FanIdentifier: "FAN4", MinRPM: &minRPM}}
	})

	client := healthyClient()
	client.temps = "CPU Temp         | 04h | ok  |  7.1 | 60 degrees C"
	ev := newTestEvaluator(s, client, &fakeNotifier{})

	require.NoError(t, ev.RunCycle(ctx, entity))

	// Above the second zone threshold the named fan follows the curve.
	assert.Equal(t, []fanCall{
		{rpm: 5000, fan: ""},
		{rpm: 5000, fan: "FAN4"},
	}, client.recordedFanCalls())
}

func TestTransportFailureActivatesConnectivity(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, nil)

	client := healthyClient()
	client.tempsErr = errors.New().WithMessage(errors.ErrTransport, "Unable to establish IPMI v2 / RMCP+ session")
	notifier := &fakeNotifier{}
	ev := newTestEvaluator(s, client, notifier)

	require.Error(t, ev.RunCycle(ctx, entity))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, store.KindConnectivity, live[0].Kind)
	assert.Contains(t, live[0].Message, "Server unreachable:")
	assert.Contains(t, live[0].Message, "Check network connectivity")

	reloaded, err := s.Entities.Get(ctx, entity.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.LastSuccessfulPoll)

	records := notifier.recorded()
	require.Len(t, records, 1)
	assert.False(t, records[0].cleared)
}

func TestAuthFailureWording(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, nil)

	client := healthyClient()
	client.tempsErr = errors.New().WithMessage(errors.ErrAuth, "RAKP 2 HMAC is invalid")
	ev := newTestEvaluator(s, client, &fakeNotifier{})

	require.Error(t, ev.RunCycle(ctx, entity))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Contains(t, live[0].Message, "IPMI communication error:")
}

func TestFailureWithConnectivityDisabled(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, func(e *store.Entity) {
		e.AlertConfig = map[store.AlertKind]bool{}
	})

	client := healthyClient()
	client.tempsErr = errors.New().WithMessage(errors.ErrTransport, "connection refused")
	ev := newTestEvaluator(s, client, &fakeNotifier{})

	require.Error(t, ev.RunCycle(ctx, entity))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestTemperatureCriticalLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, func(e *store.Entity) {
		e.AlertConfig[store.KindTemperatureCritical] = true
	})

	client := healthyClient()
	client.temps = "CPU Temp         | 04h | ok  |  7.1 | 85 degrees C"
	notifier := &fakeNotifier{}
	ev := newTestEvaluator(s, client, notifier)

	require.NoError(t, ev.RunCycle(ctx, entity))
	require.NoError(t, ev.RunCycle(ctx, entity))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, store.KindTemperatureCritical, live[0].Kind)
	assert.Contains(t, live[0].Message, "CPU temperature critical: 85")

	var activations int
	for _, record := range notifier.recorded() {
		if record.kind == store.KindTemperatureCritical && !record.cleared {
			activations++
		}
	}
	assert.Equal(t, 1, activations, "re-activation of a live alert must not notify again")

	client.temps = "CPU Temp         | 04h | ok  |  7.1 | 48 degrees C"
	require.NoError(t, ev.RunCycle(ctx, entity))

	live, err = s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, live)

	last := notifier.recorded()[len(notifier.recorded())-1]
	assert.Equal(t, store.KindTemperatureCritical, last.kind)
	assert.True(t, last.cleared)
}

func TestMemoryErrorCheck(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, func(e *store.Entity) {
		e.AlertConfig[store.KindMemoryErrors] = true
	})

	client := healthyClient()
	client.memory = "DIMM A1          | 10h | cr  | 32.1 | Correctable ECC logging limit reached"
	notifier := &fakeNotifier{}
	ev := newTestEvaluator(s, client, notifier)

	require.NoError(t, ev.RunCycle(ctx, entity))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, store.KindMemoryErrors, live[0].Kind)
	assert.Contains(t, live[0].Message, "Memory errors detected:")
	assert.Contains(t, live[0].Message, "DIMM A1")

	client.memory = healthyClient().memory
	require.NoError(t, ev.RunCycle(ctx, entity))

	live, err = s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestSecondaryCheckEmptyOutputClearsAlert(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, func(e *store.Entity) {
		e.AlertConfig[store.KindMemoryErrors] = true
	})

	_, err := s.Alerts.Activate(ctx, entity.ID, store.KindMemoryErrors, "ECC errors")
	require.NoError(t, err)

	// The client reads a sensor type the board stopped reporting as empty
	// output, so the condition is absent and the alert recovers.
	client := healthyClient()
	client.memory = ""
	notifier := &fakeNotifier{}
	ev := newTestEvaluator(s, client, notifier)

	require.NoError(t, ev.RunCycle(ctx, entity))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, live)

	var cleared []dispatchRecord
	for _, record := range notifier.recorded() {
		if record.kind == store.KindMemoryErrors && record.cleared {
			cleared = append(cleared, record)
		}
	}
	assert.Len(t, cleared, 1)
}

func TestSecondaryCheckTransportFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, func(e *store.Entity) {
		e.AlertConfig[store.KindMemoryErrors] = true
		e.AlertConfig[store.KindConnectivity] = false
	})

	_, err := s.Alerts.Activate(ctx, entity.ID, store.KindMemoryErrors, "ECC errors")
	require.NoError(t, err)

	client := healthyClient()
	client.memoryErr = errors.New().WithMessage(errors.ErrTimeout, "sensor read timed out")
	notifier := &fakeNotifier{}
	ev := newTestEvaluator(s, client, notifier)

	require.NoError(t, ev.RunCycle(ctx, entity))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, live, 1, "failed check must not clear the live alert")
	assert.Empty(t, notifier.recorded())
}

func TestSecondaryChecksSkippedWithoutChannels(t *testing.T) {
	ctx := context.Background()
	s := openPollStore(t)
	entity := savePollEntity(t, s, func(e *store.Entity) {
		e.AlertConfig[store.KindMemoryErrors] = true
		e.ChannelIDs = nil
	})

	client := healthyClient()
	client.memory = "DIMM A1          | 10h | cr  | 32.1 | Uncorrectable ECC"
	ev := newTestEvaluator(s, client, &fakeNotifier{})

	require.NoError(t, ev.RunCycle(ctx, entity))

	live, err := s.Alerts.ListLive(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, live)
}
