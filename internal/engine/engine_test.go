package engine

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gridctl/internal/cache"
	"github.com/banshee-data/gridctl/internal/config"
	"github.com/banshee-data/gridctl/internal/grid"
	"github.com/banshee-data/gridctl/internal/monitoring"
	"github.com/banshee-data/gridctl/internal/policy"
	"github.com/banshee-data/gridctl/internal/seriallink"
	"github.com/banshee-data/gridctl/internal/telemetry"
	"github.com/banshee-data/gridctl/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type rig struct {
	sim    *grid.Simulator
	port   *seriallink.TestablePort
	opener *seriallink.MockOpener
	source *telemetry.StaticSource
	store  *config.Store
	engine *Engine
}

func cpuAt(v float64) telemetry.Reading {
	return telemetry.Reading{Device: "Intel Core i7", Sensor: "CPU Package", Value: v}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Grid.Port = "/dev/ttyUSB0"
	cfg.Grid.Serial.CommandRate = -1
	cfg.Grid.PollMetrics = false
	cfg.Signals = []config.SignalConfig{{Name: "cpu", Fn: "max", Sensors: []string{"Intel Core i7, *"}}}
	return cfg
}

func newRig(t *testing.T, cfg *config.Config, opts Options) *rig {
	t.Helper()
	r := &rig{sim: grid.NewSimulator()}
	r.port = r.sim.Port()
	r.opener = seriallink.NewMockOpener(r.port)
	r.source = telemetry.NewStaticSource(cpuAt(70), telemetry.Reading{Device: "Disk", Sensor: "temp1", Value: 35})
	r.store = config.NewStore(cfg, "")
	r.engine = New(r.store, r.source, grid.NewClient(r.opener), opts)
	return r
}

func (r *rig) cycles(n int) Status {
	var st Status
	for i := 0; i < n; i++ {
		st = r.engine.RunCycle(context.Background())
	}
	return st
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestEndToEnd_ConvergesTo87(t *testing.T) {
	t.Parallel()

	r := newRig(t, testConfig(), Options{})
	st := r.cycles(5)

	assert.True(t, st.OK, "errors: %v", st.Errors)
	assert.Equal(t, grid.Connected, st.Connection.State)
	assert.Equal(t, repeat(87, 6), st.Targets)
	assert.Equal(t, repeat(87, 6), st.Levels)
	assert.Equal(t, repeat(87, 6), r.sim.Levels())
	assert.Len(t, r.sim.Sets(), 6, "unchanged levels are not re-sent")
	assert.Equal(t, uint64(5), st.Cycle)
	assert.Zero(t, st.Sent)

	require.Len(t, st.Signals, 1)
	assert.Equal(t, "cpu", st.Signals[0].Name)
	assert.Equal(t, 70.0, st.Signals[0].Value)
	assert.Equal(t, []telemetry.Reading{cpuAt(70)}, st.Sensors, "only readings used by a signal")
}

func TestEndToEnd_SetCommandBytes(t *testing.T) {
	t.Parallel()

	r := newRig(t, testConfig(), Options{})
	r.cycles(1)

	reqs := r.port.Requests()
	require.Len(t, reqs, 7)
	assert.Equal(t, []byte{0xC0}, reqs[0])
	for ch := 1; ch <= 6; ch++ {
		assert.Equal(t, []byte{0x44, byte(ch), 0xC0, 0x00, 0x00, 10, 44}, reqs[ch])
	}
}

func TestReconnect_AfterTwoFailedOpens(t *testing.T) {
	t.Parallel()

	r := newRig(t, testConfig(), Options{})
	r.opener.Errors = []error{seriallink.ErrPortNotFound, seriallink.ErrAccessDenied}

	st := r.cycles(1)
	assert.Equal(t, grid.Faulted, st.Connection.State)
	assert.False(t, st.OK)
	assert.Contains(t, st.Errors[0], "no device found")
	assert.Equal(t, repeat(cache.Unknown, 6), st.Levels)

	st = r.cycles(1)
	assert.Equal(t, grid.Faulted, st.Connection.State)
	assert.Contains(t, st.Connection.Reason, "access denied")

	st = r.cycles(1)
	assert.Equal(t, grid.Connected, st.Connection.State)
	assert.True(t, st.OK, "errors: %v", st.Errors)
	assert.Equal(t, repeat(87, 6), st.Levels)

	r.cycles(2)
	assert.Equal(t, 3, r.opener.Calls())
	assert.Equal(t, 1, r.sim.Inits(), "one handshake per successful open")
	assert.Equal(t, uint64(2), r.engine.Client().Stats().Errors)
}

func TestCacheStopsAtFailedChannel(t *testing.T) {
	t.Parallel()

	r := newRig(t, testConfig(), Options{})
	r.sim.SetFailing(5, true)

	st := r.cycles(1)
	assert.Equal(t, []int{87, 87, 87, 87, cache.Unknown, cache.Unknown}, st.Levels)
	assert.Equal(t, 4, st.Sent)
	assert.Equal(t, grid.Faulted, st.Connection.State)
	for _, set := range r.sim.Sets() {
		assert.NotEqual(t, 6, set.Channel, "channel 6 must not be attempted after channel 5 failed")
	}

	// the next cycle reconnects and starts from an empty cache
	r.sim.SetFailing(5, false)
	st = r.cycles(1)
	assert.Equal(t, grid.Connected, st.Connection.State)
	assert.Equal(t, repeat(87, 6), st.Levels)
	assert.Equal(t, 6, st.Sent)
	assert.Equal(t, 2, r.sim.Inits())
}

func TestSilentControllerFaultsEveryCycle(t *testing.T) {
	t.Parallel()

	r := newRig(t, testConfig(), Options{})
	r.sim.SetSilent(true)

	for i := 0; i < 3; i++ {
		st := r.cycles(1)
		assert.Equal(t, grid.Faulted, st.Connection.State)
		assert.Contains(t, st.Connection.Reason, "handshake failed")
	}
	assert.Equal(t, 3, r.opener.Calls())
	assert.Empty(t, r.sim.Sets())

	r.sim.SetSilent(false)
	st := r.cycles(1)
	assert.Equal(t, grid.Connected, st.Connection.State)
}

func TestTelemetryUnavailable(t *testing.T) {
	t.Parallel()

	t.Run("pull error", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, testConfig(), Options{})
		r.source.SetError(telemetry.ErrUnavailable)

		st := r.cycles(1)
		assert.False(t, st.TelemetryOK)
		assert.False(t, st.Healthy())
		assert.Equal(t, grid.Connected, st.Connection.State)
		assert.Contains(t, st.Errors[0], "telemetry unavailable")
		assert.Empty(t, r.sim.Sets())
	})

	t.Run("every signal zero", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, testConfig(), Options{})
		r.source.Set(cpuAt(0))

		st := r.cycles(1)
		assert.False(t, st.TelemetryOK)
		assert.Equal(t, []string{errTelemetryZero.Error()}, st.Errors)
		assert.Empty(t, r.sim.Sets())
	})
}

func TestTelemetryOutageKeepsFilterState(t *testing.T) {
	t.Parallel()

	r := newRig(t, testConfig(), Options{})
	st := r.cycles(1)
	require.Equal(t, repeat(87, 6), st.Targets)

	r.source.SetError(errors.New("sensor service restarting"))
	st = r.cycles(1)
	assert.Equal(t, repeat(87, 6), st.Targets, "targets are held")
	assert.Equal(t, repeat(87, 6), st.Levels)

	// window of 70,70,70,70,60 averages 68; a reset filter would read 60
	r.source.SetError(nil)
	r.source.Set(cpuAt(60))
	st = r.cycles(1)
	assert.Equal(t, repeat(82, 6), st.Targets)
}

func TestConfigChangeReconfigures(t *testing.T) {
	t.Parallel()

	r := newRig(t, testConfig(), Options{})
	r.cycles(2)
	require.Len(t, r.sim.Sets(), 6)

	next := testConfig()
	next.Policy.Fans[0].Mode = policy.Manual
	next.Policy.Fans[0].Manual = "50"
	next.Policy.Fans[1].Mode = "off"
	epoch, err := r.store.Update(next)
	require.NoError(t, err)

	st := r.cycles(1)
	assert.Equal(t, epoch, st.Epoch)
	assert.Equal(t, []int{50, 0, 87, 87, 87, 87}, st.Targets)
	assert.Equal(t, 6, st.Sent, "cache is rebuilt with the new epoch")
	assert.Equal(t, 2, r.sim.Inits())
	assert.Equal(t, []int{50, 0, 87, 87, 87, 87}, r.sim.Levels())
}

func TestPolicyErrorsAreReported(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Policy.Fans[1].Signal = "gpu"
	cfg.Policy.Fans[2].Mode = policy.Manual
	cfg.Policy.Fans[2].Manual = "fast"
	r := newRig(t, cfg, Options{})

	st := r.cycles(1)
	assert.False(t, st.OK)
	assert.Len(t, st.Errors, 2)
	assert.Contains(t, st.Errors[0], `unknown signal "gpu"`)
	assert.Contains(t, st.Errors[1], "manual level is not a number")
	assert.Equal(t, []int{87, 100, 0, 87, 87, 87}, st.Targets)
	assert.Equal(t, grid.Connected, st.Connection.State, "configuration errors never fault the link")

	st = r.cycles(1)
	assert.Len(t, st.Errors, 2, "each cycle reports only its own errors")
}

func TestForceRewrite(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Grid.ForceRewrite = true
	r := newRig(t, cfg, Options{})

	r.cycles(3)
	assert.Len(t, r.sim.Sets(), 18)
}

func TestPollMetrics(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Grid.PollMetrics = true
	r := newRig(t, cfg, Options{Poll: grid.Selection{RPM: true}})

	st := r.cycles(1)
	require.Len(t, st.Fans, 6)
	assert.Equal(t, 1566, st.Fans[0].RPM)
	assert.Zero(t, st.Fans[0].Voltage)
	assert.Equal(t, uint64(6), st.Link.Reads)
}

func TestNoSignalsReportsAllSensors(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Signals = nil
	r := newRig(t, cfg, Options{})

	st := r.cycles(1)
	assert.Len(t, st.Sensors, 2)
	assert.True(t, st.TelemetryOK, "an empty signal set is not all zero")
	assert.Equal(t, repeat(100, 6), st.Targets, "fans follow an undefined signal at full speed")
}

func TestStatusHandoff(t *testing.T) {
	t.Parallel()

	r := newRig(t, testConfig(), Options{})
	assert.Nil(t, r.engine.Latest())

	r.cycles(3)
	select {
	case st := <-r.engine.Updates():
		assert.Equal(t, uint64(3), st.Cycle, "only the latest status is kept")
	default:
		t.Fatal("expected a status")
	}
	select {
	case <-r.engine.Updates():
		t.Fatal("channel should hold a single status")
	default:
	}
	assert.Equal(t, uint64(3), r.engine.Latest().Cycle)
}

type recorder struct {
	mu      sync.Mutex
	cycles  []uint64
	err     error
	release chan struct{} // when set, each call waits for a value
}

func (r *recorder) RecordCycle(ctx context.Context, st Status) error {
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, st.Cycle)
	return r.err
}

func (r *recorder) recorded() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.cycles...)
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	rec := &recorder{err: errors.New("disk full")}
	r := newRig(t, testConfig(), Options{Recorder: rec})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.engine.RunRecorder(ctx)

	st := r.cycles(3)
	assert.True(t, st.OK, "recorder errors do not affect the cycle")
	require.Eventually(t, func() bool { return len(rec.recorded()) == 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3}, rec.recorded())
}

func TestRecorder_SlowWriteDoesNotStallCycle(t *testing.T) {
	t.Parallel()

	rec := &recorder{release: make(chan struct{})}
	r := newRig(t, testConfig(), Options{Recorder: rec})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.engine.RunRecorder(ctx)

	start := time.Now()
	st := r.cycles(5)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "cycles wait on a blocked recorder")
	assert.Equal(t, repeat(87, 6), st.Levels)
	assert.Empty(t, rec.recorded())

	close(rec.release)
	require.Eventually(t, func() bool { return len(rec.recorded()) == 5 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, rec.recorded())
}

func TestRecorder_FullQueueDropsNewest(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	r := newRig(t, testConfig(), Options{Recorder: rec})

	// Nothing drains the queue yet.
	r.cycles(recordQueue + 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.engine.RunRecorder(ctx), context.Canceled)
	got := rec.recorded()
	require.Len(t, got, recordQueue, "queued statuses are flushed on shutdown")
	assert.Equal(t, uint64(1), got[0])
	assert.Equal(t, uint64(recordQueue), got[len(got)-1])
}

func TestRunRecorder_NoRecorder(t *testing.T) {
	t.Parallel()

	r := newRig(t, testConfig(), Options{})
	r.cycles(2)
	assert.NoError(t, r.engine.RunRecorder(context.Background()))
}

func TestOpenFailure_NamesPortOnce(t *testing.T) {
	t.Parallel()

	r := newRig(t, testConfig(), Options{})
	r.opener.Errors = []error{seriallink.ClassifyOpenError("/dev/ttyUSB0", fs.ErrNotExist)}

	st := r.cycles(1)
	require.Len(t, st.Errors, 1)
	assert.True(t, strings.HasPrefix(st.Errors[0], "could not open port /dev/ttyUSB0"), st.Errors[0])
	assert.Equal(t, 1, strings.Count(st.Errors[0], "/dev/ttyUSB0"))
}

func TestRun_StopsPromptly(t *testing.T) {
	t.Parallel()

	r := newRig(t, testConfig(), Options{Period: 10 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.engine.Run(ctx) }()

	<-r.engine.Updates()
	start := time.Now()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, r.port.IsClosed(), "port is released on shutdown")
}

func TestRun_WakesOnConfigChange(t *testing.T) {
	t.Parallel()

	r := newRig(t, testConfig(), Options{Period: 10 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.engine.Run(ctx)

	first := <-r.engine.Updates()
	require.Equal(t, uint64(1), first.Cycle)

	next := testConfig()
	next.Policy.Fans[5].Mode = "off"
	_, err := r.store.Update(next)
	require.NoError(t, err)

	select {
	case st := <-r.engine.Updates():
		assert.Equal(t, uint64(2), st.Cycle)
		assert.Equal(t, 0, st.Targets[5])
	case <-time.After(2 * time.Second):
		t.Fatal("configuration change did not wake the loop")
	}
}

func TestRun_SleepsInSlices(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := newRig(t, testConfig(), Options{Period: 600 * time.Millisecond, Clock: clock})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.engine.Run(ctx)

	<-r.engine.Updates()
	for _, want := range []time.Duration{250 * time.Millisecond, 250 * time.Millisecond, 100 * time.Millisecond} {
		require.Eventually(t, func() bool {
			pending := clock.PendingTimers()
			return len(pending) == 1 && pending[0] == want
		}, time.Second, time.Millisecond, "waiting for a %v slice", want)
		clock.Advance(want)
	}

	select {
	case st := <-r.engine.Updates():
		assert.Equal(t, uint64(2), st.Cycle)
	case <-time.After(2 * time.Second):
		t.Fatal("second cycle did not run")
	}
}
