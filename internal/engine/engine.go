// Package engine runs the fan control loop: sample telemetry, evaluate each
// channel's policy, and push changed levels to the controller, once per
// period. All loop state is owned by the goroutine calling Run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/gridctl/internal/cache"
	"github.com/banshee-data/gridctl/internal/config"
	"github.com/banshee-data/gridctl/internal/filter"
	"github.com/banshee-data/gridctl/internal/grid"
	"github.com/banshee-data/gridctl/internal/metrics"
	"github.com/banshee-data/gridctl/internal/monitoring"
	"github.com/banshee-data/gridctl/internal/policy"
	"github.com/banshee-data/gridctl/internal/telemetry"
	"github.com/banshee-data/gridctl/internal/timeutil"
)

const (
	DefaultPeriod     = time.Second
	DefaultSleepSlice = 250 * time.Millisecond

	// recordQueue is how many statuses may wait for the recorder before new
	// ones are dropped.
	recordQueue = 64
)

// Error kinds used for the cycle error metric.
const (
	kindTransport = "transport"
	kindConfig    = "config"
	kindTelemetry = "telemetry"
)

var errTelemetryZero = errors.New("telemetry unavailable: every signal reads 0")

// Recorder receives every published status from RunRecorder, never from the
// loop goroutine. Errors are logged and otherwise ignored.
type Recorder interface {
	RecordCycle(ctx context.Context, st Status) error
}

// Options tune the loop. Zero values select the defaults.
type Options struct {
	Period     time.Duration
	SleepSlice time.Duration
	Clock      timeutil.Clock
	// Poll selects the fan metrics read when the configuration enables
	// polling.
	Poll     grid.Selection
	Recorder Recorder
}

// EngineState is everything the loop rebuilds on reconfiguration. It is only
// touched by the loop goroutine.
type EngineState struct {
	Epoch   uint64
	Filters []filter.Chain
	Cache   *cache.Cache
	Signals *telemetry.Signals
	Targets []int
}

func newState(cfg *config.Config, epoch uint64) EngineState {
	st := EngineState{
		Epoch:   epoch,
		Filters: make([]filter.Chain, grid.NumChannels),
		Cache:   cache.New(grid.NumChannels),
		Signals: telemetry.NewSignals(cfg.Definitions()),
		Targets: make([]int, grid.NumChannels),
	}
	for i := range st.Filters {
		st.Filters[i] = filter.Chain{
			filter.NewMovingAverage(cfg.Policy.MovingAverage),
			filter.NewHysteresis(cfg.Policy.Hysteresis),
		}
		st.Targets[i] = cache.Unknown
	}
	return st
}

// Engine is the control loop.
type Engine struct {
	store  *config.Store
	source telemetry.Source
	client *grid.Client
	opts   Options

	state EngineState
	cycle uint64

	latest  atomic.Pointer[Status]
	updates chan Status
	records chan Status
	drops   *monitoring.Repeated
}

// New returns an engine that has not run any cycle yet. The first cycle
// always reconfigures.
func New(store *config.Store, source telemetry.Source, client *grid.Client, opts Options) *Engine {
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.SleepSlice <= 0 {
		opts.SleepSlice = DefaultSleepSlice
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Poll == (grid.Selection{}) {
		opts.Poll = grid.DefaultSelection
	}
	e := &Engine{
		store:   store,
		source:  source,
		client:  client,
		opts:    opts,
		updates: make(chan Status, 1),
	}
	if opts.Recorder != nil {
		e.records = make(chan Status, recordQueue)
		e.drops = monitoring.NewRepeated(time.Minute)
	}
	return e
}

// Updates delivers the most recent status. Unread statuses are replaced, so a
// slow reader only ever sees the latest one.
func (e *Engine) Updates() <-chan Status {
	return e.updates
}

// Latest returns the last published status, or nil before the first cycle.
func (e *Engine) Latest() *Status {
	return e.latest.Load()
}

// Client returns the actuator client driven by the engine.
func (e *Engine) Client() *grid.Client {
	return e.client
}

// Run executes cycles until ctx is done, then closes the controller port.
func (e *Engine) Run(ctx context.Context) error {
	defer e.client.Close()
	monitoring.Logf("[engine] starting, period %v", e.opts.Period)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := e.opts.Clock.Now()
		e.RunCycle(ctx)
		if !e.sleep(ctx, start) {
			monitoring.Logf("[engine] stopped after %d cycles", e.cycle)
			return ctx.Err()
		}
	}
}

// sleep waits out the rest of the period in slices of at most SleepSlice. It
// returns early on a configuration change and reports false when ctx ends.
func (e *Engine) sleep(ctx context.Context, start time.Time) bool {
	for {
		remaining := e.opts.Period - e.opts.Clock.Since(start)
		if remaining <= 0 {
			return true
		}
		if remaining > e.opts.SleepSlice {
			remaining = e.opts.SleepSlice
		}
		timer := e.opts.Clock.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-e.store.Changed():
			timer.Stop()
			return true
		case <-timer.C():
		}
	}
}

// cycleErrors accumulates one cycle's recoverable errors.
type cycleErrors []string

func (c *cycleErrors) add(kind string, err error) {
	metrics.CycleErrors.WithLabelValues(kind).Inc()
	*c = append(*c, err.Error())
}

// RunCycle runs a single cycle and publishes its status. It must not be
// called concurrently with itself or Run.
func (e *Engine) RunCycle(ctx context.Context) Status {
	start := e.opts.Clock.Now()
	e.cycle++
	var errs cycleErrors

	cfg, epoch := e.store.Snapshot()
	if epoch != e.state.Epoch || e.client.State() != grid.Connected {
		e.reconfigure(ctx, cfg, epoch, &errs)
	}

	st := Status{Cycle: e.cycle, Time: start, Epoch: e.state.Epoch, TelemetryOK: true}

	snap, err := e.source.Pull(ctx)
	if err != nil {
		errs.add(kindTelemetry, fmt.Errorf("telemetry unavailable: %w", err))
		st.TelemetryOK = false
	} else if e.state.Signals.Update(snap) {
		errs.add(kindTelemetry, errTelemetryZero)
		st.TelemetryOK = false
	}

	connected := e.client.State() == grid.Connected
	if st.TelemetryOK && connected {
		st.Sent = e.control(ctx, cfg, &errs)
	}

	if cfg.Grid.PollMetrics && e.client.State() == grid.Connected {
		fans, err := e.client.Poll(ctx, e.opts.Poll)
		st.Fans = fans
		if err != nil {
			errs.add(kindTransport, fmt.Errorf("poll fan metrics: %w", err))
		}
	}

	st.Connection = e.client.Connection()
	st.Signals = e.state.Signals.List()
	st.Sensors = selectedReadings(snap, cfg.Definitions())
	st.Targets = append([]int(nil), e.state.Targets...)
	st.Levels = e.state.Cache.Levels()
	st.Link = e.client.Stats()
	st.Errors = errs
	st.OK = len(errs) == 0
	st.Duration = e.opts.Clock.Since(start)

	e.observe(st)
	e.publish(st)
	return st
}

// reconfigure reopens the controller and rebuilds all loop state from cfg.
// The state is rebuilt even when the port cannot be opened so that a later
// successful open starts clean.
func (e *Engine) reconfigure(ctx context.Context, cfg *config.Config, epoch uint64, errs *cycleErrors) {
	metrics.Reconfigurations.Inc()
	if epoch != e.state.Epoch {
		monitoring.Logf("[engine] applying configuration epoch %d", epoch)
	}

	if err := e.client.Open(ctx, cfg.Grid.Port, cfg.Grid.Serial); err != nil {
		errs.add(kindTransport, err)
		metrics.LinkFaults.Inc()
	} else if err := e.client.Handshake(ctx); err != nil {
		errs.add(kindTransport, err)
		metrics.LinkFaults.Inc()
	}

	e.state = newState(cfg, epoch)
}

// control evaluates every channel in index order and sends the changed
// levels. It returns the number of levels sent.
func (e *Engine) control(ctx context.Context, cfg *config.Config, errs *cycleErrors) int {
	for ch := 1; ch <= grid.NumChannels; ch++ {
		p, _ := cfg.Fan(ch)
		level, err := policy.Evaluate(ch, p, e.state.Signals, e.state.Filters[ch-1])
		if err != nil {
			errs.add(kindConfig, err)
		}
		e.state.Targets[ch-1] = level
	}

	sent, err := e.state.Cache.Reconcile(e.state.Targets, cfg.Grid.ForceRewrite, func(ch, level int) error {
		metrics.LinkWrites.Inc()
		return e.client.SetLevel(ctx, ch, level)
	})
	if err != nil {
		errs.add(kindTransport, err)
		metrics.LinkFaults.Inc()
	}
	return sent
}

func (e *Engine) observe(st Status) {
	metrics.CyclesTotal.Inc()
	metrics.CycleLatency.Observe(st.Duration.Seconds())
	metrics.ConfigEpoch.Set(float64(st.Epoch))
	if st.Connection.State == grid.Connected {
		metrics.LinkConnected.Set(1)
	} else {
		metrics.LinkConnected.Set(0)
	}
	for i := range st.Targets {
		ch := metrics.Channel(i + 1)
		metrics.FanTargetLevel.WithLabelValues(ch).Set(float64(st.Targets[i]))
		metrics.FanConfirmedLevel.WithLabelValues(ch).Set(float64(st.Levels[i]))
	}
	for _, f := range st.Fans {
		metrics.FanRPM.WithLabelValues(metrics.Channel(f.Channel)).Set(float64(f.RPM))
	}
	for _, s := range st.Signals {
		metrics.SignalValue.WithLabelValues(s.Name).Set(s.Value)
	}
}

// publish hands st to observers without blocking. The engine is the only
// sender on updates, so draining before sending cannot race another producer.
func (e *Engine) publish(st Status) {
	e.latest.Store(&st)
	select {
	case <-e.updates:
	default:
	}
	select {
	case e.updates <- st:
	default:
	}

	if e.records != nil {
		select {
		case e.records <- st:
		default:
			e.drops.Logf("[engine] recorder is behind, dropping cycle history")
		}
	}
}

// RunRecorder hands queued statuses to the Recorder until ctx is done, then
// flushes whatever is still queued. It returns immediately when no Recorder is
// set.
func (e *Engine) RunRecorder(ctx context.Context) error {
	if e.records == nil {
		return nil
	}
	for {
		select {
		case st := <-e.records:
			e.record(ctx, st)
		case <-ctx.Done():
			flush := context.WithoutCancel(ctx)
			for {
				select {
				case st := <-e.records:
					e.record(flush, st)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

func (e *Engine) record(ctx context.Context, st Status) {
	if err := e.opts.Recorder.RecordCycle(ctx, st); err != nil {
		monitoring.Logf("[engine] failed to record cycle %d: %v", st.Cycle, err)
	}
}

// selectedReadings returns the readings used by at least one signal, or every
// reading when no signal is defined.
func selectedReadings(snap telemetry.Snapshot, defs []telemetry.Definition) []telemetry.Reading {
	if len(defs) == 0 {
		return append([]telemetry.Reading(nil), snap.Readings...)
	}
	var out []telemetry.Reading
	for _, r := range snap.Readings {
		for _, d := range defs {
			if matchesAny(r, d.Selectors) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func matchesAny(r telemetry.Reading, selectors []telemetry.Selector) bool {
	for _, s := range selectors {
		if s.Matches(r) {
			return true
		}
	}
	return false
}
