package graph

import "time"

// Options configures a Graph at New / Compile time. All fields have sane
// defaults (see withDefaults) so a zero-value Options is usable.
type Options struct {
	// MaxSteps bounds the number of frontier evaluations for one
	// invocation. This is RuntimeContext's remaining_steps recursion
	// guard (spec §4.1); default 25.
	MaxSteps int

	// MaxConcurrentNodes bounds how many frontier nodes run concurrently
	// in one step. Default 8.
	MaxConcurrentNodes int

	// DefaultNodeTimeout is the per-node timeout used when a node has no
	// NodePolicy.Timeout override. Default 60s, matching §5.
	DefaultNodeTimeout time.Duration

	// RunWallClockBudget bounds the wall-clock time for one Invoke/Stream
	// call end to end. Zero gets the default 10m; a negative value
	// disables the budget.
	RunWallClockBudget time.Duration

	// StreamBufferSize is the bounded channel capacity used by Stream.
	// Default 100, matching §4.1's streaming back-pressure default.
	StreamBufferSize int

	// ReplayMode marks a run as a replay of recorded I/O for nodes whose
	// SideEffectPolicy.Recordable is true. Compiled does not read it, so
	// setting it does not change how nodes run.
	ReplayMode bool

	// StrictReplay marks a recorded-I/O hash mismatch as fatal to a
	// replay (see verifyReplayHash). Compiled does not read it.
	// withDefaults leaves it unset, so the default is false.
	StrictReplay bool

	Metrics     *PrometheusMetrics
	CostTracker *CostTracker
}

func (o Options) withDefaults() Options {
	if o.MaxSteps <= 0 {
		o.MaxSteps = 25
	}
	if o.MaxConcurrentNodes <= 0 {
		o.MaxConcurrentNodes = 8
	}
	if o.DefaultNodeTimeout <= 0 {
		o.DefaultNodeTimeout = 60 * time.Second
	}
	if o.RunWallClockBudget == 0 {
		o.RunWallClockBudget = 10 * time.Minute
	}
	if o.StreamBufferSize <= 0 {
		o.StreamBufferSize = 100
	}
	return o
}

// Option is a functional option, composable with an Options struct passed
// to New.
type Option func(*Options)

func WithMaxSteps(n int) Option                 { return func(o *Options) { o.MaxSteps = n } }
func WithMaxConcurrent(n int) Option            { return func(o *Options) { o.MaxConcurrentNodes = n } }
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(o *Options) { o.DefaultNodeTimeout = d }
}
func WithRunWallClockBudget(d time.Duration) Option {
	return func(o *Options) { o.RunWallClockBudget = d }
}
func WithStreamBufferSize(n int) Option { return func(o *Options) { o.StreamBufferSize = n } }
func WithReplayMode(enabled bool) Option {
	return func(o *Options) { o.ReplayMode = enabled }
}
func WithStrictReplay(enabled bool) Option {
	return func(o *Options) { o.StrictReplay = enabled }
}
func WithMetrics(m *PrometheusMetrics) Option { return func(o *Options) { o.Metrics = m } }
func WithCostTracker(t *CostTracker) Option   { return func(o *Options) { o.CostTracker = t } }
