package sph

import "runtime"

// Default tunables, spec §6. SplitRatio/SplitSize/Stretch follow the values
// the spec suggests as starting points for a real run.
const (
	DefaultSplitSize      = 400
	DefaultSplitRatio     = 0.5
	DefaultSubSize        = 100
	DefaultStretch        = 1.1
	DefaultCellAllocChunk = 512
)

// Config holds the engine's tunables (spec §6).
type Config struct {
	SplitSize      int
	SplitRatio     float64
	SubSize        int
	Stretch        float64
	CellAllocChunk int
	Periodic       bool
	Workers        int
}

// DefaultConfig returns the spec's suggested tunable defaults, with
// Workers set to GOMAXPROCS.
func DefaultConfig() Config {
	return Config{
		SplitSize:      DefaultSplitSize,
		SplitRatio:     DefaultSplitRatio,
		SubSize:        DefaultSubSize,
		Stretch:        DefaultStretch,
		CellAllocChunk: DefaultCellAllocChunk,
		Periodic:       false,
		Workers:        runtime.GOMAXPROCS(0),
	}
}

// Option mutates a Config at construction time.
type Option func(*Config)

func WithPeriodic(p bool) Option { return func(c *Config) { c.Periodic = p } }

func WithWorkers(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Workers = n
		}
	}
}

func WithSplitSize(n int) Option { return func(c *Config) { c.SplitSize = n } }

func WithSplitRatio(r float64) Option { return func(c *Config) { c.SplitRatio = r } }

func WithSubSize(n int) Option { return func(c *Config) { c.SubSize = n } }

func WithStretch(s float64) Option { return func(c *Config) { c.Stretch = s } }

func WithCellAllocChunk(n int) Option { return func(c *Config) { c.CellAllocChunk = n } }
