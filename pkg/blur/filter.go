package blur

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"go-meanfilter/pkg/common"
)

// State is a stage of one filter run.
type State int

const (
	StateConfigured State = iota // inputs validated, bands computed
	StateDispatched              // every band task handed to the pool
	StateJoined                  // every band task returned
	StateComplete                // output fully written and returned
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateDispatched:
		return "dispatched"
	case StateJoined:
		return "joined"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// BandTiming records how long one band took.
type BandTiming struct {
	Band     common.Band
	Duration time.Duration
}

// Report describes a finished run.
type Report struct {
	Workers     int
	MaxParallel int
	KernelSize  int
	Bands       []BandTiming
	Elapsed     time.Duration
}

type bandFunc func(ctx context.Context, src common.Strip, out []common.RGB, kernelSize int, band common.Band) error

type config struct {
	maxParallel int
	observer    func(State)
	meanBand    bandFunc
}

// Option tunes Apply.
type Option func(*config)

// WithMaxParallel caps how many bands run at once. Values <= 0 mean
// runtime.GOMAXPROCS(0). The band count, and therefore the result, is not
// affected.
func WithMaxParallel(n int) Option {
	return func(c *config) {
		c.maxParallel = n
	}
}

// WithObserver is called on each state transition, from the calling goroutine.
func WithObserver(fn func(State)) Option {
	return func(c *config) {
		c.observer = fn
	}
}

func (c *config) observe(s State) {
	if c.observer != nil {
		c.observer(s)
	}
}

// ApplyFilter returns a new image where every pixel is the mean of its
// kernelSize x kernelSize neighborhood in src, computed by workers bands.
func ApplyFilter(src *common.Image, kernelSize, workers int) (*common.Image, error) {
	out, _, err := Apply(context.Background(), src, kernelSize, workers)
	return out, err
}

// Apply is ApplyFilter with cancellation, options and a timing report.
//
// Configuration problems are returned as *ConfigError before anything is
// allocated. If any band fails the first failure is returned as a
// *WorkerError and no image is returned.
func Apply(ctx context.Context, src *common.Image, kernelSize, workers int, opts ...Option) (*common.Image, *Report, error) {
	cfg := config{meanBand: MeanBand}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxParallel <= 0 {
		cfg.maxParallel = runtime.GOMAXPROCS(0)
	}

	if err := Validate(src, kernelSize, workers); err != nil {
		return nil, nil, err
	}
	bands, err := Partition(src.Height, workers)
	if err != nil {
		return nil, nil, err
	}
	cfg.observe(StateConfigured)

	start := time.Now()
	dst := common.NewImage(src.Width, src.Height)
	source := src.Strip()
	timings := make([]BandTiming, len(bands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(cfg.maxParallel, len(bands)))

	for _, band := range bands {
		out := dst.BandPixels(band)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &WorkerError{Band: band, Err: fmt.Errorf("panic: %v", r)}
				}
			}()

			t0 := time.Now()
			if err := cfg.meanBand(gctx, source, out, kernelSize, band); err != nil {
				return &WorkerError{Band: band, Err: err}
			}
			timings[band.Index] = BandTiming{Band: band, Duration: time.Since(t0)}
			return nil
		})
	}
	cfg.observe(StateDispatched)

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	cfg.observe(StateJoined)

	report := &Report{
		Workers:     workers,
		MaxParallel: min(cfg.maxParallel, len(bands)),
		KernelSize:  kernelSize,
		Bands:       timings,
		Elapsed:     time.Since(start),
	}
	cfg.observe(StateComplete)
	return dst, report, nil
}

// Validate checks a run's inputs without touching any pixels.
func Validate(src *common.Image, kernelSize, workers int) error {
	if kernelSize <= 0 {
		return &ConfigError{Field: "kernel size", Value: kernelSize, Reason: "must be at least 1"}
	}
	if workers <= 0 {
		return &ConfigError{Field: "workers", Value: workers, Reason: "must be at least 1"}
	}
	if err := src.Validate(); err != nil {
		height := 0
		if src != nil {
			height = src.Height
		}
		return &ConfigError{Field: "image", Value: height, Reason: err.Error()}
	}
	if workers > src.Height {
		return &ConfigError{Field: "workers", Value: workers, Reason: fmt.Sprintf("exceeds image height %d", src.Height)}
	}
	return nil
}
