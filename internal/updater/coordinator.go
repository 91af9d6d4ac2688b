package updater

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

const (
	// defaultCycleInterval is the base interval between update cycles.
	defaultCycleInterval = 24 * time.Hour

	// cycleJitter is the maximum random offset applied to the interval.
	cycleJitter = 10 * time.Minute
)

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithInterval sets the base interval between cycles.
func WithInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithJitter sets the maximum random interval offset. Zero disables jitter.
func WithJitter(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.jitter = d
	}
}

// Coordinator runs update cycles on a jittered interval in serve mode.
type Coordinator struct {
	updater  *Updater
	interval time.Duration
	jitter   time.Duration

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// NewCoordinator creates a coordinator around an Updater.
func NewCoordinator(u *Updater, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		updater:  u,
		interval: defaultCycleInterval,
		jitter:   cycleJitter,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// cycleInterval returns the base interval with a random jitter applied,
// so restarted replicas do not all hit the extraction service at once.
func (c *Coordinator) cycleInterval() time.Duration {
	if c.jitter <= 0 {
		return c.interval
	}
	//nolint:gosec // G404: non-cryptographic randomness is fine for jitter
	offset := time.Duration(rand.Int64N(int64(2*c.jitter))) - c.jitter
	return c.interval + offset
}

// Start runs an initial cycle, then repeats on the jittered interval. It
// blocks until ctx is cancelled or Stop is called. A failed cycle is logged
// and the loop continues; the next tick retries from scratch.
func (c *Coordinator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer func() {
		close(c.done)
		slog.Info("Update coordinator shutting down")
	}()

	interval := c.cycleInterval()
	slog.Info("Starting update coordinator",
		"base_interval", c.interval,
		"actual_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.runOnce(runCtx)

	for {
		select {
		case <-ticker.C:
			c.runOnce(runCtx)
			ticker.Reset(c.cycleInterval())
		case <-runCtx.Done():
			slog.Info("Update coordinator stopping")
			return nil
		}
	}
}

// Stop cancels the running loop and waits for it to finish.
func (c *Coordinator) Stop() error {
	if c.cancelFunc != nil {
		slog.Info("Stopping update coordinator")
		c.cancelFunc()
		<-c.done
	}
	return nil
}

func (c *Coordinator) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := c.updater.RunCycle(ctx); err != nil {
		slog.Error("Scheduled update cycle failed", "error", err)
	}
}
