package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

const DefaultSweepInterval = 30 * time.Second

// Reaper periodically purges expired entries from a store.
type Reaper struct {
	storage  ServiceStorage
	interval time.Duration
	clock    clock.Clock

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

type ReaperOption func(*Reaper)

func WithSweepInterval(interval time.Duration) ReaperOption {
	return func(r *Reaper) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

func WithReaperClock(c clock.Clock) ReaperOption {
	return func(r *Reaper) {
		r.clock = c
	}
}

func NewReaper(s ServiceStorage, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		storage:  s,
		interval: DefaultSweepInterval,
		clock:    clock.New(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs the sweep loop in a goroutine until Stop is called or ctx is done.
func (r *Reaper) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	ticker := r.clock.Ticker(r.interval)
	go func() {
		defer close(r.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
}

// Sweep purges once and returns the number of removed entries.
func (r *Reaper) Sweep(ctx context.Context) int {
	purged, err := r.storage.PurgeExpired(ctx)
	if err != nil {
		logrus.WithError(err).Errorf("sweeping expired entries from storage<%s>", r.storage.Type())
		return 0
	}
	if purged > 0 {
		logrus.Debugf("swept %d expired entries from storage<%s>", purged, r.storage.Type())
	}
	return purged
}

// Stop ends the sweep loop and waits for it to exit. It is safe to call more than once.
func (r *Reaper) Stop() {
	r.once.Do(func() {
		close(r.stop)
	})
	if r.started.Load() {
		<-r.done
	}
}
