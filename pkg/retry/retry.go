// Package retry provides the bounded exponential-backoff schedule shared by
// event delivery and webhook dispatch.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrier runs an operation with bounded exponential backoff: the delay
// starts at InitialInterval and doubles each attempt. Sleep is injectable so
// tests run without wall-clock waits. Exhaustion is silent by contract; the
// last error is returned for logging at debug level only.
type Retrier struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Sleep           func(time.Duration)
}

func New(maxAttempts int, initialInterval time.Duration) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if initialInterval <= 0 {
		initialInterval = time.Second
	}
	return &Retrier{
		MaxAttempts:     maxAttempts,
		InitialInterval: initialInterval,
		Sleep:           time.Sleep,
	}
}

// Do runs op until it succeeds or MaxAttempts is exhausted, returning the
// last error on exhaustion.
func (r *Retrier) Do(op func() error) error {
	bo := schedule(r.InitialInterval)
	var err error
	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if attempt > 0 {
			r.Sleep(bo.NextBackOff())
		}
		if err = op(); err == nil {
			return nil
		}
	}
	return err
}

func schedule(initial time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 5 * time.Minute
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
