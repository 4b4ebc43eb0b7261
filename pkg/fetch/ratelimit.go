package fetch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Clock is the time source of a RateLimiter
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RateLimiter is the single point every network request passes through.
// It runs one request at a time and keeps at least delay between the end of
// one request and the start of the next. Cache hits never reach it.
type RateLimiter struct {
	slot        chan struct{} // capacity 1; holding it means a request is in progress
	lastRequest time.Time     // end of the previous request, zero before the first
	delay       time.Duration
	clock       Clock
	log         *logrus.Entry
}

// NewRateLimiter creates a RateLimiter on the system clock
func NewRateLimiter(delay time.Duration, log *logrus.Entry) *RateLimiter {
	return NewRateLimiterWithClock(delay, systemClock{}, log)
}

// NewRateLimiterWithClock creates a RateLimiter on the given clock
func NewRateLimiterWithClock(delay time.Duration, clock Clock, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		slot:  make(chan struct{}, 1),
		delay: delay,
		clock: clock,
		log:   log,
	}
}

// Do waits for the request slot and the configured gap, runs request, and
// records the time it returned. A cancelled wait returns ctx.Err() without
// running request or touching the timestamp.
func (rl *RateLimiter) Do(ctx context.Context, request func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case rl.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-rl.slot }()

	if err := rl.applyDelay(ctx); err != nil {
		return err
	}

	err := request()
	rl.lastRequest = rl.clock.Now()
	return err
}

// LastRequest returns when the previous request finished
func (rl *RateLimiter) LastRequest() time.Time {
	rl.slot <- struct{}{}
	defer func() { <-rl.slot }()
	return rl.lastRequest
}

// applyDelay must be called while holding the slot
func (rl *RateLimiter) applyDelay(ctx context.Context) error {
	if rl.delay <= 0 || rl.lastRequest.IsZero() {
		return nil
	}

	elapsed := rl.clock.Now().Sub(rl.lastRequest)
	if elapsed >= rl.delay {
		return nil
	}

	sleep := rl.delay - elapsed
	rl.log.WithFields(logrus.Fields{
		"sleep": sleep, "required_delay": rl.delay, "elapsed": elapsed,
	}).Debug("Rate limit applying sleep")
	return rl.clock.Sleep(ctx, sleep)
}
