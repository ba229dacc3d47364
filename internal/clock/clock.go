// Package clock provides the time sources stamped on orders and trades.
// Swapping one for another never changes matching behaviour.
package clock

import (
	"sync/atomic"
	"time"

	tomb "gopkg.in/tomb.v2"
)

type TimeSource interface {
	Now() time.Time
}

// Func adapts a plain function to a TimeSource.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// SystemMillis reads the wall clock at millisecond resolution.
type SystemMillis struct{}

func (SystemMillis) Now() time.Time {
	return time.Now().Truncate(time.Millisecond)
}

// Fake is a deterministic source for tests and benchmarks. The first call
// returns start and each later call advances by step. A zero step gives a
// fixed clock.
type Fake struct {
	start time.Time
	step  time.Duration
	calls atomic.Int64
}

func NewFake(start time.Time, step time.Duration) *Fake {
	return &Fake{start: start, step: step}
}

func (f *Fake) Now() time.Time {
	n := f.calls.Add(1) - 1
	return f.start.Add(time.Duration(n) * f.step)
}

// Ticker is a coarse clock refreshed once per interval by a background
// goroutine, trading resolution for a cheap Now.
type Ticker struct {
	t        tomb.Tomb
	interval time.Duration
	now      atomic.Int64 // Unix nanoseconds
}

func NewTicker(interval time.Duration) *Ticker {
	tk := &Ticker{interval: interval}
	tk.now.Store(time.Now().Truncate(interval).UnixNano())
	tk.t.Go(tk.run)
	return tk
}

func (tk *Ticker) run() error {
	ticker := time.NewTicker(tk.interval)
	defer ticker.Stop()
	for {
		select {
		case <-tk.t.Dying():
			return nil
		case now := <-ticker.C:
			tk.now.Store(now.Truncate(tk.interval).UnixNano())
		}
	}
}

func (tk *Ticker) Now() time.Time {
	return time.Unix(0, tk.now.Load())
}

// Stop halts the refresh goroutine and waits for it to exit. Now keeps
// returning the last tick.
func (tk *Ticker) Stop() error {
	tk.t.Kill(nil)
	return tk.t.Wait()
}
