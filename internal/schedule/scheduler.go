// Package schedule fires poll ticks at a period that may change while the
// agent runs.
package schedule

import "time"

// Ticker is the subset of time.Ticker the scheduler needs
type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

// NewTickerFunc creates a ticker with the given period
type NewTickerFunc func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time   { return t.t.C }
func (t timeTicker) Reset(d time.Duration) { t.t.Reset(d) }
func (t timeTicker) Stop()                 { t.t.Stop() }

// RealTicker wraps time.NewTicker
func RealTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Scheduler owns exactly one ticker. A period change is applied by resetting
// that ticker, never by adding a second one, so at most one tick is pending.
type Scheduler struct {
	ticker Ticker
	period time.Duration
}

// New creates a scheduler. A nil newTicker means RealTicker.
func New(period time.Duration, newTicker NewTickerFunc) *Scheduler {
	if newTicker == nil {
		newTicker = RealTicker
	}
	if period <= 0 {
		period = time.Second
	}
	return &Scheduler{ticker: newTicker(period), period: period}
}

// C delivers ticks
func (s *Scheduler) C() <-chan time.Time {
	return s.ticker.C()
}

// Period is the period currently in effect
func (s *Scheduler) Period() time.Duration {
	return s.period
}

// Sync is called after a tick has been handled with the period the config
// now asks for. If it differs, the ticker is reset so the following tick
// arrives one new period from now. It reports whether a reset happened.
func (s *Scheduler) Sync(period time.Duration) bool {
	if period <= 0 || period == s.period {
		return false
	}
	s.ticker.Reset(period)
	s.period = period
	return true
}

// Stop releases the ticker
func (s *Scheduler) Stop() {
	s.ticker.Stop()
}
