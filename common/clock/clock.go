package clock

import "time"

// Clock abstracts time for components that run on timers, so tests can
// substitute a deterministic source.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the interface of time.Ticker as used by this package.
type Ticker interface {
	Ch() <-chan time.Time
	Stop()
}

type systemTicker struct {
	*time.Ticker
}

func (t *systemTicker) Ch() <-chan time.Time {
	return t.C
}

type systemClock struct{}

// SystemClock is a Clock backed by the time package.
var SystemClock Clock = systemClock{}

func (s systemClock) Now() time.Time {
	return time.Now()
}

func (s systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{time.NewTicker(d)}
}
