package common

import (
	"time"
)

// This stopwatch keeps track of time. You can set a timeout for it,
// make it start counting time, and ask it if the timeout has been reached
type Stopwatch struct {
	Timeout   time.Duration
	startTime time.Time
	running   bool
	now       func() time.Time
}

func NewStopwatch(timeout time.Duration) Stopwatch {
	return Stopwatch{Timeout: timeout, now: time.Now}
}

func (s *Stopwatch) Start() {
	s.running = true
	s.startTime = s.clock()
}

func (s *Stopwatch) Stop() {
	s.running = false
}

func (s *Stopwatch) Running() bool {
	return s.running
}

// Report if the timeout has been reached, and the time elapsed since then.
// A stopwatch that is not running is always stopped.
// Note that if the duration is negative, the timeout still
// has not been reached
func (s *Stopwatch) Stopped() (bool, time.Duration) {
	if !s.running {
		return true, 0
	}
	elapsed := s.clock().Sub(s.startTime.Add(s.Timeout))
	return elapsed >= 0, elapsed
}

func (s *Stopwatch) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}
