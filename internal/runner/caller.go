package runner

import (
	"sync"
	"time"
)

// IterFunc performs one iteration for a caller. It must not return before
// the request it issues has completed.
type IterFunc func(callerID, iteration int)

// Caller is one virtual user: iterate, think, repeat until stopped.
type Caller struct {
	ID    int
	think time.Duration
	iter  IterFunc
	stop  chan struct{}
	once  sync.Once
}

func NewCaller(id int, think time.Duration, fn IterFunc) *Caller {
	return &Caller{
		ID:    id,
		think: think,
		iter:  fn,
		stop:  make(chan struct{}),
	}
}

// Stop signals the caller. An in-flight iteration still completes.
func (c *Caller) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Caller) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Run blocks until the caller is stopped.
func (c *Caller) Run() {
	for i := 0; ; i++ {
		if c.stopped() {
			return
		}
		c.iter(c.ID, i)

		if c.think <= 0 {
			continue
		}
		t := time.NewTimer(c.think)
		select {
		case <-c.stop:
			t.Stop()
			return
		case <-t.C:
		}
	}
}
