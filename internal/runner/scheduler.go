package runner

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ratecheck/internal/logger"
)

type State int

const (
	StateIdle State = iota
	StateRamping
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRamping:
		return "ramping"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// TargetAt returns the concurrency the schedule asks for after elapsed,
// the index of the active stage, and whether the schedule has ended.
// Each stage starts from the target of the stage before it (start for the
// first). A zero-length stage is an instantaneous jump.
func TargetAt(stages []Stage, start int, policy Policy, elapsed time.Duration) (int, int, bool) {
	from := start
	var offset time.Duration
	for i, st := range stages {
		end := offset + st.Duration
		if elapsed < end {
			if policy == PolicyStep {
				return st.Target, i, false
			}
			frac := float64(elapsed-offset) / float64(st.Duration)
			v := float64(from) + float64(st.Target-from)*frac
			return int(math.Round(v)), i, false
		}
		from = st.Target
		offset = end
	}
	return from, len(stages) - 1, true
}

// SpawnFunc builds the caller with the given id.
type SpawnFunc func(id int) (*Caller, error)

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	State  State
	Stage  int
	Stages int
	Active int
	Live   int
}

// Scheduler keeps the number of running callers on the staged schedule.
type Scheduler struct {
	stages []Stage
	start  int
	policy Policy
	tick   time.Duration
	maxVUs int
	spawn  SpawnFunc
	log    *zap.Logger

	mu          sync.Mutex
	state       State
	stage       int
	callers     []*Caller
	nextID      int
	capWarned   bool
	spawnWarned bool

	wg        sync.WaitGroup
	live      int64
	abort     chan struct{}
	abortOnce sync.Once
}

func NewScheduler(cfg Config, spawn SpawnFunc, log *zap.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Discard()
	}
	return &Scheduler{
		stages: cfg.Stages,
		start:  cfg.StartVUs,
		policy: cfg.Policy,
		tick:   cfg.Tick,
		maxVUs: cfg.MaxVUs,
		spawn:  spawn,
		log:    log,
		stage:  -1,
		abort:  make(chan struct{}),
	}
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{
		State:  s.state,
		Stage:  s.stage,
		Stages: len(s.stages),
		Active: len(s.callers),
		Live:   int(atomic.LoadInt64(&s.live)),
	}
}

// Abort ends the schedule early; Run moves straight to draining.
func (s *Scheduler) Abort() {
	s.abortOnce.Do(func() { close(s.abort) })
}

// Run drives the schedule and returns once every caller has exited.
// It must be called only once.
func (s *Scheduler) Run(ctx context.Context) {
	begin := time.Now()
	s.mu.Lock()
	s.state = StateRamping
	s.mu.Unlock()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

loop:
	for {
		target, idx, done := TargetAt(s.stages, s.start, s.policy, time.Since(begin))
		if done {
			s.log.Info("schedule complete", zap.Duration("elapsed", time.Since(begin).Round(time.Millisecond)))
			break
		}
		s.enterStage(idx)
		s.scale(target)

		select {
		case <-ctx.Done():
			s.log.Warn("run cancelled, draining callers")
			break loop
		case <-s.abort:
			s.log.Warn("run aborted, draining callers")
			break loop
		case <-ticker.C:
		}
	}

	s.drain()
}

func (s *Scheduler) enterStage(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx == s.stage {
		return
	}
	s.stage = idx
	s.spawnWarned = false
	st := s.stages[idx]
	s.log.Info("entering stage",
		zap.Int("stage", idx+1),
		zap.Int("stages", len(s.stages)),
		zap.Int("from_vus", len(s.callers)),
		zap.Int("target_vus", st.Target),
		zap.Duration("duration", st.Duration))
}

func (s *Scheduler) scale(target int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxVUs > 0 && target > s.maxVUs {
		if !s.capWarned {
			s.log.Warn("target exceeds max VUs, capping", zap.Int("target_vus", target), zap.Int("max_vus", s.maxVUs))
			s.capWarned = true
		}
		target = s.maxVUs
	}

	for len(s.callers) < target {
		s.nextID++
		c, err := s.spawn(s.nextID)
		if err != nil {
			if !s.spawnWarned {
				s.log.Warn("spawn caller failed", zap.Int("caller", s.nextID), zap.Error(err))
				s.spawnWarned = true
			}
			return
		}
		s.callers = append(s.callers, c)
		s.wg.Add(1)
		atomic.AddInt64(&s.live, 1)
		go func() {
			defer s.wg.Done()
			defer atomic.AddInt64(&s.live, -1)
			c.Run()
		}()
	}

	// Retire newest first.
	for len(s.callers) > target {
		last := s.callers[len(s.callers)-1]
		s.callers = s.callers[:len(s.callers)-1]
		last.Stop()
	}
}

func (s *Scheduler) drain() {
	s.mu.Lock()
	s.state = StateDraining
	callers := s.callers
	s.callers = nil
	s.mu.Unlock()

	for _, c := range callers {
		c.Stop()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.log.Info("all callers stopped")
}
