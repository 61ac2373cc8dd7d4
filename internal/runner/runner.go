package runner

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"ratecheck/internal/check"
	"ratecheck/internal/logger"
	"ratecheck/internal/stats"
	"ratecheck/internal/threshold"
)

// APIKeyHeader carries Config.APIKey on every request.
const APIKeyHeader = "API_KEY"

// StatsSnapshot is sent over the channel
type StatsSnapshot struct {
	Requests   uint64
	Allowed    uint64
	Blocked    uint64
	Unexpected uint64
	CheckFails uint64
	Inflight   int64

	VUs    int
	Live   int
	Stage  int
	Stages int
	State  State

	P50Ms float64
	P95Ms float64
	P99Ms float64
	MaxMs float64

	ThresholdsFailing int
	Elapsed           time.Duration
}

// StatsUpdateChan is the channel type
type StatsUpdateChan chan StatsSnapshot

type Runner struct {
	ID      string
	Cfg     Config
	Stats   *stats.Stats
	Client  *http.Client
	Updates StatsUpdateChan

	checker *check.Checker
	tmpl    *TemplateEngine
	headers map[string]*template.Template
	sink    ResultSink
	log     *zap.Logger
	sched   *Scheduler

	inflight  int64
	startedAt int64
	sinkOnce  sync.Once
	skipOnce  sync.Once
}

type Option func(*Runner)

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithSink streams every result to s as it is recorded.
func WithSink(s ResultSink) Option {
	return func(r *Runner) { r.sink = s }
}

func WithClient(c *http.Client) Option {
	return func(r *Runner) { r.Client = c }
}

// NewRunner validates cfg and prepares a run. A Runner runs once.
func NewRunner(cfg Config, updates StatsUpdateChan, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	checker, err := check.New(cfg.Contract)
	if err != nil {
		return nil, err
	}

	if updates == nil {
		// Avoid nil panics if not provided
		updates = make(StatsUpdateChan, 10)
	}

	r := &Runner{
		ID:      uuid.NewString(),
		Cfg:     cfg,
		Stats:   stats.NewStats(),
		Updates: updates,
		checker: checker,
		tmpl:    NewTemplateEngine(),
		headers: make(map[string]*template.Template, len(cfg.Headers)),
		log:     logger.Discard(),
	}
	for _, o := range opts {
		o(r)
	}

	for name, val := range cfg.Headers {
		t, err := r.tmpl.Parse(name, val)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", name, err)
		}
		r.headers[name] = t
	}

	if r.Client == nil {
		r.Client = newClient(cfg)
	}
	r.sched = NewScheduler(cfg, r.spawn, r.log)
	return r, nil
}

func newClient(cfg Config) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxConnsPerHost = 2000
	t.MaxIdleConnsPerHost = 2000
	if cfg.Insecure {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: t,
	}
}

func (r *Runner) spawn(id int) (*Caller, error) {
	return NewCaller(id, r.Cfg.ThinkTime, r.executeRequest), nil
}

// Run executes the schedule, drains every caller and returns the final
// aggregate. Cancelling ctx skips the rest of the schedule.
func (r *Runner) Run(ctx context.Context) stats.Snapshot {
	atomic.StoreInt64(&r.startedAt, time.Now().UnixNano())
	r.log.Info("starting run",
		zap.String("id", r.ID),
		zap.String("method", r.Cfg.Method),
		zap.String("url", r.Cfg.URL),
		zap.Duration("duration", r.Cfg.TotalDuration()),
		zap.Int("stages", len(r.Cfg.Stages)))

	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		r.sched.Run(gctx)
		return nil
	})
	g.Go(func() error {
		r.tickLoop(gctx, done, 200*time.Millisecond)
		return nil
	})
	_ = g.Wait()

	r.sendUpdate()
	return r.Stats.Snapshot()
}

// Stop ends the schedule early; in-flight requests still complete.
func (r *Runner) Stop() {
	r.sched.Abort()
}

func (r *Runner) Elapsed() time.Duration {
	ns := atomic.LoadInt64(&r.startedAt)
	if ns == 0 {
		return 0
	}
	return time.Since(time.Unix(0, ns))
}

func (r *Runner) Status() SchedulerStatus {
	return r.sched.Status()
}

func (r *Runner) GetInflight() int64 {
	return atomic.LoadInt64(&r.inflight)
}

// tickLoop publishes live updates until the schedule is done or ctx ends.
func (r *Runner) tickLoop(ctx context.Context, done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sendUpdate()
		}
	}
}

func (r *Runner) sendUpdate() {
	snap := r.Stats.Snapshot()
	verdict := threshold.Evaluate(r.Cfg.Thresholds, snap)
	elapsed := r.Elapsed()

	if r.Cfg.AbortOnFail && verdict.HasFailure() && elapsed >= r.Cfg.AbortGrace {
		for _, res := range verdict.Results {
			if res.Status == threshold.StatusFail {
				r.log.Warn("threshold crossed, aborting",
					zap.String("threshold", res.Threshold.String()),
					zap.Float64("value", res.Value))
				break
			}
		}
		r.sched.Abort()
	}

	st := r.sched.Status()
	s := StatsSnapshot{
		Requests:          snap.Total,
		Allowed:           snap.Allowed,
		Blocked:           snap.Blocked,
		Unexpected:        snap.Unexpected,
		CheckFails:        snap.AssertionFailures(),
		Inflight:          r.GetInflight(),
		VUs:               st.Active,
		Live:              st.Live,
		Stage:             st.Stage,
		Stages:            st.Stages,
		State:             st.State,
		ThresholdsFailing: verdict.Failing(),
		Elapsed:           elapsed,
	}
	if d, ok := snap.Latency(50); ok {
		s.P50Ms = stats.Ms(d)
	}
	if d, ok := snap.Latency(95); ok {
		s.P95Ms = stats.Ms(d)
	}
	if d, ok := snap.Latency(99); ok {
		s.P99Ms = stats.Ms(d)
	}
	if d, ok := snap.LatencyMax(); ok {
		s.MaxMs = stats.Ms(d)
	}

	// Non-blocking send
	select {
	case r.Updates <- s:
	default:
		// Drop update if channel full, UI acts as backpressure
	}
}

// executeRequest issues one request and records its outcome. The request is
// not tied to the run context, so a stop never interrupts it; the client
// timeout bounds it instead.
func (r *Runner) executeRequest(callerID, iteration int) {
	atomic.AddInt64(&r.inflight, 1)
	defer atomic.AddInt64(&r.inflight, -1)

	req, err := r.newRequest(callerID, iteration)
	if err != nil {
		// Nothing was sent, so there is no outcome or latency to record.
		r.Stats.RecordSkipped()
		r.skipOnce.Do(func() {
			r.log.Warn("request not sent (further errors suppressed)", zap.Int("caller", callerID), zap.Error(err))
		})
		return
	}

	start := time.Now()
	resp, err := r.Client.Do(req)
	if err != nil {
		r.record(callerID, iteration, r.checker.Failed(err, time.Since(start)))
		return
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, r.Cfg.MaxBodyBytes))
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	latency := time.Since(start)

	var o check.Outcome
	if readErr != nil {
		o = r.checker.Failed(fmt.Errorf("read body: %w", readErr), latency)
		o.Status = resp.StatusCode
	} else {
		o = r.checker.Classify(check.Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
		}, latency)
	}
	r.record(callerID, iteration, o)
}

func (r *Runner) newRequest(callerID, iteration int) (*http.Request, error) {
	req, err := http.NewRequestWithContext(context.Background(), r.Cfg.Method, r.Cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	if len(r.headers) > 0 {
		data := TemplateData{CallerID: callerID, Iteration: iteration, UUID: uuid.NewString()}
		for name, t := range r.headers {
			v, err := r.tmpl.Execute(t, data)
			if err != nil {
				return nil, fmt.Errorf("header %q: %w", name, err)
			}
			req.Header.Set(name, v)
		}
	}
	if r.Cfg.APIKey != "" {
		req.Header.Set(APIKeyHeader, r.Cfg.APIKey)
	}
	return req, nil
}

func (r *Runner) record(callerID, iteration int, o check.Outcome) {
	r.Stats.Record(o)
	r.logOutcome(callerID, o)

	if r.sink == nil {
		return
	}
	if err := r.sink.Write(Result{CallerID: callerID, Iteration: iteration, Outcome: o}); err != nil {
		r.sinkOnce.Do(func() {
			r.log.Warn("result sink failed (further errors suppressed)", zap.Error(err))
		})
	}
}

func (r *Runner) logOutcome(callerID int, o check.Outcome) {
	if !r.log.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	fields := []zap.Field{zap.Int("caller", callerID), zap.Duration("latency", o.Latency)}
	switch o.Kind {
	case check.Allowed:
		r.log.Debug("allowed", append(fields, zap.Int("status", o.Status), zap.String("remaining", o.Remaining))...)
	case check.Blocked:
		r.log.Debug("blocked", append(fields, zap.Int("status", o.Status), zap.String("block_until", o.BlockUntil))...)
	default:
		if o.Err != nil {
			r.log.Debug("request failed", append(fields, zap.Error(o.Err))...)
		} else {
			r.log.Debug("unexpected status", append(fields, zap.Int("status", o.Status))...)
		}
	}
	for _, f := range o.Failures() {
		if f.Name != check.CheckStatus {
			r.log.Debug("check failed", zap.Int("caller", callerID), zap.String("check", f.Name), zap.String("detail", f.Detail))
		}
	}
}
