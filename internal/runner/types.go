package runner

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ratecheck/internal/check"
	"ratecheck/internal/threshold"
)

// Stage ramps concurrency to Target over Duration.
type Stage struct {
	Duration time.Duration `json:"duration" mapstructure:"duration"`
	Target   int           `json:"target" mapstructure:"target"`
}

// ParseStage parses the "duration:target" form, e.g. "30s:20".
func ParseStage(s string) (Stage, error) {
	d, t, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Stage{}, fmt.Errorf("stage %q must look like duration:target", s)
	}
	dur, err := time.ParseDuration(d)
	if err != nil {
		return Stage{}, fmt.Errorf("stage %q: %w", s, err)
	}
	target, err := strconv.Atoi(t)
	if err != nil {
		return Stage{}, fmt.Errorf("stage %q: bad target: %w", s, err)
	}
	return Stage{Duration: dur, Target: target}, nil
}

// Policy selects how concurrency moves inside a stage.
type Policy string

const (
	// PolicyLinear interpolates from the previous target to the stage target.
	PolicyLinear Policy = "linear"
	// PolicyStep jumps to the stage target as soon as the stage begins.
	PolicyStep Policy = "step"
)

const (
	DefaultTick         = 100 * time.Millisecond
	DefaultMaxBodyBytes = 64 << 10
)

var ErrNoStages = errors.New("at least one stage is required")

// Config is fixed for the lifetime of a run.
type Config struct {
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers,omitempty"`
	APIKey   string            `json:"-"`
	Insecure bool              `json:"insecure,omitempty"`

	Stages   []Stage `json:"stages"`
	StartVUs int     `json:"start_vus"`
	MaxVUs   int     `json:"max_vus,omitempty"`
	Policy   Policy  `json:"policy"`

	ThinkTime    time.Duration `json:"think_time"`
	Timeout      time.Duration `json:"timeout"`
	Tick         time.Duration `json:"-"`
	MaxBodyBytes int64         `json:"-"`

	Contract    check.Contract        `json:"contract"`
	Thresholds  []threshold.Threshold `json:"thresholds"`
	AbortOnFail bool                  `json:"abort_on_fail,omitempty"`
	AbortGrace  time.Duration         `json:"abort_grace,omitempty"`
}

// TotalDuration is the sum of all stage durations.
func (c Config) TotalDuration() time.Duration {
	var d time.Duration
	for _, s := range c.Stages {
		d += s.Duration
	}
	return d
}

func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("target url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid target url %q", c.URL)
	}
	if len(c.Stages) == 0 {
		return ErrNoStages
	}
	for i, s := range c.Stages {
		if s.Duration < 0 {
			return fmt.Errorf("stage %d: duration cannot be negative", i+1)
		}
		if s.Target < 0 {
			return fmt.Errorf("stage %d: target cannot be negative", i+1)
		}
	}
	if c.StartVUs < 0 {
		return errors.New("start VUs cannot be negative")
	}
	if c.MaxVUs < 0 {
		return errors.New("max VUs cannot be negative")
	}
	switch c.Policy {
	case "", PolicyLinear, PolicyStep:
	default:
		return fmt.Errorf("unknown ramp policy %q", c.Policy)
	}
	if c.ThinkTime < 0 {
		return errors.New("think time cannot be negative")
	}
	if c.Timeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Method == "" {
		c.Method = "GET"
	}
	if c.Policy == "" {
		c.Policy = PolicyLinear
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}

// Result is one request as seen by a ResultSink.
type Result struct {
	CallerID  int
	Iteration int
	Outcome   check.Outcome
}

// ResultSink receives every classified request, e.g. a CSV writer.
type ResultSink interface {
	Write(Result) error
}
