// Package check classifies rate-limiter responses and asserts their shape.
//
// Classification and shape assertions are independent: a 200 missing its
// quota headers is still counted as Allowed, the missing headers only show
// up as a failed check.
package check

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
)

type Kind int

const (
	Allowed Kind = iota
	Blocked
	Unexpected
)

func (k Kind) String() string {
	switch k {
	case Allowed:
		return "allowed"
	case Blocked:
		return "blocked"
	default:
		return "unexpected"
	}
}

// Check names, reported as-is in summaries.
const (
	CheckStatus     = "status is 200 or 429"
	CheckQuota      = "has rate limit headers when allowed"
	CheckBlockUntil = "has block until when blocked"
)

// Names lists every check in report order.
var Names = []string{CheckStatus, CheckQuota, CheckBlockUntil}

const (
	LayoutRFC3339 = "rfc3339"
	LayoutUnix    = "unix"
	LayoutNone    = "none"
)

// Contract describes where the target puts its admission metadata.
type Contract struct {
	RemainingHeader string `json:"remaining_header" mapstructure:"remaining_header"`
	ResetHeader     string `json:"reset_header" mapstructure:"reset_header"`
	// BlockUntilPath is a JMESPath expression evaluated on the 429 body.
	BlockUntilPath  string `json:"block_until_path" mapstructure:"block_until_path"`
	TimestampLayout string `json:"timestamp_layout" mapstructure:"timestamp_layout"`
}

// DefaultContract matches the X-Ratelimit-* / block_until contract.
func DefaultContract() Contract {
	return Contract{
		RemainingHeader: "X-Ratelimit-Remaining",
		ResetHeader:     "X-Ratelimit-Reset",
		BlockUntilPath:  "block_until",
		TimestampLayout: LayoutRFC3339,
	}
}

func (c Contract) withDefaults() Contract {
	d := DefaultContract()
	if c.RemainingHeader == "" {
		c.RemainingHeader = d.RemainingHeader
	}
	if c.ResetHeader == "" {
		c.ResetHeader = d.ResetHeader
	}
	if c.BlockUntilPath == "" {
		c.BlockUntilPath = d.BlockUntilPath
	}
	if c.TimestampLayout == "" {
		c.TimestampLayout = d.TimestampLayout
	}
	return c
}

// Response is the part of an HTTP response the checker looks at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type CheckResult struct {
	Name   string
	Passed bool
	Detail string
}

// Outcome is the classified result of one request. Immutable once built.
type Outcome struct {
	Kind       Kind
	Status     int
	Latency    time.Duration
	Bytes      int64
	Remaining  string
	Reset      string
	BlockUntil string
	Err        error
	Checks     []CheckResult
	At         time.Time
}

// Failures returns the checks that did not pass.
func (o Outcome) Failures() []CheckResult {
	var out []CheckResult
	for _, c := range o.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

type Checker struct {
	contract   Contract
	blockUntil *jmespath.JMESPath
}

func New(c Contract) (*Checker, error) {
	c = c.withDefaults()
	jp, err := jmespath.Compile(c.BlockUntilPath)
	if err != nil {
		return nil, fmt.Errorf("invalid block_until path %q: %w", c.BlockUntilPath, err)
	}
	return &Checker{contract: c, blockUntil: jp}, nil
}

func (c *Checker) Contract() Contract {
	return c.contract
}

// Classify turns a completed response into an Outcome.
func (c *Checker) Classify(resp Response, latency time.Duration) Outcome {
	o := Outcome{
		Status:  resp.StatusCode,
		Latency: latency,
		Bytes:   int64(len(resp.Body)),
		At:      time.Now(),
	}

	switch resp.StatusCode {
	case http.StatusOK:
		o.Kind = Allowed
		o.Checks = append(o.Checks, CheckResult{Name: CheckStatus, Passed: true})
		o.Checks = append(o.Checks, c.checkQuota(resp.Header, &o))
	case http.StatusTooManyRequests:
		o.Kind = Blocked
		o.Checks = append(o.Checks, CheckResult{Name: CheckStatus, Passed: true})
		o.Checks = append(o.Checks, c.checkBlockUntil(resp.Body, &o))
	default:
		o.Kind = Unexpected
		o.Checks = append(o.Checks, CheckResult{
			Name:   CheckStatus,
			Detail: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		})
	}
	return o
}

// Failed classifies a request that never produced a response.
func (c *Checker) Failed(err error, latency time.Duration) Outcome {
	detail := "request failed"
	if err != nil {
		detail = err.Error()
	}
	return Outcome{
		Kind:    Unexpected,
		Latency: latency,
		Err:     err,
		At:      time.Now(),
		Checks:  []CheckResult{{Name: CheckStatus, Detail: detail}},
	}
}

func (c *Checker) checkQuota(h http.Header, o *Outcome) CheckResult {
	res := CheckResult{Name: CheckQuota, Passed: true}

	remaining, okRemaining := headerValue(h, c.contract.RemainingHeader)
	reset, okReset := headerValue(h, c.contract.ResetHeader)
	o.Remaining, o.Reset = remaining, reset

	var missing []string
	if !okRemaining {
		missing = append(missing, c.contract.RemainingHeader)
	}
	if !okReset {
		missing = append(missing, c.contract.ResetHeader)
	}
	if len(missing) > 0 {
		res.Passed = false
		res.Detail = "missing header " + strings.Join(missing, ", ")
	}
	return res
}

// headerValue distinguishes an absent header from an empty one.
func headerValue(h http.Header, name string) (string, bool) {
	vals := h.Values(name)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func (c *Checker) checkBlockUntil(body []byte, o *Outcome) CheckResult {
	res := CheckResult{Name: CheckBlockUntil}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		res.Detail = fmt.Sprintf("unparseable body: %v", err)
		return res
	}

	v, err := c.blockUntil.Search(doc)
	if err != nil {
		res.Detail = fmt.Sprintf("block_until lookup: %v", err)
		return res
	}
	if v == nil {
		res.Detail = fmt.Sprintf("field %q not found", c.contract.BlockUntilPath)
		return res
	}

	if _, err := parseTimestamp(v, c.contract.TimestampLayout); err != nil {
		res.Detail = fmt.Sprintf("invalid block_until %v: %v", v, err)
		return res
	}

	o.BlockUntil = fmt.Sprint(v)
	res.Passed = true
	return res
}

func parseTimestamp(v interface{}, layout string) (time.Time, error) {
	switch layout {
	case LayoutNone:
		return time.Time{}, nil
	case LayoutUnix:
		switch t := v.(type) {
		case float64:
			return time.Unix(int64(t), 0), nil
		case string:
			n, err := strconv.ParseInt(t, 10, 64)
			if err != nil {
				return time.Time{}, err
			}
			return time.Unix(n, 0), nil
		}
		return time.Time{}, fmt.Errorf("expected unix seconds, got %T", v)
	}

	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected string, got %T", v)
	}
	if layout == LayoutRFC3339 {
		layout = time.RFC3339
	}
	return time.Parse(layout, s)
}
