// Package threshold parses pass/fail expressions such as "p(95)<100" and
// evaluates them against an aggregated metrics snapshot.
package threshold

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type Op string

const (
	OpLT Op = "<"
	OpLE Op = "<="
	OpGT Op = ">"
	OpGE Op = ">="
	OpEQ Op = "=="
	OpNE Op = "!="
)

func (o Op) compare(v, bound float64) bool {
	switch o {
	case OpLT:
		return v < bound
	case OpLE:
		return v <= bound
	case OpGT:
		return v > bound
	case OpGE:
		return v >= bound
	case OpEQ:
		return v == bound
	default:
		return v != bound
	}
}

type Aggregation string

const (
	AggAvg        Aggregation = "avg"
	AggMin        Aggregation = "min"
	AggMax        Aggregation = "max"
	AggMed        Aggregation = "med"
	AggPercentile Aggregation = "p"
	AggRate       Aggregation = "rate"
	AggCount      Aggregation = "count"
)

// Metric names understood by the evaluator.
const (
	MetricDuration          = "http_req_duration"
	MetricSuccessRate       = "success_rate"
	MetricBlockedRate       = "blocked_rate"
	MetricUnexpectedRate    = "unexpected_rate"
	MetricChecks            = "checks"
	MetricReqFailed         = "http_req_failed"
	MetricReqs              = "http_reqs"
	MetricAssertionFailures = "assertion_failures"
)

type metricType int

const (
	trend metricType = iota
	rate
	counter
)

var metrics = map[string]metricType{
	MetricDuration:          trend,
	MetricSuccessRate:       rate,
	MetricBlockedRate:       rate,
	MetricUnexpectedRate:    rate,
	MetricChecks:            rate,
	MetricReqFailed:         rate,
	MetricReqs:              counter,
	MetricAssertionFailures: counter,
}

func (t metricType) allows(a Aggregation) bool {
	switch t {
	case trend:
		return a == AggAvg || a == AggMin || a == AggMax || a == AggMed || a == AggPercentile
	case rate:
		return a == AggRate
	default:
		return a == AggCount
	}
}

// Threshold is a parsed "<aggregation><op><bound>" condition on a metric.
// Durations are compared in milliseconds.
type Threshold struct {
	Metric      string
	Aggregation Aggregation
	Percentile  float64
	Op          Op
	Bound       float64
	Source      string
}

func (t Threshold) String() string {
	return t.Metric + " " + t.Source
}

var exprRe = regexp.MustCompile(`^\s*(avg|min|max|med|rate|count|p\(\s*([0-9]+(?:\.[0-9]+)?)\s*\))\s*(<=|>=|==|!=|<|>)\s*(-?[0-9]+(?:\.[0-9]+)?)\s*$`)

// Parse parses one expression for metric.
func Parse(metric, expr string) (Threshold, error) {
	metric = strings.TrimSpace(metric)
	mt, ok := metrics[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unknown metric %q", metric)
	}

	m := exprRe.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, fmt.Errorf("malformed threshold %q for %s", expr, metric)
	}

	th := Threshold{
		Metric: metric,
		Op:     Op(m[3]),
		Source: strings.Join(strings.Fields(expr), ""),
	}

	if m[2] != "" {
		th.Aggregation = AggPercentile
		p, err := strconv.ParseFloat(m[2], 64)
		if err != nil || p < 0 || p > 100 {
			return Threshold{}, fmt.Errorf("percentile out of range in %q", expr)
		}
		th.Percentile = p
	} else {
		th.Aggregation = Aggregation(m[1])
	}

	if !mt.allows(th.Aggregation) {
		return Threshold{}, fmt.Errorf("aggregation %q not valid for metric %s", th.Aggregation, metric)
	}

	bound, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("bad bound in %q: %w", expr, err)
	}
	th.Bound = bound
	return th, nil
}

// ParseFlag parses the "metric=expression" command-line form.
func ParseFlag(s string) (Threshold, error) {
	metric, expr, ok := strings.Cut(s, "=")
	if !ok {
		return Threshold{}, fmt.Errorf("threshold %q must look like metric=expression", s)
	}
	return Parse(metric, expr)
}

// ParseSet parses a metric -> expressions map. Output order is stable.
func ParseSet(set map[string][]string) ([]Threshold, error) {
	var out []Threshold
	for metric, exprs := range set {
		for _, expr := range exprs {
			th, err := Parse(metric, expr)
			if err != nil {
				return nil, err
			}
			out = append(out, th)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Metric != out[j].Metric {
			return out[i].Metric < out[j].Metric
		}
		return out[i].Source < out[j].Source
	})
	return out, nil
}
