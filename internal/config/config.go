package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"ratecheck/internal/check"
	"ratecheck/internal/logger"
	"ratecheck/internal/runner"
	"ratecheck/internal/threshold"
)

// ErrInvalid wraps every error that stops a run before it starts.
var ErrInvalid = errors.New("invalid configuration")

const EnvPrefix = "RATECHECK"

// Keys shared by flags, env and the config file.
const (
	KeyURL         = "url"
	KeyMethod      = "method"
	KeyAPIKey      = "api-key"
	KeyHeader      = "header"
	KeyStage       = "stage"
	KeyStartVUs    = "start-vus"
	KeyMaxVUs      = "max-vus"
	KeyPolicy      = "policy"
	KeyThinkTime   = "think-time"
	KeyTimeout     = "timeout"
	KeyInsecure    = "insecure"
	KeyThreshold   = "threshold"
	KeyThresholds  = "thresholds"
	KeyAbortOnFail = "abort-on-fail"
	KeyAbortGrace  = "abort-grace"
	KeyContract    = "contract"
	KeyOut         = "out"
	KeyCSV         = "csv"
	KeyHistory     = "history"
	KeyNoHistory   = "no-history"
	KeyTUI         = "tui"
	KeyVerbose     = "verbose"
	KeyLogLevel    = "log-level"
)

var (
	DefaultStages     = []string{"5s:5", "5s:20"}
	DefaultThresholds = []string{
		"http_req_duration=p(95)<100",
		"success_rate=rate>0.8",
		"blocked_rate=rate>0.1",
	}
)

// File mirrors the YAML file and the flag/env surface.
type File struct {
	URL         string              `mapstructure:"url"`
	Method      string              `mapstructure:"method"`
	APIKey      string              `mapstructure:"api-key"`
	Header      []string            `mapstructure:"header"`
	Stage       []string            `mapstructure:"stage"`
	StartVUs    int                 `mapstructure:"start-vus"`
	MaxVUs      int                 `mapstructure:"max-vus"`
	Policy      string              `mapstructure:"policy"`
	ThinkTime   time.Duration       `mapstructure:"think-time"`
	Timeout     time.Duration       `mapstructure:"timeout"`
	Insecure    bool                `mapstructure:"insecure"`
	Threshold   []string            `mapstructure:"threshold"`
	Thresholds  map[string][]string `mapstructure:"thresholds"`
	AbortOnFail bool                `mapstructure:"abort-on-fail"`
	AbortGrace  time.Duration       `mapstructure:"abort-grace"`
	Contract    check.Contract      `mapstructure:"contract"`
	Out         string              `mapstructure:"out"`
	CSV         string              `mapstructure:"csv"`
	History     string              `mapstructure:"history"`
	NoHistory   bool                `mapstructure:"no-history"`
	TUI         bool                `mapstructure:"tui"`
	Verbose     bool                `mapstructure:"verbose"`
	LogLevel    string              `mapstructure:"log-level"`
}

// Output holds everything about a run that is not the run itself.
type Output struct {
	JSONPath    string
	CSVPath     string
	HistoryPath string
	TUI         bool
	Level       zapcore.Level
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyURL, "http://localhost:8080")
	v.SetDefault(KeyMethod, "GET")
	v.SetDefault(KeyPolicy, string(runner.PolicyLinear))
	v.SetDefault(KeyThinkTime, 100*time.Millisecond)
	v.SetDefault(KeyTimeout, 10*time.Second)
	v.SetDefault(KeyHistory, DefaultHistoryPath())
	v.SetDefault(KeyLogLevel, "info")
}

// NewViper returns a viper with defaults and RATECHECK_* env binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows about.
	for _, k := range envKeys {
		v.BindEnv(k)
	}
	return v
}

var envKeys = []string{
	KeyURL, KeyMethod, KeyAPIKey, KeyHeader, KeyStage, KeyStartVUs, KeyMaxVUs,
	KeyPolicy, KeyThinkTime, KeyTimeout, KeyInsecure, KeyThreshold,
	KeyAbortOnFail, KeyAbortGrace, KeyOut, KeyCSV, KeyHistory, KeyNoHistory,
	KeyTUI, KeyVerbose, KeyLogLevel,
}

func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ratecheck-history.db"
	}
	return filepath.Join(home, ".ratecheck", "history.db")
}

// Load decodes v into a validated runner.Config and output options.
func Load(v *viper.Viper) (runner.Config, Output, error) {
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return runner.Config{}, Output{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg, out, err := f.Build()
	if err != nil {
		return runner.Config{}, Output{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cfg, out, nil
}

func (f File) Build() (runner.Config, Output, error) {
	cfg := runner.Config{
		URL:         strings.TrimSpace(f.URL),
		Method:      strings.ToUpper(f.Method),
		APIKey:      f.APIKey,
		Insecure:    f.Insecure,
		StartVUs:    f.StartVUs,
		MaxVUs:      f.MaxVUs,
		Policy:      runner.Policy(strings.ToLower(f.Policy)),
		ThinkTime:   f.ThinkTime,
		Timeout:     f.Timeout,
		Contract:    f.Contract,
		AbortOnFail: f.AbortOnFail,
		AbortGrace:  f.AbortGrace,
	}

	headers, err := parseHeaders(f.Header)
	if err != nil {
		return cfg, Output{}, err
	}
	cfg.Headers = headers

	stages := f.Stage
	if len(stages) == 0 {
		stages = DefaultStages
	}
	for _, s := range stages {
		st, err := runner.ParseStage(s)
		if err != nil {
			return cfg, Output{}, err
		}
		cfg.Stages = append(cfg.Stages, st)
	}

	ths, err := parseThresholds(f.Threshold, f.Thresholds)
	if err != nil {
		return cfg, Output{}, err
	}
	cfg.Thresholds = ths

	if err := cfg.Validate(); err != nil {
		return cfg, Output{}, err
	}
	if _, err := check.New(cfg.Contract); err != nil {
		return cfg, Output{}, err
	}

	level, err := logger.ParseLevel(f.LogLevel)
	if err != nil {
		return cfg, Output{}, err
	}
	if f.Verbose {
		level = zapcore.DebugLevel
	}

	out := Output{
		JSONPath:    f.Out,
		CSVPath:     f.CSV,
		HistoryPath: f.History,
		TUI:         f.TUI,
		Level:       level,
	}
	if f.NoHistory {
		out.HistoryPath = ""
	}
	return cfg, out, nil
}

// parseHeaders accepts "Key: Value" entries.
func parseHeaders(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(entries))
	for _, h := range entries {
		k, v, ok := strings.Cut(h, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("header %q must look like \"Key: Value\"", h)
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers, nil
}

// parseThresholds merges "metric=expr" entries with the metric-keyed map
// form used in config files. With neither given the defaults apply; a
// single "none" entry disables thresholds.
func parseThresholds(flat []string, byMetric map[string][]string) ([]threshold.Threshold, error) {
	if len(flat) == 1 && strings.EqualFold(strings.TrimSpace(flat[0]), "none") {
		return nil, nil
	}
	if len(flat) == 0 && len(byMetric) == 0 {
		flat = DefaultThresholds
	}
	set := make(map[string][]string, len(byMetric))
	for m, exprs := range byMetric {
		set[m] = append(set[m], exprs...)
	}
	for _, entry := range flat {
		m, expr, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("threshold %q must look like metric=expression", entry)
		}
		m = strings.TrimSpace(m)
		set[m] = append(set[m], expr)
	}
	return threshold.ParseSet(set)
}
