package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ratecheck/internal/banner"
	"ratecheck/internal/cli"
	"ratecheck/internal/config"
	"ratecheck/internal/logger"
	"ratecheck/internal/storage"
)

// Process exit codes.
const (
	ExitOK               = 0
	ExitRuntime          = 1
	ExitThresholdsFailed = 99
	ExitInvalidConfig    = 104
)

var errThresholds = errors.New("thresholds not met")

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, config.ErrInvalid) {
		return ExitInvalidConfig
	}
	return ExitRuntime
}

var (
	cfgFile string
	v       = config.NewViper()
)

var rootCmd = &cobra.Command{
	Use:   "ratecheck",
	Short: "Staged load probe for rate-limited HTTP endpoints",
	Long: `
ratecheck drives a rate-limited endpoint with a staged population of
closed-loop virtual callers and checks that every response honours the
admission contract:

  200 with X-Ratelimit-Remaining and X-Ratelimit-Reset headers
  429 with a JSON body carrying block_until

At the end it evaluates pass/fail thresholds and exits non-zero when any
of them is not met (99), or when the configuration is invalid (104).`,
	Example: `  ratecheck -u http://localhost:8080 --api-key demo
  ratecheck -u http://localhost:8080 -s 10s:10 -s 30s:50 -s 10s:0 -t "success_rate=rate>0.5"
  ratecheck target --rate 5 --burst 5`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(cmd.Context())
	},
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
	}
	os.Exit(ExitCode(err))
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(targetCmd, historyCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ratecheck.yaml)")
	rootCmd.PersistentFlags().String(config.KeyHistory, config.DefaultHistoryPath(), "run history database")
	rootCmd.PersistentFlags().BoolP(config.KeyVerbose, "v", false, "log every request outcome")
	rootCmd.PersistentFlags().String(config.KeyLogLevel, "info", "log level: debug, info, warn, error")

	f := rootCmd.Flags()
	f.SetNormalizeFunc(underscoreToDash)
	f.StringP(config.KeyURL, "u", "http://localhost:8080", "target URL")
	f.StringP(config.KeyMethod, "X", "GET", "HTTP method")
	f.String(config.KeyAPIKey, "", "value sent in the API_KEY header")
	f.StringArrayP(config.KeyHeader, "H", nil, `extra header "Key: Value" (templates: {{uuid}}, {{callerID}}, {{iteration}})`)
	f.StringSliceP(config.KeyStage, "s", nil, "stage as duration:target, repeatable (default 5s:5,5s:20)")
	f.Int(config.KeyStartVUs, 0, "concurrency before the first stage")
	f.Int(config.KeyMaxVUs, 0, "hard cap on concurrent callers (0 = none)")
	f.String(config.KeyPolicy, "linear", "ramp policy inside a stage: linear or step")
	f.Duration(config.KeyThinkTime, 100*time.Millisecond, "pause between a caller's requests")
	f.Duration(config.KeyTimeout, 10*time.Second, "per-request timeout")
	f.Bool(config.KeyInsecure, false, "skip TLS certificate verification")
	f.StringArrayP(config.KeyThreshold, "t", nil, `threshold as metric=expr, repeatable, "none" to disable (default http_req_duration=p(95)<100, success_rate=rate>0.8, blocked_rate=rate>0.1)`)
	f.Bool(config.KeyAbortOnFail, false, "stop the run as soon as a threshold fails")
	f.Duration(config.KeyAbortGrace, 0, "ignore threshold failures for abort during this initial window")
	f.StringP(config.KeyOut, "o", "", "write the JSON summary to this file")
	f.String(config.KeyCSV, "", "stream per-request results to this CSV file")
	f.Bool(config.KeyNoHistory, false, "do not record this run in history")
	f.Bool(config.KeyTUI, false, "show the live dashboard")

	f.String("remaining-header", "", "header carrying the remaining quota (default X-Ratelimit-Remaining)")
	f.String("reset-header", "", "header carrying the quota reset time (default X-Ratelimit-Reset)")
	f.String("block-until-path", "", "JMESPath of block_until in 429 bodies (default block_until)")
	f.String("timestamp-layout", "", "timestamp format: rfc3339, unix or none (default rfc3339)")

	v.BindPFlags(rootCmd.PersistentFlags())
	v.BindPFlags(f)
	v.BindPFlag(config.KeyContract+".remaining_header", f.Lookup("remaining-header"))
	v.BindPFlag(config.KeyContract+".reset_header", f.Lookup("reset-header"))
	v.BindPFlag(config.KeyContract+".block_until_path", f.Lookup("block-until-path"))
	v.BindPFlag(config.KeyContract+".timestamp_layout", f.Lookup("timestamp-layout"))
}

// underscoreToDash lets --start_vus and friends match the config-file spelling.
func underscoreToDash(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
			v.SetConfigType("yaml")
			v.SetConfigName(".ratecheck")
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			configErr = fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}
	}
}

// configErr is set by initConfig, which cannot return an error itself.
var configErr error

func newLogger(level zapcore.Level) *zap.Logger {
	return logger.New(os.Stderr, level)
}

func runProbe(ctx context.Context) error {
	if configErr != nil {
		return configErr
	}
	cfg, out, err := config.Load(v)
	if err != nil {
		return err
	}
	log := newLogger(out.Level)
	defer log.Sync()
	if used := v.ConfigFileUsed(); used != "" {
		log.Debug("using config file", zap.String("path", used))
	}

	opts := cli.Options{
		Log:      log,
		JSONPath: out.JSONPath,
		CSVPath:  out.CSVPath,
		TUI:      out.TUI,
	}
	if out.HistoryPath != "" {
		store, err := storage.Open(out.HistoryPath)
		if err != nil {
			log.Warn("history disabled", zap.Error(err))
		} else {
			defer store.Close()
			opts.Store = store
		}
	}

	summary, err := cli.Start(ctx, cfg, opts)
	if err != nil {
		return err
	}
	if !summary.Passed {
		return &exitError{code: ExitThresholdsFailed, err: errThresholds}
	}
	return nil
}

func historyPath() string {
	p := v.GetString(config.KeyHistory)
	if p == "" {
		p = config.DefaultHistoryPath()
	}
	return filepath.Clean(p)
}
