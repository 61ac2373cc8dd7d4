package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"ratecheck/internal/config"
	"ratecheck/internal/dummy"
	"ratecheck/internal/logger"
)

var targetCmd = &cobra.Command{
	Use:     "target",
	Aliases: []string{"dummy"},
	Short:   "Run a local rate-limited stub target",
	Long: `Serves the admission contract on localhost for smoke tests:
a per-key token bucket (API_KEY header, else client IP) that answers 200
with quota headers, or 429 with block_until once a key runs dry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		rate, _ := cmd.Flags().GetFloat64("rate")
		burst, _ := cmd.Flags().GetInt("burst")
		block, _ := cmd.Flags().GetDuration("block")

		level, err := logger.ParseLevel(v.GetString(config.KeyLogLevel))
		if err != nil {
			return err
		}
		if v.GetBool(config.KeyVerbose) {
			level = zapcore.DebugLevel
		}

		return dummy.Serve(cmd.Context(), dummy.ServerConfig{
			Port:      port,
			Rate:      rate,
			Burst:     burst,
			BlockFor:  block,
			KeyHeader: "API_KEY",
			Log:       newLogger(level),
		})
	},
}

func init() {
	d := dummy.DefaultServerConfig()
	targetCmd.Flags().IntP("port", "p", d.Port, "port to listen on")
	targetCmd.Flags().Float64("rate", d.Rate, "tokens per second per key")
	targetCmd.Flags().Int("burst", d.Burst, "bucket size per key")
	targetCmd.Flags().Duration("block", d.BlockFor, "how long an exhausted key is rejected")
}
