package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aceteam-ai/aiworker/internal/config"
	"github.com/aceteam-ai/aiworker/internal/logging"
)

const defaultEnvFile = ".env"

var (
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string
	debugMode bool
)

// cfg and logger are resolved once per invocation in PersistentPreRunE.
var (
	cfg    config.Config
	logger zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aiworker",
	Short: "aiworker processes AI analysis jobs from a queue",
	Long: `A resilient job worker that consumes AI analysis jobs (image and exam
analysis, meal plans, assistant chat and messaging replies) from Redis Streams
or SQS, calls the detection, local LLM and cloud LLM providers with fallback,
and caches successful results.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
			return err
		}

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logFormat != "" {
			cfg.Log.Format = logFormat
		}
		if debugMode {
			cfg.Log.Level = "debug"
		}
		logger = logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}, cfg.WorkerID)

		logger.Debug().Str("command", describeCommand(cmd, args)).Msg("running command")
		return nil
	},
}

// loadEnvFile loads KEY=VALUE pairs without overriding the real environment.
// A missing default file is not an error; a missing explicit one is.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// describeCommand renders the invocation with the flags that were set.
func describeCommand(cmd *cobra.Command, args []string) string {
	fullCmd := "aiworker"
	if cmd.Name() != "aiworker" {
		fullCmd += " " + cmd.Name()
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if f.Name == "debug" {
			return
		}
		if f.Value.Type() == "bool" {
			fullCmd += " --" + f.Name
		} else {
			fullCmd += " --" + f.Name + "=" + f.Value.String()
		}
	})
	if len(args) > 0 {
		fullCmd += " " + strings.Join(args, " ")
	}
	return fullCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (environment variables override it)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: json or console")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
}
