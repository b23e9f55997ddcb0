package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/obr/internal/config"
	"github.com/zjrosen/obr/internal/log"
)

const localConfigPath = ".obr/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "obr",
	Short: "Query OSGi capability repositories",
	Long: `obr loads OSGi repository documents from files and URLs, indexes the
capabilities they declare and answers findProviders queries against one
repository or an aggregate of several.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .obr/config.yaml, then ~/.config/obr/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging (also OBR_DEBUG)")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("aggregate.failure_policy", defaults.Aggregate.FailurePolicy)
	viper.SetDefault("aggregate.concurrency", defaults.Aggregate.Concurrency)
	viper.SetDefault("index.obligate", defaults.Index.Obligate)
	viper.SetDefault("document.strict", defaults.Document.Strict)
	viper.SetDefault("store.enabled", defaults.Store.Enabled)
	viper.SetDefault("store.path", defaults.Store.Path)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	viper.SetDefault("serve.addr", defaults.Serve.Addr)

	viper.SetEnvPrefix("OBR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .obr/config.yaml (current directory)
		// 2. ~/.config/obr/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			viper.AddConfigPath(config.ConfigDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "warning: reading config: %v\n", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: decoding config: %v\n", err)
	}
}

// setupLogging installs the file logger when debug output is requested.
func setupLogging(cmd *cobra.Command, _ []string) error {
	if !debugFlag && !log.DebugFromEnv() {
		return nil
	}
	logPath := os.Getenv("OBR_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}
	cleanup, err := log.Init(logPath)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	log.SetMinLevel(log.LevelDebug)
	cobra.OnFinalize(cleanup)

	log.Info(log.CatConfig, "obr starting", "command", cmd.CommandPath(), "config", viper.ConfigFileUsed(), "logPath", logPath)
	return nil
}

// configPath returns the file repository edits are written to.
func configPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		if _, err := os.Stat(used); err == nil {
			return used
		}
	}
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(config.ConfigDir(), "config.yaml")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
