// Package cmd implements the pedigree command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/pedigree/internal/config"
	"github.com/MeKo-Tech/pedigree/internal/logging"
	"github.com/MeKo-Tech/pedigree/internal/version"
)

var (
	// Configuration loader of the running command.
	configLoader *config.Loader
	// Resolved configuration of the running command.
	globalConfig *config.Config
	// Logger of the running command.
	appLogger *logging.Logger
	// Configuration file path.
	cfgFile string
)

// flagBinding maps a command flag onto a configuration key.
type flagBinding struct {
	key  string
	flag string
}

// commandBindings holds the flag bindings of each subcommand, keyed by name.
var commandBindings = map[string][]flagBinding{}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pedigree",
	Short: "Extract family members and their labels from pedigree diagrams",
	Long: `pedigree turns scanned pedigree (family tree) diagrams into structured data.

Symbols and text regions are detected, every text region is assigned to the
nearest family member, the labels are read by a vision language model and the
recognized names, ages, birth dates and diseases are written onto the tree.

Examples:
  pedigree image family.png
  pedigree image scans/*.jpg --format yaml
  pedigree serve --port 8080
  pedigree config init`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "pedigree version "+version.String())
			return nil
		}
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(cmd); err != nil {
			return err
		}
		return initLogging(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appLogger != nil {
			_ = appLogger.Close()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is pedigree.yaml in ., $HOME, $HOME/.config/pedigree, /etc/pedigree)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("onnx-library", "", "path to the ONNX Runtime shared library")
	rootCmd.Flags().Bool("version", false, "print version information and exit")
}

// initConfig loads the configuration for cmd. Every run gets its own viper
// instance so flags, environment and file are resolved from scratch.
func initConfig(cmd *cobra.Command) error {
	v := viper.New()
	bindings := append([]flagBinding{
		{"verbose", "verbose"},
		{"log_level", "log-level"},
		{"onnx_library", "onnx-library"},
	}, commandBindings[cmd.Name()]...)
	for _, b := range bindings {
		f := cmd.Flags().Lookup(b.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(b.key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", b.flag, err)
		}
	}

	configLoader = config.NewLoaderWithViper(v)
	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	return nil
}

// initLogging installs the JSON logger as the slog default. Logs go to
// stderr so stdout stays reserved for results.
func initLogging(cmd *cobra.Command) error {
	lc := globalConfig.ToLoggingConfig()
	if cmd.Name() == "config" || (cmd.Parent() != nil && cmd.Parent().Name() == "config") {
		// config commands must work without a writable log directory
		lc.File = ""
	}
	l, err := logging.New(lc, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	appLogger = l
	slog.SetDefault(l.Logger)
	return nil
}

// GetConfig returns the configuration resolved for the running command.
func GetConfig() *config.Config {
	if globalConfig == nil {
		cfg := config.DefaultConfig()
		return &cfg
	}
	return globalConfig
}

// GetConfigLoader returns the loader of the running command.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoaderWithViper(viper.New())
	}
	return configLoader
}
