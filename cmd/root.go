// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/config"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/observability"
)

// cli carries the state shared by one root command and its sub-commands.
type cli struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
}

// NewRootCommand builds a fresh command tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	root, _ := newRootCmd()
	return root
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{v: viper.New()}
	config.SetDefaults(c.v)

	rootCmd := &cobra.Command{
		Use:   "pa-explorer",
		Short: "pa-explorer traces programs through abstract domains.",
		Long: `pa-explorer runs small imperative programs over the Sign, Constant, Interval and
Taint abstract domains and prints a step-by-step trace of the abstract state.`,
		// Version is dynamically set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// This function runs before any command, setting up config and logging.
			if err := c.initializeConfig(); err != nil {
				return err
			}
			cfg, err := config.NewConfigFromViper(c.v)
			if err != nil {
				// Initialize a fallback logger so the failure is still reported.
				observability.InitializeLogger(config.NewDefaultConfig().Logger())
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			c.cfg = cfg
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting pa-explorer", zap.String("version", Version))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "config file (default is ./config.yaml or ~/.pa-explorer/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(
		newVersionCmd(),
		newDomainsCmd(),
		newLatticeCmd(),
		newTraceCmd(c),
		newTaintCmd(c),
		newCompareCmd(c),
		newProgramsCmd(c),
		newServeCmd(c),
	)
	return rootCmd, c
}

// Execute runs the root command with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

// initializeConfig reads in the config file and ENV variables if set.
func (c *cli) initializeConfig() error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		c.v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			c.v.AddConfigPath(filepath.Join(home, ".pa-explorer"))
		}
		c.v.SetConfigName("config")
		c.v.SetConfigType("yaml")
	}

	c.v.SetEnvPrefix(config.EnvPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return nil
}
