// Command jukebox administers a jukebox platform database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"github.com/bitfsorg/libjukebox-go/config"
	"github.com/bitfsorg/libjukebox-go/jukebox"
)

const programName = "jukebox"

var log = logging.Logger("jukebox/cmd")

type globalFlags struct {
	configFile string
	debug      bool
}

// cfgKey carries the loaded configuration in the command context.
type cfgKey struct{}

func configFrom(cmd *cobra.Command) config.Config {
	cfg, _ := cmd.Context().Value(cfgKey{}).(config.Config)
	return cfg
}

// open builds a service from the command's configuration.
func open(cmd *cobra.Command, opts jukebox.OpenOptions) (*jukebox.Service, error) {
	return jukebox.Open(configFrom(cmd), opts)
}

func newRootCommand() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           programName,
		Short:         "Administer a jukebox listening-table platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := flags.configFile
			if path == "" {
				if p := config.ConfigPath(config.DefaultConfig().DataDir); fileExists(p) {
					path = p
				}
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if flags.debug {
				cfg.LogLevel = "debug"
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey{}, cfg))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "path to config file")
	root.PersistentFlags().BoolVarP(&flags.debug, "debug", "D", false, "enable debug logging")

	root.AddCommand(initCommand())
	root.AddCommand(feeCommand())
	root.AddCommand(statsCommand())
	root.AddCommand(tableCommand())
	root.AddCommand(settleCommand())
	root.AddCommand(serveCommand())
	return root
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		stop()
		os.Exit(1)
	}
}
