package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"nuha.dev/udpgps/internal/config"
)

type app struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}
	root := &cobra.Command{
		Use:           "udpgps",
		Short:         "Send and receive geolocation fixes over UDP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./udpgps.yaml when present)")
	root.PersistentFlags().String("log_level", "info", "trace, debug, info, warn or error")
	root.AddCommand(a.listenCmd(), a.sendCmd())
	return root
}

// load binds the command's flags over env and file values and returns the
// validated configuration.
func (a *app) load(cmd *cobra.Command) (*config.Config, error) {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if err := config.ReadFile(a.v, a.cfgFile); err != nil {
		return nil, err
	}
	c, err := config.Load(a.v)
	if err != nil {
		return nil, err
	}
	c.SetupLogging()
	return c, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
