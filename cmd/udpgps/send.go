package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"nuha.dev/udpgps/internal/config"
	"nuha.dev/udpgps/internal/display/console"
	"nuha.dev/udpgps/internal/feed"
	"nuha.dev/udpgps/internal/metrics"
	"nuha.dev/udpgps/internal/source"
	"nuha.dev/udpgps/internal/udpgps"
	"nuha.dev/udpgps/internal/udpgps/client"
	"nuha.dev/udpgps/internal/udpgps/sender"
)

func (a *app) sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send location fixes to a listener until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			return send(ctx, cmd, c)
		},
	}
	f := cmd.Flags()
	f.String("host", "", "listener host")
	f.String("port", "", "listener port")
	f.Duration("interval", 0, "time between fixes (default 1s)")
	f.Float64("lat", 0, "latitude, or simulation centre with --sim")
	f.Float64("lon", 0, "longitude, or simulation centre with --sim")
	f.Bool("sim", false, "simulate movement around lat/lon")
	f.Duration("probe", 0, "wait for ICMP port unreachable after each send")
	return cmd
}

func send(ctx context.Context, cmd *cobra.Command, c *config.Config) error {
	fd, err := feed.New(metrics.Default)
	if err != nil {
		return err
	}
	con := console.New(cmd.OutOrStdout())
	fd.Subscribe("console", con.Handle)

	snd := sender.NewSender(&sender.SenderConfig{ProbeUnreachable: c.Probe, Metrics: metrics.Default}, fd)
	cl := client.NewClient(snd, con.Print)
	samples := make(chan udpgps.Sample)
	if err := cl.Start(ctx, c.Host, c.Port, samples); err != nil {
		return err
	}
	defer snd.Wait()
	defer cl.Stop()

	var p source.Producer = source.Fixed{Latitude: c.Latitude, Longitude: c.Longitude, Interval: c.Interval}
	if c.Simulate {
		p = source.Simulator{CenterLat: c.Latitude, CenterLon: c.Longitude, Interval: c.Interval}
	}
	err = p.Run(ctx, samples)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
