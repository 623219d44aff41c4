package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"github.com/spf13/cobra"
	"nuha.dev/udpgps/internal/broker"
	"nuha.dev/udpgps/internal/config"
	"nuha.dev/udpgps/internal/display/console"
	"nuha.dev/udpgps/internal/feed"
	"nuha.dev/udpgps/internal/metrics"
	"nuha.dev/udpgps/internal/store"
	"nuha.dev/udpgps/internal/store/impl/logstore"
	"nuha.dev/udpgps/internal/store/impl/pgstore"
	"nuha.dev/udpgps/internal/sublist"
	"nuha.dev/udpgps/internal/udpgps/control"
	"nuha.dev/udpgps/internal/udpgps/sender"
	"nuha.dev/udpgps/internal/udpgps/server"
	"nuha.dev/udpgps/internal/web"
	"nuha.dev/udpgps/internal/web/webstream"
)

func (a *app) listenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Listen for location datagrams and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			return listen(ctx, cmd, c)
		},
	}
	f := cmd.Flags()
	f.String("port", "", "UDP port to listen on")
	f.String("bind", "", "address to bind, all interfaces when empty")
	f.Bool("proxy_header", false, "strip a leading PROXY protocol header")
	f.String("api_address", "", "control api address, disabled when empty")
	f.String("ws_address", "", "websocket stream address, disabled when empty")
	f.String("db_url", "", "postgres url to record readings to")
	f.String("db_table", "locations", "table readings are recorded to")
	f.Bool("log_readings", false, "log every reading")
	f.String("nats_url", "", "nats url to relay readings to")
	f.String("nats_subject", "udpgps.location", "nats subject for readings")
	f.Duration("probe", 0, "wait for ICMP port unreachable after api sends")
	return cmd
}

func listen(ctx context.Context, cmd *cobra.Command, c *config.Config) error {
	logger := log.DefaultLogger
	logger.Context = log.NewContext(nil).Str("module", "listen").Value()
	m := metrics.Default
	fd, err := feed.New(m)
	if err != nil {
		return err
	}
	con := console.New(cmd.OutOrStdout())
	fd.Subscribe("console", con.Handle)

	srv := server.NewServer(&server.ServerConfig{BindAddr: c.Bind, ProxyHeader: c.ProxyHeader, Metrics: m})
	ctl := control.NewController(ctx, srv, fd, con.Notice)

	sk := newSinks(ctx)
	defer sk.shutdown()

	if c.DbUrl != "" {
		pool, err := pgxpool.Connect(ctx, c.DbUrl)
		if err != nil {
			return err
		}
		sk.onClose(pool.Close)
		st := pgstore.NewStore(pool, c.DbTable, &pgstore.StoreConfig{BufSize: 50, TickerDur: time.Second, MaxAgeFlush: 5 * time.Second})
		if err := st.EnsureTable(ctx); err != nil {
			return err
		}
		sk.run(st.Run)
		fd.Subscribe("pgstore", store.Recorder(st))
	}
	if c.LogReadings {
		fd.Subscribe("logstore", store.Recorder(logstore.NewStore()))
	}
	if c.NatsUrl != "" {
		br, closeBroker, err := broker.Connect(&broker.BrokerConfig{URL: c.NatsUrl, Subject: c.NatsSubject})
		if err != nil {
			return err
		}
		sk.onClose(closeBroker)
		sk.run(br.Run)
		fd.Subscribe("broker", br.Handle)
	}
	if c.WsAddress != "" {
		ws := webstream.NewWebstream(sublist.NewSublistMap(), webstream.WebStreamConfig{ListenAddr: c.WsAddress})
		fd.Subscribe("webstream", ws.Handle)
		sk.run(func(ctx context.Context) {
			if err := ws.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("websocket stream stopped")
			}
		})
	}
	if c.ApiAddress != "" {
		snd := sender.NewSender(&sender.SenderConfig{ProbeUnreachable: c.Probe, Metrics: m}, fd)
		api := web.NewApi(ctl, snd, &web.ApiConfig{ListenAddr: c.ApiAddress, Metrics: m})
		sk.run(func(ctx context.Context) {
			if err := api.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("api stopped")
			}
		})
	}

	// With the api enabled the port is optional: sessions can be started
	// remotely.
	if c.Port != "" || c.ApiAddress == "" {
		if _, err := ctl.Start(c.Port); err != nil {
			return err
		}
	}
	if c.ApiAddress == "" {
		ended := make(chan struct{})
		go func() {
			ctl.Wait()
			close(ended)
		}()
		select {
		case <-ctx.Done():
		case <-ended:
		}
	} else {
		<-ctx.Done()
	}
	ctl.Stop()
	ctl.Wait()
	return nil
}
