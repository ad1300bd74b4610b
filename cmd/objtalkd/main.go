// Command objtalkd runs the object broker: it loads a TOML config file,
// wires up storage, logging and the system monitor, starts every
// configured transport, and shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/objtalk/objtalkd/internal/broker"
	"github.com/objtalk/objtalkd/internal/config"
	"github.com/objtalk/objtalkd/internal/logging"
	"github.com/objtalk/objtalkd/internal/storage"
	"github.com/objtalk/objtalkd/internal/sysmonitor"
	"github.com/objtalk/objtalkd/internal/transport/http"
	"github.com/objtalk/objtalkd/internal/transport/kafka"
	"github.com/objtalk/objtalkd/internal/transport/natslog"
	"github.com/objtalk/objtalkd/internal/transport/tcp"
	"github.com/objtalk/objtalkd/internal/workerpool"
)

func main() {
	var (
		configPath = flag.String("config", "objtalk.toml", "path to the TOML configuration file")
		debug      = flag.Bool("debug", false, "enable debug logging (the default level is info)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "objtalkd: %v\n", err)
		os.Exit(1)
	}

	logLevel := "info"
	if *debug {
		logLevel = "debug"
	}
	log := logging.Init(logging.Options{Level: logLevel, Pretty: false})

	maxProcs := runtime.GOMAXPROCS(0)
	log.Info().Int("gomaxprocs", maxProcs).Msg("starting objtalkd")

	store, err := buildStorage(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("storage init failed")
	}

	writePool := workerpool.New(4, 256, log)
	poolCtx, cancelPool := context.WithCancel(context.Background())
	writePool.Start(poolCtx)
	defer cancelPool()
	defer writePool.Stop()

	var brokerLogger broker.Logger = logging.NewBrokerLogger(log)
	var natsMirror *natslog.Mirror
	if cfg.NATS != nil {
		natsMirror, err = natslog.New(cfg.NATS.Addr, cfg.NATS.Subject, brokerLogger, log)
		if err != nil {
			log.Fatal().Err(err).Msg("nats log mirror init failed")
		}
		brokerLogger = natsMirror
		defer natsMirror.Close()
	}

	b, err := broker.New(store, brokerLogger, writePool)
	if err != nil {
		log.Fatal().Err(err).Msg("broker init failed")
	}

	var monitor *sysmonitor.Monitor
	if cfg.Monitor != nil {
		monitor = sysmonitor.New(b, cfg.Monitor.Interval)
		monitor.Start()
		defer monitor.Stop()
	}

	var closers []func() error

	for _, tcfg := range cfg.TCP {
		srv := tcp.New(tcfg.Addr, b, log)
		go func() {
			if err := srv.Serve(); err != nil {
				log.Error().Err(err).Str("addr", tcfg.Addr).Msg("tcp transport stopped")
			}
		}()
		closers = append(closers, srv.Close)
	}

	for _, hcfg := range cfg.HTTP {
		srv := http.New(hcfg.Addr, b, log, hcfg.AllowOrigin, http.AdminConfig{
			Enabled:        hcfg.Admin.Enabled,
			AssetOverrides: hcfg.Admin.AssetOverrides,
		})
		srv.SetMonitor(monitor)
		go func() {
			if err := srv.Serve(); err != nil {
				log.Error().Err(err).Str("addr", hcfg.Addr).Msg("http transport stopped")
			}
		}()
		closers = append(closers, srv.Close)
	}

	var bridges []*kafka.Bridge
	for _, kcfg := range cfg.Kafka {
		bridge, err := kafka.New(kafka.Config{
			Brokers:      kcfg.Brokers,
			Group:        kcfg.Group,
			Topics:       kcfg.Topics,
			ObjectPrefix: kcfg.ObjectPrefix,
		}, b, log)
		if err != nil {
			log.Fatal().Err(err).Msg("kafka bridge init failed")
		}
		bridge.Start()
		bridges = append(bridges, bridge)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")

	for _, bridge := range bridges {
		bridge.Stop()
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn().Err(err).Msg("error closing transport")
		}
	}
}

func buildStorage(cfg *config.Config, log zerolog.Logger) (broker.Storage, error) {
	if cfg.Storage == nil || cfg.Storage.Backend == "" || cfg.Storage.Backend == "null" {
		return storage.Null{}, nil
	}
	if cfg.Storage.Backend != "sqlite" {
		return nil, fmt.Errorf("objtalkd: unknown storage backend %q", cfg.Storage.Backend)
	}
	return storage.OpenBolt(cfg.Storage.Sqlite.Filename, log)
}
