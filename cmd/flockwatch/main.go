package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"flockwatch/internal/alerts"
	"flockwatch/internal/api"
	"flockwatch/internal/config"
	"flockwatch/internal/devices"
	"flockwatch/internal/engine"
	"flockwatch/internal/ingest"
	"flockwatch/internal/logging"
	"flockwatch/internal/model"
	"flockwatch/internal/notify"
	"flockwatch/internal/oui"
	"flockwatch/internal/patterns"
	"flockwatch/internal/radio"
	"flockwatch/internal/scheduler"
	"flockwatch/internal/sink"
	"flockwatch/internal/storage"
	"flockwatch/internal/stream"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to a JSON or YAML config file")
	iface := flag.String("iface", "", "Monitor-mode interface (overrides scanner.wifi.iface)")
	pcapFile := flag.String("pcap", "", "Replay a capture file instead of sniffing live")
	noBLE := flag.Bool("no-ble", false, "Disable BLE scanning")
	writeConfig := flag.String("write-config", "", "Write the effective config to this path and exit")
	flag.Parse()

	if err := run(*configPath, *iface, *pcapFile, *noBLE, *writeConfig); err != nil {
		fmt.Fprintf(os.Stderr, "flockwatch: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, iface, pcapFile string, noBLE bool, writeConfig string) error {
	mgr, err := config.NewManager(config.ResolvePath(configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	err = mgr.Override(func(c *config.Config) {
		if iface != "" {
			c.Scanner.WiFi.Iface = iface
		}
		if pcapFile != "" {
			c.Scanner.WiFi.PcapFile = pcapFile
		}
		if noBLE {
			c.Scanner.BLE.Enabled = false
		}
	})
	if err != nil {
		return fmt.Errorf("apply flags: %w", err)
	}
	cfg := mgr.Get()
	if writeConfig != "" {
		return config.Save(writeConfig, cfg)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting flockwatch", "version", version, "config", mgr.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Warn("closing sinks", "err", err)
		}
	}()

	notifier, closeNotifier := openNotifier(cfg, logger)
	defer closeNotifier()

	db := patterns.Default()
	history := alerts.NewStore(cfg.History.StoreLimit)
	tracker := devices.NewStore(cfg.Devices.StoreLimit)
	eng := engine.NewEngine(cfg, logger, db, notifier, history, tracker, out)

	hub := stream.NewHub(logger)
	hub.SetGreeting(func() stream.Message {
		return stream.Message{Type: engine.MsgState, Payload: eng.State()}
	})
	eng.SetStream(hub)
	vendors := openVendors(cfg, logger)
	eng.SetVendors(vendors)

	events := make(chan model.RadioEvent, cfg.Ingest.ChannelBuffer)
	g, gctx := errgroup.WithContext(ctx)

	var wifi scheduler.WiFiRadio
	switch {
	case cfg.Scanner.WiFi.PcapFile != "":
		replay := radio.NewPcapFile(cfg.Scanner.WiFi.PcapFile, logger)
		g.Go(func() error {
			n, err := replay.Run(gctx, events)
			logger.Info("capture replay finished", "path", cfg.Scanner.WiFi.PcapFile, "frames", n)
			return err
		})
	case cfg.Scanner.WiFi.Enabled:
		capture, err := radio.OpenCapture(cfg.Scanner.WiFi.Iface, logger)
		if err != nil {
			return err
		}
		wifi = capture
		g.Go(func() error { return capture.Run(gctx, events) })
	}

	var ble scheduler.BLEScanner
	if cfg.Scanner.BLE.Enabled {
		scanner := radio.NewBLE(events, serviceUUIDs(db), logger)
		if err := scanner.Enable(); err != nil {
			logger.Warn("ble adapter unavailable, continuing without ble", "err", err)
		} else {
			ble = scanner
		}
	}

	eng.SetScheduler(scheduler.New(scheduler.Config{
		HopInterval:  cfg.Scanner.WiFi.HopInterval,
		MaxChannel:   cfg.Scanner.WiFi.MaxChannel,
		StartChannel: cfg.Scanner.WiFi.StartChannel,
		ScanInterval: cfg.Scanner.BLE.ScanInterval,
		ScanDuration: cfg.Scanner.BLE.ScanDuration,
	}, wifi, ble, logger, time.Now()))

	if err := startIngest(gctx, mgr, events, logger); err != nil {
		return err
	}
	apiServer := api.NewServer(mgr, history, tracker, eng, hub, logger, version)
	apiServer.SetVendors(vendors)
	api.Start(gctx, mgr, apiServer, logger)

	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return eng.Run(gctx, events) })
	eng.BootReady()

	err = g.Wait()
	logger.Info("shutting down", "stats", eng.Stats())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openSinks builds the detection fan-out. Each sink runs behind its own
// queue so a slow consumer never stalls the engine.
func openSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sink.Sink, error) {
	var sinks sink.Multi
	timeout := cfg.Output.WriteTimeout
	fail := func(err error) (sink.Sink, error) {
		_ = sinks.Close()
		return nil, err
	}
	if cfg.Output.JSON.Enabled {
		w, err := sink.OpenOutput(cfg.Output.JSON.Path)
		if err != nil {
			return fail(fmt.Errorf("open json output: %w", err))
		}
		sinks = append(sinks, sink.NewAsync("json", sink.NewJSONLines(w), 0, timeout, logger))
	}
	if cfg.Output.Protobuf.Enabled {
		w, err := sink.OpenOutput(cfg.Output.Protobuf.Path)
		if err != nil {
			return fail(fmt.Errorf("open protobuf output: %w", err))
		}
		sinks = append(sinks, sink.NewAsync("protobuf", sink.NewProtobuf(w), 0, timeout, logger))
	}
	if cfg.Output.NATS.Enabled {
		n, err := sink.NewNATS(cfg.Output.NATS.URL, cfg.Output.NATS.Subject, logger)
		if err != nil {
			return fail(fmt.Errorf("connect nats: %w", err))
		}
		sinks = append(sinks, sink.NewAsync("nats", n, 0, timeout, logger))
	}
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fail(err)
	}
	if store != nil {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := store.Init(initCtx)
		cancel()
		if err != nil {
			_ = store.Close()
			return fail(fmt.Errorf("init storage: %w", err))
		}
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
		sinks = append(sinks, sink.NewAsync("storage", storage.Writer{Store: store}, 0, 5*time.Second, logger))
	}
	return sinks, nil
}

func openNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, func()) {
	notifiers := notify.Multi{notify.NewLog(logger)}
	if !cfg.Alerting.Bell {
		return notifiers, func() {}
	}
	tty, err := os.OpenFile(cfg.Alerting.BellDevice, os.O_WRONLY, 0)
	if err != nil {
		logger.Warn("bell device unavailable", "device", cfg.Alerting.BellDevice, "err", err)
		return notifiers, func() {}
	}
	bell := notify.NewBell(tty)
	return append(notifiers, bell), func() { _ = bell.Close() }
}

// openVendors loads the OUI registry. A missing or unreadable file only
// disables manufacturer names.
func openVendors(cfg *config.Config, logger *slog.Logger) *oui.Database {
	if cfg.OUI.Path == "" {
		return nil
	}
	path := config.ResolvePath(cfg.OUI.Path)
	vendors, err := oui.Load(path)
	if err != nil {
		logger.Warn("oui registry unavailable, continuing without manufacturer names", "path", path, "err", err)
		return nil
	}
	logger.Info("oui registry loaded", "path", path, "entries", vendors.Len())
	return vendors
}

func startIngest(ctx context.Context, mgr *config.Manager, events chan<- model.RadioEvent, logger *slog.Logger) error {
	ingest.StartREST(ctx, mgr, events, logger)
	if _, err := ingest.StartTCPStream(ctx, mgr, events, logger); err != nil {
		return fmt.Errorf("tcp ingest: %w", err)
	}
	if _, err := ingest.StartUDP(ctx, mgr, events, logger); err != nil {
		return fmt.Errorf("udp ingest: %w", err)
	}
	ingest.StartFileTail(ctx, mgr, events, logger)
	ingest.StartKafka(ctx, mgr, events, logger)
	return nil
}

func serviceUUIDs(db *patterns.Database) []string {
	svcs := db.Services()
	out := make([]string, 0, len(svcs))
	for _, s := range svcs {
		out = append(out, s.UUID)
	}
	return out
}
