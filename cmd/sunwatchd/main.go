// sunwatchd - Gap-aware sunlight exposure detection for sensor streams
//
//	sunwatchd run              Receive live data and detect sunlight exposure
//	sunwatchd mark-historical  Replay stored history and mark anomalies
//	sunwatchd delete-markings  Delete all anomaly markings from the database
//	sunwatchd status           Show archived detections
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sunwatch/internal/alert"
	"sunwatch/internal/config"
	"sunwatch/internal/influx"
	"sunwatch/internal/ingest"
	"sunwatch/internal/logging"
	"sunwatch/internal/metrics"
	"sunwatch/internal/pipeline"
	"sunwatch/internal/replay"
	"sunwatch/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "run":
		cmdRun()
	case "mark-historical":
		cmdMarkHistorical()
	case "delete-markings":
		cmdDeleteMarkings()
	case "status":
		cmdStatus()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`sunwatchd - Sunlight exposure detection for sensor streams

USAGE:
    sunwatchd <command> [options]

COMMANDS:
    run              Receive live sensor data, detect exposure, raise alerts
    mark-historical  Replay the stored measurement history and mark anomalies
    delete-markings  Delete all anomaly markings from the database
    status           Show archived detections
    help             Show this help message

OPTIONS:
    -config <path>   Configuration file (default ~/.sunwatch/config.toml)

ENVIRONMENT:
    MQTT_BROKER_HOST, MQTT_BROKER_PORT, MQTT_CLIENT_ID, MQTT_TOPIC
    INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_DATABASE
    These override the corresponding configuration file values.`)
}

// loadConfig parses the -config flag from args and loads the configuration.
func loadConfig(name string, args []string) (*config.Config, string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	path := fs.String("config", defaultConfigPath(), "configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg, *path
}

// defaultConfigPath returns the standard config location, or empty when no
// file exists there so defaults plus environment apply.
func defaultConfigPath() string {
	path := config.ConfigPath()
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func newLogger(cfg *config.Config) *logging.Logger {
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.Logging.Level)
	logCfg.Format = logging.ParseFormat(cfg.Logging.Format)
	if cfg.Logging.Output != "" {
		logCfg.Output = cfg.Logging.Output
	}
	if cfg.Logging.File != "" {
		logCfg.FilePath = cfg.Logging.File
	}

	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: setup logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(log)
	return log
}

func cmdRun() {
	cfg, cfgPath := loadConfig("run", os.Args[2:])
	log := newLogger(cfg)
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pm := metrics.InitMetrics(metrics.Default())

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:    cfg.Metrics.ListenAddr,
			Handler: metrics.Default().HTTPHandler(),
		}
		go func() {
			log.Info("metrics endpoint listening", "addr", cfg.Metrics.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics endpoint failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	var archive pipeline.Archiver
	if cfg.Storage.Enabled {
		db, err := store.Open(cfg.Storage.Path)
		if err != nil {
			log.Error("open detection archive", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		archive = db
		log.Info("detection archive open", "path", cfg.Storage.Path)
	}

	var series pipeline.SeriesWriter
	if cfg.Influx.URL != "" {
		series = influx.NewClient(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Database,
			time.Duration(cfg.Influx.TimeoutSec)*time.Second)
		log.Info("time-series database configured", "url", cfg.Influx.URL, "database", cfg.Influx.Database)
	} else {
		log.Warn("no time-series database configured, measurements will not be persisted")
	}

	sinks := alert.NewFanout(log, alert.NewLogSink(log))
	if cfg.Alerts.DesktopNotifications {
		desktop, err := alert.NewDesktopSink()
		if err != nil {
			log.Warn("desktop notifications unavailable", "error", err)
		} else {
			defer desktop.Close()
			sinks.Add(desktop)
		}
	}

	pipe, err := pipeline.New(pipeline.Options{
		Params:            cfg.Detector.Params(),
		Series:            series,
		WriteMeasurements: cfg.Influx.WriteMeasurements,
		Archive:           archive,
		Alerts:            sinks,
		Metrics:           pm,
		Log:               log,
	})
	if err != nil {
		log.Error("pipeline setup failed", "error", err)
		os.Exit(1)
	}

	sub, err := ingest.NewSubscriber(ingest.Config{
		Host:           cfg.MQTT.Host,
		Port:           cfg.MQTT.Port,
		ClientID:       cfg.MQTT.ClientID,
		Topic:          cfg.MQTT.SensorTopic,
		KeepAlive:      time.Duration(cfg.MQTT.KeepAliveSec) * time.Second,
		ReconnectDelay: time.Duration(cfg.MQTT.ReconnectDelaySec) * time.Second,
	}, pipe, log)
	if err != nil {
		log.Error("subscriber setup failed", "error", err)
		os.Exit(1)
	}
	sub.OnInvalidPayload = func(error) { pm.RecordInvalidPayload() }

	// Watch the config file so threshold edits surface without a restart.
	// Reloaded detector parameters apply to devices seen after the reload;
	// running detectors keep the parameters their history was built under.
	if cfgPath != "" {
		loader, err := config.NewLoader(cfgPath)
		if err == nil {
			loader.OnChange(func(c *config.Config) {
				if err := pipe.UpdateParams(c.Detector.Params()); err != nil {
					log.Warn("reloaded detector parameters rejected", "error", err)
					return
				}
				log.Info("configuration reloaded", "path", cfgPath)
			})
			if err := loader.Watch(ctx, func(err error) {
				log.Warn("config reload failed, keeping previous", "error", err)
			}); err != nil {
				log.Warn("config watch unavailable", "error", err)
			} else {
				defer loader.Stop()
			}
		}
	}

	log.Info("sunwatchd running",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
		"topic", cfg.MQTT.SensorTopic,
	)
	if err := sub.Run(ctx); err != nil {
		log.Error("ingestion stopped", "error", err)
		os.Exit(1)
	}
	log.Info("sunwatchd stopped")
}

func cmdMarkHistorical() {
	cfg, _ := loadConfig("mark-historical", os.Args[2:])
	log := newLogger(cfg)
	defer log.Close()

	if cfg.Influx.URL == "" {
		fmt.Fprintln(os.Stderr, "Error: influx.url must be configured for historical marking")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := influx.NewClient(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Database,
		time.Duration(cfg.Influx.TimeoutSec)*time.Second)

	stats, err := replay.MarkHistorical(ctx, client, client, cfg.Detector.Params(), log)
	if err != nil {
		log.Error("historical marking failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Processed %d measurements from %d devices: %d marked, %d out of order\n",
		stats.Rows, stats.Devices, stats.Marked, stats.OutOfOrder)
}

func cmdDeleteMarkings() {
	cfg, _ := loadConfig("delete-markings", os.Args[2:])
	log := newLogger(cfg)
	defer log.Close()

	if cfg.Influx.URL == "" {
		fmt.Fprintln(os.Stderr, "Error: influx.url must be configured")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := influx.NewClient(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Database,
		time.Duration(cfg.Influx.TimeoutSec)*time.Second)
	if err := client.DeleteMarks(ctx); err != nil {
		log.Error("delete markings failed", "error", err)
		os.Exit(1)
	}

	fmt.Println("All anomaly markings deleted")
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	path := fs.String("config", defaultConfigPath(), "configuration file")
	limit := fs.Int("limit", 10, "number of detections to show")
	asJSON := fs.Bool("json", false, "print as JSON")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Storage.Enabled {
		fmt.Fprintln(os.Stderr, "Error: local detection archive is disabled")
		os.Exit(1)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	total, err := db.CountDetections()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	recent, err := db.RecentDetections(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		out := map[string]any{
			"total":  total,
			"recent": recent,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Archived detections: %d\n", total)
	if len(recent) == 0 {
		return
	}
	fmt.Println()
	for _, d := range recent {
		fmt.Printf("  %s  %-14s  confidence %.0f%%  temp %+.1f°C  humidity %+.1f%%  r=%.2f\n",
			d.ConfirmedAt.Local().Format("2006-01-02 15:04"),
			d.Device,
			d.Confidence*100,
			d.TempDeviation,
			d.HumidityDeviation,
			d.Correlation,
		)
	}
}
