// sunwatchctl - Send commands to sensor devices over MQTT
//
//	sunwatchctl noop               Connectivity check, device replies with alive
//	sunwatchctl start-frc          Start forced recalibration of the CO2 sensor
//	sunwatchctl set-temp-offset    Set the sensor temperature offset
//	sunwatchctl get-temp-offset    Read the sensor temperature offset
//	sunwatchctl watch              Print device messages as they arrive
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sunwatch/internal/config"
	"sunwatch/internal/ingest"
	"sunwatch/internal/logging"
	"sunwatch/internal/measurement"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "noop":
		cmdSend("noop", os.Args[2:], func(fs *flag.FlagSet) func() measurement.DeviceCommand {
			return func() measurement.DeviceCommand { return measurement.NoOpCommand() }
		})
	case "start-frc":
		cmdSend("start-frc", os.Args[2:], func(fs *flag.FlagSet) func() measurement.DeviceCommand {
			target := fs.Int("target-ppm", measurement.DefaultFRCTargetPPM, "calibration target in ppm")
			return func() measurement.DeviceCommand { return measurement.StartFRCCommand(*target) }
		})
	case "set-temp-offset":
		cmdSend("set-temp-offset", os.Args[2:], func(fs *flag.FlagSet) func() measurement.DeviceCommand {
			offset := fs.Float64("offset", 0, "temperature offset in degrees celsius")
			return func() measurement.DeviceCommand { return measurement.SetTempOffsetCommand(*offset) }
		})
	case "get-temp-offset":
		cmdSend("get-temp-offset", os.Args[2:], func(fs *flag.FlagSet) func() measurement.DeviceCommand {
			return func() measurement.DeviceCommand { return measurement.GetTempOffsetCommand() }
		})
	case "watch":
		cmdWatch()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`sunwatchctl - Send commands to sensor devices

USAGE:
    sunwatchctl <command> [options]

COMMANDS:
    noop             Connectivity check, device replies with an alive message
    start-frc        Start forced recalibration of the CO2 sensor
                         -target-ppm <n>   calibration target (default 422)
    set-temp-offset  Set the sensor temperature offset
                         -offset <c>       offset in degrees celsius
    get-temp-offset  Read the sensor temperature offset
    watch            Print device messages as they arrive
    help             Show this help message

OPTIONS:
    -config <path>   Configuration file (default ~/.sunwatch/config.toml)
    -wait <dur>      How long to wait for device responses (default 10s,
                     0 to send without waiting)

Commands are published on the configured command topic; responses arrive
on the sensor topic.`)
}

// cmdSend publishes one device command and optionally waits for responses.
// build registers command-specific flags on fs and returns the constructor to
// invoke after parsing.
func cmdSend(name string, args []string, build func(fs *flag.FlagSet) func() measurement.DeviceCommand) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath(), "configuration file")
	wait := fs.Duration("wait", 10*time.Second, "how long to wait for device responses")
	mk := build(fs)
	fs.Parse(args)

	cfg := mustLoad(*cfgPath)
	log := quietLogger()
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub := ingest.NewPublisher(publisherConfig(cfg, *wait > 0), log)
	responses := make(chan *measurement.DeviceMessage, 16)
	if *wait > 0 {
		pub.OnMessage = func(msg *measurement.DeviceMessage) {
			select {
			case responses <- msg:
			default:
			}
		}
	}

	if err := pub.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer pub.Close()

	cmd := mk()
	if err := pub.SendCommand(ctx, cfg.MQTT.CommandTopic, cmd); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sent %s to %s\n", cmd.Cmd, cfg.MQTT.CommandTopic)

	if *wait <= 0 {
		return
	}

	deadline := time.After(*wait)
	for {
		select {
		case msg := <-responses:
			printMessage(msg)
		case <-deadline:
			return
		case <-ctx.Done():
			return
		}
	}
}

func cmdWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath(), "configuration file")
	fs.Parse(os.Args[2:])

	cfg := mustLoad(*cfgPath)
	log := quietLogger()
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub := ingest.NewPublisher(publisherConfig(cfg, true), log)
	pub.OnMessage = printMessage

	if err := pub.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer pub.Close()

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", cfg.MQTT.SensorTopic)
	<-ctx.Done()
}

func printMessage(msg *measurement.DeviceMessage) {
	ts := time.Now().Format("15:04:05")
	switch msg.Status {
	case measurement.StatusSuccess:
		if m, ok := msg.AsMeasurement(time.Now()); ok {
			fmt.Printf("[%s] %s  %.1f°C  %.1f%%RH  %d ppm\n",
				ts, msg.Device, m.Temperature, m.Humidity, m.CO2)
			return
		}
		fmt.Printf("[%s] %s  success (incomplete reading)\n", ts, msg.Device)
	case measurement.StatusAlive:
		if msg.UptimeSeconds != nil {
			fmt.Printf("[%s] %s  alive, up %s\n", ts, msg.Device,
				(time.Duration(*msg.UptimeSeconds) * time.Second).String())
			return
		}
		fmt.Printf("[%s] %s  alive\n", ts, msg.Device)
	case measurement.StatusFrcSuccess:
		if msg.Correction != nil {
			fmt.Printf("[%s] %s  FRC complete, correction %d ppm\n", ts, msg.Device, *msg.Correction)
			return
		}
		fmt.Printf("[%s] %s  FRC complete\n", ts, msg.Device)
	case measurement.StatusGetOffsetSuccess, measurement.StatusSetOffsetSuccess:
		if msg.Offset != nil {
			fmt.Printf("[%s] %s  %s, offset %.2f°C\n", ts, msg.Device, msg.Status, *msg.Offset)
			return
		}
		fmt.Printf("[%s] %s  %s\n", ts, msg.Device, msg.Status)
	default:
		if msg.Detail != "" {
			fmt.Printf("[%s] %s  %s: %s\n", ts, msg.Device, msg.Status, msg.Detail)
			return
		}
		fmt.Printf("[%s] %s  %s\n", ts, msg.Device, msg.Status)
	}
}

func publisherConfig(cfg *config.Config, subscribe bool) ingest.Config {
	pc := ingest.Config{
		Host:      cfg.MQTT.Host,
		Port:      cfg.MQTT.Port,
		ClientID:  cfg.MQTT.ClientID + "-ctl",
		KeepAlive: time.Duration(cfg.MQTT.KeepAliveSec) * time.Second,
	}
	if subscribe {
		pc.Topic = cfg.MQTT.SensorTopic
	}
	return pc
}

func mustLoad(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func defaultConfigPath() string {
	path := config.ConfigPath()
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// quietLogger keeps library logging out of the command output.
func quietLogger() *logging.Logger {
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel("warn")
	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: setup logging: %v\n", err)
		os.Exit(1)
	}
	return log
}
