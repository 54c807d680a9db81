package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dougsko/mm3d/pkg/config"
	"github.com/dougsko/mm3d/pkg/engine"
	"github.com/dougsko/mm3d/pkg/logging"
)

var (
	configPath = flag.String("config", "config.yaml", "Configuration file path")
	device     = flag.String("device", "", "Keyer serial device, overrides the config file")
	version    = flag.Bool("version", false, "Show version information")
	verbose    = flag.Bool("verbose", false, "Log at debug level regardless of the config file")
)

const Build = "development"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("mm3d version %s (%s)\n", engine.Version, Build)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *device != "" {
		cfg.Keyer.Device = *device
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logging.InitGlobalLogger(cfg); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()
	if *verbose {
		logging.GetGlobalLogger().SetLevel(logging.LevelDebug)
	}

	logging.Info("main", fmt.Sprintf("mm3d version %s starting...", engine.Version))
	logging.Info("main", fmt.Sprintf("Station: %s, contest: %s", cfg.Station.Callsign, cfg.Contest.Name))
	logging.Info("main", fmt.Sprintf("Keyer: %s at %d baud", cfg.Keyer.Device, cfg.Keyer.BaudRate))
	logging.Info("main", fmt.Sprintf("Web interface: http://%s:%d", cfg.Web.BindAddress, cfg.Web.Port))

	daemon, err := NewMM3Daemon(cfg, *configPath)
	if err != nil {
		logging.Error("main", fmt.Sprintf("Failed to create daemon: %v", err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logging.Error("main", fmt.Sprintf("Failed to start daemon: %v", err))
		os.Exit(1)
	}

	logging.Info("main", "mm3d started successfully")

	<-sigChan
	logging.Info("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logging.Error("main", fmt.Sprintf("Error during shutdown: %v", err))
	}

	logging.Info("main", "mm3d stopped")
}
