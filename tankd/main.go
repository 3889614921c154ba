package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/itohio/golevel/pkg/config"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., /dev/ttyUSB0 or COM3)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		httpFlag   = flag.String("http", "", "HTTP listen address override (e.g., :8080)")
		enableFlag = flag.Bool("enable", false, "Turn the simulated enable switch on at start")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("configuration loaded from %s", *configFlag)

	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *httpFlag != "" {
		cfg.HTTP.Listen = *httpFlag
	}
	if *enableFlag {
		// The supervisor has to see the level the switch starts in.
		cfg.Mock.EnabledAtStart = true
		cfg.Control.ResampleOnStart = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	if err := d.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("tankd: %v", err)
	}
	log.Printf("tankd: stopped")
}
