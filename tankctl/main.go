package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/golevel/pkg/config"
	"github.com/itohio/golevel/pkg/transport"
)

func main() {
	var (
		portFlag     = flag.String("p", "", "Serial port override (e.g., /dev/ttyUSB0 or COM3)")
		configFlag   = flag.String("config", "config.yaml", "Configuration file path")
		baudFlag     = flag.Int("baud", 0, "Baud rate override")
		timeoutFlag  = flag.Duration("timeout", 25*time.Second, "Time to wait for a response")
		countFlag    = flag.Int("n", 1, "Number of requests (0 = until interrupted)")
		intervalFlag = flag.Duration("interval", time.Second, "Delay between requests")
		listFlag     = flag.Bool("list", false, "List serial ports and exit")
	)
	flag.Parse()

	if *listFlag {
		ports, err := transport.Ports()
		if err != nil {
			log.Fatalf("Failed to list ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p.Description)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *baudFlag > 0 {
		cfg.Serial.BaudRate = *baudFlag
	}
	if cfg.Serial.Port == "" {
		log.Fatalf("No serial port configured, use -p or -list")
	}

	port, err := transport.Open(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Serial.ReadTimeout)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer port.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := transport.NewClient(port, *timeoutFlag)
	for i := 0; *countFlag == 0 || i < *countFlag; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(*intervalFlag):
			}
		}

		h1, h2, err := client.Heights(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("request failed: %v", err)
			continue
		}
		fmt.Printf("%s tank1=%.1f cm tank2=%.1f cm\n", time.Now().Format(time.TimeOnly), h1, h2)
	}
}
