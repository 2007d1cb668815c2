// cmd/obdcli/main.go
package main

import (
	"flag"
	"fmt"
	"os"

	"obd-service/internal/config"
	"obd-service/internal/obd"
	"obd-service/internal/utils"
)

var (
	baudRate = flag.Int("baud", 38400, "Serial baud rate.")
	logLevel = flag.String("log", "warn", "Log level written to stderr.")
	device   = flag.String("device", "", "Adapter to connect before running commands.")
)

func main() {
	flag.Parse()

	logger, err := utils.NewLogger(&config.LoggingConfig{
		Level:  *logLevel,
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.CloseLogger(logger)

	s := NewShell(logger, func(path string) obd.Config {
		cfg := obd.DefaultConfig(path)
		cfg.Serial.BaudRate = *baudRate
		return cfg
	})
	defer s.Disconnect()

	if *device != "" {
		if err := s.Connect(*device); err != nil {
			fmt.Fprintf(os.Stderr, "connect %q failed: %v\n", *device, err)
			os.Exit(1)
		}
	}

	if args := flag.Args(); len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	s.Shell.Run()
}
