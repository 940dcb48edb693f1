// Command usbipd runs the USB/IP daemon: device discovery, the request
// processor, and the TCP server, wired together by the coordinator.
// Configuration file loading and CLI flags are out of scope (spec.md
// §1); this reads the daemon's defaults and runs until signaled.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/beriberikix/usbipd-mac/config"
	"github.com/beriberikix/usbipd-mac/coordinator"
	"github.com/beriberikix/usbipd-mac/discovery"
	"github.com/beriberikix/usbipd-mac/internal/logging"
	"github.com/beriberikix/usbipd-mac/request"
)

func main() {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}

	d := discovery.New()
	claims := request.NewInMemoryClaimManager()
	c := coordinator.New(cfg, d, claims, logger)

	if err := c.Start(); err != nil {
		logger.Error("failed to start daemon", "error", err)
		os.Exit(1)
	}
	logger.Info("usbipd listening", "port", cfg.Port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	if err := c.Stop(); err != nil {
		logger.Error("error during shutdown", "error", err)
		os.Exit(1)
	}
}
