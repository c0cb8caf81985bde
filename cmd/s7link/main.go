// Command s7link connects to configured Siemens S7 PLCs, polls their tags,
// republishes changed values to MQTT, and exposes a REST status/write API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"s7link/api"
	"s7link/config"
	"s7link/engine"
	"s7link/logging"
)

var (
	configPath = flag.String("config", config.DefaultPath(), "Path to configuration file")
	debugLog   = flag.String("debug", "", "Comma-separated protocols to debug-log (s7,mqtt,engine,api), empty disables")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config %s: %v", *configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if *debugLog != "" {
		dbg, err := logging.NewDebugLogger("debug.log")
		if err != nil {
			log.Fatalf("open debug log: %v", err)
		}
		dbg.SetFilter(*debugLog)
		logging.SetGlobalDebugLogger(dbg)
		defer dbg.Close()
	}

	mgr := engine.New(cfg, *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	var apiServer *api.Server
	if cfg.REST.Enabled {
		apiServer = api.NewServer(mgr, &cfg.REST)
		if err := apiServer.Start(); err != nil {
			log.Fatalf("start REST API: %v", err)
		}
		fmt.Printf("REST API listening on %s:%d\n", cfg.REST.Host, cfg.REST.Port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	if apiServer != nil {
		apiServer.Stop()
	}
	mgr.Stop()
}
