// Command acdbd is the ACDB runtime daemon: it loads configuration, opens
// the database registry, dials the satellite transport, and serves the
// read-only admin API until told to stop (teacher pattern:
// cmd/cc-backend/main.go's flag parsing + .env loading + graceful
// shutdown on SIGINT/SIGTERM).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acdbrt/acdbrt/internal/adminapi"
	"github.com/acdbrt/acdbrt/internal/config"
	"github.com/acdbrt/acdbrt/internal/runtime"
	"github.com/acdbrt/acdbrt/pkg/log"
	"github.com/google/gops/agent"
	"github.com/joho/godotenv"
)

func main() {
	var flagConfigFile, flagEnvFile string
	var flagGops bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "path to the runtime's JSON configuration document")
	flag.StringVar(&flagEnvFile, "env", "./.env", "path to an optional .env file overlaid onto the process environment")
	flag.BoolVar(&flagGops, "gops", false, "listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := godotenv.Load(flagEnvFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("loading %s failed: %s", flagEnvFile, err.Error())
	}

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		log.Fatalf("loading %s failed: %s", flagConfigFile, err.Error())
	}

	rt, err := runtime.New(cfg)
	if err != nil {
		log.Fatalf("runtime startup failed: %s", err.Error())
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.StartLivenessPolling(ctx, alwaysAlive); err != nil {
		log.Fatalf("starting ssr liveness polling failed: %s", err.Error())
	}

	admin := adminapi.New(cfg.AdminAPI.Addr, rt.Manager, rt.Registry)
	if err := admin.Start(); err != nil {
		log.Fatalf("starting admin api failed: %s", err.Error())
	}

	log.Infof("acdbd running, admin api on %s", cfg.AdminAPI.Addr)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		log.Errorf("admin api shutdown: %s", err.Error())
	}
}

// alwaysAlive is the liveness probe used until a real servreg client
// exists to report subsystem health; every subsystem is treated as
// reachable, so the coordinator never fires a spurious DOWN on startup.
func alwaysAlive(sub uint32) bool {
	_ = sub
	return true
}
