package main

// ---------------------------------------------------------------------------
// cmd_run.go - start the vigil engine
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vigil-sec/vigil/internal/api"
	"github.com/vigil-sec/vigil/internal/classify"
	"github.com/vigil-sec/vigil/internal/core"
	"github.com/vigil-sec/vigil/internal/monitor"
	"github.com/vigil-sec/vigil/internal/notify"
)

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	logLevel := fs.String("log-level", "", "Log level override: debug, info, warn, error")
	quiet := fs.Bool("quiet", false, "Suppress banner")
	fs.BoolVar(quiet, "q", false, "Suppress banner")
	fs.Parse(args)

	*configPath = envConfig(*configPath)

	if !*quiet {
		fmt.Fprint(os.Stderr, bannerText())
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		errorf("loading config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	engine, err := core.NewEngine(cfg, notify.Build)
	if err != nil {
		errorf("creating engine: %v", err)
	}

	classifier, err := classify.New(classify.OptionsFromConfig(cfg), classify.MagicSniffer{}, engine.Metrics, engine.RootLogger())
	if err != nil {
		engine.Shutdown()
		errorf("creating classifier: %v", err)
	}

	if err := monitor.Register(engine.Registry, cfg, classifier, engine.RootLogger()); err != nil {
		engine.Shutdown()
		errorf("registering sources: %v", err)
	}

	if err := engine.Start(); err != nil {
		engine.Shutdown()
		errorf("starting engine: %v", err)
	}

	var server *api.Server
	if cfg.Server.Enabled {
		api.Version = version
		server = api.NewServer(engine, classifier)
		if err := server.Start(); err != nil {
			engine.Shutdown()
			errorf("starting API server: %v", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		engine.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-engine.Context().Done():
	}

	if server != nil {
		if err := server.Stop(); err != nil {
			engine.Logger.Error().Err(err).Msg("error stopping API server")
		}
	}
	engine.Shutdown()
}
