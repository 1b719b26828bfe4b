package main

// ---------------------------------------------------------------------------
// cmd_testalert.go - send a synthetic alert through the configured channels
// ---------------------------------------------------------------------------

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/vigil-sec/vigil/internal/core"
	"github.com/vigil-sec/vigil/internal/notify"
)

func cmdTest(args []string) {
	flagArgs, positional := splitArgs(args, "config", "format")
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	format := fs.String("format", "table", "Output format: table, json")
	verbose := fs.Bool("verbose", false, "Show channel logs")
	fs.Parse(flagArgs)

	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, commandHelp["test"])
		os.Exit(1)
	}

	cfg, err := loadConfig(envConfig(*configPath))
	if err != nil {
		errorf("loading config: %v", err)
	}
	if !*verbose {
		cfg.Logging.Level = "error"
	}

	res, err := runChannelTest(cfg, notify.Build, positional[0])
	if err != nil {
		errorf("%v", err)
	}
	printChannelResults(os.Stdout, parseFormat(*format), res)
	if !res.Success {
		os.Exit(1)
	}
}

// runChannelTest starts an engine with no sources and forces one HIGH alert
// through the selected channel, or every enabled channel for "all".
func runChannelTest(cfg *core.Config, senders core.SenderFactory, channel string) (core.DispatchResult, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel != "all" && !validChannel(channel) {
		return core.DispatchResult{}, fmt.Errorf("unknown channel %q (valid: all, %s)", channel, strings.Join(core.ChannelNames(), ", "))
	}
	cfg.Alerts.AlertMethod = channel

	engine, err := core.NewEngine(cfg, senders)
	if err != nil {
		return core.DispatchResult{}, err
	}
	defer engine.Shutdown()

	if err := engine.Start(); err != nil {
		return core.DispatchResult{}, err
	}
	if len(engine.Dispatcher.ChannelNames()) == 0 {
		return core.DispatchResult{}, fmt.Errorf("no usable channel for %q: enable it and fill in its credentials (see vigil check)", channel)
	}

	host, _ := os.Hostname()
	ev := core.NewDetectionEvent("cli", core.KindGenericSystemAlert, core.SeverityHigh,
		"Vigil test alert",
		fmt.Sprintf("Test alert from %s. If you received this, alert delivery is working.", host))

	join := core.Seconds(cfg.Alerts.JoinTimeout, 15*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), join+time.Second)
	defer cancel()
	return engine.Dispatcher.Force(ctx, ev), nil
}

func validChannel(name string) bool {
	for _, c := range core.ChannelNames() {
		if c == name {
			return true
		}
	}
	return false
}

func printChannelResults(w io.Writer, f OutputFormat, res core.DispatchResult) {
	if f == FormatJSON {
		writeJSONOut(w, res)
		return
	}

	names := make([]string, 0, len(res.Channels))
	for name := range res.Channels {
		names = append(names, name)
	}
	sort.Strings(names)

	t := NewTable(w, "CHANNEL", "RESULT")
	for _, name := range names {
		result := green("ok")
		if !res.Channels[name] {
			result = red("failed")
		}
		t.AddRow(name, result)
	}
	t.Render()

	if res.Success {
		fmt.Fprintf(w, "%s test alert delivered to %d channel(s)\n", green("✓"), len(names))
	} else {
		fmt.Fprintf(w, "%s test alert failed on at least one channel\n", red("✗"))
	}
}
