package main

// ---------------------------------------------------------------------------
// cmd_check.go - configuration and environment diagnostics
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vigil-sec/vigil/internal/core"
	"github.com/vigil-sec/vigil/internal/notify"
)

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	format := fs.String("format", "table", "Output format: table, json")
	fs.Parse(args)

	path := envConfig(*configPath)
	var results []checkResult
	cfg, err := loadConfig(path)
	if err != nil {
		results = append(results, checkResult{"config", "fail", err.Error()})
	} else {
		results = append(results, checkResult{"config", "pass", "loaded " + path})
		results = append(results, runChecks(cfg)...)
	}

	failed := printChecks(os.Stdout, parseFormat(*format), results)
	if failed {
		os.Exit(1)
	}
}

// runChecks inspects a loaded config. Nothing is started and no alert is
// sent.
func runChecks(cfg *core.Config) []checkResult {
	var results []checkResult
	pass := func(name, detail string) { results = append(results, checkResult{name, "pass", detail}) }
	fail := func(name, detail string) { results = append(results, checkResult{name, "fail", detail}) }
	warn := func(name, detail string) { results = append(results, checkResult{name, "warn", detail}) }

	if err := os.MkdirAll(cfg.General.LogDir, 0755); err != nil {
		fail("log_dir", fmt.Sprintf("cannot create %s: %v", cfg.General.LogDir, err))
	} else {
		probe := filepath.Join(cfg.General.LogDir, ".vigil-check")
		if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
			fail("log_dir", fmt.Sprintf("cannot write to %s: %v", cfg.General.LogDir, err))
		} else {
			os.Remove(probe)
			pass("log_dir", cfg.General.LogDir+" is writable")
		}
	}

	ready := 0
	for _, st := range notify.Diagnose(cfg, cfg.NATS.Enabled) {
		name := "channel:" + st.Name
		switch {
		case !st.Enabled:
			continue
		case !st.Selected:
			warn(name, "enabled but not selected by alerts.alert_method="+cfg.Alerts.AlertMethod)
		case st.Missing != "":
			fail(name, "missing "+st.Missing)
		default:
			ready++
			pass(name, "configured")
		}
	}
	if ready == 0 {
		warn("channels", "no channel is ready, alerts will only be written to the alert log")
	}

	if cfg.FileMonitoring.Enabled {
		if len(cfg.FileMonitoring.Paths) == 0 {
			warn("file_monitoring", "enabled with no paths")
		}
		for _, p := range cfg.FileMonitoring.Paths {
			if _, err := os.Stat(p); err != nil {
				warn("file_monitoring", fmt.Sprintf("%s: %v", p, err))
			}
		}
	}

	if cfg.EventMonitoring.Enabled {
		if _, err := os.Stat(cfg.EventMonitoring.ExportDir); err != nil {
			warn("event_monitoring", fmt.Sprintf("export dir %s: %v", cfg.EventMonitoring.ExportDir, err))
		} else {
			pass("event_monitoring", "reading exports from "+cfg.EventMonitoring.ExportDir)
		}
	}

	if cfg.Server.Enabled {
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			fail("api_port", fmt.Sprintf("%s is not available: %v", addr, err))
		} else {
			ln.Close()
			pass("api_port", addr+" is available")
		}
		if !cfg.AuthEnabled() {
			warn("api_auth", "no API keys configured, status API is open")
		}
	}

	if cfg.NATS.Enabled && cfg.NATS.Embedded {
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.NATS.Port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			fail("nats_port", fmt.Sprintf("port %d is already in use", cfg.NATS.Port))
		} else {
			ln.Close()
			pass("nats_port", fmt.Sprintf("port %d is available", cfg.NATS.Port))
		}
	}

	return results
}

// printChecks renders results and reports whether any check failed.
func printChecks(w io.Writer, f OutputFormat, results []checkResult) bool {
	failed := false
	for _, r := range results {
		if r.Status == "fail" {
			failed = true
		}
	}

	if f == FormatJSON {
		writeJSONOut(w, map[string]interface{}{"checks": results, "ok": !failed})
		return failed
	}

	t := NewTable(w, "CHECK", "STATUS", "DETAIL")
	for _, r := range results {
		status := green("pass")
		switch r.Status {
		case "fail":
			status = red("fail")
		case "warn":
			status = yellow("warn")
		}
		t.AddRow(r.Name, status, r.Detail)
	}
	t.Render()
	return failed
}
