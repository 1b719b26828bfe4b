package main

// ---------------------------------------------------------------------------
// cmd_analyze.go - classify a single file
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/classify"
	"github.com/vigil-sec/vigil/internal/core"
)

func cmdAnalyze(args []string) {
	flagArgs, positional := splitArgs(args, "config", "format")
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	format := fs.String("format", "table", "Output format: table, json")
	fs.Parse(flagArgs)

	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, commandHelp["analyze"])
		os.Exit(1)
	}

	cfg, err := loadConfig(envConfig(*configPath))
	if err != nil {
		errorf("loading config: %v", err)
	}

	c, err := classify.New(classify.OptionsFromConfig(cfg), classify.MagicSniffer{}, core.NewMetrics(), zerolog.Nop())
	if err != nil {
		errorf("creating classifier: %v", err)
	}
	report, err := c.Report(positional[0])
	if err != nil {
		errorf("analyzing %s: %v", positional[0], err)
	}
	printReport(os.Stdout, parseFormat(*format), report)
}

func printReport(w io.Writer, f OutputFormat, r classify.Report) {
	if f == FormatJSON {
		writeJSONOut(w, r)
		return
	}

	verdict := green("clean")
	if r.Suspicious {
		verdict = red("SUSPICIOUS")
	}
	entropy := "-"
	if r.Entropy != nil {
		entropy = fmt.Sprintf("%.2f", *r.Entropy)
	}
	reasons := "-"
	if len(r.Reasons) > 0 {
		reasons = strings.Join(r.Reasons, "; ")
	}

	t := NewTable(w, "FIELD", "VALUE")
	t.AddRow("path", r.Path)
	t.AddRow("verdict", verdict)
	t.AddRow("reasons", reasons)
	t.AddRow("size", fmt.Sprintf("%d bytes", r.Size))
	t.AddRow("type", orDash(r.Type))
	t.AddRow("md5", orDash(r.Hash))
	t.AddRow("entropy", entropy)
	t.AddRow("modified", r.ModTime.Format("2006-01-02 15:04:05"))
	if r.Error != "" {
		t.AddRow("error", r.Error)
	}
	t.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
