package main

// ---------------------------------------------------------------------------
// helpers.go - TTY detection, color, error helpers, config resolution
// ---------------------------------------------------------------------------

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/vigil-sec/vigil/internal/core"
)

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTTY(os.Stderr)
}

func ansi(code, s string) string {
	if !colorEnabled() {
		return s
	}
	return code + s + "\033[0m"
}

func red(s string) string    { return ansi("\033[91m", s) }
func yellow(s string) string { return ansi("\033[93m", s) }
func green(s string) string  { return ansi("\033[32m", s) }
func dim(s string) string    { return ansi("\033[90m", s) }
func bold(s string) string   { return ansi("\033[1m", s) }

// ---------------------------------------------------------------------------
// Error / warn helpers (always to stderr)
// ---------------------------------------------------------------------------

func errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, red("error: ")+format+"\n", args...)
	os.Exit(1)
}

func warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, yellow("warn: ")+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Config resolution
//
// Environment variables:
//   VIGIL_CONFIG  - default config file path
// ---------------------------------------------------------------------------

// envConfig returns the config path, preferring flag > env > default.
func envConfig(flagVal string) string {
	if flagVal != "" && flagVal != defaultConfigPath {
		return flagVal
	}
	if e := os.Getenv("VIGIL_CONFIG"); e != "" {
		return e
	}
	return flagVal
}

// loadConfig loads and validates the config at path. A missing file at the
// default location falls back to built-in defaults; a missing file that was
// asked for explicitly is an error.
func loadConfig(path string) (*core.Config, error) {
	cfg, err := core.LoadConfig(path)
	if errors.Is(err, core.ErrConfigNotFound) && path == defaultConfigPath {
		warnf("%s not found, using built-in defaults", path)
		cfg, err = core.LoadConfig("")
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// splitArgs separates positional arguments from flags so that
// "vigil test slack --config x.yaml" parses the same as the flag-first form.
// Flags in valueFlags consume the following argument.
func splitArgs(args []string, valueFlags ...string) (flags, positional []string) {
	takesValue := make(map[string]bool, len(valueFlags))
	for _, f := range valueFlags {
		takesValue[f] = true
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") || a == "-" {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		if takesValue[strings.TrimLeft(a, "-")] && !strings.Contains(a, "=") && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return flags, positional
}

// ---------------------------------------------------------------------------
// Suggest - typo correction for unknown commands
// ---------------------------------------------------------------------------

var commands = []string{"run", "test", "analyze", "check", "config", "version", "help"}

func suggest(input string) string {
	input = strings.ToLower(input)
	if input == "" {
		return ""
	}
	for _, c := range commands {
		if strings.HasPrefix(c, input) || strings.HasPrefix(input, c) {
			return c
		}
	}
	for _, c := range commands {
		if len(c) == len(input) {
			diff := 0
			for i := range c {
				if c[i] != input[i] {
					diff++
				}
			}
			if diff <= 1 {
				return c
			}
		}
	}
	return ""
}
