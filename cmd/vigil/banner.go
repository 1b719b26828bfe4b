package main

// ---------------------------------------------------------------------------
// banner.go - banner, version and usage printing
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"runtime/debug"
)

func bannerText() string {
	art := `
    ╔══════════════════════════════════════════════╗
    ║                                              ║
    ║   ██╗   ██╗██╗ ██████╗ ██╗██╗                ║
    ║   ██║   ██║██║██╔════╝ ██║██║                ║
    ║   ██║   ██║██║██║  ███╗██║██║                ║
    ║   ╚██╗ ██╔╝██║██║   ██║██║██║                ║
    ║    ╚████╔╝ ██║╚██████╔╝██║███████╗           ║
    ║     ╚═══╝  ╚═╝ ╚═════╝ ╚═╝╚══════╝           ║
    ║                                              ║
    ║          HOST SECURITY MONITOR               ║
    ║                                              ║
    ╚══════════════════════════════════════════════╝
`
	if !colorEnabled() {
		return art
	}
	return "\033[36m" + art + "\033[0m"
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "vigil v%s", version)
	if commit != "dev" {
		fmt.Fprintf(w, " (%s)", commit[:min(7, len(commit))])
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, " built %s", buildDate)
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, " %s", bi.GoVersion)
	}
	fmt.Fprintf(w, " %s/%s", goruntime.GOOS, goruntime.GOARCH)
	fmt.Fprintln(w)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, bannerText())
	fmt.Fprintf(w, "  %s\n\n", dim("v"+version))
	fmt.Fprintf(w, "%s\n\n", bold("USAGE"))
	fmt.Fprintf(w, "  vigil <command> [flags]\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("COMMANDS"))
	fmt.Fprintf(w, "  %-10s  %s\n", bold("run"), "Start monitoring with every enabled source")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("test"), "Send a test alert through one channel or all of them")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("analyze"), "Classify a single file and print the report")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("check"), "Run configuration and environment diagnostics")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("config"), "Print the effective configuration as YAML")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("version"), "Print version and build info")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("help"), "Show help for a command")
	fmt.Fprintf(w, "\n%s\n\n", bold("GLOBAL FLAGS"))
	fmt.Fprintf(w, "  %-22s  %s\n", "--config <path>", "Config file path (default: "+defaultConfigPath+", env: VIGIL_CONFIG)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--version, -V", "Print version and exit")
	fmt.Fprintf(w, "  %-22s  %s\n", "--help, -h", "Show help")
	fmt.Fprintf(w, "\n%s\n\n", bold("ENVIRONMENT VARIABLES"))
	fmt.Fprintf(w, "  %-26s  %s\n", "VIGIL_CONFIG", "Default config file path")
	fmt.Fprintf(w, "  %-26s  %s\n", "VIGIL_API_KEY", "Status API key")
	fmt.Fprintf(w, "  %-26s  %s\n", "VIGIL_SMTP_PASSWORD", "SMTP password")
	fmt.Fprintf(w, "  %-26s  %s\n", "VIGIL_TELEGRAM_BOT_TOKEN", "Telegram bot token")
	fmt.Fprintf(w, "  %-26s  %s\n", "VIGIL_TWILIO_AUTH_TOKEN", "Twilio auth token")
	fmt.Fprintf(w, "  %-26s  %s\n", "VIGIL_PUSHOVER_TOKEN", "Pushover application token")
	fmt.Fprintf(w, "\n%s\n\n", bold("EXAMPLES"))
	fmt.Fprintf(w, "  %s\n", dim("# Start with defaults"))
	fmt.Fprintf(w, "  vigil run\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Check that Telegram delivery works"))
	fmt.Fprintf(w, "  vigil test telegram --config /etc/vigil/vigil.yaml\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Inspect a downloaded binary"))
	fmt.Fprintf(w, "  vigil analyze ~/Downloads/setup.exe --format json\n\n")
	fmt.Fprintf(w, "Run %s for detailed help on any command.\n\n", bold("vigil help <command>"))
}

var commandHelp = map[string]string{
	"run": `Usage: vigil run [--config path] [--log-level level]

Starts every enabled detection source and the alert dispatcher, plus the
status API when server.enabled is set. Runs until SIGINT or SIGTERM.`,
	"test": `Usage: vigil test <channel|all> [--config path] [--format table|json]

Sends a synthetic HIGH alert through the named channel, or through every
enabled channel with "all". Cooldown and the severity floor are bypassed.
Exits 0 only if every channel reported success.

Channels: email, webhook, toast, telegram, discord, slack, whatsapp, teams,
pushover, nats`,
	"analyze": `Usage: vigil analyze <file> [--config path] [--format table|json]

Classifies one file with the configured heuristics and prints the report.`,
	"check": `Usage: vigil check [--config path] [--format table|json]

Loads the config, verifies the log directory is writable, lists the
channels that would be built and flags channels missing credentials.`,
	"config": `Usage: vigil config [--config path] [--defaults]

Prints the effective configuration (file, .env and environment merged)
as YAML. --defaults prints the built-in defaults instead.`,
	"version": `Usage: vigil version`,
}

func cmdHelp(cmd string) {
	text, ok := commandHelp[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, red("error: ")+"no help for %q\n", cmd)
		if s := suggest(cmd); s != "" {
			fmt.Fprintf(os.Stderr, "       Did you mean %s?\n", bold(s))
		}
		os.Exit(1)
	}
	fmt.Fprintln(os.Stdout, text)
}
