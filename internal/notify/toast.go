package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

const (
	toastMessageLimit = 200
	// FallbackFile is written when no desktop notifier is usable.
	FallbackFile = "SECURITY_ALERT.txt"
)

// Notifier shows a local desktop notification.
type Notifier interface {
	Notify(ctx context.Context, title, message string, timeout time.Duration) error
}

// execNotifier shells out to the platform notification tool.
type execNotifier struct {
	goos string
}

// NewExecNotifier returns the notifier for the running platform.
func NewExecNotifier() Notifier { return execNotifier{goos: runtime.GOOS} }

func (e execNotifier) Notify(ctx context.Context, title, message string, timeout time.Duration) error {
	var cmd *exec.Cmd
	switch e.goos {
	case "linux", "freebsd", "openbsd":
		cmd = exec.CommandContext(ctx, "notify-send",
			"--urgency=critical", "--expire-time="+fmt.Sprint(timeout.Milliseconds()), title, message)
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleScriptQuote(message), appleScriptQuote(title))
		cmd = exec.CommandContext(ctx, "osascript", "-e", script)
	case "windows":
		cmd = exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command",
			balloonScript(title, message, timeout))
	default:
		return fmt.Errorf("no desktop notifier for %s", e.goos)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", filepath.Base(cmd.Path), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func appleScriptQuote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func balloonScript(title, message string, timeout time.Duration) string {
	return strings.Join([]string{
		"Add-Type -AssemblyName System.Windows.Forms",
		"$n = New-Object System.Windows.Forms.NotifyIcon",
		"$n.Icon = [System.Drawing.SystemIcons]::Warning",
		"$n.BalloonTipIcon = 'Warning'",
		"$n.BalloonTipTitle = " + psQuote(title),
		"$n.BalloonTipText = " + psQuote(message),
		"$n.Visible = $true",
		fmt.Sprintf("$n.ShowBalloonTip(%d)", timeout.Milliseconds()),
		fmt.Sprintf("Start-Sleep -Milliseconds %d", timeout.Milliseconds()),
		"$n.Dispose()",
	}, "; ")
}

// ToastSender raises a desktop notification. When the notifier fails it
// leaves a marker file so the alert is still visible on the host.
type ToastSender struct {
	notifier    Notifier
	fallbackDir string
	timeout     time.Duration
	logger      zerolog.Logger

	mu sync.Mutex // serializes marker file writes
}

func NewToastSender(cfg core.ToastConfig, notifier Notifier, logger zerolog.Logger) *ToastSender {
	if notifier == nil {
		notifier = NewExecNotifier()
	}
	dir := cfg.FallbackDir
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, "Desktop")
		} else {
			dir = os.TempDir()
		}
	}
	return &ToastSender{
		notifier:    notifier,
		fallbackDir: dir,
		timeout:     core.Seconds(cfg.Timeout, 10*time.Second),
		logger:      logger.With().Str("channel", "toast").Logger(),
	}
}

func (s *ToastSender) Name() string { return "toast" }

// FallbackPath is the marker file location.
func (s *ToastSender) FallbackPath() string { return filepath.Join(s.fallbackDir, FallbackFile) }

func (s *ToastSender) Send(ctx context.Context, n *core.Notification) bool {
	message := truncate(n.Message, toastMessageLimit)
	err := s.notifier.Notify(ctx, n.Title, message, s.timeout)
	if err == nil {
		return true
	}
	s.logger.Warn().Err(err).Msg("desktop notification unavailable, writing marker file")
	if err := s.writeMarker(n); err != nil {
		s.logger.Error().Err(err).Str("path", s.FallbackPath()).Msg("failed to write marker file")
		return false
	}
	return true
}

func (s *ToastSender) writeMarker(n *core.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.fallbackDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.FallbackPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	_, werr := fmt.Fprintf(f, "SECURITY ALERT - %s\n%s\nSeverity: %s\nHost: %s\nTime: %s\n\n",
		n.Title, n.Message, n.Severity, orNA(n.Hostname()), n.DeliveredAt.Format(time.RFC3339))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr
}
