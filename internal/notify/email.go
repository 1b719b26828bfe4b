package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

// EmailSender delivers HTML alerts over SMTP, one message per recipient.
type EmailSender struct {
	cfg     core.EmailConfig
	timeout time.Duration
	logger  zerolog.Logger
}

func NewEmailSender(cfg core.EmailConfig, timeout time.Duration, logger zerolog.Logger) *EmailSender {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &EmailSender{cfg: cfg, timeout: timeout, logger: logger.With().Str("channel", "email").Logger()}
}

func (s *EmailSender) Name() string { return "email" }

func (s *EmailSender) Send(ctx context.Context, n *core.Notification) bool {
	subject := "[ALERTA SEGURIDAD] " + n.Title
	body := emailBody(n)
	return eachDestination(ctx, s.logger, s.cfg.To, plain, func(ctx context.Context, to string) error {
		return s.sendOne(ctx, to, subject, body)
	})
}

func (s *EmailSender) sendOne(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(s.cfg.SMTPServer, strconv.Itoa(s.cfg.SMTPPort))
	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.cfg.SMTPServer)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if s.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fmt.Errorf("server %s does not offer STARTTLS", addr)
		}
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.SMTPServer, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPServer)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	from := s.cfg.From
	if from == "" {
		from = s.cfg.Username
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(buildMIME(from, to, subject, body)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data: %w", err)
	}
	return c.Quit()
}

func buildMIME(from, to, subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.Bytes()
}

// emailBody renders the HTML body: a severity-colored header block followed
// by details specific to the event kind.
func emailBody(n *core.Notification) string {
	st := styleFor(n.Severity)
	esc := func(key string) string { return html.EscapeString(orNA(n.Attr(key))) }
	sev := html.EscapeString(n.Severity.String())

	var b strings.Builder
	b.WriteString("<html>\n<body style=\"font-family: Arial, sans-serif;\">\n")
	fmt.Fprintf(&b, "<div style=\"border-left: 4px solid %s; padding-left: 20px;\">\n", st.hex)
	fmt.Fprintf(&b, "<h2 style=\"color: %s;\">🚨 %s</h2>\n", st.hex, html.EscapeString(n.Title))
	fmt.Fprintf(&b, "<p><strong>Severidad:</strong> <span style=\"color: %s;\">%s</span></p>\n", st.hex, sev)
	fmt.Fprintf(&b, "<p><strong>Mensaje:</strong> %s</p>\n", html.EscapeString(n.Message))
	fmt.Fprintf(&b, "<p><strong>Hora:</strong> %s</p>\n", esc("timestamp"))
	fmt.Fprintf(&b, "<p><strong>Equipo:</strong> %s</p>\n", esc("hostname"))
	fmt.Fprintf(&b, "<p><strong>Usuario:</strong> %s</p>\n", esc("username"))

	item := func(label, key string) {
		fmt.Fprintf(&b, "<li><strong>%s:</strong> %s</li>\n", label, esc(key))
	}

	switch n.Kind {
	case core.KindSystemCritical:
		b.WriteString("<h3>Detalles del Evento Crítico de Sistema:</h3>\n<ul>\n")
		fmt.Fprintf(&b, "<li><strong>Categoría:</strong> <span style=\"color: %s;\">%s</span></li>\n", st.hex, esc("category"))
		item("Descripción", "description")
		item("Fuente", "source")
		item("Event ID", "event_id")
		item("Origen", "source_name")
		b.WriteString("</ul>\n")
		if n.Attr("shutdown_type") != "" {
			b.WriteString("<h4>Información de Apagado/Reinicio:</h4>\n<ul>\n")
			item("Tipo", "shutdown_type")
			item("Razón", "shutdown_reason")
			item("Iniciado por usuario", "initiated_by_user")
			item("Proceso iniciador", "initiated_by_process")
			b.WriteString("</ul>\n")
		} else if n.Attr("crash_reason") != "" {
			b.WriteString("<h4>Información de Fallo del Sistema:</h4>\n<ul>\n")
			item("Tipo de fallo", "crash_type")
			item("Razón", "crash_reason")
			b.WriteString("</ul>\n")
		}
	case core.KindSpecificEvent:
		b.WriteString("<h3>Detalles del Evento Específico:</h3>\n<ul>\n")
		fmt.Fprintf(&b, "<li><strong>Event ID Buscado:</strong> <span style=\"color: %s;\">%s</span></li>\n", st.hex, esc("event_id"))
		item("Fuente", "source")
		item("Origen", "source_name")
		b.WriteString("</ul>\n")
		b.WriteString("<div style=\"background-color: #fff3cd; border: 1px solid #ffeaa7; padding: 10px; margin: 10px 0;\">")
		b.WriteString("<strong>Nota:</strong> Este evento fue específicamente configurado para monitoreo prioritario.</div>\n")
	case core.KindSuspiciousProcess:
		b.WriteString("<h3>Detalles del Proceso:</h3>\n<ul>\n")
		item("Nombre", "process_name")
		item("PID", "process_id")
		item("Ruta", "executable_path")
		item("Razón", "reason")
		b.WriteString("</ul>\n")
	case core.KindEventLogMatch:
		b.WriteString("<h3>Detalles del Evento:</h3>\n<ul>\n")
		item("Fuente", "source")
		item("Event ID", "event_id")
		item("Origen", "source_name")
		b.WriteString("</ul>\n")
	case core.KindSuspiciousFile:
		b.WriteString("<h3>Detalles del Archivo:</h3>\n<ul>\n")
		item("Ruta", "file_path")
		item("Acción", "action")
		b.WriteString("</ul>\n")
	}

	b.WriteString("</div>\n<hr>\n")
	b.WriteString("<p style=\"color: #6c757d; font-size: 12px;\">Este es un mensaje automático del Sistema de Monitoreo de Seguridad. No responda a este email.</p>\n")
	b.WriteString("</body>\n</html>\n")
	return b.String()
}
