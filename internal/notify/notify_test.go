package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

func testNotification(sev core.Severity) *core.Notification {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &core.Notification{
		ID:       "0123456789abcdef",
		Kind:     core.KindSuspiciousProcess,
		Title:    "Suspicious process",
		Message:  "Suspicious process detected: evil.exe - suspicious_name",
		Severity: sev,
		Attributes: map[string]interface{}{
			"hostname":        "ws-01",
			"username":        "alice",
			"timestamp":       at.Format(time.RFC3339),
			"severity":        sev.String(),
			"type":            string(core.KindSuspiciousProcess),
			"process_name":    "evil.exe",
			"process_id":      4242,
			"executable_path": `C:\Temp\evil.exe`,
			"reason":          "suspicious_name",
		},
		DetectedAt:  at,
		DeliveredAt: at,
	}
}

// capture is an httptest server that records every request body.
type capture struct {
	*httptest.Server
	mu       sync.Mutex
	bodies   [][]byte
	requests []*http.Request
	status   int
}

func newCapture(t *testing.T, status int) *capture {
	t.Helper()
	c := &capture{status: status}
	c.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.requests = append(c.requests, r)
		c.mu.Unlock()
		w.WriteHeader(c.status)
	}))
	t.Cleanup(c.Close)
	return c
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func (c *capture) body(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodies[i]
}

func (c *capture) request(i int) *http.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

func decode(t *testing.T, raw []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("invalid JSON %q: %v", raw, err)
	}
	return m
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"ñandú ñandú", 6, "ñan..."},
		{"abc", 2, "ab"},
		{"abc", 0, ""},
	}
	for _, tc := range cases {
		got := truncate(tc.in, tc.max)
		if got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tc.in, tc.max)
		}
	}
}

func TestTruncateHTML_DropsPartialEntity(t *testing.T) {
	s := strings.Repeat("a", 10) + "&amp;" + strings.Repeat("b", 10)
	if got := truncateHTML(s, 15); got != "aaaaaaaaaa..." {
		t.Errorf("truncateHTML = %q", got)
	}
	if got := truncateHTML("<b>bold</b>", 20); got != "<b>bold</b>" {
		t.Errorf("short input changed: %q", got)
	}
	if got := truncateHTML("&amp;&amp;", 2); got != "" {
		t.Errorf("no room left = %q", got)
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://hooks.slack.com/services/T000/B000/SECRET")
	if strings.Contains(got, "SECRET") {
		t.Errorf("secret leaked: %q", got)
	}
	if redactURL("::not a url") != "<invalid url>" {
		t.Error("expected invalid marker")
	}
}

// ─── Webhook ────────────────────────────────────────────────────────────────

func TestWebhookSender_GenericPayload(t *testing.T) {
	srv := newCapture(t, http.StatusOK)
	s := NewWebhookSender(core.WebhookConfig{URLs: []string{srv.URL}}, time.Second, zerolog.Nop())

	if !s.Send(context.Background(), testNotification(core.SeverityHigh)) {
		t.Fatal("expected success")
	}
	m := decode(t, srv.body(0))
	for _, key := range []string{"title", "message", "severity", "timestamp", "hostname", "data"} {
		if _, ok := m[key]; !ok {
			t.Errorf("payload missing %q: %v", key, m)
		}
	}
	if m["severity"] != "HIGH" || m["hostname"] != "ws-01" {
		t.Errorf("unexpected payload: %v", m)
	}
	if srv.request(0).Method != http.MethodPost {
		t.Errorf("method = %s", srv.request(0).Method)
	}
}

func TestWebhookSender_AttemptsEveryURL(t *testing.T) {
	bad := newCapture(t, http.StatusInternalServerError)
	good := newCapture(t, http.StatusOK)
	s := NewWebhookSender(core.WebhookConfig{URLs: []string{bad.URL, good.URL}, Method: "put"}, time.Second, zerolog.Nop())

	if s.Send(context.Background(), testNotification(core.SeverityHigh)) {
		t.Error("one failing destination must fail the channel")
	}
	if bad.count() != 1 || good.count() != 1 {
		t.Errorf("expected both destinations attempted, got bad=%d good=%d", bad.count(), good.count())
	}
	if good.request(0).Method != http.MethodPut {
		t.Errorf("method = %s, want PUT", good.request(0).Method)
	}
}

func TestWebhookSender_UnreachableIsFalse(t *testing.T) {
	s := NewWebhookSender(core.WebhookConfig{URLs: []string{"http://127.0.0.1:1/hook"}}, 200*time.Millisecond, zerolog.Nop())
	if s.Send(context.Background(), testNotification(core.SeverityHigh)) {
		t.Error("expected failure")
	}
}

func TestWebhookSender_NoURLs(t *testing.T) {
	s := NewWebhookSender(core.WebhookConfig{}, time.Second, zerolog.Nop())
	if s.Send(context.Background(), testNotification(core.SeverityHigh)) {
		t.Error("no destinations must not count as delivered")
	}
}

// ─── Slack ──────────────────────────────────────────────────────────────────

func TestSlackPayload(t *testing.T) {
	cases := map[core.Severity]string{
		core.SeverityLow:      "good",
		core.SeverityMedium:   "warning",
		core.SeverityHigh:     "danger",
		core.SeverityCritical: "danger",
	}
	for sev, color := range cases {
		p := slackPayload(testNotification(sev))
		if p["text"] != "🚨 *Suspicious process*" {
			t.Errorf("text = %v", p["text"])
		}
		att := p["attachments"].([]map[string]interface{})[0]
		if att["color"] != color {
			t.Errorf("%s: color = %v, want %s", sev, att["color"], color)
		}
		fields := att["fields"].([]map[string]interface{})
		var titles []string
		for _, f := range fields {
			titles = append(titles, f["title"].(string))
		}
		if strings.Join(titles, ",") != "Message,Severity,Host,Time" {
			t.Errorf("fields = %v", titles)
		}
	}
}

func TestSlackSender_Send(t *testing.T) {
	srv := newCapture(t, http.StatusOK)
	s := NewSlackSender(core.SlackConfig{WebhookURLs: []string{srv.URL, srv.URL}}, time.Second, zerolog.Nop())
	if !s.Send(context.Background(), testNotification(core.SeverityMedium)) {
		t.Fatal("expected success")
	}
	if srv.count() != 2 {
		t.Errorf("expected 2 posts, got %d", srv.count())
	}
}

// ─── Discord ────────────────────────────────────────────────────────────────

func TestDiscordSender_Send(t *testing.T) {
	srv := newCapture(t, http.StatusNoContent)
	s := NewDiscordSender(core.DiscordConfig{WebhookURLs: []string{srv.URL}, Username: "Vigil"}, time.Second, zerolog.Nop())

	n := testNotification(core.SeverityCritical)
	n.Message = strings.Repeat("x", 5000)
	if !s.Send(context.Background(), n) {
		t.Fatal("204 must count as success")
	}
	m := decode(t, srv.body(0))
	if m["username"] != "Vigil" {
		t.Errorf("username = %v", m["username"])
	}
	embed := m["embeds"].([]interface{})[0].(map[string]interface{})
	desc := embed["description"].(string)
	if utf8.RuneCountInString(desc) != discordDescriptionLimit {
		t.Errorf("description has %d runes, want %d", utf8.RuneCountInString(desc), discordDescriptionLimit)
	}
	if int(embed["color"].(float64)) != 0xDC3545 {
		t.Errorf("color = %v", embed["color"])
	}
}

func TestDiscordPayload_EmbedLimits(t *testing.T) {
	n := testNotification(core.SeverityHigh)
	n.Title = strings.Repeat("T", 1000)
	n.Message = strings.Repeat("m", 5000)
	n.Attributes["hostname"] = strings.Repeat("h", 3000)

	raw, err := json.Marshal(discordPayload("", n))
	if err != nil {
		t.Fatal(err)
	}
	embed := decode(t, raw)["embeds"].([]interface{})[0].(map[string]interface{})

	title := embed["title"].(string)
	if got := utf8.RuneCountInString(title); got > discordTitleLimit {
		t.Errorf("title has %d runes", got)
	}
	total := utf8.RuneCountInString(title) + utf8.RuneCountInString(embed["description"].(string))
	for _, f := range embed["fields"].([]interface{}) {
		field := f.(map[string]interface{})
		value := field["value"].(string)
		if utf8.RuneCountInString(value) > discordFieldLimit {
			t.Errorf("field %v has %d runes", field["name"], utf8.RuneCountInString(value))
		}
		total += utf8.RuneCountInString(field["name"].(string)) + utf8.RuneCountInString(value)
	}
	total += utf8.RuneCountInString(embed["footer"].(map[string]interface{})["text"].(string))
	if total > discordEmbedLimit {
		t.Errorf("embed carries %d characters, limit %d", total, discordEmbedLimit)
	}
	if got := utf8.RuneCountInString(embed["description"].(string)); got != discordDescriptionLimit {
		t.Errorf("description has %d runes, want %d", got, discordDescriptionLimit)
	}
}

// ─── Teams ──────────────────────────────────────────────────────────────────

func TestTeamsSender_AdaptiveCard(t *testing.T) {
	srv := newCapture(t, http.StatusOK)
	s := NewTeamsSender(core.TeamsConfig{WebhookURLs: []string{srv.URL}}, time.Second, zerolog.Nop())
	if !s.Send(context.Background(), testNotification(core.SeverityHigh)) {
		t.Fatal("expected success")
	}
	m := decode(t, srv.body(0))
	if m["type"] != "message" {
		t.Errorf("type = %v", m["type"])
	}
	att := m["attachments"].([]interface{})[0].(map[string]interface{})
	if att["contentType"] != "application/vnd.microsoft.card.adaptive" {
		t.Errorf("contentType = %v", att["contentType"])
	}
	card := att["content"].(map[string]interface{})
	if card["version"] != "1.4" || card["type"] != "AdaptiveCard" {
		t.Errorf("card = %v", card)
	}
	body := card["body"].([]interface{})
	factSet := body[len(body)-1].(map[string]interface{})
	if factSet["type"] != "FactSet" || len(factSet["facts"].([]interface{})) != 3 {
		t.Errorf("fact set = %v", factSet)
	}
}

// ─── Telegram ───────────────────────────────────────────────────────────────

func TestTelegramSender_Send(t *testing.T) {
	srv := newCapture(t, http.StatusOK)
	s := NewTelegramSender(core.TelegramConfig{
		BotToken:   "123:ABC",
		ChatIDs:    []string{"111", "222"},
		APIBaseURL: srv.URL,
	}, time.Second, zerolog.Nop())

	n := testNotification(core.SeverityHigh)
	n.Title = "<script>"
	if !s.Send(context.Background(), n) {
		t.Fatal("expected success")
	}
	if srv.count() != 2 {
		t.Fatalf("expected one request per chat, got %d", srv.count())
	}
	if got := srv.request(0).URL.Path; got != "/bot123:ABC/sendMessage" {
		t.Errorf("path = %s", got)
	}
	m := decode(t, srv.body(0))
	if m["chat_id"] != "111" || m["parse_mode"] != "HTML" {
		t.Errorf("payload = %v", m)
	}
	if text := m["text"].(string); !strings.Contains(text, "&lt;script&gt;") {
		t.Errorf("title not escaped: %q", text)
	}
}

func TestTelegramSender_Unauthorized(t *testing.T) {
	srv := newCapture(t, http.StatusUnauthorized)
	s := NewTelegramSender(core.TelegramConfig{
		BotToken:   "secret-token",
		ChatIDs:    []string{"1"},
		APIBaseURL: srv.URL,
	}, time.Second, zerolog.Nop())
	if s.Send(context.Background(), testNotification(core.SeverityHigh)) {
		t.Error("401 must fail")
	}
}

func TestTelegramText_Limit(t *testing.T) {
	n := testNotification(core.SeverityHigh)
	n.Message = strings.Repeat("<&>", 3000)
	text := telegramText(n)
	if utf8.RuneCountInString(text) > telegramTextLimit {
		t.Errorf("text has %d runes", utf8.RuneCountInString(text))
	}
}

func TestTelegramText_FooterSurvivesTruncation(t *testing.T) {
	// lengths chosen so a cut of the whole rendered text would fall inside
	// the footer markup
	for _, pad := range []int{4000, 4030, 4050, 4070, 4090, 5000} {
		n := testNotification(core.SeverityCritical)
		n.Title = strings.Repeat("T", 300)
		n.Message = strings.Repeat("m", pad)
		text := telegramText(n)
		if got := utf8.RuneCountInString(text); got > telegramTextLimit {
			t.Errorf("pad %d: text has %d runes", pad, got)
		}
		if open, closed := strings.Count(text, "<b>"), strings.Count(text, "</b>"); open != closed || open != 4 {
			t.Errorf("pad %d: %d <b> vs %d </b>", pad, open, closed)
		}
		if !strings.HasSuffix(text, "<b>Time:</b> "+n.DeliveredAt.Format(time.RFC3339)) {
			t.Errorf("pad %d: footer cut: %q", pad, text[len(text)-80:])
		}
	}
}

// ─── WhatsApp ───────────────────────────────────────────────────────────────

func TestWhatsAppSender_Send(t *testing.T) {
	srv := newCapture(t, http.StatusCreated)
	s := NewWhatsAppSender(core.WhatsAppConfig{
		AccountSID: "AC123",
		AuthToken:  "tok",
		FromNumber: "+14155238886",
		ToNumbers:  []string{"+34600000000", "whatsapp:+34600000001"},
		APIBaseURL: srv.URL,
	}, time.Second, zerolog.Nop())

	n := testNotification(core.SeverityHigh)
	n.Message = strings.Repeat("m", 2000)
	if !s.Send(context.Background(), n) {
		t.Fatal("expected success")
	}
	if srv.count() != 2 {
		t.Fatalf("expected 2 requests, got %d", srv.count())
	}
	req := srv.request(0)
	if req.URL.Path != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Errorf("path = %s", req.URL.Path)
	}
	user, pass, ok := req.BasicAuth()
	if !ok || user != "AC123" || pass != "tok" {
		t.Errorf("basic auth = %q %q %v", user, pass, ok)
	}
	form, err := url.ParseQuery(string(srv.body(0)))
	if err != nil {
		t.Fatal(err)
	}
	if form.Get("From") != "whatsapp:+14155238886" || form.Get("To") != "whatsapp:+34600000000" {
		t.Errorf("form = %v", form)
	}
	if utf8.RuneCountInString(form.Get("Body")) != whatsappBodyLimit {
		t.Errorf("body has %d runes", utf8.RuneCountInString(form.Get("Body")))
	}
	second, _ := url.ParseQuery(string(srv.body(1)))
	if second.Get("To") != "whatsapp:+34600000001" {
		t.Errorf("prefixed number mangled: %q", second.Get("To"))
	}
}

// ─── Pushover ───────────────────────────────────────────────────────────────

func TestPushoverPriority(t *testing.T) {
	if pushoverPriority(core.SeverityCritical) != 1 ||
		pushoverPriority(core.SeverityHigh) != 0 ||
		pushoverPriority(core.SeverityMedium) != -1 ||
		pushoverPriority(core.SeverityLow) != -1 {
		t.Error("unexpected priority mapping")
	}
}

func TestPushoverSender_Send(t *testing.T) {
	srv := newCapture(t, http.StatusOK)
	s := NewPushoverSender(core.PushoverConfig{
		AppToken: "app",
		UserKeys: []string{"user-a", "user-b"},
		APIURL:   srv.URL,
	}, time.Second, zerolog.Nop())

	n := testNotification(core.SeverityCritical)
	n.Title = strings.Repeat("t", 300)
	n.Message = strings.Repeat("m", 2000)
	if !s.Send(context.Background(), n) {
		t.Fatal("expected success")
	}
	if srv.count() != 2 {
		t.Fatalf("expected 2 requests, got %d", srv.count())
	}
	form, _ := url.ParseQuery(string(srv.body(1)))
	if form.Get("user") != "user-b" || form.Get("token") != "app" || form.Get("priority") != "1" {
		t.Errorf("form = %v", form)
	}
	if utf8.RuneCountInString(form.Get("title")) != pushoverTitleLimit {
		t.Errorf("title has %d runes", utf8.RuneCountInString(form.Get("title")))
	}
	if utf8.RuneCountInString(form.Get("message")) != pushoverMessageLimit {
		t.Errorf("message has %d runes", utf8.RuneCountInString(form.Get("message")))
	}
}

// ─── Context ────────────────────────────────────────────────────────────────

func TestSender_HonorsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	s := NewSlackSender(core.SlackConfig{WebhookURLs: []string{srv.URL}}, 5*time.Second, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if s.Send(ctx, testNotification(core.SeverityHigh)) {
		t.Error("expected failure on deadline")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("send ignored the context deadline: %v", time.Since(start))
	}
}
