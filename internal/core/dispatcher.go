package core

import (
	"context"
	"os"
	"os/user"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sender delivers a rendered notification over one channel. Implementations
// must honor ctx, attempt every configured destination, and convert every
// error into false.
type Sender interface {
	Name() string
	Send(ctx context.Context, n *Notification) bool
}

// Notification is the enriched, rendered form of a detection event handed to
// each Sender. Senders must treat it as read-only.
type Notification struct {
	ID          string                 `json:"id"`
	Kind        EventKind              `json:"kind"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Severity    Severity               `json:"severity"`
	Attributes  map[string]interface{} `json:"data"`
	DetectedAt  time.Time              `json:"detected_at"`
	DeliveredAt time.Time              `json:"timestamp"`
}

// Hostname returns the host the alert was raised on.
func (n *Notification) Hostname() string {
	s, _ := n.Attributes["hostname"].(string)
	return s
}

// Attr returns an attribute rendered as a string, or "" when absent.
func (n *Notification) Attr(key string) string {
	v, ok := n.Attributes[key]
	if !ok || v == nil {
		return ""
	}
	return attrString(v)
}

// Outcome is the terminal state of one dispatch.
type Outcome string

const (
	OutcomeDelivered       Outcome = "delivered"
	OutcomeDroppedSeverity Outcome = "dropped_severity"
	OutcomeDroppedCooldown Outcome = "dropped_cooldown"
	OutcomeDroppedClosed   Outcome = "dropped_closed"
)

// DispatchResult reports what happened to one event.
type DispatchResult struct {
	Outcome  Outcome         `json:"outcome"`
	Success  bool            `json:"success"`
	Channels map[string]bool `json:"channels"`
}

// DispatcherConfig holds the dispatcher's runtime settings.
type DispatcherConfig struct {
	MinSeverity    Severity
	Cooldown       time.Duration
	ChannelTimeout time.Duration
	JoinTimeout    time.Duration
	MaxParallel    int
	HistorySize    int
}

// NewDispatcherConfig derives dispatcher settings from the alerts section.
func NewDispatcherConfig(cfg *Config) DispatcherConfig {
	return DispatcherConfig{
		MinSeverity:    cfg.MinSeverityLevel(),
		Cooldown:       cfg.Cooldown(),
		ChannelTimeout: Seconds(cfg.Alerts.ChannelTimeout, 8*time.Second),
		JoinTimeout:    Seconds(cfg.Alerts.JoinTimeout, 15*time.Second),
		MaxParallel:    cfg.Alerts.MaxParallel,
		HistorySize:    cfg.Alerts.HistorySize,
	}
}

// Dispatcher decides whether a detection event becomes a notification and
// fans it out to every configured Sender. It exclusively owns the cooldown
// cache; sources share one Dispatcher by pointer.
type Dispatcher struct {
	cfg      DispatcherConfig
	senders  []Sender
	cooldown *AlertCooldown
	alog     *AlertLog
	history  *HistoryRing
	metrics  *Metrics
	logger   zerolog.Logger
	sem      chan struct{}
	hostname string
	username string
	now      func() time.Time

	submitMu sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	statsMu sync.Mutex
	stats   DispatcherStats
}

// DispatcherStats counts dispatch outcomes since start.
type DispatcherStats struct {
	Received        int64 `json:"received"`
	Delivered       int64 `json:"delivered"`
	Failed          int64 `json:"failed"`
	DroppedSeverity int64 `json:"dropped_severity"`
}

// NewDispatcher creates a Dispatcher. alog and metrics may be nil.
func NewDispatcher(cfg DispatcherConfig, senders []Sender, alog *AlertLog, metrics *Metrics, logger zerolog.Logger) *Dispatcher {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 8
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 8 * time.Second
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 15 * time.Second
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	hostname, _ := os.Hostname()
	return &Dispatcher{
		cfg:      cfg,
		senders:  senders,
		cooldown: NewAlertCooldown(cfg.Cooldown),
		alog:     alog,
		history:  NewHistoryRing(cfg.HistorySize),
		metrics:  metrics,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		sem:      make(chan struct{}, cfg.MaxParallel),
		hostname: hostname,
		username: currentUsername(),
		now:      time.Now,
	}
}

// SetClock replaces the time source of the dispatcher and its cooldown cache.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
	d.cooldown.SetClock(now)
}

// Dispatch runs one event through the severity filter, the cooldown check
// and channel delivery. It blocks until every channel has answered or the
// join timeout has passed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *DetectionEvent) DispatchResult {
	if !ev.Severity.AtLeast(d.cfg.MinSeverity) {
		d.metrics.EventsReceived.Inc()
		d.bump(func(s *DispatcherStats) { s.Received++ })
		d.metrics.EventsDropped.WithLabelValues(string(OutcomeDroppedSeverity)).Inc()
		d.bump(func(s *DispatcherStats) { s.DroppedSeverity++ })
		d.logger.Debug().
			Str("title", ev.Title).
			Str("severity", ev.Severity.String()).
			Str("min_severity", d.cfg.MinSeverity.String()).
			Msg("alert below minimum severity, dropped")
		return DispatchResult{Outcome: OutcomeDroppedSeverity}
	}

	// Duplicates inside the cooldown window leave every counter untouched.
	key := Key(ev.Title, ev.Message)
	if !d.cooldown.Admit(key) {
		d.logger.Debug().Str("title", ev.Title).Msg("alert in cooldown, dropped")
		return DispatchResult{Outcome: OutcomeDroppedCooldown}
	}
	d.metrics.EventsReceived.Inc()
	d.bump(func(s *DispatcherStats) { s.Received++ })

	res := d.deliver(ctx, ev)
	d.cooldown.Record(key)
	return res
}

// Force delivers an event to every channel, bypassing the severity filter
// and the cooldown cache. Used for channel tests.
func (d *Dispatcher) Force(ctx context.Context, ev *DetectionEvent) DispatchResult {
	d.metrics.EventsReceived.Inc()
	d.bump(func(s *DispatcherStats) { s.Received++ })
	return d.deliver(ctx, ev)
}

// Submit dispatches an event in the background. Sources call this so a slow
// channel never stalls a poll loop. Events submitted after Close are dropped.
func (d *Dispatcher) Submit(ev *DetectionEvent) {
	d.submitMu.RLock()
	defer d.submitMu.RUnlock()
	if d.closed {
		d.metrics.EventsDropped.WithLabelValues(string(OutcomeDroppedClosed)).Inc()
		d.logger.Warn().Str("title", ev.Title).Msg("dispatcher closed, alert dropped")
		return
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.Dispatch(context.Background(), ev)
	}()
}

// Close stops accepting submissions and waits up to timeout for in-flight
// dispatches. It returns false if the wait timed out.
func (d *Dispatcher) Close(timeout time.Duration) bool {
	d.submitMu.Lock()
	d.closed = true
	d.submitMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		d.logger.Warn().Dur("timeout", timeout).Msg("in-flight alerts did not finish before shutdown")
		return false
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev *DetectionEvent) DispatchResult {
	n := d.enrich(ev)
	channels := d.fanOut(ctx, n)

	success := true
	var failed []string
	for name, ok := range channels {
		if !ok {
			success = false
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)

	outcome := "delivered"
	switch {
	case len(channels) == 0:
		outcome = "no channels"
	case !success:
		outcome = "failed: " + strings.Join(failed, ",")
	}

	if d.alog != nil {
		d.alog.Append(n, outcome, channels)
	}
	d.history.Add(DispatchRecord{
		ID:        n.ID,
		Timestamp: n.DeliveredAt,
		Source:    ev.Source,
		Kind:      n.Kind,
		Severity:  n.Severity,
		Title:     n.Title,
		Message:   n.Message,
		Outcome:   OutcomeDelivered,
		Success:   success,
		Channels:  channels,
	})

	d.metrics.AlertsDispatched.Inc()
	d.bump(func(s *DispatcherStats) {
		if success {
			s.Delivered++
		} else {
			s.Failed++
		}
	})

	logEvt := d.logger.Info()
	if !success {
		logEvt = d.logger.Warn()
	}
	logEvt.
		Str("alert_id", n.ID).
		Str("severity", n.Severity.String()).
		Str("title", n.Title).
		Int("channels", len(channels)).
		Bool("success", success).
		Msg("alert dispatched")

	return DispatchResult{Outcome: OutcomeDelivered, Success: success, Channels: channels}
}

// enrich copies the event into a Notification with host, user and delivery
// time attached. The event itself is left untouched.
func (d *Dispatcher) enrich(ev *DetectionEvent) *Notification {
	delivered := d.now().UTC()

	attrs := make(map[string]interface{}, len(ev.Attributes)+5)
	for k, v := range ev.Attributes {
		attrs[k] = v
	}
	attrs["hostname"] = d.hostname
	attrs["username"] = d.username
	attrs["timestamp"] = delivered.Format(time.RFC3339)
	attrs["severity"] = ev.Severity.String()
	attrs["type"] = string(ev.Kind)

	return &Notification{
		ID:          uuid.New().String(),
		Kind:        ev.Kind,
		Title:       ev.Title,
		Message:     RenderMessage(ev.Kind, ev.Message, ev.Attributes),
		Severity:    ev.Severity,
		Attributes:  attrs,
		DetectedAt:  ev.Timestamp,
		DeliveredAt: delivered,
	}
}

type sendResult struct {
	name string
	ok   bool
}

// fanOut sends n to every sender concurrently, bounded by MaxParallel. A
// channel that has not answered by the join deadline counts as failed.
func (d *Dispatcher) fanOut(ctx context.Context, n *Notification) map[string]bool {
	results := make(map[string]bool, len(d.senders))
	if len(d.senders) == 0 {
		return results
	}

	joinCtx, cancel := context.WithTimeout(ctx, d.cfg.JoinTimeout)
	defer cancel()

	// Buffered so late senders never block after the join gives up.
	ch := make(chan sendResult, len(d.senders))
	for _, s := range d.senders {
		go func(s Sender) {
			select {
			case d.sem <- struct{}{}:
			case <-joinCtx.Done():
				ch <- sendResult{name: s.Name()}
				return
			}
			defer func() { <-d.sem }()

			sendCtx, cancelSend := context.WithTimeout(joinCtx, d.cfg.ChannelTimeout)
			defer cancelSend()
			ch <- sendResult{name: s.Name(), ok: d.safeSend(sendCtx, s, n)}
		}(s)
	}

collect:
	for i := 0; i < len(d.senders); i++ {
		select {
		case r := <-ch:
			results[r.name] = r.ok
		case <-joinCtx.Done():
			break collect
		}
	}

	for _, s := range d.senders {
		if _, ok := results[s.Name()]; !ok {
			d.logger.Warn().Str("channel", s.Name()).Msg("channel did not answer before join timeout")
			results[s.Name()] = false
		}
	}
	for name, ok := range results {
		d.metrics.observeSend(name, ok)
	}
	return results
}

// safeSend calls s.Send inside a recover() so a panicking sender only fails
// its own channel.
func (d *Dispatcher) safeSend(ctx context.Context, s Sender, n *Notification) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error().
				Str("channel", s.Name()).
				Str("alert_id", n.ID).
				Interface("panic", rec).
				Msg("sender panic recovered")
			ok = false
		}
	}()

	ok = s.Send(ctx, n)
	if !ok {
		d.logger.Warn().Str("channel", s.Name()).Str("alert_id", n.ID).Msg("channel delivery failed")
	}
	return ok
}

func (d *Dispatcher) bump(fn func(*DispatcherStats)) {
	d.statsMu.Lock()
	fn(&d.stats)
	d.statsMu.Unlock()
}

// Stats returns a snapshot of dispatch counters.
func (d *Dispatcher) Stats() DispatcherStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// ChannelNames returns the names of the configured senders.
func (d *Dispatcher) ChannelNames() []string {
	names := make([]string, 0, len(d.senders))
	for _, s := range d.senders {
		names = append(names, s.Name())
	}
	return names
}

// History returns the ring of recent dispatches.
func (d *Dispatcher) History() *HistoryRing { return d.history }

// CooldownSize returns the number of live dedup entries.
func (d *Dispatcher) CooldownSize() int { return d.cooldown.Size() }

// Metrics returns the dispatcher's collectors.
func (d *Dispatcher) Metrics() *Metrics { return d.metrics }

// Config returns the effective dispatcher settings.
func (d *Dispatcher) Config() DispatcherConfig { return d.cfg }

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return os.Getenv("USERNAME")
}
