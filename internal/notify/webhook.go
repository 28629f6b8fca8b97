// Package notify delivers finding events to configured webhooks.
package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/accesslens/accesslens/internal/config"
)

// Event names.
const (
	EventCriticalFindings = "critical_findings"
	EventFindingClosed    = "finding_closed"
)

// Event is the JSON body posted to webhooks.
type Event struct {
	Event       string `json:"event"`
	TenantID    string `json:"tenant_id"`
	FindingID   string `json:"finding_id,omitempty"`
	FindingType string `json:"finding_type,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Status      string `json:"status,omitempty"`
	Actor       string `json:"actor,omitempty"`
	Count       int    `json:"count,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// Notifier accepts events for delivery. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// Nop discards events.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(Event) {}

// Webhook posts events to every configured endpoint subscribed to them.
type Webhook struct {
	mu     sync.RWMutex
	hooks  []config.Webhook
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewWebhook builds a notifier. Endpoints that fail ValidateURL are
// logged and skipped.
func NewWebhook(hooks []config.Webhook, logger *slog.Logger) *Webhook {
	n := &Webhook{
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: &http.Transport{DialContext: safeDialContext},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 2 {
					return errors.New("too many redirects")
				}
				if err := ValidateURL(req.URL.String()); err != nil {
					return fmt.Errorf("redirect to blocked URL: %w", err)
				}
				return nil
			},
		},
		logger: logger,
		now:    time.Now,
	}
	n.SetWebhooks(hooks)
	return n
}

// SetWebhooks swaps the endpoint list, e.g. after a config reload.
func (n *Webhook) SetWebhooks(hooks []config.Webhook) {
	valid := make([]config.Webhook, 0, len(hooks))
	for _, wh := range hooks {
		if err := ValidateURL(wh.URL); err != nil {
			n.logger.Warn("skipping invalid webhook URL", "url", wh.URL, "error", err)
			continue
		}
		valid = append(valid, wh)
	}
	n.mu.Lock()
	n.hooks = valid
	n.mu.Unlock()
}

// Notify delivers ev in the background to every matching endpoint.
func (n *Webhook) Notify(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = n.now().UTC().Format(time.RFC3339)
	}
	n.mu.RLock()
	hooks := n.hooks
	n.mu.RUnlock()

	for _, wh := range hooks {
		if !subscribed(wh.Events, ev.Event) {
			continue
		}
		n.wg.Add(1)
		go func(wh config.Webhook) {
			defer n.wg.Done()
			n.deliver(wh, ev)
		}(wh)
	}
}

// Wait blocks until in-flight deliveries finish.
func (n *Webhook) Wait() { n.wg.Wait() }

func (n *Webhook) deliver(wh config.Webhook, ev Event) {
	var body []byte
	if wh.Template != "" {
		body = []byte(RenderTemplate(wh.Template, ev))
	} else {
		var err error
		if body, err = json.Marshal(ev); err != nil {
			n.logger.Error("webhook marshal failed", "error", err)
			return
		}
	}

	resp, err := n.client.Post(wh.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("webhook delivery failed", "url", wh.URL, "event", ev.Event, "error", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		n.logger.Warn("webhook returned error", "url", wh.URL, "event", ev.Event, "status", resp.StatusCode)
	}
}

// RenderTemplate fills {{EVENT}}, {{TENANT}}, {{FINDING}}, {{TYPE}},
// {{SEVERITY}}, {{STATUS}}, {{ACTOR}}, {{COUNT}} and {{TIMESTAMP}}, then
// wraps the text as Slack-compatible JSON: {"text":"..."}.
func RenderTemplate(tmpl string, ev Event) string {
	r := strings.NewReplacer(
		"{{EVENT}}", ev.Event,
		"{{TENANT}}", ev.TenantID,
		"{{FINDING}}", ev.FindingID,
		"{{TYPE}}", ev.FindingType,
		"{{SEVERITY}}", ev.Severity,
		"{{STATUS}}", ev.Status,
		"{{ACTOR}}", ev.Actor,
		"{{COUNT}}", strconv.Itoa(ev.Count),
		"{{TIMESTAMP}}", ev.Timestamp,
	)
	payload, _ := json.Marshal(map[string]string{"text": r.Replace(tmpl)})
	return string(payload)
}

// DefaultTemplate is a reasonable Slack message for both events.
const DefaultTemplate = "AccessLens *{{EVENT}}* in {{TENANT}}\n• Finding: {{FINDING}} ({{TYPE}})\n• Severity: {{SEVERITY}}\n• Status: {{STATUS}}\n• Count: {{COUNT}}"

func subscribed(events []string, event string) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == event {
			return true
		}
	}
	return false
}
