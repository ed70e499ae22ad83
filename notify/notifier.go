package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"sync"
	"time"

	"go.uber.org/zap"

	"argus/core"
	"argus/metrics"
)

// NotificationType identifies a delivery channel.
type NotificationType string

const (
	NotificationTypeLog     NotificationType = "log"
	NotificationTypeWebhook NotificationType = "webhook"
	NotificationTypeSlack   NotificationType = "slack"
	NotificationTypeEmail   NotificationType = "email"
)

// NotificationConfig describes one configured delivery channel. MinSeverity
// filters rule-triggered notifications; channel-specific fields are only
// read for the matching type.
type NotificationConfig struct {
	Type        NotificationType
	Enabled     bool
	MinSeverity core.Severity
	// webhook / slack
	WebhookURL string
	// email
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromAddress  string
	ToAddresses  []string
}

// Notifier fans alert firings and playbook notification steps out to the
// configured channels. Each remote target gets its own circuit breaker so a
// dead webhook cannot stall rule evaluation.
type Notifier struct {
	configs         []NotificationConfig
	logger          *zap.SugaredLogger
	client          *http.Client
	circuitBreakers map[string]*core.CircuitBreaker
	cbMutex         sync.RWMutex
}

// NewNotifier creates a notifier for the given channel configs.
func NewNotifier(configs []NotificationConfig, logger *zap.SugaredLogger) *Notifier {
	return &Notifier{
		configs: configs,
		logger:  logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		circuitBreakers: make(map[string]*core.CircuitBreaker),
	}
}

func (n *Notifier) getOrCreateCircuitBreaker(key string) *core.CircuitBreaker {
	n.cbMutex.RLock()
	cb, ok := n.circuitBreakers[key]
	n.cbMutex.RUnlock()
	if ok {
		return cb
	}

	n.cbMutex.Lock()
	defer n.cbMutex.Unlock()
	if cb, ok := n.circuitBreakers[key]; ok {
		return cb
	}
	cb = core.NewCircuitBreaker(core.DefaultCircuitBreakerConfig())
	n.circuitBreakers[key] = cb
	return cb
}

// NotifyRuleTriggered delivers a rule firing to every enabled channel whose
// severity floor the rule meets.
func (n *Notifier) NotifyRuleTriggered(ctx context.Context, rule *core.AlertRule, evt *core.Event) {
	for _, config := range n.configs {
		if !config.Enabled {
			continue
		}
		if config.MinSeverity != "" && rule.Severity.Rank() < config.MinSeverity.Rank() {
			continue
		}
		n.deliver(ctx, config, ruleSubject(rule), rulePayload(rule, evt))
	}
}

// NotifyRuleAction executes the action configured on the rule itself:
// log writes a structured entry, webhook posts to the rule's URL, email
// mails the rule's recipients through the configured SMTP channel.
func (n *Notifier) NotifyRuleAction(ctx context.Context, rule *core.AlertRule, evt *core.Event) error {
	switch rule.Action {
	case core.RuleActionLog:
		n.logger.Infow("Alert rule fired",
			"rule_id", rule.ID, "rule_name", rule.Name,
			"severity", rule.Severity, "event_id", evt.ID)
		metrics.NotificationsSent.WithLabelValues("log", "success").Inc()
		return nil
	case core.RuleActionWebhook:
		return n.guarded(rule.ActionConfig.URL, "webhook", func() error {
			return n.sendWebhook(ctx, rule.ActionConfig.URL, rulePayload(rule, evt))
		})
	case core.RuleActionEmail:
		smtpCfg, ok := n.emailConfig()
		if !ok {
			return fmt.Errorf("no email channel configured for rule %s", rule.ID)
		}
		smtpCfg.ToAddresses = rule.ActionConfig.Recipients
		return n.guarded(smtpCfg.SMTPHost, "email", func() error {
			return n.sendEmail(smtpCfg, ruleSubject(rule), formatRuleBody(rule, evt))
		})
	default:
		return fmt.Errorf("unknown rule action %q", rule.Action)
	}
}

// NotifyChannel delivers a playbook notification step's message to the
// first enabled channel of the named type.
func (n *Notifier) NotifyChannel(ctx context.Context, channel, subject, message string) error {
	if NotificationType(channel) == NotificationTypeLog {
		n.logger.Infow("Playbook notification", "subject", subject, "message", message)
		metrics.NotificationsSent.WithLabelValues("log", "success").Inc()
		return nil
	}
	for _, config := range n.configs {
		if !config.Enabled || config.Type != NotificationType(channel) {
			continue
		}
		n.deliver(ctx, config, subject, map[string]interface{}{
			"subject": subject,
			"message": message,
		})
		return nil
	}
	return fmt.Errorf("no enabled channel of type %q", channel)
}

// guarded wraps a delivery with the target's circuit breaker and metrics.
func (n *Notifier) guarded(key, channel string, send func() error) error {
	cb := n.getOrCreateCircuitBreaker(key)
	if err := cb.Allow(); err != nil {
		metrics.NotificationsSent.WithLabelValues(channel, "circuit_open").Inc()
		return fmt.Errorf("%s delivery to %s skipped: %w", channel, key, err)
	}
	if err := send(); err != nil {
		cb.RecordFailure()
		metrics.NotificationsSent.WithLabelValues(channel, "failure").Inc()
		return err
	}
	cb.RecordSuccess()
	metrics.NotificationsSent.WithLabelValues(channel, "success").Inc()
	return nil
}

func (n *Notifier) deliver(ctx context.Context, config NotificationConfig, subject string, payload map[string]interface{}) {
	var err error
	switch config.Type {
	case NotificationTypeLog:
		n.logger.Infow("Notification", "subject", subject, "payload", payload)
		metrics.NotificationsSent.WithLabelValues("log", "success").Inc()
		return
	case NotificationTypeWebhook:
		err = n.guarded(config.WebhookURL, "webhook", func() error {
			return n.sendWebhook(ctx, config.WebhookURL, payload)
		})
	case NotificationTypeSlack:
		err = n.guarded(config.WebhookURL, "slack", func() error {
			return n.sendSlack(ctx, config.WebhookURL, subject, payload)
		})
	case NotificationTypeEmail:
		body, _ := json.MarshalIndent(payload, "", "  ")
		err = n.guarded(config.SMTPHost, "email", func() error {
			return n.sendEmail(config, subject, string(body))
		})
	default:
		err = fmt.Errorf("unknown notification type %q", config.Type)
	}
	if err != nil {
		n.logger.Errorw("Notification delivery failed", "type", config.Type, "error", err)
	}
}

func (n *Notifier) emailConfig() (NotificationConfig, bool) {
	for _, config := range n.configs {
		if config.Enabled && config.Type == NotificationTypeEmail {
			return config, true
		}
	}
	return NotificationConfig{}, false
}

func ruleSubject(rule *core.AlertRule) string {
	return fmt.Sprintf("[%s] Alert rule fired: %s", rule.Severity, rule.Name)
}

func rulePayload(rule *core.AlertRule, evt *core.Event) map[string]interface{} {
	return map[string]interface{}{
		"rule_id":    rule.ID,
		"rule_name":  rule.Name,
		"severity":   rule.Severity,
		"event_id":   evt.ID,
		"event_type": evt.EventType,
		"source":     evt.Source,
		"site_id":    evt.SiteID,
		"timestamp":  evt.Timestamp.Format(time.RFC3339),
	}
}

func formatRuleBody(rule *core.AlertRule, evt *core.Event) string {
	return fmt.Sprintf(
		"Alert rule %q fired.\n\nSeverity: %s\nEvent: %s (%s)\nSource: %s\nSite: %s\nTimestamp: %s\n",
		rule.Name, rule.Severity, evt.ID, evt.EventType, evt.Source, evt.SiteID,
		evt.Timestamp.Format(time.RFC3339))
}

func (n *Notifier) sendWebhook(ctx context.Context, url string, payload map[string]interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Argus-SOC/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) sendSlack(ctx context.Context, url, subject string, payload map[string]interface{}) error {
	fields := make([]map[string]interface{}, 0, len(payload))
	for k, v := range payload {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": fmt.Sprintf("%v", v),
			"short": true,
		})
	}
	slackPayload := map[string]interface{}{
		"text": subject,
		"attachments": []map[string]interface{}{
			{
				"fields": fields,
				"footer": "Argus SOC",
				"ts":     time.Now().Unix(),
			},
		},
	}

	jsonData, err := json.Marshal(slackPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create Slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned non-OK status: %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) sendEmail(config NotificationConfig, subject, body string) error {
	if len(config.ToAddresses) == 0 {
		return fmt.Errorf("no recipients specified for email notification")
	}

	message := fmt.Sprintf("From: %s\r\n", config.FromAddress)
	toHeader := ""
	for i, addr := range config.ToAddresses {
		if i > 0 {
			toHeader += ", "
		}
		toHeader += addr
	}
	message += fmt.Sprintf("To: %s\r\n", toHeader)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += "Content-Type: text/plain; charset=UTF-8\r\n"
	message += "\r\n" + body

	addr := fmt.Sprintf("%s:%d", config.SMTPHost, config.SMTPPort)
	var auth smtp.Auth
	if config.SMTPUsername != "" {
		auth = smtp.PlainAuth("", config.SMTPUsername, config.SMTPPassword, config.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, config.FromAddress, config.ToAddresses, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
