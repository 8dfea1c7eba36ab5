package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	texttemplate "text/template"
	"time"
)

// SMSGatewayConfig points at the HTTP gateway that carries outbound SMS.
type SMSGatewayConfig struct {
	URL   string
	Token string
	From  string
}

// SMSNotifier delivers notices as SMS through a JSON HTTP gateway.
type SMSNotifier struct {
	config SMSGatewayConfig
	client *http.Client
}

func NewSMSNotifier(config SMSGatewayConfig) *SMSNotifier {
	return &SMSNotifier{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsConfigured reports whether the gateway settings are complete.
func (s *SMSNotifier) IsConfigured() bool {
	return s.config.URL != "" && s.config.From != ""
}

func (s *SMSNotifier) Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error {
	if notification.To == "" {
		return fmt.Errorf("SMS notification requires 'To' number")
	}

	body := notification.Body
	if body == "" && template.Text != "" {
		tmpl, err := texttemplate.New("sms").Parse(template.Text)
		if err != nil {
			return fmt.Errorf("failed to parse sms template: %w", err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, notification.Data); err != nil {
			return fmt.Errorf("failed to execute sms template: %w", err)
		}
		body = buf.String()
	}
	if body == "" {
		return fmt.Errorf("SMS notification requires a body")
	}

	payload, err := json.Marshal(map[string]string{
		"from": s.config.From,
		"to":   notification.To,
		"body": body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, s.config.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("Failed to send sms", "to", notification.To, "err", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	slog.Info("SMS sent", "to", notification.To, "notice", noticeType)
	return nil
}
