// CLAUDE:SUMMARY Outbound e-mail — Resend HTTP API sender, log-only fallback when no key is configured
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const resendEndpoint = "https://api.resend.com/emails"

type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Resend posts messages to the Resend API.
type Resend struct {
	key      string
	from     string
	endpoint string
	http     *http.Client
}

func NewResend(key, from string) *Resend {
	return &Resend{
		key:      key,
		from:     from,
		endpoint: resendEndpoint,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// WithEndpoint points the client at another URL.
func (r *Resend) WithEndpoint(url string) *Resend {
	r.endpoint = url
	return r
}

func (r *Resend) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]any{
		"from":    r.from,
		"to":      []string{msg.To},
		"subject": msg.Subject,
		"html":    msg.HTML,
		"text":    msg.Text,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sending mail: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	slog.Info("mail not delivered (no provider configured)", "to", msg.To, "subject", msg.Subject, "text", msg.Text)
	return nil
}

// New returns a Resend sender when key is set, LogSender otherwise.
func New(key, from string) Sender {
	if key == "" {
		return LogSender{}
	}
	return NewResend(key, from)
}

// LoginCode builds the one-time sign-in code message.
func LoginCode(to, code string, ttl time.Duration) Message {
	minutes := int(ttl.Minutes())
	return Message{
		To:      to,
		Subject: "水产市场登录验证码",
		Text:    fmt.Sprintf("你的登录验证码是 %s，%d 分钟内有效。", code, minutes),
		HTML:    fmt.Sprintf("<p>你的登录验证码是 <strong>%s</strong>，%d 分钟内有效。</p>", code, minutes),
	}
}
