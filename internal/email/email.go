// Package email sends customer mail through Resend, or only logs it when no
// API key is configured.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/mealplanhq/mealplan/internal/config"
)

// Attachment is a file sent with a message.
type Attachment struct {
	Filename string
	Content  []byte
}

// Message is one outbound email.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Mailer is the interface for delivery backends. Send returns the provider's
// message id.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Resend delivers mail through the Resend API.
type Resend struct {
	client  *resend.Client
	from    string
	replyTo string
}

// NewResend creates a Resend mailer. baseURL overrides the API origin and may
// be empty.
func NewResend(apiKey, from, replyTo, baseURL string) (*Resend, error) {
	client := resend.NewClient(apiKey)
	if baseURL != "" {
		u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse resend url: %w", err)
		}
		client.BaseURL = u
	}
	return &Resend{client: client, from: strings.TrimSpace(from), replyTo: replyTo}, nil
}

func (r *Resend) Send(ctx context.Context, msg Message) (string, error) {
	req := &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		ReplyTo: r.replyTo,
	}
	for _, a := range msg.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{Filename: a.Filename, Content: a.Content})
	}
	resp, err := r.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("resend: %w", err)
	}
	return resp.Id, nil
}

// LogMailer records messages in the log instead of sending them.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a log-only mailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("component", "email")}
}

func (l *LogMailer) Send(_ context.Context, msg Message) (string, error) {
	l.logger.Info("email not sent, no api key configured",
		"to", msg.To,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
	)
	return fmt.Sprintf("dev-%d", time.Now().UnixNano()), nil
}

// NewFromConfig returns a Resend mailer when an API key is configured and a
// LogMailer otherwise.
func NewFromConfig(cfg config.EmailConfig, logger *slog.Logger) (Mailer, error) {
	if cfg.ResendAPIKey == "" {
		return NewLogMailer(logger), nil
	}
	return NewResend(cfg.ResendAPIKey, cfg.From, cfg.ReplyTo, "")
}
