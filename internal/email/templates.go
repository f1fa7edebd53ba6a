package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
)

var templates = template.Must(template.New("email").Parse(`
{{define "layout"}}<!DOCTYPE html>
<html><body style="font-family: Helvetica, Arial, sans-serif; color: #222; max-width: 600px; margin: 0 auto;">
<div style="background: #009688; color: #fff; padding: 24px; text-align: center;"><h1 style="margin: 0;">{{.Heading}}</h1></div>
<div style="padding: 24px;">{{template "body" .}}</div>
<p style="color: #888; font-size: 12px; text-align: center;">You are receiving this email because of your account at {{.BaseURL}}.</p>
</body></html>{{end}}

{{define "welcome"}}<p>Hi {{.Name}},</p>
<p>Thank you for purchasing <strong>{{.Product}}</strong>. We are preparing your personalized recipes now and will email you as soon as your meal plan is ready to download.</p>
{{if .NewAccount}}<p>We created an account for you. Sign in at <a href="{{.BaseURL}}/login">{{.BaseURL}}/login</a> with this email address using a magic link, or set a password from the login page.</p>{{end}}
{{if .Subscription}}<p>Your subscription renews monthly. You can manage billing from your dashboard at any time.</p>{{end}}
<p><a href="{{.BaseURL}}/dashboard" style="background: #009688; color: #fff; padding: 12px 20px; text-decoration: none;">Go to your dashboard</a></p>{{end}}

{{define "planReady"}}<p>Hi {{.Name}},</p>
<p>Your <strong>{{.Product}}</strong> ({{.Diet}}) is ready.</p>
<p><a href="{{.Link}}" style="background: #009688; color: #fff; padding: 12px 20px; text-decoration: none;">Download your meal plan</a></p>
<p>You can also find it any time in your dashboard at <a href="{{.BaseURL}}/dashboard">{{.BaseURL}}/dashboard</a>.</p>{{end}}

{{define "magicLink"}}<p>Click the button below to sign in. The link expires in {{.Expiry}}.</p>
<p><a href="{{.Link}}" style="background: #009688; color: #fff; padding: 12px 20px; text-decoration: none;">Sign in</a></p>
<p>If you did not ask to sign in, you can ignore this email.</p>{{end}}

{{define "passwordReset"}}<p>We received a request to reset your password. The link expires in {{.Expiry}} and works once.</p>
<p><a href="{{.Link}}" style="background: #009688; color: #fff; padding: 12px 20px; text-decoration: none;">Reset password</a></p>
<p>If you did not request a reset, no action is needed.</p>{{end}}
`))

type templateData struct {
	Heading      string
	BaseURL      string
	Name         string
	Product      string
	Diet         string
	Link         string
	Expiry       string
	NewAccount   bool
	Subscription bool
}

func render(body string, data templateData) (string, error) {
	t, err := templates.Clone()
	if err != nil {
		return "", err
	}
	if _, err := t.New("body").Parse(`{{template "` + body + `" .}}`); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("render %s: %w", body, err)
	}
	return buf.String(), nil
}

// Sender composes the service's customer emails and hands them to a Mailer.
type Sender struct {
	mailer  Mailer
	baseURL string
	logger  *slog.Logger
}

// NewSender creates a sender. baseURL is the public origin used in links.
func NewSender(mailer Mailer, baseURL string, logger *slog.Logger) *Sender {
	return &Sender{
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("component", "email"),
	}
}

func (s *Sender) send(ctx context.Context, to, subject, body string, data templateData, attachments ...Attachment) error {
	data.BaseURL = s.baseURL
	html, err := render(body, data)
	if err != nil {
		return err
	}
	id, err := s.mailer.Send(ctx, Message{To: to, Subject: subject, HTML: html, Attachments: attachments})
	if err != nil {
		return fmt.Errorf("send %s email: %w", body, err)
	}
	s.logger.Info("email sent", "kind", body, "to", to, "message_id", id)
	return nil
}

func displayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	return "there"
}

// SendWelcome confirms a purchase.
func (s *Sender) SendWelcome(ctx context.Context, to, name, productName string, newAccount bool) error {
	return s.send(ctx, to, "Welcome to Meal Plans - Your Journey Begins!", "welcome", templateData{
		Heading:      "Welcome!",
		Name:         displayName(name, to),
		Product:      productName,
		NewAccount:   newAccount,
		Subscription: strings.Contains(strings.ToLower(productName), "subscription"),
	})
}

// SendPlanReady delivers the download link of a finished plan. pdf, when
// non-empty, is attached as well.
func (s *Sender) SendPlanReady(ctx context.Context, to, productName, diet, link string, pdf []byte) error {
	var attachments []Attachment
	if len(pdf) > 0 {
		attachments = append(attachments, Attachment{Filename: diet + "-meal-plan.pdf", Content: pdf})
	}
	return s.send(ctx, to, fmt.Sprintf("Your %s is Ready to Download!", productName), "planReady", templateData{
		Heading: "Your meal plan is ready",
		Name:    displayName("", to),
		Product: productName,
		Diet:    diet,
		Link:    link,
	}, attachments...)
}

// SendMagicLink mails a sign-in link.
func (s *Sender) SendMagicLink(ctx context.Context, to, link, expiry string) error {
	return s.send(ctx, to, "Your sign-in link", "magicLink", templateData{
		Heading: "Sign in",
		Link:    link,
		Expiry:  expiry,
	})
}

// SendPasswordReset mails a password reset link.
func (s *Sender) SendPasswordReset(ctx context.Context, to, link, expiry string) error {
	return s.send(ctx, to, "Reset Your Password - Meal Plans", "passwordReset", templateData{
		Heading: "Reset your password",
		Link:    link,
		Expiry:  expiry,
	})
}
