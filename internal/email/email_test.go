package email

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mealplanhq/mealplan/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (c *captureMailer) Send(_ context.Context, msg Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.sent = append(c.sent, msg)
	return "msg-1", nil
}

func TestSendWelcome(t *testing.T) {
	m := &captureMailer{}
	s := NewSender(m, "https://plans.example.com/", discardLogger())

	if err := s.SendWelcome(context.Background(), "ana@example.com", "", "Monthly Meal Plan Subscription", true); err != nil {
		t.Fatal(err)
	}
	if len(m.sent) != 1 {
		t.Fatalf("sent %d", len(m.sent))
	}
	msg := m.sent[0]
	if msg.To != "ana@example.com" || !strings.HasPrefix(msg.Subject, "Welcome") {
		t.Errorf("msg = %+v", msg)
	}
	for _, want := range []string{"Hi ana,", "Monthly Meal Plan Subscription", "https://plans.example.com/login", "renews monthly"} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("html missing %q", want)
		}
	}
}

func TestSendPlanReadyEscapesAndAttaches(t *testing.T) {
	m := &captureMailer{}
	s := NewSender(m, "http://localhost:8080", discardLogger())

	err := s.SendPlanReady(context.Background(), "bo@example.com", "Custom <Meal> Plan", "keto",
		"http://localhost:8080/files/meal-plans/2025-01/keto-j1.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatal(err)
	}
	msg := m.sent[0]
	if msg.Subject != "Your Custom <Meal> Plan is Ready to Download!" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if strings.Contains(msg.HTML, "<Meal>") || !strings.Contains(msg.HTML, "&lt;Meal&gt;") {
		t.Error("product name not escaped")
	}
	if !strings.Contains(msg.HTML, `href="http://localhost:8080/files/meal-plans/2025-01/keto-j1.pdf"`) {
		t.Error("download link missing")
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Filename != "keto-meal-plan.pdf" {
		t.Errorf("attachments = %+v", msg.Attachments)
	}
}

func TestSenderPropagatesMailerError(t *testing.T) {
	m := &captureMailer{err: errors.New("smtp down")}
	s := NewSender(m, "http://x", discardLogger())
	err := s.SendMagicLink(context.Background(), "a@b.co", "http://x/api/auth/magic-link?token=t", "15 minutes")
	if err == nil || !strings.Contains(err.Error(), "smtp down") {
		t.Errorf("err = %v", err)
	}
}

func TestResendMailer(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"re_123"}`)
	}))
	defer srv.Close()

	r, err := NewResend("re_test_key", " Meal Plans <plans@example.com>\n", "help@example.com", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	id, err := r.Send(context.Background(), Message{To: "ana@example.com", Subject: "Hi", HTML: "<p>x</p>"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "re_123" {
		t.Errorf("id = %q", id)
	}
	if gotPath != "/emails" || gotAuth != "Bearer re_test_key" {
		t.Errorf("path = %q auth = %q", gotPath, gotAuth)
	}
	if gotBody["from"] != "Meal Plans <plans@example.com>" || gotBody["reply_to"] != "help@example.com" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestNewFromConfig(t *testing.T) {
	m, err := NewFromConfig(config.EmailConfig{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.(*LogMailer); !ok {
		t.Errorf("without key got %T", m)
	}
	id, err := m.Send(context.Background(), Message{To: "a@b.co", Subject: "s"})
	if err != nil || !strings.HasPrefix(id, "dev-") {
		t.Errorf("log mailer = %q, %v", id, err)
	}

	m, _ = NewFromConfig(config.EmailConfig{ResendAPIKey: "re_x", From: "a@b.co"}, discardLogger())
	if _, ok := m.(*Resend); !ok {
		t.Errorf("with key got %T", m)
	}
}
