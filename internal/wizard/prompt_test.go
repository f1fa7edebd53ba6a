package wizard

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestPrompter(input string) (*Prompter, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &Prompter{
		In:  strings.NewReader(input),
		Out: out,
	}, out
}

func TestAsk_WithInput(t *testing.T) {
	p, _ := newTestPrompter("hello\n")
	if got := p.Ask("Name", "default"); got != "hello" {
		t.Errorf("Ask() = %q, want %q", got, "hello")
	}
}

func TestAsk_WhitespaceUsesDefault(t *testing.T) {
	p, _ := newTestPrompter("   \n")
	if got := p.Ask("Name", "fallback"); got != "fallback" {
		t.Errorf("Ask() = %q, want %q", got, "fallback")
	}
}

func TestAskValid_RetriesUntilValid(t *testing.T) {
	p, out := newTestPrompter("bad\ngood\n")
	got := p.AskValid("Value", "", func(s string) error {
		if s != "good" {
			return errors.New("try again")
		}
		return nil
	})
	if got != "good" {
		t.Errorf("AskValid() = %q, want %q", got, "good")
	}
	if !strings.Contains(out.String(), "try again") {
		t.Errorf("validation message not shown: %q", out.String())
	}
}

func TestAskValid_StopsAtEOF(t *testing.T) {
	p, _ := newTestPrompter("bad\n")
	got := p.AskValid("Value", "", func(string) error { return errors.New("never valid") })
	if got != "" {
		t.Errorf("AskValid() = %q, want empty after EOF", got)
	}
}

func TestAskSecret_Fallback(t *testing.T) {
	p, _ := newTestPrompter("sk_test_123\n")
	if got := p.AskSecret("Key"); got != "sk_test_123" {
		t.Errorf("AskSecret() = %q, want %q", got, "sk_test_123")
	}
}

func TestAskSecret_Empty(t *testing.T) {
	p, _ := newTestPrompter("\n")
	if got := p.AskSecret("Key"); got != "" {
		t.Errorf("AskSecret() = %q, want empty", got)
	}
}

func TestChoose(t *testing.T) {
	opts := []string{"sqlite", "postgres"}
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"selection", "2\n", "postgres"},
		{"default", "\n", "sqlite"},
		{"out of range then valid", "7\n2\n", "postgres"},
		{"garbage until EOF", "x\n", "sqlite"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newTestPrompter(tc.input)
			if got := p.Choose("Driver", opts, 0); got != tc.want {
				t.Errorf("Choose() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	cases := []struct {
		input      string
		defaultYes bool
		want       bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
	}
	for _, tc := range cases {
		p, _ := newTestPrompter(tc.input)
		if got := p.Confirm("Continue", tc.defaultYes); got != tc.want {
			t.Errorf("Confirm(%q, %v) = %v, want %v", tc.input, tc.defaultYes, got, tc.want)
		}
	}
}
