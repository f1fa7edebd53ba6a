package wizard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the setup and admin questions over a line-oriented reader,
// so the same flows run on a terminal, under a pipe or in tests.
type Prompter struct {
	In      io.Reader
	Out     io.Writer
	scanner *bufio.Scanner
	eof     bool
}

// DefaultPrompter reads from stdin and writes to stdout.
func DefaultPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout}
}

// readLine reads a single trimmed line. After input is exhausted it returns
// "" forever.
func (p *Prompter) readLine() string {
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(p.In)
	}
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text())
	}
	p.eof = true
	return ""
}

// Ask shows the question with its default in brackets. A blank answer keeps
// defaultVal.
func (p *Prompter) Ask(question, defaultVal string) string {
	if defaultVal != "" {
		_, _ = fmt.Fprintf(p.Out, "%s [%s]: ", question, defaultVal)
	} else {
		_, _ = fmt.Fprintf(p.Out, "%s: ", question)
	}
	if line := p.readLine(); line != "" {
		return line
	}
	return defaultVal
}

// AskValid repeats Ask until validate accepts the answer. Once input runs out
// the last answer is returned as is.
func (p *Prompter) AskValid(question, defaultVal string, validate func(string) error) string {
	for {
		ans := p.Ask(question, defaultVal)
		err := validate(ans)
		if err == nil || p.eof {
			return ans
		}
		_, _ = fmt.Fprintf(p.Out, "  %v\n", err)
	}
}

// AskSecret reads a line without echoing when stdin is a terminal. An empty
// answer is allowed, so optional API keys can be skipped.
func (p *Prompter) AskSecret(question string) string {
	_, _ = fmt.Fprintf(p.Out, "%s: ", question)

	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(p.Out) // newline after hidden input
		if err == nil {
			return strings.TrimSpace(string(b))
		}
	}

	// Not a terminal (tests or piped input).
	return p.readLine()
}

// Choose lists the options by number and asks again until a valid number is
// given. Blank answers and exhausted input pick options[defaultIdx].
func (p *Prompter) Choose(question string, options []string, defaultIdx int) string {
	_, _ = fmt.Fprintf(p.Out, "%s\n", question)
	for i, opt := range options {
		marker := "  "
		if i == defaultIdx {
			marker = "> "
		}
		_, _ = fmt.Fprintf(p.Out, "%s%d) %s\n", marker, i+1, opt)
	}

	for {
		ans := p.Ask("Choice", strconv.Itoa(defaultIdx+1))
		n, err := strconv.Atoi(ans)
		if err == nil && n >= 1 && n <= len(options) {
			return options[n-1]
		}
		if p.eof {
			return options[defaultIdx]
		}
		_, _ = fmt.Fprintf(p.Out, "  Please enter a number between 1 and %d.\n", len(options))
	}
}

// Confirm treats answers starting with "y" as yes. A blank answer keeps
// defaultYes.
func (p *Prompter) Confirm(question string, defaultYes bool) bool {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	ans := p.Ask(fmt.Sprintf("%s [%s]", question, hint), "")
	if ans == "" {
		return defaultYes
	}
	return strings.HasPrefix(strings.ToLower(ans), "y")
}
