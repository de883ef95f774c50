// Package output writes user-facing terminal output: bold application lines, dim capability events, and answers
// rendered as markdown when the destination is a terminal.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/codalotl/driveqa/internal/agent"
)

const (
	markdownWrap   = 80
	maxEventResult = 160
)

type Printer struct {
	mu         sync.Mutex
	out        io.Writer
	appStyle   lipgloss.Style
	eventStyle lipgloss.Style
	errStyle   lipgloss.Style
	markdown   *glamour.TermRenderer
	last       outputKind
}

type outputKind int

const (
	outputNone outputKind = iota
	outputApp
	outputEvent
)

// isTerminal reports whether w is an interactive terminal. Tests replace it.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewPrinter creates a Printer writing to out. Colors and markdown rendering are enabled only when out is a terminal.
func NewPrinter(out io.Writer) *Printer {
	if out == nil {
		out = io.Discard
	}
	r := lipgloss.NewRenderer(out)
	p := &Printer{
		out:        out,
		appStyle:   r.NewStyle().Bold(true),
		eventStyle: r.NewStyle().Faint(true).Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "110"}),
		errStyle:   r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "203"}),
	}
	if isTerminal(out) {
		md, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(markdownWrap))
		if err == nil {
			p.markdown = md
		}
	}
	return p
}

// App writes bold application output.
func (p *Printer) App(text string) error {
	if text == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureGapBeforeApp(); err != nil {
		return err
	}
	if err := p.writeStyled(p.appStyle, text); err != nil {
		return err
	}
	p.last = outputApp
	return nil
}

func (p *Printer) Appf(format string, args ...any) error {
	return p.App(fmt.Sprintf(format, args...))
}

// Error writes an error line.
func (p *Printer) Error(err error) error {
	if err == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.writeStyled(p.errStyle, "Error: "+err.Error()); err != nil {
		return err
	}
	p.last = outputApp
	return nil
}

// Answer writes a final answer, rendered as markdown on terminals.
func (p *Printer) Answer(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureGapBeforeApp(); err != nil {
		return err
	}
	if p.markdown != nil {
		if rendered, err := p.markdown.Render(text); err == nil {
			_, err := io.WriteString(p.out, ensureTrailingNewline(rendered))
			p.last = outputApp
			return err
		}
	}
	_, err := io.WriteString(p.out, ensureTrailingNewline(text))
	p.last = outputApp
	return err
}

// Event writes one line for capability calls and results. Other event kinds are ignored. Event has the signature of
// an agent observer.
func (p *Printer) Event(ev agent.Event) {
	var line string
	switch ev.Kind {
	case agent.EventToolCall:
		line = fmt.Sprintf("→ %s(%s)", ev.Name, formatInput(ev.Input))
	case agent.EventToolResult:
		status := "←"
		if ev.IsError {
			status = "✗"
		}
		line = fmt.Sprintf("%s %s: %s", status, ev.Name, abbreviate(ev.Text, maxEventResult))
	default:
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == outputApp {
		if _, err := io.WriteString(p.out, "\n"); err != nil {
			return
		}
	}
	if err := p.writeStyled(p.eventStyle, line); err == nil {
		p.last = outputEvent
	}
}

func (p *Printer) ensureGapBeforeApp() error {
	if p.last != outputEvent {
		return nil
	}
	_, err := io.WriteString(p.out, "\n")
	return err
}

func (p *Printer) writeStyled(style lipgloss.Style, text string) error {
	if text == "" {
		return nil
	}
	_, err := io.WriteString(p.out, ensureTrailingNewline(style.Render(strings.TrimSuffix(text, "\n"))))
	return err
}

func ensureTrailingNewline(text string) string {
	if strings.HasSuffix(text, "\n") {
		return text
	}
	return text + "\n"
}

func formatInput(input map[string]any) string {
	if len(input) == 0 {
		return ""
	}
	b, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprint(input)
	}
	return string(b)
}

// abbreviate collapses whitespace and shortens s to at most n runes.
func abbreviate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
