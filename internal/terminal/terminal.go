// Package terminal renders agent progress messages and reads operator input
// from the controlling terminal.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Kind selects the color of an agent statement.
type Kind int

const (
	// AICall marks a request sent to the oracle.
	AICall Kind = iota
	// UnitTest marks build and validation progress.
	UnitTest
	// Issue marks a problem that did not stop the role.
	Issue
)

func (k Kind) String() string {
	switch k {
	case AICall:
		return "ai_call"
	case UnitTest:
		return "unit_test"
	case Issue:
		return "issue"
	default:
		return "unknown"
	}
}

// Printer writes "Agent <position>:" followed by the statement.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	header lipgloss.Style
	kinds  map[Kind]lipgloss.Style
}

// NewPrinter renders for out; colors are dropped when out is not a TTY.
func NewPrinter(out io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out:    out,
		header: r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		kinds: map[Kind]lipgloss.Style{
			AICall:   r.NewStyle().Foreground(lipgloss.Color("6")),
			UnitTest: r.NewStyle().Foreground(lipgloss.Color("5")),
			Issue:    r.NewStyle().Foreground(lipgloss.Color("1")),
		},
	}
}

// AgentMessage prints one statement attributed to position.
func (p *Printer) AgentMessage(kind Kind, position, statement string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.header.Render("Agent "+position+":"))
	fmt.Fprintln(p.out, p.kinds[kind].Render(statement))
}

// ErrNoInput is returned when the input stream ends before an answer.
var ErrNoInput = errors.New("terminal: input closed before an answer was given")

// Prompter asks the operator questions.
type Prompter struct {
	in       *bufio.Reader
	out      io.Writer
	question lipgloss.Style
}

// NewPrompter reads answers from in and writes questions to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	r := lipgloss.NewRenderer(out)
	return &Prompter{
		in:       bufio.NewReader(in),
		out:      out,
		question: r.NewStyle().Foreground(lipgloss.Color("4")),
	}
}

// Ask prints question and returns the trimmed answer line.
func (p *Prompter) Ask(question string) (string, error) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, p.question.Render(question))
	line, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && strings.TrimSpace(line) != "" {
			return strings.TrimSpace(line), nil
		}
		if errors.Is(err, io.EOF) {
			return "", ErrNoInput
		}
		return "", fmt.Errorf("terminal: read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Confirm repeats the safety question until the operator answers "y" or "n".
func (p *Prompter) Confirm() (bool, error) {
	for {
		answer, err := p.Ask("Are you sure you want to proceed? (y/n)")
		if err != nil {
			return false, err
		}
		switch answer {
		case "y":
			return true, nil
		case "n":
			return false, nil
		}
	}
}
