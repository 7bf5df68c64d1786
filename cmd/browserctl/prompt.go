package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// isTerminal checks if the given reader is a terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// terminalPrompter asks the user to pick between same-named profiles.
type terminalPrompter struct {
	in          io.Reader
	out         io.Writer
	interactive bool
}

func newTerminalPrompter(cfg *Config) *terminalPrompter {
	interactive := isTerminal(cfg.Stdin)
	if cfg.Interactive != nil {
		interactive = *cfg.Interactive
	}
	return &terminalPrompter{in: cfg.Stdin, out: cfg.Stderr, interactive: interactive}
}

func (p *terminalPrompter) Interactive() bool { return p.interactive }

// Select shows the numbered options once. Anything but a listed number
// declines.
func (p *terminalPrompter) Select(prompt string, options []string) (int, bool) {
	idx, err := promptChoice(bufio.NewScanner(p.in), p.out, prompt, options)
	if err != nil {
		fmt.Fprintln(p.out, err)
		return 0, false
	}
	return idx, true
}

// promptChoice shows numbered options and returns the 0-based index of the
// chosen option.
func promptChoice(scanner *bufio.Scanner, w io.Writer, prompt string, options []string) (int, error) {
	fmt.Fprintln(w, prompt)
	for i, opt := range options {
		fmt.Fprintf(w, "  %d) %s\n", i+1, opt)
	}
	fmt.Fprintf(w, "Select a profile [1-%d]: ", len(options))

	if !scanner.Scan() {
		fmt.Fprintln(w)
		return 0, fmt.Errorf("no selection made")
	}
	line := strings.TrimSpace(scanner.Text())

	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(options) {
		return 0, fmt.Errorf("invalid selection %q", line)
	}
	return n - 1, nil
}
