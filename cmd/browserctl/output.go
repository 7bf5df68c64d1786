package main

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/tomyan/browserctl/internal/lifecycle"
)

// printer renders status lines. In text mode progress notes go to stdout as
// they happen; in json mode only the final result is written.
type printer struct {
	cfg *Config

	success lipgloss.Style
	restart lipgloss.Style
	info    lipgloss.Style
	failed  lipgloss.Style
}

func newPrinter(cfg *Config) *printer {
	out := lipgloss.NewRenderer(cfg.Stdout)
	errOut := lipgloss.NewRenderer(cfg.Stderr)
	return &printer{
		cfg:     cfg,
		success: out.NewStyle().Foreground(lipgloss.Color("2")),
		restart: out.NewStyle().Foreground(lipgloss.Color("3")),
		info:    out.NewStyle().Foreground(lipgloss.Color("4")),
		failed:  errOut.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
}

// Report implements lifecycle.Reporter.
func (p *printer) Report(n lifecycle.Note) {
	if p.cfg.Output != "text" {
		return
	}
	switch n.Kind {
	case lifecycle.NoteSuccess:
		fmt.Fprintln(p.cfg.Stdout, p.success.Render("✓")+" "+n.Text)
	case lifecycle.NoteRestart:
		fmt.Fprintln(p.cfg.Stdout, p.restart.Render("↻")+" "+n.Text)
	case lifecycle.NoteInfo:
		fmt.Fprintln(p.cfg.Stdout, p.info.Render("ℹ")+" "+n.Text)
	default:
		fmt.Fprintln(p.cfg.Stdout, n.Text)
	}
}

// line prints a plain result line in text mode.
func (p *printer) line(format string, args ...interface{}) {
	if p.cfg.Output == "text" {
		fmt.Fprintf(p.cfg.Stdout, format+"\n", args...)
	}
}

// failure prints err on stderr, followed by any hint lines.
func (p *printer) failure(err error, hints ...string) {
	fmt.Fprintln(p.cfg.Stderr, p.failed.Render("✗")+" "+err.Error())
	for _, h := range hints {
		fmt.Fprintln(p.cfg.Stderr, h)
	}
}

// result writes v as JSON in json mode.
func (p *printer) result(v interface{}) error {
	if p.cfg.Output != "json" {
		return nil
	}
	enc := json.NewEncoder(p.cfg.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
