// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the FieldAssist console.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// FieldAssist palette - safety amber on steel grey
var (
	ColorAmber   = lipgloss.Color("#F5A623") // Highlights, the assistant
	ColorAmberDk = lipgloss.Color("#C47F00") // Borders
	ColorSteel   = lipgloss.Color("#6B7B8C") // Muted text
	ColorSky     = lipgloss.Color("#4FA3D1") // The customer

	ColorSuccess = lipgloss.Color("#3CB371")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	User      lipgloss.Style
	Phase     lipgloss.Style

	Box lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAmber),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSteel),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorAmber).Bold(true),
	User:      lipgloss.NewStyle().Foreground(ColorSky).Bold(true),
	Phase: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#1B1B1B")).
		Background(ColorAmber).
		Padding(0, 1),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAmberDk).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconImage   Icon = "▣"
)

// Mode selects how much decoration the console prints.
type Mode int

const (
	// ModeFull uses colors, boxes and the spinner.
	ModeFull Mode = iota

	// ModePlain prints undecorated text, for dumb terminals and pipes.
	ModePlain

	// ModeMachine prints one `KEY: value` line per event, for scripts.
	ModeMachine
)

// ParseMode maps "full", "plain" or "machine" to a Mode. Anything else is
// ModeFull.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "minimal":
		return ModePlain
	case "machine":
		return ModeMachine
	default:
		return ModeFull
	}
}

// DetectMode returns ModeFull when w is a terminal and ModePlain otherwise.
func DetectMode(w io.Writer) Mode {
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return ModeFull
	}
	return ModePlain
}

// Console writes styled conversation output.
//
// # Thread Safety
//
// Not safe for concurrent use; the chat loop owns it.
type Console struct {
	w    io.Writer
	mode Mode
}

// NewConsole creates a console writing to w.
func NewConsole(w io.Writer, mode Mode) *Console {
	return &Console{w: w, mode: mode}
}

// Mode returns the output mode.
func (c *Console) Mode() Mode {
	return c.mode
}

// Header prints the session banner.
func (c *Console) Header(serverURL, userID string) {
	switch c.mode {
	case ModeMachine:
		fmt.Fprintf(c.w, "SERVER: %s\nUSER: %s\n", serverURL, userID)
	case ModePlain:
		fmt.Fprintf(c.w, "FieldAssist console (%s as %s)\n", serverURL, userID)
		fmt.Fprintln(c.w, "Commands: /reset, /image <url> [text], /session, /quit")
	default:
		title := Styles.Title.Render("FieldAssist console")
		body := fmt.Sprintf("%s\n%s %s\n%s %s\n%s",
			title,
			Styles.Muted.Render("server"), serverURL,
			Styles.Muted.Render("user  "), userID,
			Styles.Muted.Render("/reset  /image <url> [text]  /session  /quit"))
		fmt.Fprintln(c.w, Styles.Box.Width(64).Render(body))
	}
}

// Prompt prints the input prompt.
func (c *Console) Prompt() {
	switch c.mode {
	case ModeMachine:
	case ModePlain:
		fmt.Fprint(c.w, "> ")
	default:
		fmt.Fprint(c.w, Styles.User.Render("you › "))
	}
}

// Reply prints the assistant's answer, its image link and the phase.
func (c *Console) Reply(text, phase, mediaURL string) {
	switch c.mode {
	case ModeMachine:
		fmt.Fprintf(c.w, "PHASE: %s\nREPLY: %s\n", phase, strings.ReplaceAll(text, "\n", `\n`))
		if mediaURL != "" {
			fmt.Fprintf(c.w, "MEDIA: %s\n", mediaURL)
		}
	case ModePlain:
		fmt.Fprintf(c.w, "[%s] %s\n", phase, text)
		if mediaURL != "" {
			fmt.Fprintf(c.w, "image: %s\n", mediaURL)
		}
	default:
		fmt.Fprintf(c.w, "%s %s\n", Styles.Phase.Render(phase), text)
		if mediaURL != "" {
			fmt.Fprintf(c.w, "  %s %s\n", IconImage, Styles.Muted.Render(mediaURL))
		}
	}
}

// PhaseChange announces that the next message goes to a new phase.
func (c *Console) PhaseChange(to string) {
	switch c.mode {
	case ModeMachine:
		fmt.Fprintf(c.w, "TRANSITION: %s\n", to)
	case ModePlain:
		fmt.Fprintf(c.w, "-> now in %s\n", to)
	default:
		fmt.Fprintf(c.w, "%s %s\n", IconArrow, Styles.Highlight.Render("now in "+to))
	}
}

// Success prints a confirmation line.
func (c *Console) Success(text string) {
	switch c.mode {
	case ModeMachine:
		fmt.Fprintf(c.w, "OK: %s\n", text)
	case ModePlain:
		fmt.Fprintf(c.w, "%s %s\n", IconSuccess, text)
	default:
		fmt.Fprintf(c.w, "%s %s\n", Styles.Success.Render(string(IconSuccess)), Styles.Success.Render(text))
	}
}

// Error prints a failure line.
func (c *Console) Error(err error) {
	switch c.mode {
	case ModeMachine:
		fmt.Fprintf(c.w, "ERROR: %v\n", err)
	case ModePlain:
		fmt.Fprintf(c.w, "%s %v\n", IconError, err)
	default:
		fmt.Fprintf(c.w, "%s %s\n", Styles.Error.Render(string(IconError)), Styles.Error.Render(err.Error()))
	}
}

// Box prints content in a titled box, or as `title: content` outside
// ModeFull.
func (c *Console) Box(title, content string) {
	if c.mode != ModeFull {
		fmt.Fprintf(c.w, "%s:\n%s\n", title, content)
		return
	}
	fmt.Fprintln(c.w, Styles.Box.Width(64).Render(Styles.Title.Render(title)+"\n"+content))
}
