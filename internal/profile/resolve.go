package profile

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Errors
var (
	ErrAmbiguousProfile = errors.New("ambiguous profile")
	ErrUnknownProfile   = errors.New("unknown profile")
)

// DisambiguationHint tells users how to pick one of several same-named profiles.
const DisambiguationHint = `Use --profile "Name (Profile X)" or --profile "Profile X" to select a directory.`

// Mode selects how a profile is requested.
type Mode int

const (
	ModeNone Mode = iota
	ModeDefault
	ModeNamed
	ModeLastUsed
)

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeNamed:
		return "named"
	case ModeLastUsed:
		return "last-used"
	}
	return "none"
}

// Request is the user's profile selection.
type Request struct {
	Mode Mode
	Name string // Only for ModeNamed
}

// Wanted reports whether any profile was requested.
func (r Request) Wanted() bool {
	return r.Mode != ModeNone
}

// Prompter lets the resolver ask the user to choose between same-named
// profiles.
type Prompter interface {
	// Interactive reports whether a human can answer.
	Interactive() bool
	// Select shows options and returns the chosen index, or false when the
	// user aborted or answered with something out of range.
	Select(prompt string, options []string) (int, bool)
}

// NoPrompt declines every selection.
type NoPrompt struct{}

func (NoPrompt) Interactive() bool                   { return false }
func (NoPrompt) Select(string, []string) (int, bool) { return 0, false }

// AmbiguousProfileError is returned when several profiles share the
// requested name and none was chosen.
type AmbiguousProfileError struct {
	Name    string
	Matches []Entry
}

func (e *AmbiguousProfileError) Error() string {
	labels := make([]string, len(e.Matches))
	for i, m := range e.Matches {
		labels[i] = formatEntry(m)
	}
	return fmt.Sprintf("profile name %q is ambiguous, matches: %s", e.Name, strings.Join(labels, ", "))
}

func (e *AmbiguousProfileError) Unwrap() error {
	return ErrAmbiguousProfile
}

// UnknownProfileError is returned when nothing matches the requested name.
type UnknownProfileError struct {
	Name      string
	Available []string // "name (dir)", sorted
}

func (e *UnknownProfileError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unknown Chrome profile %q", e.Name)
	}
	return fmt.Sprintf("unknown Chrome profile %q, available: %s", e.Name, strings.Join(e.Available, ", "))
}

func (e *UnknownProfileError) Unwrap() error {
	return ErrUnknownProfile
}

// formatEntry always shows both parts, unlike Entry.Label.
func formatEntry(e Entry) string {
	return e.Name + " (" + e.Dir + ")"
}

// FormatList renders entries as sorted "name (dir)" lines.
func FormatList(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = formatEntry(e)
	}
	sort.Strings(out)
	return out
}

var descriptorPattern = regexp.MustCompile(`^(.*)\s+\(([^)]+)\)$`)

// parseDescriptor splits the canonical "Name (dir)" form.
func parseDescriptor(value string) (Entry, bool) {
	m := descriptorPattern.FindStringSubmatch(value)
	if m == nil {
		return Entry{}, false
	}
	name, dir := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	if name == "" || dir == "" {
		return Entry{}, false
	}
	return Entry{Dir: dir, Name: name}, true
}

// byDir returns dir with its display name from entries, or dir itself.
func byDir(dir string, entries []Entry) Entry {
	for _, e := range entries {
		if e.Dir == dir {
			return e
		}
	}
	return Entry{Dir: dir, Name: dir}
}

// Resolve maps req to a concrete profile directory. lastUsed is the
// directory recorded as most recently active. A zero Entry is returned for
// ModeNone.
func Resolve(req Request, entries []Entry, lastUsed string, prompter Prompter) (Entry, error) {
	switch req.Mode {
	case ModeNone:
		return Entry{}, nil
	case ModeDefault:
		return byDir(DefaultDir, entries), nil
	case ModeLastUsed:
		if lastUsed == "" {
			lastUsed = DefaultDir
		}
		return byDir(lastUsed, entries), nil
	}
	return resolveNamed(req.Name, entries, prompter)
}

func resolveNamed(requested string, entries []Entry, prompter Prompter) (Entry, error) {
	name := strings.TrimSpace(requested)
	if name == "" {
		return byDir(DefaultDir, entries), nil
	}

	if want, ok := parseDescriptor(name); ok {
		for _, e := range entries {
			if e.Dir == want.Dir && e.Name == want.Name {
				return e, nil
			}
		}
	}

	var matches []Entry
	for _, e := range entries {
		if e.Name == name {
			matches = append(matches, e)
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		if prompter == nil {
			prompter = NoPrompt{}
		}
		if prompter.Interactive() {
			options := make([]string, len(matches))
			for i, m := range matches {
				options[i] = formatEntry(m)
			}
			idx, ok := prompter.Select(fmt.Sprintf("Multiple profiles named %q.", name), options)
			if ok && idx >= 0 && idx < len(matches) {
				return matches[idx], nil
			}
		}
		return Entry{}, &AmbiguousProfileError{Name: requested, Matches: matches}
	}

	for _, e := range entries {
		if e.Dir == name {
			return e, nil
		}
	}

	return Entry{}, &UnknownProfileError{Name: requested, Available: FormatList(entries)}
}
