package lifecycle

// NoteKind classifies a progress line.
type NoteKind int

const (
	NoteInfo NoteKind = iota
	NoteProgress
	NoteRestart
	NoteSuccess
)

// String returns the kind name used in machine-readable output.
func (k NoteKind) String() string {
	switch k {
	case NoteProgress:
		return "progress"
	case NoteRestart:
		return "restart"
	case NoteSuccess:
		return "success"
	}
	return "info"
}

// Note is one human-readable progress line emitted while a lifecycle
// operation runs.
type Note struct {
	Kind NoteKind
	Text string
}

// Reporter receives progress notes.
type Reporter interface {
	Report(Note)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Note)

// Report calls f(n).
func (f ReporterFunc) Report(n Note) { f(n) }
