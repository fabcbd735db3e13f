// Package chatlog holds the local replica of the group chat transcript.
package chatlog

import "sync"

// Line is one chat transcript entry. It is immutable once built.
type Line struct {
	sender string
	text   string
}

// NewLine builds a Line for the given sender identity and text.
func NewLine(sender, text string) Line {
	return Line{sender: sender, text: text}
}

func (l Line) Sender() string { return l.sender }
func (l Line) Text() string   { return l.text }

// String renders the line the way the console shows it.
func (l Line) String() string {
	return l.sender + ": " + l.text
}

// Log is the ordered, mutex-protected transcript. The sequence is only
// ever appended to or replaced as a whole; the backing slice never leaves
// the Log.
type Log struct {
	mu    sync.Mutex
	lines []Line
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// Append adds line at the tail.
func (l *Log) Append(line Line) {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the whole transcript.
func (l *Log) Snapshot() []Line {
	l.mu.Lock()
	defer l.mu.Unlock()

	cpy := make([]Line, len(l.lines))
	copy(cpy, l.lines)
	return cpy
}

// Install replaces the transcript with a copy of lines. Entries appended
// before Install that the incoming snapshot does not contain are dropped.
func (l *Log) Install(lines []Line) {
	cpy := make([]Line, len(lines))
	copy(cpy, lines)

	l.mu.Lock()
	l.lines = cpy
	l.mu.Unlock()
}

// Len reports the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}
