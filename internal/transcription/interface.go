package transcription

// Sink receives finalized entries in transcript order
type Sink interface {
	Append(entries ...Entry)
}

// Transcript is an append-only, in-memory Sink
type Transcript struct {
	entries []Entry
}

// Append adds entries to the end of the transcript
func (t *Transcript) Append(entries ...Entry) {
	t.entries = append(t.entries, entries...)
}

// Entries returns a copy of the transcript so callers cannot reorder it
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of finalized entries
func (t *Transcript) Len() int {
	return len(t.entries)
}

// Reset empties the transcript for a new session
func (t *Transcript) Reset() {
	t.entries = nil
}

// Ensure the transcript implements the interface
var _ Sink = (*Transcript)(nil)
