package transcription

import "fmt"

// Speaker identifies which side of the interview produced a line
type Speaker string

const (
	// Recruiter is the human interviewer (input transcription)
	Recruiter Speaker = "Recruiter"
	// Candidate is the simulated persona (output transcription)
	Candidate Speaker = "Candidate"
)

// Valid reports whether s is one of the two known speakers
func (s Speaker) Valid() bool {
	return s == Recruiter || s == Candidate
}

// Entry is one finalized transcript line. Entries are never modified once
// appended to a transcript.
type Entry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// String renders the entry the way prompts quote it
func (e Entry) String() string {
	return fmt.Sprintf("%s: %s", e.Speaker, e.Text)
}

// LiveText is the provisional, not yet finalized text for both sides
type LiveText struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}
