package transcription

import "strings"

// Accumulator assembles streamed partial transcriptions into finalized
// entries at turn boundaries. It owns both pending buffers; callers only see
// them through the live values it returns. Not safe for concurrent use.
type Accumulator struct {
	input  strings.Builder
	output strings.Builder
}

// NewAccumulator creates an empty accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// AppendInput adds a recruiter-side fragment and returns the running text
func (a *Accumulator) AppendInput(fragment string) string {
	a.input.WriteString(fragment)
	return a.input.String()
}

// AppendOutput adds a candidate-side fragment and returns the running text
func (a *Accumulator) AppendOutput(fragment string) string {
	a.output.WriteString(fragment)
	return a.output.String()
}

// Live returns the provisional text for both sides
func (a *Accumulator) Live() LiveText {
	return LiveText{Input: a.input.String(), Output: a.output.String()}
}

// CompleteTurn trims both buffers and returns zero, one or two entries:
// the recruiter line first, then the candidate line, skipping sides that
// are empty after trimming. Both buffers are cleared.
func (a *Accumulator) CompleteTurn() []Entry {
	var entries []Entry
	if text := strings.TrimSpace(a.input.String()); text != "" {
		entries = append(entries, Entry{Speaker: Recruiter, Text: text})
	}
	if text := strings.TrimSpace(a.output.String()); text != "" {
		entries = append(entries, Entry{Speaker: Candidate, Text: text})
	}
	a.input.Reset()
	a.output.Reset()
	return entries
}

// Flush finalizes whatever is pending when a session ends mid-turn. Same
// ordering rules as CompleteTurn.
func (a *Accumulator) Flush() []Entry {
	return a.CompleteTurn()
}

// Pending reports whether either side holds unfinalized text
func (a *Accumulator) Pending() bool {
	return a.input.Len() > 0 || a.output.Len() > 0
}
