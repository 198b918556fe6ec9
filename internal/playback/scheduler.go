package playback

import (
	"fmt"

	"github.com/yegors/interview-coach/internal/audio"
)

// SampleRate is the rate the live service returns audio at
const SampleRate = 24000

// Clock reports the playback position of an output in seconds
type Clock interface {
	CurrentTime() float64
}

// Voice is one scheduled buffer. Stop must not block.
type Voice interface {
	Stop()
	// Start is the clock time the output actually placed the voice at,
	// which is never earlier than the requested time
	Start() float64
}

// Output plays buffers at absolute positions on its own clock. onEnded is
// invoked from the output's render goroutine when playback finishes
// naturally; it is not invoked for voices that were stopped.
type Output interface {
	Clock
	Play(buf *audio.Buffer, at float64, onEnded func(Voice)) (Voice, error)
}

// Scheduler lines inbound chunks up back to back on an Output. It is not
// safe for concurrent use; the session event loop owns it.
type Scheduler struct {
	out       Output
	nextStart float64
	active    map[Voice]struct{}
}

// NewScheduler creates a scheduler with its anchor at zero
func NewScheduler(out Output) *Scheduler {
	return &Scheduler{
		out:    out,
		active: make(map[Voice]struct{}),
	}
}

// Schedule plays buf at max(nextStart, now) and advances the anchor past it.
// The output may move the start later if its clock advanced after it was
// read; the anchor follows the voice's real start. It returns that start.
func (s *Scheduler) Schedule(buf *audio.Buffer, onEnded func(Voice)) (float64, error) {
	start := s.nextStart
	if now := s.out.CurrentTime(); now > start {
		start = now
	}

	v, err := s.out.Play(buf, start, onEnded)
	if err != nil {
		return 0, fmt.Errorf("failed to schedule chunk at %.3fs: %w", start, err)
	}

	if actual := v.Start(); actual > start {
		start = actual
	}
	s.nextStart = start + buf.Duration()
	s.active[v] = struct{}{}
	return start, nil
}

// Ended drops a naturally finished voice from the active set
func (s *Scheduler) Ended(v Voice) {
	delete(s.active, v)
}

// Interrupt halts every in-flight voice and resets the anchor to zero, so
// the next chunk starts relative to the output clock. It returns the number
// of voices halted.
func (s *Scheduler) Interrupt() int {
	n := len(s.active)
	for v := range s.active {
		v.Stop()
	}
	s.active = make(map[Voice]struct{})
	s.nextStart = 0
	return n
}

// StopAll is Interrupt for teardown
func (s *Scheduler) StopAll() int {
	return s.Interrupt()
}

// NextStart returns the committed end of the last scheduled chunk
func (s *Scheduler) NextStart() float64 {
	return s.nextStart
}

// Active returns the number of voices scheduled and not yet finished
func (s *Scheduler) Active() int {
	return len(s.active)
}
