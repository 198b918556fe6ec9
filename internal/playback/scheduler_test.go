package playback

import (
	"errors"
	"testing"

	"github.com/yegors/interview-coach/internal/audio"
)

type fakeVoice struct {
	start   float64
	stopped bool
}

func (v *fakeVoice) Stop() { v.stopped = true }

func (v *fakeVoice) Start() float64 { return v.start }

type fakeOutput struct {
	now    float64
	voices []*fakeVoice
	err    error
}

func (o *fakeOutput) CurrentTime() float64 { return o.now }

func (o *fakeOutput) Play(buf *audio.Buffer, at float64, onEnded func(Voice)) (Voice, error) {
	if o.err != nil {
		return nil, o.err
	}
	v := &fakeVoice{start: at}
	o.voices = append(o.voices, v)
	return v, nil
}

func chunk(seconds float64) *audio.Buffer {
	return &audio.Buffer{
		SampleRate: SampleRate,
		Channels:   [][]float32{make([]float32, int(seconds*SampleRate))},
	}
}

func TestScheduleBackToBack(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out)

	durations := []float64{0.5, 0.25, 1.0}
	var prevEnd float64
	for i, d := range durations {
		start, err := s.Schedule(chunk(d), nil)
		if err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
		if start != prevEnd {
			t.Errorf("chunk %d start = %v, want %v (contiguous)", i, start, prevEnd)
		}
		prevEnd = start + d
	}
	if s.NextStart() != 1.75 {
		t.Errorf("next start = %v, want 1.75", s.NextStart())
	}
	if s.Active() != 3 {
		t.Errorf("active = %d, want 3", s.Active())
	}
}

func TestScheduleNeverInThePastOrOverlapping(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out)

	// Arrival times interleave with the clock: late arrivals start at "now"
	arrivals := []struct {
		now float64
		dur float64
	}{
		{0.0, 0.5},
		{0.1, 0.5}, // queued behind the first
		{3.0, 0.2}, // gap: clock passed the anchor
		{3.1, 0.4},
	}

	var prevEnd float64
	for i, a := range arrivals {
		out.now = a.now
		start, err := s.Schedule(chunk(a.dur), nil)
		if err != nil {
			t.Fatal(err)
		}
		if start < a.now {
			t.Errorf("chunk %d scheduled in the past: %v < %v", i, start, a.now)
		}
		if start < prevEnd {
			t.Errorf("chunk %d overlaps previous: %v < %v", i, start, prevEnd)
		}
		prevEnd = start + a.dur
	}

	if got := out.voices[2].start; got != 3.0 {
		t.Errorf("late chunk start = %v, want clock time 3.0", got)
	}
	if got := out.voices[3].start; got != 3.2 {
		t.Errorf("follow-up chunk start = %v, want 3.2", got)
	}
}

func TestInterruptStopsEverythingAndResetsAnchor(t *testing.T) {
	out := &fakeOutput{now: 2}
	s := NewScheduler(out)
	for i := 0; i < 4; i++ {
		if _, err := s.Schedule(chunk(0.5), nil); err != nil {
			t.Fatal(err)
		}
	}

	if n := s.Interrupt(); n != 4 {
		t.Errorf("interrupted %d voices, want 4", n)
	}
	for i, v := range out.voices {
		if !v.stopped {
			t.Errorf("voice %d still playing", i)
		}
	}
	if s.Active() != 0 {
		t.Errorf("active = %d after interrupt", s.Active())
	}
	if s.NextStart() != 0 {
		t.Errorf("anchor = %v after interrupt, want 0", s.NextStart())
	}

	// The next chunk starts at the clock, not at the stale anchor
	out.now = 2.3
	start, _ := s.Schedule(chunk(0.1), nil)
	if start != 2.3 {
		t.Errorf("post-interrupt start = %v, want 2.3", start)
	}
}

func TestEndedRemovesFromActiveSet(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out)
	s.Schedule(chunk(0.1), nil)
	s.Schedule(chunk(0.1), nil)

	s.Ended(out.voices[0])
	if s.Active() != 1 {
		t.Fatalf("active = %d, want 1", s.Active())
	}
	s.Ended(out.voices[0])
	if s.Active() != 1 {
		t.Errorf("repeat Ended changed active set")
	}
	s.StopAll()
	if out.voices[0].stopped {
		t.Error("finished voice should not be stopped again")
	}
	if !out.voices[1].stopped {
		t.Error("pending voice was not stopped")
	}
}

func TestScheduleErrorLeavesStateUntouched(t *testing.T) {
	out := &fakeOutput{err: errors.New("device gone")}
	s := NewScheduler(out)
	if _, err := s.Schedule(chunk(0.5), nil); err == nil {
		t.Fatal("expected error")
	}
	if s.NextStart() != 0 || s.Active() != 0 {
		t.Errorf("state changed on failure: next=%v active=%d", s.NextStart(), s.Active())
	}
}
