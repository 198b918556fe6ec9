package session

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/yegors/interview-coach/internal/capture"
	"github.com/yegors/interview-coach/internal/playback"
)

// resources is every handle one session holds. Only release frees them.
type resources struct {
	mic       capture.Source
	capture   *capture.Context
	output    *playback.Context
	scheduler *playback.Scheduler
	conn      Conn
}

// release frees every handle, attempting each step even when an earlier
// one fails or panics. Safe to call more than once.
func (r *resources) release() error {
	var err error

	if conn := r.conn; conn != nil {
		err = multierr.Append(err, step("close connection", conn.Close))
	}
	if c := r.capture; c != nil {
		err = multierr.Append(err, step("disconnect capture", func() error {
			c.Disconnect()
			return nil
		}))
	}
	if mic := r.mic; mic != nil {
		err = multierr.Append(err, step("stop microphone", mic.Close))
	}
	if c := r.capture; c != nil {
		err = multierr.Append(err, step("close capture context", c.Close))
	}
	if out := r.output; out != nil {
		err = multierr.Append(err, step("close playback context", out.Close))
	}
	if s := r.scheduler; s != nil {
		err = multierr.Append(err, step("stop playback", func() error {
			s.StopAll()
			return nil
		}))
	}

	return err
}

func step(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
