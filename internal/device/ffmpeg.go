// Package device opens local audio inputs and outputs for sessions run
// outside the browser: ffmpeg/ffplay processes and WAV files.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/yegors/interview-coach/internal/capture"
	"github.com/yegors/interview-coach/internal/config"
	"github.com/yegors/interview-coach/pkg/logger"
)

// FFmpegMicrophone captures the default input device with ffmpeg as s16le
// mono PCM
type FFmpegMicrophone struct {
	cfg    config.DevicesConfig
	goos   string
	logger *logger.Logger
}

// NewFFmpegMicrophone creates a microphone backed by an ffmpeg process
func NewFFmpegMicrophone(cfg config.DevicesConfig, log *logger.Logger) *FFmpegMicrophone {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &FFmpegMicrophone{cfg: cfg, goos: runtime.GOOS, logger: log.Named("ffmpeg-mic")}
}

// Open starts ffmpeg. Any failure to find or start it is returned as is;
// the session controller treats it as refused microphone access.
func (m *FFmpegMicrophone) Open(ctx context.Context) (capture.Source, error) {
	path, err := exec.LookPath(m.cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg is required for microphone capture: %w", err)
	}
	args, err := ffmpegArgs(m.goos, m.cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, args...)
	cmd.Stderr = io.Discard
	p, err := startReader(cmd)
	if err != nil {
		return nil, fmt.Errorf("start ffmpeg capture: %w", err)
	}

	m.logger.Info("Started microphone capture",
		logger.Int("pid", cmd.Process.Pid),
		logger.Int("sample_rate", m.cfg.SampleRate))
	return capture.NewPCMSource(p, m.cfg.SampleRate), nil
}

// startReader starts cmd with its stdout on a pipe this process owns, so
// the capture goroutine can keep reading while Close waits for the child
func startReader(cmd *exec.Cmd) (*process, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	// the child holds its own copy of the write end
	pw.Close()
	return &process{cmd: cmd, r: pr}, nil
}

func ffmpegArgs(goos string, cfg config.DevicesConfig) ([]string, error) {
	format, device := cfg.InputFormat, cfg.InputDevice
	if format == "" {
		switch goos {
		case "darwin":
			format = "avfoundation"
		case "linux":
			format = "pulse"
		case "windows":
			format = "dshow"
		default:
			return nil, fmt.Errorf("microphone capture is not implemented for %s; set devices.input_format", goos)
		}
	}
	if device == "" {
		switch format {
		case "avfoundation":
			device = ":0"
		case "dshow":
			device = "audio=default"
		default:
			device = "default"
		}
	}

	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format, "-i", device,
		"-ac", "1", "-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le", "-",
	}, nil
}

// FFplaySpeaker plays s16le mono PCM through an ffplay process fed on stdin
type FFplaySpeaker struct {
	path   string
	logger *logger.Logger
}

// NewFFplaySpeaker creates a speaker backed by ffplay
func NewFFplaySpeaker(cfg config.DevicesConfig, log *logger.Logger) *FFplaySpeaker {
	if log == nil {
		log = logger.Nop()
	}
	path := cfg.FFplayPath
	if path == "" {
		path = "ffplay"
	}
	return &FFplaySpeaker{path: path, logger: log.Named("ffplay")}
}

// Open starts ffplay reading sampleRate mono PCM
func (s *FFplaySpeaker) Open(ctx context.Context, sampleRate int) (io.WriteCloser, error) {
	path, err := exec.LookPath(s.path)
	if err != nil {
		return nil, fmt.Errorf("ffplay is required for playback: %w", err)
	}

	cmd := exec.Command(path, ffplayArgs(sampleRate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffplay: %w", err)
	}

	s.logger.Info("Started playback", logger.Int("pid", cmd.Process.Pid), logger.Int("sample_rate", sampleRate))
	return &process{cmd: cmd, w: stdin}, nil
}

func ffplayArgs(sampleRate int) []string {
	return []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	}
}

// process is a child process exposed through one of its pipes
type process struct {
	cmd *exec.Cmd
	r   io.ReadCloser
	w   io.WriteCloser

	mu     sync.Mutex
	closed bool
}

func (p *process) Read(b []byte) (int, error) {
	if p.r == nil {
		return 0, io.EOF
	}
	return p.r.Read(b)
}

func (p *process) Write(b []byte) (int, error) {
	if p.w == nil {
		return 0, io.ErrClosedPipe
	}
	return p.w.Write(b)
}

// Close stops the process, waits for it and then closes the pipes. A reader
// blocked on stdout sees EOF once the child exits. It is idempotent.
func (p *process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if p.w != nil {
		_ = p.w.Close()
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	err := p.cmd.Wait()
	if p.r != nil {
		_ = p.r.Close()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed on purpose
		return nil
	}
	return err
}
