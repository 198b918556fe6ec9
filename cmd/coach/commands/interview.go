package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yegors/interview-coach/internal/coach"
	"github.com/yegors/interview-coach/internal/device"
	"github.com/yegors/interview-coach/internal/events"
	"github.com/yegors/interview-coach/internal/metrics"
	"github.com/yegors/interview-coach/internal/persona"
	"github.com/yegors/interview-coach/internal/session"
	"github.com/yegors/interview-coach/internal/transcription"
	"github.com/yegors/interview-coach/pkg/logger"
)

var (
	personaFile string
	inputWAV    string
	outputWAV   string
	saveFile    string
	noFeedback  bool
)

var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Run a voice interview on local audio devices",
	Long: `Generate a persona and interview it in real time.

The microphone is captured with ffmpeg and the candidate is played with
ffplay; both must be on PATH unless WAV files are given instead. Press
Enter or Ctrl-D to end the interview. The transcript is printed as it is
finalized, followed by coaching feedback.

Examples:
  coach interview --job job.txt --experience experienced --gender male
  coach interview --persona persona.json --input-wav questions.wav --output-wav answers.wav`,
	RunE: runInterview,
}

func init() {
	addPersonaFlags(interviewCmd)
	interviewCmd.Flags().StringVar(&personaFile, "persona", "", "use a persona JSON file instead of generating one")
	interviewCmd.Flags().StringVar(&inputWAV, "input-wav", "", "replay a 16-bit mono WAV file as the microphone")
	interviewCmd.Flags().StringVar(&outputWAV, "output-wav", "", "record the candidate into a WAV file instead of playing it")
	interviewCmd.Flags().StringVar(&saveFile, "save", "", "write the transcript JSON to this file")
	interviewCmd.Flags().BoolVar(&noFeedback, "no-feedback", false, "skip feedback generation")
}

func runInterview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, renderer, err := newCoach(sigCtx, cfg, log)
	if err != nil {
		return err
	}

	p, err := loadPersona(sigCtx, svc)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Interviewing %s (voice %s)\n", p.BasicInfo.FullName, p.SuggestedVoiceName)

	var mic session.Microphone = device.NewFFmpegMicrophone(cfg.Devices, log)
	if inputWAV != "" {
		mic = device.WAVFileMicrophone{Path: inputWAV, Realtime: true}
	}
	var speaker session.Speaker = device.NewFFplaySpeaker(cfg.Devices, log)
	if outputWAV != "" {
		speaker = device.WAVFileSpeaker{Path: outputWAV}
	}

	publisher := events.New(cfg.Events, metrics.DefaultMetrics, log)
	defer publisher.Close()

	console := newConsoleObserver(cmd.OutOrStdout(), os.Stderr)
	ctrl, err := session.NewController(session.Options{
		Model:              cfg.Gemini.LiveModel,
		Microphone:         mic,
		Speaker:            speaker,
		Dialer:             session.LiveDialer{Client: newLiveClient(cfg, log)},
		Instructions:       renderer,
		Observer:           session.Observers{console, publisher.Observer()},
		Metrics:            metrics.DefaultMetrics,
		CaptureSampleRate:  cfg.Audio.CaptureSampleRate,
		PlaybackSampleRate: cfg.Audio.PlaybackSampleRate,
		BlockSize:          cfg.Audio.BlockSize,
		RenderInterval:     cfg.Audio.RenderInterval(),
		ConnectTimeout:     cfg.Gemini.ConnectTimeout(),
		StopTimeout:        cfg.Audio.StopTimeout(),
		Logger:             log,
	})
	if err != nil {
		return err
	}

	startErr := make(chan error, 1)
	go func() { startErr <- ctrl.Start(context.Background(), p) }()
	select {
	case err := <-startErr:
		if err != nil {
			return err
		}
	case <-sigCtx.Done():
		_ = ctrl.Stop()
		<-startErr
		return sigCtx.Err()
	}

	fmt.Fprintln(os.Stderr, "Press Enter or Ctrl-D to end the interview")
	stdinDone := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		close(stdinDone)
	}()

	select {
	case <-sigCtx.Done():
	case <-stdinDone:
	case <-console.ended:
	}
	stop()

	transcript, err := ctrl.End()
	if err != nil {
		log.Warn("Session release was incomplete", logger.Error(err))
	}
	id := ctrl.Snapshot().SessionID
	if err := publisher.PublishSessionEnded(cmd.Context(), id, transcript); err != nil {
		log.Warn("Failed to publish session end", logger.Error(err))
	}

	if saveFile != "" {
		if err := saveTranscript(saveFile, id, transcript); err != nil {
			return err
		}
	}
	if noFeedback {
		return nil
	}

	fmt.Fprintln(os.Stderr, "Generating feedback...")
	res, err := svc.Feedback(cmd.Context(), transcript)
	if res != nil {
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), res.Feedback)
	}
	return err
}

func loadPersona(ctx context.Context, svc *coach.Service) (*persona.Persona, error) {
	if personaFile != "" {
		data, err := readInput(personaFile)
		if err != nil {
			return nil, err
		}
		var p persona.Persona
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid persona file: %w", err)
		}
		return &p, p.Validate()
	}

	req, err := personaRequest()
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(os.Stderr, "Generating persona...")
	res, err := generatePersona(ctx, svc, req)
	if err != nil {
		return nil, err
	}
	return res.Persona, nil
}

func saveTranscript(path, sessionID string, transcript []transcription.Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	return printJSON(f, map[string]any{
		"session_id": sessionID,
		"transcript": transcript,
	})
}

// consoleObserver prints entries to out and status changes to errOut. It
// closes ended when an active session goes idle on its own.
type consoleObserver struct {
	out, errOut io.Writer
	active      bool
	ended       chan struct{}
	once        sync.Once
}

func newConsoleObserver(out, errOut io.Writer) *consoleObserver {
	return &consoleObserver{out: out, errOut: errOut, ended: make(chan struct{})}
}

func (o *consoleObserver) OnStatus(_ string, state session.State, status string) {
	fmt.Fprintf(o.errOut, "[%s]\n", status)
	switch state {
	case session.StateActive:
		o.active = true
	case session.StateIdle:
		if o.active {
			o.once.Do(func() { close(o.ended) })
		}
	}
}

func (o *consoleObserver) OnLive(string, transcription.LiveText) {}

func (o *consoleObserver) OnEntries(_ string, entries []transcription.Entry) {
	for _, e := range entries {
		fmt.Fprintln(o.out, e.String())
	}
}
