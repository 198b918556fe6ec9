package commands

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yegors/interview-coach/internal/transcription"
)

var transcriptFile string

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Generate coaching feedback for a transcript",
	Long: `Assess a saved interview transcript and print Markdown feedback.

The transcript file holds either a JSON array of {"speaker","text"} entries
or an object with a "transcript" array, as written by 'coach interview --save'.

Examples:
  coach feedback --transcript interview.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()

		if transcriptFile == "" {
			return fmt.Errorf("--transcript is required")
		}
		data, err := readInput(transcriptFile)
		if err != nil {
			return err
		}
		entries, err := parseTranscript(data)
		if err != nil {
			return err
		}

		svc, _, err := newCoach(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		res, err := svc.Feedback(cmd.Context(), entries)
		if res != nil {
			fmt.Fprintln(cmd.OutOrStdout(), res.Feedback)
		}
		return err
	},
}

func init() {
	feedbackCmd.Flags().StringVar(&transcriptFile, "transcript", "", "transcript JSON file, or - for stdin")
}

func parseTranscript(data []byte) ([]transcription.Entry, error) {
	data = bytes.TrimSpace(data)

	var entries []transcription.Entry
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("invalid transcript: %w", err)
		}
	} else {
		var doc struct {
			Transcript []transcription.Entry `json:"transcript"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid transcript: %w", err)
		}
		entries = doc.Transcript
	}

	for i, e := range entries {
		if !e.Speaker.Valid() {
			return nil, fmt.Errorf("transcript entry %d: unknown speaker %q", i, e.Speaker)
		}
	}
	return entries, nil
}
