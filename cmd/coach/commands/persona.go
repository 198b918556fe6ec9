package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yegors/interview-coach/internal/coach"
	"github.com/yegors/interview-coach/internal/persona"
)

var (
	jobFile    string
	experience string
	gender     string
	showPrompt bool
)

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Generate a candidate persona",
	Long: `Generate a fictional candidate for a job description and print it as JSON.

Examples:
  coach persona --job job.txt --experience experienced --gender female
  cat job.txt | coach persona --job - --experience fresher --gender male`,
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

		req, err := personaRequest()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		svc, _, err := newCoach(ctx, cfg, log)
		if err != nil {
			return err
		}

		res, err := generatePersona(ctx, svc, req)
		if err != nil {
			return err
		}
		if showPrompt {
			fmt.Fprintln(os.Stderr, res.Prompt)
		}
		return printJSON(cmd.OutOrStdout(), res.Persona)
	},
}

func init() {
	addPersonaFlags(personaCmd)
	personaCmd.Flags().BoolVar(&showPrompt, "show-prompt", false, "print the generation prompt to stderr")
}

func addPersonaFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&jobFile, "job", "", "job description file, or - for stdin")
	cmd.Flags().StringVar(&experience, "experience", string(persona.Experienced), "candidate experience: fresher or experienced")
	cmd.Flags().StringVar(&gender, "gender", string(persona.Female), "candidate gender: male or female")
}

func personaRequest() (persona.Request, error) {
	jd, err := readJobDescription(jobFile)
	if err != nil {
		return persona.Request{}, err
	}
	req := persona.Request{
		JobDescription: jd,
		Experience:     persona.Experience(experience),
		Gender:         persona.Gender(gender),
	}
	return req, req.Validate()
}

// generatePersona prints the failed prompt on error so it can be inspected
func generatePersona(ctx context.Context, svc *coach.Service, req persona.Request) (*coach.PersonaResult, error) {
	res, err := svc.GeneratePersona(ctx, req)
	if err != nil {
		if res != nil {
			fmt.Fprintln(os.Stderr, res.Prompt)
		}
		return nil, err
	}
	return res, nil
}
