package persona

import (
	"errors"
	"fmt"
	"strings"
)

// Experience is the seniority the generated candidate should have
type Experience string

const (
	Fresher     Experience = "fresher"
	Experienced Experience = "experienced"
)

// Gender selects the persona's gender and, through it, the voice
type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// Prebuilt voice names on the live service
const (
	VoiceMale   = "Puck"
	VoiceFemale = "Kore"
)

// ErrInvalidRequest is returned by Request.Validate
var ErrInvalidRequest = errors.New("invalid persona request")

// ErrInvalidPersona is returned by Persona.Validate
var ErrInvalidPersona = errors.New("invalid persona")

// Request is the input to persona generation
type Request struct {
	JobDescription string     `json:"job_description"`
	Experience     Experience `json:"experience"`
	Gender         Gender     `json:"gender"`
}

// Validate checks that every field is present and in range
func (r Request) Validate() error {
	if strings.TrimSpace(r.JobDescription) == "" {
		return fmt.Errorf("%w: job description is required", ErrInvalidRequest)
	}
	switch r.Experience {
	case Fresher, Experienced:
	default:
		return fmt.Errorf("%w: experience must be %q or %q, got %q", ErrInvalidRequest, Fresher, Experienced, r.Experience)
	}
	switch r.Gender {
	case Male, Female:
	default:
		return fmt.Errorf("%w: gender must be %q or %q, got %q", ErrInvalidRequest, Male, Female, r.Gender)
	}
	return nil
}

// VoiceFor returns the fixed voice for a gender preference
func VoiceFor(g Gender) string {
	if g == Female {
		return VoiceFemale
	}
	return VoiceMale
}

// BasicInfo holds identity fields
type BasicInfo struct {
	FullName string `json:"full_name"`
	Gender   string `json:"gender"`
	Location string `json:"location"`
}

// Education holds the candidate's highest degree
type Education struct {
	University     string `json:"university"`
	Degree         string `json:"degree"`
	GraduationYear int    `json:"graduation_year"`
}

// WorkExperience is one past role
type WorkExperience struct {
	Company         string   `json:"company"`
	Role            string   `json:"role"`
	Duration        string   `json:"duration"`
	KeyAchievements []string `json:"key_achievements"`
}

// Skills splits skills into technical and soft
type Skills struct {
	Technical  []string `json:"technical"`
	SoftSkills []string `json:"soft_skills"`
}

// Project is a portfolio project
type Project struct {
	ProjectName      string   `json:"project_name"`
	Description      string   `json:"description"`
	TechnologiesUsed []string `json:"technologies_used"`
}

// Persona is a generated fictional candidate. A session only reads the
// first-person summary, the full name and the voice; the rest is shown to
// the interviewer.
type Persona struct {
	BasicInfo                         BasicInfo        `json:"basic_info"`
	ProfessionalSummary               string           `json:"professional_summary"`
	FirstPersonSummaryForSystemPrompt string           `json:"first_person_summary_for_system_prompt"`
	Education                         Education        `json:"education"`
	WorkExperience                    []WorkExperience `json:"work_experience"`
	Skills                            Skills           `json:"skills"`
	Projects                          []Project        `json:"projects"`
	HobbiesAndInterests               []string         `json:"hobbies_and_interests"`
	SuggestedVoiceName                string           `json:"suggested_voice_name"`
}

// Validate checks the fields a live session depends on
func (p *Persona) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil", ErrInvalidPersona)
	}
	if strings.TrimSpace(p.FirstPersonSummaryForSystemPrompt) == "" {
		return fmt.Errorf("%w: first person summary is empty", ErrInvalidPersona)
	}
	if strings.TrimSpace(p.BasicInfo.FullName) == "" {
		return fmt.Errorf("%w: full name is empty", ErrInvalidPersona)
	}
	switch p.SuggestedVoiceName {
	case VoiceMale, VoiceFemale:
	default:
		return fmt.Errorf("%w: voice %q is not %s or %s", ErrInvalidPersona, p.SuggestedVoiceName, VoiceMale, VoiceFemale)
	}
	return nil
}
