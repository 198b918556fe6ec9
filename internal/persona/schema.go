package persona

// Schema is a minimal JSON Schema node. Model backends convert it into their
// own structured-output types.
type Schema struct {
	Type       string             `json:"type"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
	Required   []string           `json:"required,omitempty"`
}

func str() *Schema     { return &Schema{Type: "string"} }
func integer() *Schema { return &Schema{Type: "integer"} }
func strs() *Schema    { return &Schema{Type: "array", Items: str()} }

func object(required []string, props map[string]*Schema) *Schema {
	return &Schema{Type: "object", Properties: props, Required: required}
}

// ResponseSchema describes the Persona JSON the generator must return.
// Every field is required.
func ResponseSchema() *Schema {
	return object(
		[]string{
			"basic_info", "professional_summary", "first_person_summary_for_system_prompt", "education",
			"work_experience", "skills", "projects", "hobbies_and_interests", "suggested_voice_name",
		},
		map[string]*Schema{
			"basic_info": object([]string{"full_name", "gender", "location"}, map[string]*Schema{
				"full_name": str(),
				"gender":    str(),
				"location":  str(),
			}),
			"professional_summary":                   str(),
			"first_person_summary_for_system_prompt": str(),
			"education": object([]string{"university", "degree", "graduation_year"}, map[string]*Schema{
				"university":      str(),
				"degree":          str(),
				"graduation_year": integer(),
			}),
			"work_experience": {
				Type: "array",
				Items: object([]string{"company", "role", "duration", "key_achievements"}, map[string]*Schema{
					"company":          str(),
					"role":             str(),
					"duration":         str(),
					"key_achievements": strs(),
				}),
			},
			"skills": object([]string{"technical", "soft_skills"}, map[string]*Schema{
				"technical":   strs(),
				"soft_skills": strs(),
			}),
			"projects": {
				Type: "array",
				Items: object([]string{"project_name", "description", "technologies_used"}, map[string]*Schema{
					"project_name":      str(),
					"description":       str(),
					"technologies_used": strs(),
				}),
			},
			"hobbies_and_interests": strs(),
			"suggested_voice_name":  str(),
		},
	)
}
