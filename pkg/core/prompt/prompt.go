// Package prompt turns a call transcript into generation-ready input.
//
// The prompt text itself is configuration data: a Template is decoded once
// from YAML (the embedded default or a file) and Translate is a pure function
// of its inputs.
package prompt

import (
	_ "embed"
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-retell/pkg/core/types"
)

// NotProvided is substituted for any call field that is absent.
const NotProvided = "Not provided"

//go:embed default_prompt.yaml
var defaultPromptYAML []byte

type templateFile struct {
	Greeting    string `yaml:"greeting"`
	Reminder    string `yaml:"reminder"`
	Apology     string `yaml:"apology"`
	// BusyApology is optional and falls back to Apology.
	BusyApology string `yaml:"busy_apology"`
	Preamble    string `yaml:"preamble"`
	Role        string `yaml:"role"`
}

// Template holds the parsed prompt configuration.
type Template struct {
	greeting    string
	reminder    string
	apology     string
	busyApology string
	preamble    string
	role        *template.Template
}

// Default returns the embedded prompt template.
func Default() *Template {
	t, err := Parse(defaultPromptYAML)
	if err != nil {
		panic(fmt.Sprintf("prompt: embedded default is invalid: %v", err))
	}
	return t
}

// Load reads a template from path. An empty path selects the embedded default.
func Load(path string) (*Template, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %q: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("prompt file %q: %w", path, err)
	}
	return t, nil
}

// Parse decodes a YAML prompt definition.
func Parse(data []byte) (*Template, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	required := map[string]string{
		"greeting": f.Greeting,
		"reminder": f.Reminder,
		"apology":  f.Apology,
		"preamble": f.Preamble,
		"role":     f.Role,
	}
	for _, key := range []string{"greeting", "reminder", "apology", "preamble", "role"} {
		if strings.TrimSpace(required[key]) == "" {
			return nil, fmt.Errorf("%s must not be empty", key)
		}
	}

	role, err := template.New("role").Option("missingkey=error").Parse(f.Role)
	if err != nil {
		return nil, fmt.Errorf("parse role template: %w", err)
	}
	// Catch references to unknown fields at load time rather than mid-call.
	if err := role.Execute(&bytes.Buffer{}, newRoleData(nil)); err != nil {
		return nil, fmt.Errorf("render role template: %w", err)
	}

	busy := strings.TrimSpace(f.BusyApology)
	if busy == "" {
		busy = strings.TrimSpace(f.Apology)
	}
	return &Template{
		greeting:    strings.TrimSpace(f.Greeting),
		reminder:    strings.TrimSpace(f.Reminder),
		apology:     strings.TrimSpace(f.Apology),
		busyApology: busy,
		preamble:    strings.TrimSpace(f.Preamble),
		role:        role,
	}, nil
}

// Greeting is the opening line spoken when a call session starts.
func (t *Template) Greeting() string { return t.greeting }

// Apology is spoken in place of a response when generation fails.
func (t *Template) Apology() string { return t.apology }

// BusyApology is spoken instead of Apology when the failure is transient.
func (t *Template) BusyApology() string { return t.busyApology }

// Translate builds the system instructions and the ordered message list for
// one trigger. It performs no I/O and returns identical output for identical
// input.
func (t *Template) Translate(transcript []types.Utterance, kind types.InteractionKind, fields *types.CallFields) (string, []types.Message) {
	messages := make([]types.Message, 0, len(transcript)+1)
	for _, u := range transcript {
		role := types.RoleUser
		if u.Role == types.SpeakerAgent {
			role = types.RoleAssistant
		}
		messages = append(messages, types.Message{Role: role, Content: u.Content})
	}
	if kind == types.InteractionReminderRequired {
		messages = append(messages, types.Message{Role: types.RoleUser, Content: t.reminder})
	}
	return t.SystemInstructions(fields), messages
}

// SystemInstructions renders the preamble followed by the role description.
func (t *Template) SystemInstructions(fields *types.CallFields) string {
	var b strings.Builder
	b.WriteString(t.preamble)
	b.WriteString("\n\n## Role\n")
	b.WriteString(t.renderRole(fields))
	return b.String()
}

func (t *Template) renderRole(fields *types.CallFields) string {
	var buf bytes.Buffer
	if err := t.role.Execute(&buf, newRoleData(fields)); err != nil {
		// Parse already rendered this template once; fall back to generic data.
		buf.Reset()
		_ = t.role.Execute(&buf, newRoleData(nil))
	}
	return buf.String()
}

type roleData struct {
	ProviderName          string
	NPINumber             string
	TaxID                 string
	Specialty             string
	ScenarioType          string
	LineOfBusiness        string
	Payer                 string
	OrganizationName      string
	IdentifierInstruction string
}

func newRoleData(fields *types.CallFields) roleData {
	var f types.CallFields
	if fields != nil {
		f = *fields
	}
	return roleData{
		ProviderName:          orNotProvided(f.ProviderName),
		NPINumber:             orNotProvided(f.NPINumber),
		TaxID:                 orNotProvided(f.TaxID),
		Specialty:             orNotProvided(f.Specialty),
		ScenarioType:          orNotProvided(f.ScenarioType),
		LineOfBusiness:        orNotProvided(f.LineOfBusiness),
		Payer:                 orDefault(f.Payer, "the health plan"),
		OrganizationName:      orNotProvided(f.OrganizationName),
		IdentifierInstruction: identifierInstruction(f),
	}
}

func identifierInstruction(f types.CallFields) string {
	switch f.Scenario() {
	case types.ScenarioExisting:
		return fmt.Sprintf("This is an existing-state scenario: identify the provider with the Tax ID (TIN) %s.", orNotProvided(f.TaxID))
	case types.ScenarioNew:
		return fmt.Sprintf("This is a new-state expansion: identify the provider with the NPI number %s.", orNotProvided(f.NPINumber))
	default:
		return "Identify the provider with the Tax ID (TIN) for existing-state scenarios or the NPI number for new-state expansions; offer whichever is available."
	}
}

func orNotProvided(s string) string {
	return orDefault(s, NotProvided)
}

func orDefault(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}
