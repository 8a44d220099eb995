package types

import "strings"

// CallFields holds the per-call facts used to personalize the task prompt.
// Every field is optional; an empty string means "not provided".
type CallFields struct {
	ProviderName     string `json:"provider_name,omitempty"`
	NPINumber        string `json:"npi_number,omitempty"`
	TaxID            string `json:"tax_id,omitempty"`
	Specialty        string `json:"specialty,omitempty"`
	ScenarioType     string `json:"scenario_type,omitempty"`
	LineOfBusiness   string `json:"line_of_business,omitempty"`
	Payer            string `json:"payer,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
}

// Scenario classifies which identifier the agent should present.
type Scenario int

const (
	ScenarioUnknown Scenario = iota
	ScenarioExisting
	ScenarioNew
)

// Scenario maps the free-form scenario_type onto a Scenario. Values such as
// "existing_state" or "Existing" are existing; "new_state_expansion" or "new"
// are new.
func (f CallFields) Scenario() Scenario {
	s := strings.ToLower(strings.TrimSpace(f.ScenarioType))
	switch {
	case strings.HasPrefix(s, "existing"):
		return ScenarioExisting
	case strings.HasPrefix(s, "new"):
		return ScenarioNew
	default:
		return ScenarioUnknown
	}
}

// Count returns the number of non-empty fields.
func (f CallFields) Count() int {
	n := 0
	for _, v := range f.values() {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}

// IsEmpty reports whether no field is set.
func (f CallFields) IsEmpty() bool {
	return f.Count() == 0
}

func (f CallFields) values() []string {
	return []string{
		f.ProviderName,
		f.NPINumber,
		f.TaxID,
		f.Specialty,
		f.ScenarioType,
		f.LineOfBusiness,
		f.Payer,
		f.OrganizationName,
	}
}

// CallFieldsFromMap reads the known keys out of a loosely typed mapping such
// as retell_llm_dynamic_variables. Unknown keys are ignored.
func CallFieldsFromMap(m map[string]string) CallFields {
	get := func(key string) string {
		return strings.TrimSpace(m[key])
	}
	return CallFields{
		ProviderName:     get("provider_name"),
		NPINumber:        get("npi_number"),
		TaxID:            get("tax_id"),
		Specialty:        get("specialty"),
		ScenarioType:     get("scenario_type"),
		LineOfBusiness:   get("line_of_business"),
		Payer:            get("payer"),
		OrganizationName: get("organization_name"),
	}
}
