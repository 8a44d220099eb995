package types

// Speaker roles as reported in a call transcript. Anything that is not the
// agent is treated as the counterpart.
const (
	SpeakerAgent = "agent"
	SpeakerUser  = "user"
)

// Message roles understood by the generation backends.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// InteractionKind identifies why the platform is asking for a new response.
type InteractionKind string

const (
	// InteractionResponseRequired means the counterpart finished a turn.
	InteractionResponseRequired InteractionKind = "response_required"
	// InteractionReminderRequired means the counterpart has been silent too long.
	InteractionReminderRequired InteractionKind = "reminder_required"
)

// Valid reports whether k requests a response.
func (k InteractionKind) Valid() bool {
	return k == InteractionResponseRequired || k == InteractionReminderRequired
}

// Utterance is one transcript turn.
type Utterance struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message is a role-tagged model input message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fragment is one unit of generated speech returned for a trigger.
type Fragment struct {
	ResponseID      int64
	Content         string
	ContentComplete bool
	EndCall         bool
}
