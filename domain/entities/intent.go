package entities

import "strings"

// Intent is a UI action a spoken command can trigger
type Intent string

const (
	IntentCreateProposal                 Intent = "create-proposal"
	IntentGenerateProposalOutline        Intent = "generate-proposal-outline"
	IntentEditProposalDescription        Intent = "edit-proposal-description"
	IntentEditProposalRequestDescription Intent = "edit-proposal-request-description"
)

var intentsByRole = map[Role][]Intent{
	RoleClient: {
		IntentEditProposalRequestDescription,
	},
	RoleContractor: {
		IntentCreateProposal,
		IntentGenerateProposalOutline,
		IntentEditProposalDescription,
	},
}

// AllowedIntents returns the intents a role may trigger, in a stable order.
// Unknown roles get none.
func AllowedIntents(role Role) []Intent {
	allowed := intentsByRole[role]
	out := make([]Intent, len(allowed))
	copy(out, allowed)
	return out
}

// IsAllowed reports whether role may trigger intent
func IsAllowed(role Role, intent Intent) bool {
	for _, i := range intentsByRole[role] {
		if i == intent {
			return true
		}
	}
	return false
}

// IsEdit reports whether the intent rewrites an existing description
func (i Intent) IsEdit() bool {
	return i == IntentEditProposalDescription || i == IntentEditProposalRequestDescription
}

// ParseIntent matches a free-form label against the given allowed set.
// Quotes, surrounding punctuation and case are ignored. Anything outside the
// set, including "null" or "none", yields nil.
func ParseIntent(label string, allowed []Intent) *Intent {
	normalized := strings.ToLower(strings.TrimSpace(label))
	normalized = strings.Trim(normalized, "\"'`.,;: \n\t")
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	for _, i := range allowed {
		if string(i) == normalized {
			intent := i
			return &intent
		}
	}
	return nil
}

// VoiceIntentResult is the outcome of resolving one voice command
type VoiceIntentResult struct {
	Intent        *Intent `json:"intent"`
	Transcription string  `json:"text"`
}

// HasIntent reports whether the result carries a recognised intent
func (r VoiceIntentResult) HasIntent() bool {
	return r.Intent != nil
}
