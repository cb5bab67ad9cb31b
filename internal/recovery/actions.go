package recovery

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ingest-cli/internal/model"
)

// ActionKind is a recovery action a user can pick for a ParsedError.
type ActionKind string

const (
	ActionRetry             ActionKind = "retry"
	ActionRetryWithDelay    ActionKind = "retry_with_delay"
	ActionGoToFileSelection ActionKind = "go_to_file_selection"
	ActionGoToSchemaReview  ActionKind = "go_to_schema_review"
	ActionGoToMapping       ActionKind = "go_to_mapping"
	ActionSwitchToAdvanced  ActionKind = "switch_to_advanced"
	ActionSwitchToQuick     ActionKind = "switch_to_quick"
	ActionSwitchToCreate    ActionKind = "switch_to_create"
	ActionSkipAdvisory      ActionKind = "skip_advisory"
	ActionReauthenticate    ActionKind = "reauthenticate"
	ActionContactAdmin      ActionKind = "contact_admin"
	ActionCancel            ActionKind = "cancel_upload"
)

var actionLabels = map[ActionKind]string{
	ActionRetry:             "Try again",
	ActionRetryWithDelay:    "Retry shortly",
	ActionGoToFileSelection: "Choose another file",
	ActionGoToSchemaReview:  "Review schema",
	ActionGoToMapping:       "Fix column mappings",
	ActionSwitchToAdvanced:  "Switch to advanced mapping",
	ActionSwitchToQuick:     "Switch to quick upload",
	ActionSwitchToCreate:    "Create a new table",
	ActionSkipAdvisory:      "Continue without recommendations",
	ActionReauthenticate:    "Sign in again",
	ActionContactAdmin:      "Contact an administrator",
	ActionCancel:            "Cancel upload",
}

// Label returns the button text for a.
func (a ActionKind) Label() string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

// IntentType tells the orchestrator what kind of step an action asks for.
type IntentType string

const (
	IntentNavigate  IntentType = "navigate"
	IntentConfigure IntentType = "configure"
	IntentRetry     IntentType = "retry"
	IntentCancel    IntentType = "cancel"
	IntentExternal  IntentType = "external"
)

// Intent is the resolved form of an action. The orchestrator applies it;
// this package never touches session state.
type Intent struct {
	Type   IntentType  `json:"type"`
	Action ActionKind  `json:"action"`
	Phase  model.Phase `json:"phase,omitempty"`

	// Configure fields; zero values mean unchanged.
	UploadMode    model.UploadMode    `json:"upload_mode,omitempty"`
	OperationMode model.OperationMode `json:"operation_mode,omitempty"`
	SkipAdvisory  bool                `json:"skip_advisory,omitempty"`

	Delay  time.Duration `json:"delay,omitempty"`
	Target string        `json:"target,omitempty"`
}

// ErrUnknownAction is returned by Resolve for actions it does not know.
var ErrUnknownAction = eris.New("recovery: unknown action")

// Resolve turns action into an intent for err. attempt is the number of
// retries already made and only affects delayed retries.
func Resolve(action ActionKind, err *ParsedError, attempt int) (Intent, error) {
	in := Intent{Action: action}
	switch action {
	case ActionRetry:
		in.Type = IntentRetry
	case ActionRetryWithDelay:
		in.Type = IntentRetry
		cfg := quickRetry
		if err != nil && err.Retry != nil {
			cfg = err.Retry
		}
		in.Delay = RetryDelay(attempt, *cfg)
	case ActionGoToFileSelection:
		in.Type, in.Phase = IntentNavigate, model.PhaseFileSelection
	case ActionGoToSchemaReview:
		in.Type, in.Phase = IntentNavigate, model.PhaseSchemaCompatibility
	case ActionGoToMapping:
		in.Type, in.Phase = IntentNavigate, model.PhaseColumnMapping
	case ActionSwitchToAdvanced:
		in.Type, in.UploadMode = IntentConfigure, model.ModeAdvanced
	case ActionSwitchToQuick:
		in.Type, in.UploadMode = IntentConfigure, model.ModeQuick
	case ActionSwitchToCreate:
		in.Type, in.OperationMode = IntentConfigure, model.OperationCreate
	case ActionSkipAdvisory:
		in.Type, in.SkipAdvisory = IntentConfigure, true
	case ActionReauthenticate:
		in.Type, in.Target = IntentExternal, "auth"
	case ActionContactAdmin:
		in.Type, in.Target = IntentExternal, "admin"
	case ActionCancel:
		in.Type = IntentCancel
	default:
		return Intent{}, eris.Wrapf(ErrUnknownAction, "%q", action)
	}
	return in, nil
}

// Offers reports whether err lists action among its suggestions. Cancel is
// always available.
func (e *ParsedError) Offers(action ActionKind) bool {
	if action == ActionCancel {
		return true
	}
	for _, a := range e.Actions {
		if a == action {
			return true
		}
	}
	return false
}
