package auth

import "context"

// Action names an operation a principal may perform on an execution.
type Action string

const (
	// ActionExecute guards SubmitExecution.
	ActionExecute Action = "workflow:execute"
	// ActionCancel guards CancelExecution.
	ActionCancel Action = "workflow:cancel"
	// ActionRead guards GetExecution.
	ActionRead Action = "workflow:read"
)

// Authorizer is the identity/credential check consulted before an
// execution is started, read, or cancelled. Implementations live outside
// the engine; denial is final and surfaces as an UNAUTHORIZED error.
type Authorizer interface {
	Authorize(ctx context.Context, principal string, action Action, resourceID string) bool
}

// AllowAll authorizes every request. Development use only.
type AllowAll struct{}

// Authorize implements Authorizer.
func (AllowAll) Authorize(context.Context, string, Action, string) bool { return true }

// Static authorizes principals against a fixed grant table.
type Static struct {
	grants map[string]map[Action]bool
}

// NewStatic builds a static authorizer from a principal → actions table.
func NewStatic(grants map[string][]Action) *Static {
	s := &Static{grants: make(map[string]map[Action]bool, len(grants))}
	for principal, actions := range grants {
		set := make(map[Action]bool, len(actions))
		for _, a := range actions {
			set[a] = true
		}
		s.grants[principal] = set
	}
	return s
}

// Authorize implements Authorizer.
func (s *Static) Authorize(_ context.Context, principal string, action Action, _ string) bool {
	return s.grants[principal][action]
}
