// Package intent maps free-form user input to a workflow action.
package intent

import "strings"

// Action is one of the five operations the orchestrator can run.
type Action int

const (
	ActionExplore Action = iota
	ActionDesign
	ActionImplement
	ActionVerify
	ActionChat
)

// String returns the lowercase action name.
func (a Action) String() string {
	switch a {
	case ActionExplore:
		return "explore"
	case ActionDesign:
		return "design"
	case ActionImplement:
		return "implement"
	case ActionVerify:
		return "verify"
	case ActionChat:
		return "chat"
	default:
		return "unknown"
	}
}

// IsURL reports whether text looks like a URL the backend can explore.
func IsURL(text string) bool {
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Classify determines the action for the given user input.
//
// The rules form a precedence table, checked in order with first match
// winning: a URL always means explore, regardless of any keywords that
// follow it. hasTestCases tells the classifier whether the session already
// holds designed test cases; "test case" wording only triggers a design
// when none exist yet (otherwise it is conversation about them).
func Classify(input string, hasTestCases bool) Action {
	text := strings.TrimSpace(input)
	lower := strings.ToLower(text)

	switch {
	case IsURL(text):
		return ActionExplore
	case strings.Contains(lower, "design") ||
		(strings.Contains(lower, "test case") && !hasTestCases):
		return ActionDesign
	case strings.Contains(lower, "implement") || strings.Contains(lower, "code"):
		return ActionImplement
	case strings.Contains(lower, "verify") || strings.Contains(lower, "run"):
		return ActionVerify
	default:
		return ActionChat
	}
}
