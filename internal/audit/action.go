package audit

import "strings"

// ActionClass classifies the type of operation for audit and approval purposes.
type ActionClass string

const (
	// ActionRead is for operations with no external effect (research,
	// lookups, drafting internal artifacts). These pose no risk outside
	// the instance's own workspace.
	ActionRead ActionClass = "read"

	// ActionWrite is for operations that create or change something outside
	// the workspace (publish, send, provision). These may require
	// policy-based or human approval depending on context.
	ActionWrite ActionClass = "write"

	// ActionDestructive is for operations that remove or revoke (unpublish,
	// delete, retract). These typically require explicit human approval.
	ActionDestructive ActionClass = "destructive"

	// ActionUnknown is for operations that haven't been classified.
	ActionUnknown ActionClass = "unknown"
)

// skillVerbClassification maps the leading verb of a skill key to its
// action class. Skill keys follow the verb-object convention the
// certification registry enforces ("publish-article", "research-topic"),
// so the first segment carries the effect.
var skillVerbClassification = map[string]ActionClass{
	// Workspace-only verbs: the output stays inside the instance.
	"research":  ActionRead,
	"analyze":   ActionRead,
	"summarize": ActionRead,
	"draft":     ActionRead,
	"review":    ActionRead,
	"classify":  ActionRead,
	"lookup":    ActionRead,
	"fetch":     ActionRead,
	"monitor":   ActionRead,
	"translate": ActionRead,
	"query":     ActionRead,

	// External-effect verbs: something leaves the workspace.
	"publish":   ActionWrite,
	"post":      ActionWrite,
	"send":      ActionWrite,
	"schedule":  ActionWrite,
	"submit":    ActionWrite,
	"create":    ActionWrite,
	"update":    ActionWrite,
	"sync":      ActionWrite,
	"provision": ActionWrite,
	"order":     ActionWrite,

	// Removal/reversal verbs.
	"unpublish": ActionDestructive,
	"delete":    ActionDestructive,
	"retract":   ActionDestructive,
	"revoke":    ActionDestructive,
	"purge":     ActionDestructive,
	"cancel":    ActionDestructive,
}

// ClassifySkill returns the action class for a skill key by its leading
// verb. Returns ActionUnknown when the verb isn't recognized — the policy
// engine's default-deny posture handles unknowns.
func ClassifySkill(skillKey string) ActionClass {
	verb, _, _ := strings.Cut(strings.ToLower(skillKey), "-")
	verb, _, _ = strings.Cut(verb, "_")
	if class, ok := skillVerbClassification[verb]; ok {
		return class
	}
	return ActionUnknown
}

// ClassifyEndpoint returns the action class for a gateway endpoint, used
// when the gateway records a request before any handler has resolved what
// it touches.
func ClassifyEndpoint(method, path string) ActionClass {
	if method == "GET" {
		return ActionRead
	}
	switch {
	case strings.Contains(path, "/audit/verify"):
		return ActionRead // verification only walks the chain
	case strings.Contains(path, "/decide"),
		strings.Contains(path, "/approve"),
		strings.Contains(path, "/deny"),
		strings.Contains(path, "/escalate"),
		strings.Contains(path, "/review"):
		return ActionWrite
	case strings.Contains(path, "/veto"),
		strings.Contains(path, "/cancel"),
		strings.Contains(path, "/interrupt"):
		return ActionDestructive
	case method == "POST" || method == "PUT":
		return ActionWrite
	default:
		return ActionUnknown
	}
}

// IsApprovalRequired returns true if this action class typically requires approval.
func (ac ActionClass) IsApprovalRequired() bool {
	switch ac {
	case ActionWrite, ActionDestructive:
		return true
	default:
		return false
	}
}

// RiskLevel returns a numeric risk level for sorting/comparison.
// Higher values indicate higher risk.
func (ac ActionClass) RiskLevel() int {
	switch ac {
	case ActionRead:
		return 0
	case ActionWrite:
		return 1
	case ActionDestructive:
		return 2
	default:
		return -1 // Unknown
	}
}
