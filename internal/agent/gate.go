package agent

import (
	"fmt"
	"log/slog"

	"github.com/shepherd-ai/shepherd/internal/profiles"
	"github.com/shepherd-ai/shepherd/pkg/models"
)

// approvalGranted reports whether a human answer approves the gated call.
// Only the literal "yes" approves; anything else, including cased or
// padded variants, cancels.
func approvalGranted(answer string) bool {
	return answer == "yes"
}

// renderConfirmation builds the confirmation envelope for a tool call when
// the profile gates it. Returns gated=false for ungated calls and for rules
// whose kind has no payload mapping; the latter is a configuration mistake
// and is logged, never enforced as a gate.
func renderConfirmation(profile *profiles.Profile, call models.ToolCall, logger *slog.Logger) (payload string, gated bool, err error) {
	rule, found := profile.RuleFor(call.Name)
	if !found {
		return "", false, nil
	}

	var body any
	var confirmType string
	switch rule.Kind {
	case profiles.ActionCreate:
		body = call.Args["resource"]
		confirmType = "create"
	case profiles.ActionUpdate:
		body = call.Args["patch"]
		confirmType = "update"
	default:
		logger.Error("validation rule kind has no confirmation mapping, tool will run ungated",
			"tool", call.Name, "kind", string(rule.Kind))
		return "", false, nil
	}

	confirmation := models.Confirmation{
		Payload: body,
		Type:    confirmType,
		Resource: models.ConfirmationResource{
			Name:      argString(call.Args, "name"),
			Kind:      argString(call.Args, "kind"),
			Cluster:   argString(call.Args, "cluster"),
			Namespace: argString(call.Args, "namespace"),
		},
	}
	encoded, err := confirmation.Encode()
	if err != nil {
		return "", false, fmt.Errorf("render confirmation for %s: %w", call.Name, err)
	}
	return encoded, true, nil
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}
