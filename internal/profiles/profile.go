// Package profiles defines agent profiles: the declarative description of
// each specialized agent, its tool server connection and its human-approval
// rules. Profiles are loaded from YAML documents and validated against a
// JSON schema before use.
package profiles

import (
	"fmt"
	"strings"

	"github.com/shepherd-ai/shepherd/internal/mcp"
)

// ActionKind classifies the mutation a gated tool call performs.
type ActionKind string

const (
	ActionCreate ActionKind = "CREATE"
	ActionUpdate ActionKind = "UPDATE"
	ActionDelete ActionKind = "DELETE"
)

// ValidationRule gates one tool behind human approval.
type ValidationRule struct {
	// ToolName selects the gated tool by exact name.
	ToolName string `yaml:"toolName" json:"toolName"`

	// Kind determines which argument becomes the confirmation payload:
	// CREATE uses "resource", UPDATE uses "patch".
	Kind ActionKind `yaml:"kind" json:"kind"`
}

// AuthConfig describes how an agent authenticates against its tool server.
type AuthConfig struct {
	// Mode is "none", "token" or "basic".
	Mode mcp.AuthMode `yaml:"mode" json:"mode"`

	// Token and Origin apply in token mode. Origin is the management URL
	// the token was issued for.
	Token  string `yaml:"token,omitempty" json:"token,omitempty"`
	Origin string `yaml:"origin,omitempty" json:"origin,omitempty"`

	// SecretName references a stored username/password pair in basic mode.
	SecretName string `yaml:"secretName,omitempty" json:"secretName,omitempty"`
}

// Profile describes one specialized agent.
type Profile struct {
	// Name is the unique agent identifier used by the router.
	Name string `yaml:"name" json:"name"`

	// Description tells the router what this agent is good at.
	Description string `yaml:"description" json:"description"`

	// SystemPrompt is the agent's base instruction block.
	SystemPrompt string `yaml:"systemPrompt" json:"systemPrompt"`

	// Endpoint is the tool server address without scheme.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	Auth AuthConfig `yaml:"auth" json:"auth"`

	// Toolset restricts the agent to tools whose metadata toolset tag
	// equals this value exactly. Empty admits every advertised tool.
	Toolset string `yaml:"toolset,omitempty" json:"toolset,omitempty"`

	// Enabled excludes the profile from construction when false.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ValidationRules list the tools requiring human approval.
	ValidationRules []ValidationRule `yaml:"validationRules,omitempty" json:"validationRules,omitempty"`
}

// RuleFor returns the validation rule matching a tool name, if any.
func (p *Profile) RuleFor(toolName string) (ValidationRule, bool) {
	for _, rule := range p.ValidationRules {
		if rule.ToolName == toolName {
			return rule, true
		}
	}
	return ValidationRule{}, false
}

// Validate checks constraints the JSON schema cannot express.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name is required")
	}
	if strings.TrimSpace(p.Endpoint) == "" {
		return fmt.Errorf("profile %s: endpoint is required", p.Name)
	}
	switch p.Auth.Mode {
	case mcp.AuthNone, "":
	case mcp.AuthToken:
		if p.Auth.Token == "" {
			return fmt.Errorf("profile %s: token auth requires a token", p.Name)
		}
	case mcp.AuthBasic:
		if p.Auth.SecretName == "" {
			return fmt.Errorf("profile %s: basic auth requires a secret name", p.Name)
		}
	default:
		return fmt.Errorf("profile %s: unknown auth mode %q", p.Name, p.Auth.Mode)
	}
	for _, rule := range p.ValidationRules {
		switch rule.Kind {
		case ActionCreate, ActionUpdate, ActionDelete:
		default:
			return fmt.Errorf("profile %s: unknown validation kind %q for tool %s", p.Name, rule.Kind, rule.ToolName)
		}
	}
	return nil
}

// Defaults returns the built-in agent profiles used when the profile
// directory has no documents yet.
func Defaults() []*Profile {
	return []*Profile{
		{
			Name:         "platform",
			Description:  "Manages clusters, workloads, and platform resources.",
			SystemPrompt: "You are a platform operations assistant. Use the available tools to inspect and manage clusters and workloads. Prefer read-only tools unless the user asks for a change.",
			Endpoint:     "localhost:8800/mcp",
			Auth:         AuthConfig{Mode: mcp.AuthNone},
			Enabled:      true,
			ValidationRules: []ValidationRule{
				{ToolName: "create_resource", Kind: ActionCreate},
				{ToolName: "patch_resource", Kind: ActionUpdate},
			},
		},
		{
			Name:         "delivery",
			Description:  "Manages continuous delivery pipelines and GitOps deployments.",
			SystemPrompt: "You are a continuous delivery assistant. Use the available tools to inspect and manage deployment pipelines and their targets.",
			Endpoint:     "localhost:8801/mcp",
			Auth:         AuthConfig{Mode: mcp.AuthNone},
			Toolset:      "delivery",
			Enabled:      true,
		},
	}
}
