package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shepherd-ai/shepherd/internal/agent"
	"github.com/shepherd-ai/shepherd/internal/config"
	"github.com/shepherd-ai/shepherd/internal/mcp"
	"github.com/shepherd-ai/shepherd/internal/observability"
	"github.com/shepherd-ai/shepherd/internal/profiles"
	"github.com/shepherd-ai/shepherd/internal/routing"
	"github.com/shepherd-ai/shepherd/internal/secrets"
	"github.com/shepherd-ai/shepherd/pkg/models"
)

// ErrNoAgentAvailable means every configured profile failed to construct.
var ErrNoAgentAvailable = errors.New("no agent available")

// ConstructionError records why one agent could not be built.
type ConstructionError struct {
	Agent string
	Err   error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// ConstructionErrors aggregates per-agent failures. Partial failure is not
// fatal; callers only see this alongside ErrNoAgentAvailable or through
// logs and status reports.
type ConstructionErrors []*ConstructionError

func (e ConstructionErrors) Error() string {
	parts := make([]string, len(e))
	for i, c := range e {
		parts[i] = c.Error()
	}
	return strings.Join(parts, "; ")
}

// Factory builds the per-conversation agent set from loaded profiles.
type Factory struct {
	provider agent.ModelProvider
	secrets  secrets.Store
	reporter *profiles.Reporter
	events   models.EventSink
	config   *config.Config
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewFactory(provider agent.ModelProvider, secretStore secrets.Store, reporter *profiles.Reporter, events models.EventSink, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	if reporter == nil {
		reporter = profiles.NewReporter(nil, logger)
	}
	return &Factory{
		provider: provider,
		secrets:  secretStore,
		reporter: reporter,
		events:   events,
		config:   cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// agentSet is the built runtime for one conversation: turn controllers per
// agent plus the router when more than one agent survived construction.
type agentSet struct {
	profiles    []*profiles.Profile
	controllers map[string]*agent.TurnController
	compactor   *agent.Compactor
	router      *routing.Router
}

func (s *agentSet) controller(name string) (*agent.TurnController, error) {
	c, ok := s.controllers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", routing.ErrUnknownAgent, name)
	}
	return c, nil
}

// single returns the lone agent's name in single-agent mode.
func (s *agentSet) single() string {
	return s.profiles[0].Name
}

// Build connects to each profile's tool server and assembles the agent
// set. Profiles that fail to connect or end up with zero tools are
// skipped with a Failed status report; at least one must survive.
func (f *Factory) Build(ctx context.Context, profs []*profiles.Profile) (*agentSet, error) {
	var (
		survivors []*profiles.Profile
		boxes     = make(map[string]*mcpToolbox)
		failures  ConstructionErrors
	)

	for _, profile := range profs {
		box, err := f.buildToolbox(ctx, profile)
		if err != nil {
			failures = append(failures, &ConstructionError{Agent: profile.Name, Err: err})
			f.reporter.Report(ctx, profile.Name, false, "ConstructionFailed", err.Error())
			f.logger.Error("agent construction failed",
				"agent", profile.Name,
				"error", err)
			continue
		}
		f.reporter.Report(ctx, profile.Name, true, "Ready", fmt.Sprintf("%d tools available", len(box.tools)))
		survivors = append(survivors, profile)
		boxes[profile.Name] = box
	}

	if len(survivors) == 0 {
		if len(failures) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoAgentAvailable, failures.Error())
		}
		return nil, ErrNoAgentAvailable
	}

	compactor := agent.NewCompactor(f.provider, f.config.Compaction.Threshold, f.metrics, f.logger)
	turnConfig := agent.DefaultTurnConfig()
	turnConfig.MaxTokens = f.config.Model.MaxTokens

	set := &agentSet{
		profiles:    survivors,
		controllers: make(map[string]*agent.TurnController, len(survivors)),
		compactor:   compactor,
	}

	siblings := survivors
	if len(survivors) == 1 {
		siblings = nil
	}
	for _, profile := range survivors {
		gateway := agent.NewGateway(boxes[profile.Name], profile, f.events, f.metrics, f.logger)
		set.controllers[profile.Name] = agent.NewTurnController(
			f.provider, gateway, compactor, profile, siblings, turnConfig, f.metrics, f.logger)
	}

	if len(survivors) > 1 {
		set.router = routing.NewRouter(
			f.provider, survivors,
			f.config.Router.FallbackAgent, f.config.Router.StickyThreshold,
			f.events, f.metrics, f.logger)
	}

	return set, nil
}

func (f *Factory) buildToolbox(ctx context.Context, profile *profiles.Profile) (*mcpToolbox, error) {
	transport, err := f.transportConfig(ctx, profile)
	if err != nil {
		return nil, err
	}

	client, err := mcp.NewClient(transport, f.logger)
	if err != nil {
		return nil, fmt.Errorf("create tool client: %w", err)
	}

	descriptors, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	box := newToolbox(client, descriptors, profile.Toolset, f.logger)
	if len(box.tools) == 0 {
		return nil, fmt.Errorf("no tools match toolset %q", profile.Toolset)
	}
	return box, nil
}

func (f *Factory) transportConfig(ctx context.Context, profile *profiles.Profile) (mcp.TransportConfig, error) {
	transport := mcp.TransportConfig{
		Endpoint: profile.Endpoint,
		Insecure: f.config.Profiles.Insecure,
		Mode:     profile.Auth.Mode,
	}

	switch profile.Auth.Mode {
	case mcp.AuthToken:
		transport.Token = profile.Auth.Token
		transport.Origin = profile.Auth.Origin
	case mcp.AuthBasic:
		if f.secrets == nil {
			return transport, fmt.Errorf("basic auth requires a secret store")
		}
		creds, err := f.secrets.BasicCredentials(ctx, profile.Auth.SecretName)
		if err != nil {
			return transport, fmt.Errorf("resolve secret %s: %w", profile.Auth.SecretName, err)
		}
		transport.Username = creds.Username
		transport.Password = creds.Password
	}

	if err := transport.Validate(); err != nil {
		return transport, err
	}
	return transport, nil
}
